// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package psbtmgr

import (
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcmultisig/keyring"
	"github.com/btcsuite/btcmultisig/multisig"
	"github.com/btcsuite/btcmultisig/pkg/btcunit"
	"github.com/stretchr/testify/require"
)

// TestCreateFee checks the fee and change of a simple spend.
func TestCreateFee(t *testing.T) {
	t.Parallel()

	e := newTestKeyring(t)
	utxo, _ := singleSigUTXO(t, e, keyring.ScriptTypeP2WPKH, 0, 100_000)
	rate := btcunit.NewSatPerVByte(10)

	result, err := New(testNet).Create(&CreateRequest{
		Recipients:    []Recipient{{testRecipient, 50_000}},
		UTXOs:         []UTXO{utxo},
		FeeRate:       rate,
		ChangeAddress: testChange,
	})
	require.NoError(t, err)

	tx := result.Packet.UnsignedTx
	require.Equal(t, int32(txVersion), tx.Version)
	require.Len(t, tx.TxIn, 1)
	require.Len(t, tx.TxOut, 2)
	require.Equal(t, 1, result.ChangeIndex)
	require.Equal(t, []ScriptKind{KindP2WPKH}, result.Kinds)

	require.Equal(t, rate.FeeForVByte(result.VSize), result.Fee)
	require.Equal(t, btcutil.Amount(100_000),
		btcutil.Amount(tx.TxOut[0].Value+tx.TxOut[1].Value)+result.Fee)

	// Segwit inputs carry only the spent output.
	in := result.Packet.Inputs[0]
	require.Nil(t, in.NonWitnessUtxo)
	require.NotNil(t, in.WitnessUtxo)
	require.Equal(t, utxo.PkScript, in.WitnessUtxo.PkScript)
	require.Equal(t, txscript.SigHashAll, in.SighashType)
}

// TestCreateDustChange checks that change below the dust limit goes to the
// fee and that larger surpluses need a change address.
func TestCreateDustChange(t *testing.T) {
	t.Parallel()

	e := newTestKeyring(t)
	utxo, _ := singleSigUTXO(t, e, keyring.ScriptTypeP2WPKH, 0, 100_000)
	rate := btcunit.NewSatPerVByte(2)

	recipientScript, err := txscript.PayToAddrScript(mustDecode(
		t, testRecipient,
	))
	require.NoError(t, err)

	vsize, err := estimateVSize(
		[]sizedInput{{kind: KindP2WPKH}},
		[]*wire.TxOut{wire.NewTxOut(0, recipientScript)}, 0,
	)
	require.NoError(t, err)
	noChangeFee := rate.FeeForVByte(vsize)

	testCases := []struct {
		name          string
		surplus       btcutil.Amount
		changeAddress string
		err           error
	}{
		{
			name:          "dust change dropped",
			surplus:       100,
			changeAddress: testChange,
		},
		{
			name:    "dust surplus without change address",
			surplus: 100,
		},
		{
			name:    "surplus without change address",
			surplus: 10_000,
			err:     ErrMissingChangeAddress,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			amount := utxo.Value - noChangeFee - tc.surplus
			result, err := New(testNet).Create(&CreateRequest{
				Recipients:    []Recipient{{testRecipient, amount}},
				UTXOs:         []UTXO{utxo},
				FeeRate:       rate,
				ChangeAddress: tc.changeAddress,
			})
			if tc.err != nil {
				require.ErrorIs(t, err, tc.err)
				return
			}

			require.NoError(t, err)
			require.Equal(t, -1, result.ChangeIndex)
			require.Len(t, result.Packet.UnsignedTx.TxOut, 1)
			require.Equal(t, noChangeFee+tc.surplus, result.Fee)
		})
	}
}

func mustDecode(t *testing.T, address string) btcutil.Address {
	t.Helper()

	addr, err := btcutil.DecodeAddress(address, testNet)
	require.NoError(t, err)

	return addr
}

// TestCreateCopiesInputs checks that the packet does not share key origins
// with the request.
func TestCreateCopiesInputs(t *testing.T) {
	t.Parallel()

	f := newMultisigFixture(t, 2, 3, keyring.MultisigP2WSH)
	utxo := f.utxo(t, 0, 100_000)
	change, err := f.wallet.DeriveAddress(0, true)
	require.NoError(t, err)
	changeDerivations := f.wallet.Bip32Derivations(change)

	created, err := New(testNet).Create(&CreateRequest{
		Recipients:        []Recipient{{testRecipient, 40_000}},
		UTXOs:             []UTXO{utxo},
		FeeRate:           btcunit.NewSatPerVByte(2),
		ChangeAddress:     change.Address,
		ChangeDerivations: changeDerivations,
	})
	require.NoError(t, err)
	before := serialize(t, created.Packet)

	utxo.Derivations[0].Bip32Path[0]++
	utxo.Derivations[1].PubKey[1] ^= 0xff
	changeDerivations[0].Bip32Path[0]++
	require.Equal(t, before, serialize(t, created.Packet))
}

// TestCreateUTXORules checks the previous transaction rules of legacy and
// segwit inputs.
func TestCreateUTXORules(t *testing.T) {
	t.Parallel()

	e := newTestKeyring(t)
	legacy, _ := singleSigUTXO(t, e, keyring.ScriptTypeP2PKH, 0, 50_000)
	segwit, _ := singleSigUTXO(t, e, keyring.ScriptTypeP2WPKH, 0, 50_000)

	noRawTx := legacy
	noRawTx.PrevTx = nil

	wrongRawTx := legacy
	wrongRawTx.OutPoint.Hash = chainhash.Hash{0xff}

	wrongIndex := legacy
	wrongIndex.OutPoint.Index = 3

	wrongValue := legacy
	wrongValue.Value = 49_000

	// The previous transaction alone is enough for legacy inputs.
	rawOnly := legacy
	rawOnly.Value = 0
	rawOnly.PkScript = nil

	segwitRawTx := segwit
	segwitRawTx.PrevTx = fundingTx(segwit.PkScript, 50_000, 0x21)
	segwitRawTx.OutPoint.Hash = segwitRawTx.PrevTx.TxHash()

	noData := segwit
	noData.PkScript = nil
	noData.Value = 0

	bare := newMultisigFixture(t, 2, 3, keyring.MultisigP2SH)
	noRedeem := bare.utxo(t, 0, 50_000)
	noRedeem.RedeemScript = nil

	wsh := newMultisigFixture(t, 2, 3, keyring.MultisigP2WSH)
	noWitness := wsh.utxo(t, 0, 50_000)
	noWitness.WitnessScript = nil

	testCases := []struct {
		name string
		utxo UTXO
		err  error
	}{
		{name: "legacy", utxo: legacy},
		{name: "legacy from raw tx", utxo: rawOnly},
		{name: "segwit", utxo: segwit},
		{name: "segwit with raw tx", utxo: segwitRawTx},
		{
			name: "legacy without raw tx",
			utxo: noRawTx,
			err:  ErrMissingRawTxForLegacyInput,
		},
		{
			name: "raw tx of another outpoint",
			utxo: wrongRawTx,
			err:  ErrPrevTxMismatch,
		},
		{
			name: "raw tx without output",
			utxo: wrongIndex,
			err:  ErrPrevTxMismatch,
		},
		{
			name: "raw tx with another value",
			utxo: wrongValue,
			err:  ErrPrevTxMismatch,
		},
		{name: "no script or value", utxo: noData, err: ErrMissingUtxoData},
		{
			name: "bare p2sh without redeem script",
			utxo: noRedeem,
			err:  ErrMissingUtxoData,
		},
		{
			name: "p2wsh without witness script",
			utxo: noWitness,
			err:  ErrMissingUtxoData,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			result, err := New(testNet).Create(&CreateRequest{
				Recipients:    []Recipient{{testRecipient, 20_000}},
				UTXOs:         []UTXO{tc.utxo},
				FeeRate:       btcunit.NewSatPerVByte(1),
				ChangeAddress: testChange,
			})
			if tc.err != nil {
				require.ErrorIs(t, err, tc.err)
				return
			}
			require.NoError(t, err)

			in := result.Packet.Inputs[0]
			if result.Kinds[0].IsLegacy() {
				require.NotNil(t, in.NonWitnessUtxo)
				require.Nil(t, in.WitnessUtxo)
			} else {
				require.Nil(t, in.NonWitnessUtxo)
				require.NotNil(t, in.WitnessUtxo)
			}
		})
	}
}

// TestCreateRejects checks request level failures.
func TestCreateRejects(t *testing.T) {
	t.Parallel()

	e := newTestKeyring(t)
	utxo, _ := singleSigUTXO(t, e, keyring.ScriptTypeP2WPKH, 0, 100_000)
	engine := New(testNet)

	_, err := engine.Create(&CreateRequest{
		UTXOs:   []UTXO{utxo},
		FeeRate: btcunit.NewSatPerVByte(1),
	})
	require.ErrorIs(t, err, ErrNoRecipients)

	_, err = engine.Create(&CreateRequest{
		Recipients: []Recipient{{testRecipient, 1000}},
		FeeRate:    btcunit.NewSatPerVByte(1),
	})
	require.ErrorIs(t, err, ErrInsufficientFunds)

	_, err = engine.Create(&CreateRequest{
		Recipients: []Recipient{{testRecipient, 100_000}},
		UTXOs:      []UTXO{utxo},
		FeeRate:    btcunit.NewSatPerVByte(1),
	})
	require.ErrorIs(t, err, ErrInsufficientFunds)

	// Dust outputs fail the relay policy.
	_, err = engine.Create(&CreateRequest{
		Recipients:    []Recipient{{testRecipient, 10}},
		UTXOs:         []UTXO{utxo},
		FeeRate:       btcunit.NewSatPerVByte(1),
		ChangeAddress: testChange,
	})
	require.Error(t, err)

	// A testnet address does not decode on mainnet.
	_, err = engine.Create(&CreateRequest{
		Recipients: []Recipient{{
			"tb1qw508d6qejxtdg4y5r3zarvary0c5xw7kxpjzsx", 1000,
		}},
		UTXOs:         []UTXO{utxo},
		FeeRate:       btcunit.NewSatPerVByte(1),
		ChangeAddress: testChange,
	})
	require.Error(t, err)
}

// TestCreateSequence checks the sequence and lock time of the inputs.
func TestCreateSequence(t *testing.T) {
	t.Parallel()

	e := newTestKeyring(t)
	utxo, _ := singleSigUTXO(t, e, keyring.ScriptTypeP2WPKH, 0, 100_000)

	testCases := []struct {
		name     string
		rbf      bool
		lockTime uint32
		sequence uint32
	}{
		{name: "final", sequence: wire.MaxTxInSequenceNum},
		{
			name:     "lock time",
			lockTime: 800_000,
			sequence: multisig.SequenceLockTime,
		},
		{name: "rbf", rbf: true, sequence: multisig.SequenceRBF},
		{
			name:     "rbf with lock time",
			rbf:      true,
			lockTime: 800_000,
			sequence: multisig.SequenceRBF,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			result, err := New(testNet).Create(&CreateRequest{
				Recipients:    []Recipient{{testRecipient, 20_000}},
				UTXOs:         []UTXO{utxo},
				FeeRate:       btcunit.NewSatPerVByte(1),
				ChangeAddress: testChange,
				EnableRBF:     tc.rbf,
				LockTime:      tc.lockTime,
			})
			require.NoError(t, err)

			tx := result.Packet.UnsignedTx
			require.Equal(t, tc.lockTime, tx.LockTime)
			require.Equal(t, tc.sequence, tx.TxIn[0].Sequence)
		})
	}
}

// TestBase64RoundTrip checks that a created packet survives encoding.
func TestBase64RoundTrip(t *testing.T) {
	t.Parallel()

	e := newTestKeyring(t)
	var utxos []UTXO
	for i, st := range keyring.ScriptTypes {
		utxo, _ := singleSigUTXO(t, e, st, uint32(i), 30_000)
		utxos = append(utxos, utxo)
	}

	result, err := New(testNet).Create(&CreateRequest{
		Recipients:    []Recipient{{testRecipient, 50_000}},
		UTXOs:         utxos,
		FeeRate:       btcunit.NewSatPerVByte(3),
		ChangeAddress: testChange,
	})
	require.NoError(t, err)

	encoded, err := EncodeBase64(result.Packet)
	require.NoError(t, err)

	decoded, err := DecodeBase64(encoded)
	require.NoError(t, err)

	again, err := EncodeBase64(decoded)
	require.NoError(t, err)
	require.Equal(t, encoded, again)

	_, err = DecodeBase64("not a psbt")
	require.Error(t, err)
}
