// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package psbtmgr

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcmultisig/keyring"
	"github.com/btcsuite/btcmultisig/multisig"
	"github.com/btcsuite/btcmultisig/pkg/btcunit"
	"github.com/stretchr/testify/require"
)

const (
	// testSeedHex is the BIP39 seed of the all-abandon test mnemonic.
	testSeedHex = "5eb00bbddcf069084889a8ab9155568165f5c453ccb85e70811aaed6" +
		"f6da5fc19a5ac40b389cd370d086206dec8aa6c43daea6690f20ad3d8d48" +
		"b2d2ce9e38e4"

	// testRecipient is the BIP84 receive address 1 of the test seed.
	testRecipient = "bc1qnjg0jd8228aq7egyzacy8cys3knf9xvrerkf9g"

	// testChange is the BIP84 change address 0 of the test seed.
	testChange = "bc1q8c6fshw2dlwun7ekn9qwf37cu2rn755upcp6el"
)

var testNet = &chaincfg.MainNetParams

func newTestKeyring(t *testing.T) *keyring.Engine {
	t.Helper()

	e, err := keyring.NewFromSeedHex(testSeedHex, testNet)
	require.NoError(t, err)

	return e
}

// fundingTx returns a transaction paying value to pkScript at output 0. The
// salt keeps the txids of different fixtures apart.
func fundingTx(pkScript []byte, value int64, salt byte) *wire.MsgTx {
	tx := wire.NewMsgTx(2)
	tx.AddTxIn(wire.NewTxIn(&wire.OutPoint{
		Hash: chainhash.Hash{salt},
	}, nil, nil))
	tx.AddTxOut(wire.NewTxOut(value, pkScript))

	return tx
}

// singleSigUTXO derives receive address index of st and funds it.
func singleSigUTXO(t *testing.T, e *keyring.Engine, st keyring.ScriptType,
	index uint32, value int64) (UTXO, *keyring.AddressInfo) {

	t.Helper()

	info, err := e.DeriveAddress(st, 0, false, index)
	require.NoError(t, err)

	prevTx := fundingTx(info.PkScript, value, byte(st)<<4|byte(index)+1)
	utxo := UTXO{
		OutPoint: wire.OutPoint{Hash: prevTx.TxHash()},
		Value:    btcutil.Amount(value),
		PkScript: info.PkScript,
	}

	switch st {
	case keyring.ScriptTypeP2PKH:
		utxo.PrevTx = prevTx

	case keyring.ScriptTypeNestedP2WPKH:
		pub, err := btcec.ParsePubKey(info.PubKey)
		require.NoError(t, err)

		utxo.RedeemScript, err = keyring.NestedRedeemScript(pub, testNet)
		require.NoError(t, err)
	}

	return utxo, info
}

// multisigFixture is a complete wallet with a local signer per cosigner.
type multisigFixture struct {
	wallet  *multisig.Wallet
	engines []*keyring.Engine
	ids     []string
}

func newMultisigFixture(t *testing.T, m, n int,
	mt keyring.MultisigType) *multisigFixture {

	t.Helper()

	f := &multisigFixture{
		wallet: multisig.Create(m, n, mt, true, testNet),
	}
	for i := range n {
		seed := bytes.Repeat([]byte{byte(i + 1)}, 32)
		engine, err := keyring.New(seed, testNet)
		require.NoError(t, err)

		xpub, err := engine.MultisigXpub(mt, 0)
		require.NoError(t, err)

		id := fmt.Sprintf("cosigner-%d", i+1)
		require.NoError(t, f.wallet.AddCosigner(multisig.CosignerInfo{
			ID:          id,
			Name:        id,
			Fingerprint: engine.Fingerprint(),
			Xpub:        xpub,
			Path:        engine.MultisigPath(mt, 0),
		}))

		f.engines = append(f.engines, engine)
		f.ids = append(f.ids, id)
	}

	for i, id := range f.ids {
		require.NoError(t, f.wallet.AttachSigner(id, f.engines[i]))
	}

	return f
}

// utxo funds receive address index of the wallet.
func (f *multisigFixture) utxo(t *testing.T, index uint32,
	value int64) UTXO {

	t.Helper()

	info, err := f.wallet.DeriveAddress(index, false)
	require.NoError(t, err)

	prevTx := fundingTx(info.PkScript, value, 0x80|byte(index))

	var legacyTx *wire.MsgTx
	if f.wallet.ScriptType() == keyring.MultisigP2SH {
		legacyTx = prevTx
	}

	return MultisigUTXO(
		f.wallet, info, wire.OutPoint{Hash: prevTx.TxHash()},
		btcutil.Amount(value), legacyTx,
	)
}

// createPacket spends utxos to testRecipient with change back to the
// wallet.
func (f *multisigFixture) createPacket(t *testing.T,
	utxos ...UTXO) *CreateResult {

	t.Helper()

	change, err := f.wallet.DeriveAddress(0, true)
	require.NoError(t, err)

	var total btcutil.Amount
	for _, u := range utxos {
		total += u.Value
	}

	result, err := New(testNet).Create(&CreateRequest{
		Recipients: []Recipient{{
			Address: testRecipient,
			Amount:  total / 2,
		}},
		UTXOs:             utxos,
		FeeRate:           btcunit.NewSatPerVByte(5),
		ChangeAddress:     change.Address,
		ChangeDerivations: f.wallet.Bip32Derivations(change),
	})
	require.NoError(t, err)

	return result
}

// clone deep copies a packet.
func clone(t *testing.T, packet *psbt.Packet) *psbt.Packet {
	t.Helper()

	c, err := clonePacket(packet)
	require.NoError(t, err)

	return c
}

// serialize returns the raw packet bytes.
func serialize(t *testing.T, packet *psbt.Packet) []byte {
	t.Helper()

	var buf bytes.Buffer
	require.NoError(t, packet.Serialize(&buf))

	return buf.Bytes()
}

// parseWitness decodes a serialized witness stack.
func parseWitness(t *testing.T, b []byte) wire.TxWitness {
	t.Helper()

	r := bytes.NewReader(b)
	count, err := wire.ReadVarInt(r, 0)
	require.NoError(t, err)

	witness := make(wire.TxWitness, 0, count)
	for range count {
		item, err := wire.ReadVarBytes(
			r, 0, txscript.MaxScriptSize, "witness item",
		)
		require.NoError(t, err)
		witness = append(witness, item)
	}
	require.Zero(t, r.Len())

	return witness
}

// verifyExtracted extracts the finalized packet and runs every input
// through the script engine. It returns the extracted transaction.
func verifyExtracted(t *testing.T, packet *psbt.Packet) *wire.MsgTx {
	t.Helper()

	raw, txid, err := Extract(packet)
	require.NoError(t, err)

	tx := wire.NewMsgTx(0)
	require.NoError(t, tx.Deserialize(bytes.NewReader(raw)))
	require.Equal(t, txid, tx.TxHash())

	// Only native segwit spends keep the unsigned id.
	native := true
	for _, txIn := range tx.TxIn {
		native = native && len(txIn.SignatureScript) == 0
	}
	if native {
		require.Equal(t, packet.UnsignedTx.TxHash(), txid)
	} else {
		require.NotEqual(t, packet.UnsignedTx.TxHash(), txid)
	}

	fetcher := PrevOutputFetcher(packet)
	sigHashes := txscript.NewTxSigHashes(tx, fetcher)
	for idx, txIn := range tx.TxIn {
		prevOut := fetcher.FetchPrevOutput(txIn.PreviousOutPoint)
		require.NotNil(t, prevOut)

		vm, err := txscript.NewEngine(
			prevOut.PkScript, tx, idx, txscript.StandardVerifyFlags,
			nil, sigHashes, prevOut.Value, fetcher,
		)
		require.NoError(t, err)
		require.NoError(t, vm.Execute(), "input %d", idx)
	}

	return tx
}

// actualVSize returns the vsize of a signed transaction.
func actualVSize(tx *wire.MsgTx) uint64 {
	weight := blockchain.GetTransactionWeight(btcutil.NewTx(tx))

	return btcunit.NewWeightUnit(uint64(weight)).ToVB().Uint64()
}
