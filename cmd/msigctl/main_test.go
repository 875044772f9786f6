// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcmultisig/keyring"
	"github.com/btcsuite/btcmultisig/psbtmgr"
	"github.com/btcsuite/btcmultisig/store"
	"github.com/stretchr/testify/require"
)

// TestParseAmount checks exact decimal BTC parsing.
func TestParseAmount(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		in   string
		want btcutil.Amount
		err  error
	}{
		{in: "1", want: btcutil.SatoshiPerBitcoin},
		{in: "0.00000001", want: 1},
		{in: "0.1", want: 10_000_000},
		{in: "21000000", want: btcutil.MaxSatoshi},
		{in: "0.000000001", err: errSubSatoshi},
		{in: "-1", err: errNegativeAmount},
	}

	for _, tc := range testCases {
		got, err := parseAmount(tc.in)
		if tc.err != nil {
			require.ErrorIs(t, err, tc.err, tc.in)
			continue
		}

		require.NoError(t, err, tc.in)
		require.Equal(t, tc.want, got, tc.in)
	}

	_, err := parseAmount("abc")
	require.Error(t, err)
}

// TestParseArguments checks the command line value formats.
func TestParseArguments(t *testing.T) {
	t.Parallel()

	r, err := parseRecipient("bc1qexample:0.5")
	require.NoError(t, err)
	require.Equal(t, "bc1qexample", r.Address)
	require.Equal(t, btcutil.Amount(50_000_000), r.Amount)

	_, err = parseRecipient("bc1qexample")
	require.Error(t, err)

	txid := "5f8b1b4cb0e3e0b0f36a8dffb4cde1e8b2b2f8f0c79b4e9b8d0cfa6d7f4e2a10"
	spec, err := parseUTXO(txid + ":1:0.001:7:change")
	require.NoError(t, err)
	require.Equal(t, uint32(1), spec.outPoint.Index)
	require.Equal(t, txid, spec.outPoint.Hash.String())
	require.Equal(t, btcutil.Amount(100_000), spec.value)
	require.Equal(t, uint32(7), spec.index)
	require.True(t, spec.change)

	spec, err = parseUTXO(txid + ":0:1:0")
	require.NoError(t, err)
	require.False(t, spec.change)

	for _, bad := range []string{
		txid + ":0:1",
		txid + ":x:1:0",
		txid + ":0:1:0:spent",
		"zz:0:1:0",
	} {
		_, err := parseUTXO(bad)
		require.Error(t, err, bad)
	}

	info, err := parseCosigner("73c5da0a:m/48'/0'/0'/2':xpubABC")
	require.NoError(t, err)
	require.Equal(t, uint32(0x73c5da0a), info.Fingerprint)
	require.Len(t, info.Path, 4)
	require.Equal(t, "xpubABC", info.Xpub)

	_, err = parseCosigner("xpubABC")
	require.Error(t, err)

	for _, name := range []string{"mainnet", "testnet", "regtest",
		"signet"} {

		net, err := networkParams(name)
		require.NoError(t, err)
		require.NotNil(t, net)
	}
	_, err = networkParams("simnet")
	require.Error(t, err)
}

// TestParserTree checks that every command is registered.
func TestParserTree(t *testing.T) {
	t.Parallel()

	parser, err := newParser(defaultConfig())
	require.NoError(t, err)

	for _, name := range []string{"derive", "xpub", "msxpub",
		"descriptor", "find", "multisig", "psbt"} {

		require.NotNil(t, parser.Find(name), name)
	}

	for _, name := range []string{"create", "sign", "analyze",
		"finalize", "combine", "extract", "decode"} {

		require.NotNil(t, parser.Find("psbt").Find(name), name)
	}
	require.NotNil(t, parser.Find("multisig").Find("address"))
}

// cosignerKey is a cosigner of the command flow test.
type cosignerKey struct {
	mnemonicFile string
	engine       *keyring.Engine
}

func newCosignerKey(t *testing.T, dir string, i int) cosignerKey {
	t.Helper()

	mnemonic, err := keyring.GenerateMnemonic(128)
	require.NoError(t, err)

	path := filepath.Join(dir, fmt.Sprintf("mnemonic-%d", i))
	require.NoError(t, os.WriteFile(path, []byte(mnemonic+"\n"), 0600))

	engine, err := keyring.NewFromMnemonic(
		mnemonic, "", &chaincfg.RegressionNetParams,
	)
	require.NoError(t, err)

	return cosignerKey{mnemonicFile: path, engine: engine}
}

// TestMultisigCommandFlow drives a 2-of-3 wallet through the commands from
// wallet creation to the extracted transaction.
func TestMultisigCommandFlow(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	net := &chaincfg.RegressionNetParams
	cfg := &config{
		net:   net,
		DB:    dbBackendSQLite,
		DBDSN: filepath.Join(dir, "store.db"),
	}

	var keys []cosignerKey
	create := &multisigCreateCommand{
		M:    2,
		N:    3,
		Type: keyring.MultisigP2WSH.String(),
		Out:  filepath.Join(dir, "wallet"),
		cfg:  cfg,
	}
	for i := range 3 {
		key := newCosignerKey(t, dir, i)
		keys = append(keys, key)

		xpub, err := key.engine.MultisigXpub(keyring.MultisigP2WSH, 0)
		require.NoError(t, err)
		create.Cosigners = append(create.Cosigners, fmt.Sprintf(
			"%s:%s", key.engine.FingerprintHex(), xpub,
		))
	}
	require.NoError(t, create.Execute(nil))

	w, err := cfg.loadWallet(create.Out)
	require.NoError(t, err)
	require.True(t, w.IsComplete())

	// Derived addresses land in the store.
	address := &multisigAddressCommand{
		Config: create.Out, Count: 2, cfg: cfg,
	}
	require.NoError(t, address.Execute(nil))

	s, err := store.OpenSQLite(cfg.DBDSN)
	require.NoError(t, err)
	records, err := s.ListAddresses(t.Context(), multisigWalletID(cfg, w))
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.NoError(t, s.Close())

	// Fund receive address 0 and spend it.
	info, err := w.DeriveAddress(0, false)
	require.NoError(t, err)
	funding := wire.NewMsgTx(2)
	funding.AddTxIn(&wire.TxIn{})
	funding.AddTxOut(wire.NewTxOut(200_000, info.PkScript))

	recipient, err := keys[0].engine.DeriveAddress(
		keyring.ScriptTypeP2WPKH, 0, false, 0,
	)
	require.NoError(t, err)

	created := filepath.Join(dir, "created.psbt")
	psbtCreate := &psbtCreateCommand{
		Config: create.Out,
		UTXOs: []string{
			funding.TxHash().String() + ":0:0.002:0",
		},
		To:      []string{recipient.Address + ":0.001"},
		FeeRate: "2.5",
		Out:     created,
		cfg:     cfg,
	}
	require.NoError(t, psbtCreate.Execute(nil))

	// Two cosigners sign their own copies.
	var signed []string
	for _, i := range []int{2, 0} {
		out := filepath.Join(dir, fmt.Sprintf("signed-%d.psbt", i))
		signCfg := *cfg
		signCfg.MnemonicFile = keys[i].mnemonicFile

		sign := &psbtSignCommand{
			PSBT:   created,
			Config: create.Out,
			Out:    out,
			cfg:    &signCfg,
		}
		require.NoError(t, sign.Execute(nil))
		signed = append(signed, out)
	}

	combined := filepath.Join(dir, "combined.psbt")
	combine := &psbtCombineCommand{Out: combined, cfg: cfg}
	require.Error(t, combine.Execute(signed[:1]))
	require.NoError(t, combine.Execute(signed))

	analyze := &psbtAnalyzeCommand{
		PSBT: combined, Config: create.Out, cfg: cfg,
	}
	require.NoError(t, analyze.Execute(nil))

	final := filepath.Join(dir, "final.psbt")
	finalize := &psbtFinalizeCommand{PSBT: combined, Out: final, cfg: cfg}
	require.NoError(t, finalize.Execute(nil))

	packet, err := readPSBT(final)
	require.NoError(t, err)
	require.True(t, packet.IsComplete())

	raw, _, err := psbtmgr.Extract(packet)
	require.NoError(t, err)

	tx := wire.NewMsgTx(2)
	require.NoError(t, tx.Deserialize(bytes.NewReader(raw)))

	prevOut := funding.TxOut[0]
	fetcher := txscript.NewCannedPrevOutputFetcher(
		prevOut.PkScript, prevOut.Value,
	)
	vm, err := txscript.NewEngine(
		prevOut.PkScript, tx, 0, txscript.StandardVerifyFlags, nil,
		txscript.NewTxSigHashes(tx, fetcher), prevOut.Value, fetcher,
	)
	require.NoError(t, err)
	require.NoError(t, vm.Execute())

	decode := &psbtDecodeCommand{PSBT: final, cfg: cfg}
	require.NoError(t, decode.Execute(nil))
	extract := &psbtExtractCommand{PSBT: final, cfg: cfg}
	require.NoError(t, extract.Execute(nil))
}
