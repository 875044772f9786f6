// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package psbtmgr

import (
	"slices"
	"testing"

	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcmultisig/keyring"
	"github.com/stretchr/testify/require"
)

// TestClassifyInput checks classification of every supported output kind
// and the script hash checks.
func TestClassifyInput(t *testing.T) {
	t.Parallel()

	e := newTestKeyring(t)
	single := make(map[keyring.ScriptType]UTXO)
	for _, st := range keyring.ScriptTypes {
		single[st], _ = singleSigUTXO(t, e, st, 0, 10_000)
	}

	nestedKey := single[keyring.ScriptTypeNestedP2WPKH]

	wsh := newMultisigFixture(t, 2, 3, keyring.MultisigP2WSH)
	wshInfo, err := wsh.wallet.DeriveAddress(0, false)
	require.NoError(t, err)

	nested := newMultisigFixture(t, 2, 3, keyring.MultisigP2SHP2WSH)
	nestedInfo, err := nested.wallet.DeriveAddress(0, false)
	require.NoError(t, err)

	bare := newMultisigFixture(t, 2, 3, keyring.MultisigP2SH)
	bareInfo, err := bare.wallet.DeriveAddress(0, false)
	require.NoError(t, err)

	opReturn, err := txscript.NullDataScript([]byte("data"))
	require.NoError(t, err)

	testCases := []struct {
		name     string
		pkScript []byte
		redeem   []byte
		witness  []byte
		want     ScriptKind
		err      error
	}{
		{
			name:     "p2pkh",
			pkScript: single[keyring.ScriptTypeP2PKH].PkScript,
			want:     KindP2PKH,
		},
		{
			name:     "p2wpkh",
			pkScript: single[keyring.ScriptTypeP2WPKH].PkScript,
			want:     KindP2WPKH,
		},
		{
			name:     "nested p2wpkh",
			pkScript: nestedKey.PkScript,
			redeem:   nestedKey.RedeemScript,
			want:     KindP2SHP2WPKH,
		},
		{
			name:     "nested p2wpkh without redeem script",
			pkScript: nestedKey.PkScript,
			want:     KindP2SH,
		},
		{
			name:     "p2tr",
			pkScript: single[keyring.ScriptTypeP2TR].PkScript,
			want:     KindP2TR,
		},
		{
			name:     "p2wsh",
			pkScript: wshInfo.PkScript,
			witness:  wshInfo.WitnessScript,
			want:     KindP2WSH,
		},
		{
			name:     "p2wsh without witness script",
			pkScript: wshInfo.PkScript,
			want:     KindP2WSH,
		},
		{
			name:     "p2wsh with foreign witness script",
			pkScript: wshInfo.PkScript,
			witness:  nestedInfo.WitnessScript,
			err:      ErrRedeemScriptMismatch,
		},
		{
			name:     "p2sh-p2wsh",
			pkScript: nestedInfo.PkScript,
			redeem:   nestedInfo.RedeemScript,
			witness:  nestedInfo.WitnessScript,
			want:     KindP2SHP2WSH,
		},
		{
			name:     "p2sh-p2wsh with foreign witness script",
			pkScript: nestedInfo.PkScript,
			redeem:   nestedInfo.RedeemScript,
			witness:  wshInfo.WitnessScript,
			err:      ErrRedeemScriptMismatch,
		},
		{
			name:     "bare p2sh",
			pkScript: bareInfo.PkScript,
			redeem:   bareInfo.RedeemScript,
			want:     KindP2SH,
		},
		{
			name:     "p2sh with foreign redeem script",
			pkScript: bareInfo.PkScript,
			redeem:   nestedInfo.RedeemScript,
			err:      ErrRedeemScriptMismatch,
		},
		{
			name:     "op_return",
			pkScript: opReturn,
			err:      ErrUnknownScriptType,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			kind, err := ClassifyInput(
				tc.pkScript, tc.redeem, tc.witness,
			)
			if tc.err != nil {
				require.ErrorIs(t, err, tc.err)
				return
			}

			require.NoError(t, err)
			require.Equal(t, tc.want, kind, "got %v", kind)
		})
	}
}

// TestScriptKindProperties checks the legacy and script hash groupings.
func TestScriptKindProperties(t *testing.T) {
	t.Parallel()

	legacy := []ScriptKind{KindP2PKH, KindP2SH}
	scriptHash := []ScriptKind{KindP2WSH, KindP2SHP2WSH, KindP2SH}

	for kind := KindUnknown; kind <= KindP2SH; kind++ {
		require.Equal(t, slices.Contains(legacy, kind), kind.IsLegacy(),
			kind.String())
		require.Equal(t, slices.Contains(scriptHash, kind),
			kind.IsScriptHash(), kind.String())
	}

	require.Equal(t, "p2sh-p2wsh", KindP2SHP2WSH.String())
	require.Equal(t, "unknown", ScriptKind(99).String())
}

// TestParseMultisigScript checks the multisig script parser.
func TestParseMultisigScript(t *testing.T) {
	t.Parallel()

	f := newMultisigFixture(t, 2, 3, keyring.MultisigP2WSH)
	info, err := f.wallet.DeriveAddress(0, false)
	require.NoError(t, err)

	script := info.MultisigScript()
	ms, ok := parseMultisigScript(script)
	require.True(t, ok)
	require.Equal(t, 2, ms.m)
	require.Len(t, ms.pubKeys, 3)
	for i, pub := range info.PubKeys {
		require.Equal(t, i, ms.position(pub))
	}
	require.Equal(t, -1, ms.position([]byte{0x02}))

	// A CHECKMULTISIGVERIFY ending parses too.
	verify := slices.Clone(script)
	verify[len(verify)-1] = txscript.OP_CHECKMULTISIGVERIFY
	_, ok = parseMultisigScript(verify)
	require.True(t, ok)

	// m above n is rejected.
	bad := slices.Clone(script)
	bad[0] = txscript.OP_4
	_, ok = parseMultisigScript(bad)
	require.False(t, ok)

	_, ok = parseMultisigScript(info.PkScript)
	require.False(t, ok)
	_, ok = parseMultisigScript(nil)
	require.False(t, ok)
}
