// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package keyring

import (
	"testing"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/stretchr/testify/require"
)

// TestGuessScriptType checks the prefix heuristics.
func TestGuessScriptType(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		address string
		want    fn.Option[ScriptType]
	}{
		{"1LqBGSKuX5yYUonjxT5qGfpUsXKYYWeabA", fn.Some(ScriptTypeP2PKH)},
		{"mipcBbFg9gMiCh81Kj8tqqdgoZub1ZJRfn", fn.Some(ScriptTypeP2PKH)},
		{"37VucYSaXLCAsxYyAPfbSi9eh4iEcbShgf", fn.Some(
			ScriptTypeNestedP2WPKH,
		)},
		{"2N4Q5FhU2497BryFfUgbqkAJE87aKHUhXMp", fn.Some(
			ScriptTypeNestedP2WPKH,
		)},
		{"bc1qcr8te4kr609gcawutmrza0j4xv80jy8z306fyu", fn.Some(
			ScriptTypeP2WPKH,
		)},
		{"BCRT1QXYZ", fn.Some(ScriptTypeP2WPKH)},
		{"tb1pxyz", fn.Some(ScriptTypeP2TR)},
		{"bc1zw508d6qejxtdg4y5r3zarvaryvaxxpcs", fn.None[ScriptType]()},
		{"xyz", fn.None[ScriptType]()},
	}

	for _, tc := range testCases {
		require.Equal(t, tc.want, GuessScriptType(tc.address), tc.address)
	}
}

// TestScanOrder checks that the guessed type is tried first and that every
// type is tried exactly once.
func TestScanOrder(t *testing.T) {
	t.Parallel()

	order := scanOrder("bc1p5cyxnuxmeuwuvkwfem96lqzszd02n6xdcjrs20cac")
	require.Equal(t, []ScriptType{
		ScriptTypeP2TR, ScriptTypeP2PKH, ScriptTypeNestedP2WPKH,
		ScriptTypeP2WPKH,
	}, order)

	require.Equal(t, ScriptTypes, scanOrder("???"))
}

// TestFindAddress checks that receive and change addresses of every type are
// found and that foreign addresses are not.
func TestFindAddress(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)

	for _, st := range ScriptTypes {
		want, err := e.DeriveAddress(st, 0, true, 3)
		require.NoError(t, err)

		got, err := e.FindAddress(want.Address, 3)
		require.NoError(t, err)
		require.True(t, got.IsSome(), st.String())
		require.Equal(t, *want, got.UnsafeFromSome())
	}

	// Outside of the scanned window.
	beyond, err := e.DeriveAddress(ScriptTypeP2WPKH, 0, false, 6)
	require.NoError(t, err)

	got, err := e.FindAddress(beyond.Address, 5)
	require.NoError(t, err)
	require.True(t, got.IsNone())

	// An address of another wallet.
	got, err = e.FindAddress(
		"bc1qw508d6qejxtdg4y5r3zarvary0c5xw7kv8f3t4", 2,
	)
	require.NoError(t, err)
	require.True(t, got.IsNone())
}
