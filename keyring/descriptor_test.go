// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package keyring

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestDescriptorChecksum checks the BIP380 reference vector and the
// rejection paths.
func TestDescriptorChecksum(t *testing.T) {
	t.Parallel()

	sum, err := DescriptorChecksum("raw(deadbeef)")
	require.NoError(t, err)
	require.Equal(t, "89f8spxm", sum)

	require.NoError(t, VerifyDescriptorChecksum("raw(deadbeef)#89f8spxm"))

	testCases := []struct {
		name string
		desc string
	}{
		{name: "missing", desc: "raw(deadbeef)"},
		{name: "wrong", desc: "raw(deadbeef)#89f8spxn"},
		{name: "short", desc: "raw(deadbeef)#89f8spx"},
		{name: "other body", desc: "raw(deadbeee)#89f8spxm"},
	}
	for _, tc := range testCases {
		err := VerifyDescriptorChecksum(tc.desc)
		require.ErrorIs(t, err, ErrInvalidDescriptor, tc.name)
	}

	_, err = DescriptorChecksum("raw(é)")
	require.ErrorIs(t, err, ErrInvalidDescriptor)
}

// TestOutputDescriptor checks the descriptor shape of every single-sig type.
func TestOutputDescriptor(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)

	testCases := []struct {
		st     ScriptType
		change bool
		open   string
		close  string
		origin string
		chain  string
	}{
		{
			st:     ScriptTypeP2PKH,
			open:   "pkh(",
			close:  ")",
			origin: "[73c5da0a/44'/0'/0']",
			chain:  "/0/*",
		},
		{
			st:     ScriptTypeNestedP2WPKH,
			change: true,
			open:   "sh(wpkh(",
			close:  "))",
			origin: "[73c5da0a/49'/0'/0']",
			chain:  "/1/*",
		},
		{
			st:     ScriptTypeP2WPKH,
			open:   "wpkh(",
			close:  ")",
			origin: "[73c5da0a/84'/0'/0']",
			chain:  "/0/*",
		},
		{
			st:     ScriptTypeP2TR,
			open:   "tr(",
			close:  ")",
			origin: "[73c5da0a/86'/0'/0']",
			chain:  "/0/*",
		},
	}

	for _, tc := range testCases {
		desc, err := e.OutputDescriptor(tc.st, 0, tc.change)
		require.NoError(t, err)
		require.NoError(t, VerifyDescriptorChecksum(desc))

		body, _, _ := strings.Cut(desc, "#")

		// Descriptors always carry the plain xpub prefix.
		xpub, err := e.ExtendedPublicKey(tc.st, 0)
		require.NoError(t, err)
		xpub, err = NormalizeExtendedKey(xpub)
		require.NoError(t, err)

		want := tc.open + tc.origin + xpub + tc.chain + tc.close
		require.Equal(t, want, body)
	}
}

// TestKeyOrigin checks origin formatting with leading zero fingerprints.
func TestKeyOrigin(t *testing.T) {
	t.Parallel()

	h := uint32(HardenedKeyStart)
	require.Equal(t, "[00000001/48'/1'/0'/2']",
		KeyOrigin(1, []uint32{48 + h, 1 + h, h, 2 + h}))
}
