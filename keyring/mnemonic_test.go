// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package keyring

import (
	"strings"
	"testing"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/stretchr/testify/require"
)

// TestMnemonicToSeed checks the BIP39 reference seeds.
func TestMnemonicToSeed(t *testing.T) {
	t.Parallel()

	seed, err := MnemonicToSeed(testMnemonic, "")
	require.NoError(t, err)
	require.Equal(t, testSeedHex, hexStr(seed))

	seed, err = MnemonicToSeed(testMnemonic, "TREZOR")
	require.NoError(t, err)
	require.Equal(t,
		"c55257c360c07c72029aebc1b53c05ed0362ada38ead3e3e9efa3708e5349"+
			"5531f09a6987599d18264c1e1c92f2cf141630c7a3c4ab7c81b2f00"+
			"1698e7463b04",
		hexStr(seed),
	)

	// Extra whitespace is not significant.
	spaced := "  " + strings.ReplaceAll(testMnemonic, " ", "   ") + "\n"
	seed, err = MnemonicToSeed(spaced, "")
	require.NoError(t, err)
	require.Equal(t, testSeedHex, hexStr(seed))
}

// TestValidateMnemonic checks word list and checksum validation.
func TestValidateMnemonic(t *testing.T) {
	t.Parallel()

	require.NoError(t, ValidateMnemonic(testMnemonic))

	testCases := []struct {
		name     string
		mnemonic string
	}{
		{
			name:     "bad checksum",
			mnemonic: strings.Repeat("abandon ", 12),
		},
		{
			name:     "unknown word",
			mnemonic: strings.Replace(testMnemonic, "about", "abuot", 1),
		},
		{
			name:     "word count",
			mnemonic: strings.Repeat("abandon ", 11),
		},
	}

	for _, tc := range testCases {
		err := ValidateMnemonic(tc.mnemonic)
		require.ErrorIs(t, err, ErrInvalidMnemonic, tc.name)

		_, err = NewFromMnemonic(tc.mnemonic, "", &chaincfg.MainNetParams)
		require.ErrorIs(t, err, ErrInvalidMnemonic, tc.name)
	}
}

// TestNewFromMnemonic checks that the mnemonic and seed constructors agree.
func TestNewFromMnemonic(t *testing.T) {
	t.Parallel()

	e, err := NewFromMnemonic(testMnemonic, "", &chaincfg.MainNetParams)
	require.NoError(t, err)
	require.Equal(t, testFingerprint, e.FingerprintHex())

	info, err := e.DeriveAddress(ScriptTypeP2WPKH, 0, false, 0)
	require.NoError(t, err)
	require.Equal(t, "bc1qcr8te4kr609gcawutmrza0j4xv80jy8z306fyu",
		info.Address)
}

// TestGenerateMnemonic checks fresh mnemonics validate.
func TestGenerateMnemonic(t *testing.T) {
	t.Parallel()

	for _, bits := range []int{128, 192, 256} {
		mnemonic, err := GenerateMnemonic(bits)
		require.NoError(t, err)
		require.Len(t, strings.Fields(mnemonic), bits/32*3)
		require.NoError(t, ValidateMnemonic(mnemonic))
	}

	_, err := GenerateMnemonic(100)
	require.Error(t, err)
}
