// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package multisig

import (
	"bytes"
	"crypto/sha256"
	"slices"
	"strings"
	"testing"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcmultisig/keyring"
	"github.com/stretchr/testify/require"
)

// TestInsertionOrderInvariance checks that a sorted wallet derives the same
// addresses whatever order the cosigners were added in.
func TestInsertionOrderInvariance(t *testing.T) {
	t.Parallel()

	mt := keyring.MultisigP2WSH
	c := newTestCosigners(t, 3, mt, &chaincfg.MainNetParams)

	first := newTestWallet(t, 2, mt, true, c)
	second := newTestWallet(
		t, 2, mt, true, []testCosigner{c[2], c[0], c[1]},
	)

	for _, change := range []bool{false, true} {
		for index := range uint32(5) {
			a, err := first.DeriveAddress(index, change)
			require.NoError(t, err)
			b, err := second.DeriveAddress(index, change)
			require.NoError(t, err)

			require.Equal(t, a.Address, b.Address)
			require.Equal(t, a.WitnessScript, b.WitnessScript)
			require.True(t, slices.IsSortedFunc(
				a.PubKeys, bytes.Compare,
			))
		}
	}

	a, err := first.Descriptor(false)
	require.NoError(t, err)
	b, err := second.Descriptor(false)
	require.NoError(t, err)

	// Descriptors list keys in cosigner order, so they differ even though
	// the scripts match.
	require.NotEqual(t, a, b)
}

// TestUnsortedKeyOrder checks that an unsorted wallet keeps cosigner order.
func TestUnsortedKeyOrder(t *testing.T) {
	t.Parallel()

	mt := keyring.MultisigP2WSH
	c := newTestCosigners(t, 3, mt, &chaincfg.MainNetParams)

	first := newTestWallet(t, 2, mt, false, c)
	second := newTestWallet(
		t, 2, mt, false, []testCosigner{c[2], c[0], c[1]},
	)

	a, err := first.DeriveAddress(0, false)
	require.NoError(t, err)
	b, err := second.DeriveAddress(0, false)
	require.NoError(t, err)

	require.NotEqual(t, a.Address, b.Address)
	for i, pub := range a.PubKeys {
		origin := a.Origin(pub).UnsafeFromSome()
		require.Equal(t, c[i].info.ID, origin.CosignerID)
	}
}

// TestScriptShapes checks the scripts and address of every script type.
func TestScriptShapes(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		mt     keyring.MultisigType
		check  func(t *testing.T, info *AddressInfo)
		prefix string
	}{{
		mt:     keyring.MultisigP2SH,
		prefix: "3",
		check: func(t *testing.T, info *AddressInfo) {
			require.Equal(t, txscript.ScriptHashTy,
				txscript.GetScriptClass(info.PkScript))
			require.Empty(t, info.WitnessScript)
			require.Equal(t, info.RedeemScript, info.MultisigScript())
		},
	}, {
		mt:     keyring.MultisigP2WSH,
		prefix: "bc1q",
		check: func(t *testing.T, info *AddressInfo) {
			require.Equal(t, txscript.WitnessV0ScriptHashTy,
				txscript.GetScriptClass(info.PkScript))
			require.Empty(t, info.RedeemScript)
			require.Len(t, info.Address, 62)

			hash := sha256.Sum256(info.WitnessScript)
			require.Equal(t, hash[:], info.PkScript[2:])
		},
	}, {
		mt:     keyring.MultisigP2SHP2WSH,
		prefix: "3",
		check: func(t *testing.T, info *AddressInfo) {
			require.Equal(t, txscript.ScriptHashTy,
				txscript.GetScriptClass(info.PkScript))
			require.Len(t, info.RedeemScript, 34)
			require.Equal(t, []byte{txscript.OP_0, 0x20},
				info.RedeemScript[:2])

			hash := sha256.Sum256(info.WitnessScript)
			require.Equal(t, hash[:], info.RedeemScript[2:])
		},
	}}

	for _, tc := range testCases {
		t.Run(tc.mt.String(), func(t *testing.T) {
			t.Parallel()

			c := newTestCosigners(t, 3, tc.mt, &chaincfg.MainNetParams)
			w := newTestWallet(t, 2, tc.mt, true, c)

			info, err := w.DeriveAddress(7, true)
			require.NoError(t, err)

			require.True(t, strings.HasPrefix(info.Address, tc.prefix))
			require.Equal(t, uint32(7), info.Index)
			require.True(t, info.Change)
			require.Equal(t, tc.mt, info.ScriptType)
			tc.check(t, info)

			numKeys, numSigs, err := txscript.CalcMultiSigStats(
				info.MultisigScript(),
			)
			require.NoError(t, err)
			require.Equal(t, 3, numKeys)
			require.Equal(t, 2, numSigs)
		})
	}
}

// TestKeyOrigins checks every script key against private derivation from
// the cosigner seed.
func TestKeyOrigins(t *testing.T) {
	t.Parallel()

	mt := keyring.MultisigP2SHP2WSH
	c := newTestCosigners(t, 3, mt, &chaincfg.MainNetParams)
	w := newTestWallet(t, 2, mt, true, c)

	info, err := w.DeriveAddress(3, false)
	require.NoError(t, err)
	require.Len(t, info.KeyOrigins, 3)

	seeds := make(map[string][]byte, len(c))
	for _, cosigner := range c {
		seeds[cosigner.info.ID] = cosigner.seed
	}

	for _, pub := range info.PubKeys {
		origin := info.Origin(pub).UnsafeFromSome()
		require.Equal(t, "m/48'/0'/0'/1'/0/3",
			keyring.FormatDerivationPath(origin.Path))

		node, err := hdkeychain.NewMaster(
			seeds[origin.CosignerID], &chaincfg.MainNetParams,
		)
		require.NoError(t, err)
		for _, level := range origin.Path {
			node, err = node.Derive(level)
			require.NoError(t, err)
		}

		want, err := node.ECPubKey()
		require.NoError(t, err)
		require.Equal(t, want.SerializeCompressed(), pub)
	}

	require.True(t, info.Origin([]byte{0x02}).IsNone())

	derivations := w.Bip32Derivations(info)
	require.Len(t, derivations, 3)
	for i, d := range derivations {
		origin := info.Origin(d.PubKey).UnsafeFromSome()
		require.Equal(t, info.PubKeys[i], d.PubKey)
		require.Equal(t, origin.Path, d.Bip32Path)
		require.Equal(t, origin.Fingerprint,
			keyring.FromPSBTFingerprint(d.MasterKeyFingerprint))
	}
}

// TestDeriveAddressesConcurrent checks that a concurrent range matches
// sequential derivation and fills the cache.
func TestDeriveAddressesConcurrent(t *testing.T) {
	t.Parallel()

	mt := keyring.MultisigP2WSH
	c := newTestCosigners(t, 3, mt, &chaincfg.MainNetParams)
	concurrent := newTestWallet(t, 2, mt, true, c)
	sequential := newTestWallet(t, 2, mt, true, c)

	require.True(t, concurrent.HighWater(false).IsNone())

	// Derive one address up front to check pointer reuse.
	early, err := concurrent.DeriveAddress(5, false)
	require.NoError(t, err)

	infos, err := concurrent.DeriveAddresses(false, 0, 20)
	require.NoError(t, err)
	require.Len(t, infos, 20)
	require.Same(t, early, infos[5])

	for i, info := range infos {
		want, err := sequential.DeriveAddress(uint32(i), false)
		require.NoError(t, err)
		require.Equal(t, want.Address, info.Address)
		require.Equal(t, uint32(i), info.Index)
	}

	require.Equal(t, uint32(19), concurrent.HighWater(false).UnwrapOr(0))
	require.True(t, concurrent.HighWater(true).IsNone())
	require.Len(t, concurrent.Addresses(), 20)

	again, err := concurrent.DeriveAddress(12, false)
	require.NoError(t, err)
	require.Same(t, infos[12], again)

	found := concurrent.LookupAddress(infos[3].Address)
	require.Same(t, infos[3], found.UnsafeFromSome())

	found = concurrent.LookupScript(infos[4].PkScript)
	require.Same(t, infos[4], found.UnsafeFromSome())

	require.True(t, concurrent.LookupAddress("bc1qnothing").IsNone())
}

// TestAddressesOrder checks that cached addresses are ordered by chain and
// index.
func TestAddressesOrder(t *testing.T) {
	t.Parallel()

	mt := keyring.MultisigP2SH
	c := newTestCosigners(t, 2, mt, &chaincfg.MainNetParams)
	w := newTestWallet(t, 1, mt, true, c)

	for _, pos := range []struct {
		index  uint32
		change bool
	}{{2, true}, {1, false}, {0, true}, {3, false}} {
		_, err := w.DeriveAddress(pos.index, pos.change)
		require.NoError(t, err)
	}

	var got []string
	for _, info := range w.Addresses() {
		chain := "r"
		if info.Change {
			chain = "c"
		}
		got = append(got, chain+string(rune('0'+info.Index)))
	}
	require.Equal(t, []string{"r1", "r3", "c0", "c2"}, got)
}

// TestDescriptor checks the descriptor form of every script type.
func TestDescriptor(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		mt     keyring.MultisigType
		sorted bool
		prefix string
		suffix string
	}{
		{keyring.MultisigP2SH, false, "sh(multi(2,", "))"},
		{keyring.MultisigP2WSH, true, "wsh(sortedmulti(2,", "))"},
		{keyring.MultisigP2SHP2WSH, true, "sh(wsh(sortedmulti(2,",
			")))"},
	}

	for _, tc := range testCases {
		t.Run(tc.mt.String(), func(t *testing.T) {
			t.Parallel()

			c := newTestCosigners(t, 3, tc.mt, &chaincfg.MainNetParams)
			w := newTestWallet(t, 2, tc.mt, tc.sorted, c)

			for _, change := range []bool{false, true} {
				desc, err := w.Descriptor(change)
				require.NoError(t, err)
				require.NoError(t,
					keyring.VerifyDescriptorChecksum(desc))

				body, _, ok := strings.Cut(desc, "#")
				require.True(t, ok)
				require.True(t, strings.HasPrefix(body, tc.prefix))
				require.True(t, strings.HasSuffix(body, tc.suffix))

				chain := "/0/*"
				if change {
					chain = "/1/*"
				}

				// Keys appear in cosigner order.
				last := -1
				for _, cosigner := range c {
					origin := keyring.KeyOrigin(
						cosigner.info.Fingerprint,
						cosigner.info.Path,
					)
					xpub, err := keyring.NormalizeExtendedKey(
						cosigner.info.Xpub,
					)
					require.NoError(t, err)

					pos := strings.Index(body, origin+xpub+chain)
					require.Greater(t, pos, last)
					last = pos
				}
			}
		})
	}
}
