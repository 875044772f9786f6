// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package keyring

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math/bits"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
)

// FingerprintOf returns the BIP32 fingerprint of a public key, i.e. the
// first four bytes of its HASH160 read big endian.
func FingerprintOf(pub *btcec.PublicKey) uint32 {
	return binary.BigEndian.Uint32(
		btcutil.Hash160(pub.SerializeCompressed())[:4],
	)
}

// ParseFingerprint parses eight hex characters into a big endian
// fingerprint.
func ParseFingerprint(s string) (uint32, error) {
	raw, err := hex.DecodeString(s)
	if err != nil || len(raw) != 4 {
		return 0, fmt.Errorf("invalid fingerprint %q", s)
	}

	return binary.BigEndian.Uint32(raw), nil
}

// FormatFingerprint renders a big endian fingerprint as eight hex
// characters.
func FormatFingerprint(fp uint32) string {
	return fmt.Sprintf("%08x", fp)
}

// ToPSBTFingerprint converts a big endian fingerprint to the value stored in
// psbt.Bip32Derivation, which the psbt package serializes little endian.
func ToPSBTFingerprint(fp uint32) uint32 {
	return bits.ReverseBytes32(fp)
}

// FromPSBTFingerprint is the inverse of ToPSBTFingerprint.
func FromPSBTFingerprint(fp uint32) uint32 {
	return bits.ReverseBytes32(fp)
}
