// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package keyring

import (
	"errors"
	"fmt"
	"strings"
)

const (
	// descInputCharset is the BIP380 character set. The position of a
	// character in this string feeds the checksum.
	descInputCharset = "0123456789()[],'/*abcdefgh@:$%{}" +
		"IJKLMNOPQRSTUVWXYZ&+-.;<=>?!^_|~" +
		"ijklmnopqrstuvwxyzABCDEFGH`#\"\\ "

	// descChecksumCharset encodes the eight checksum symbols.
	descChecksumCharset = "qpzry9x8gf2tvdw0s3jn54khce6mua7l"
)

// ErrInvalidDescriptor is returned when a descriptor contains characters
// outside the BIP380 set or carries a bad checksum.
var ErrInvalidDescriptor = errors.New("invalid descriptor")

// descPolymod is the BCH code step over GF(32) used by the checksum.
func descPolymod(c uint64, val uint64) uint64 {
	c0 := c >> 35
	c = ((c & 0x7ffffffff) << 5) ^ val

	if c0&1 != 0 {
		c ^= 0xf5dee51989
	}
	if c0&2 != 0 {
		c ^= 0xa9fdca3312
	}
	if c0&4 != 0 {
		c ^= 0x1bab10e32d
	}
	if c0&8 != 0 {
		c ^= 0x3706b1677a
	}
	if c0&16 != 0 {
		c ^= 0x644d626ffd
	}

	return c
}

// DescriptorChecksum computes the eight character BIP380 checksum of desc,
// which must not already carry one.
func DescriptorChecksum(desc string) (string, error) {
	var (
		c        uint64 = 1
		cls      uint64
		clsCount int
	)

	for _, ch := range desc {
		pos := strings.IndexRune(descInputCharset, ch)
		if pos < 0 {
			return "", fmt.Errorf("%w: character %q", ErrInvalidDescriptor,
				ch)
		}

		c = descPolymod(c, uint64(pos&31))
		cls = cls*3 + uint64(pos>>5)

		clsCount++
		if clsCount == 3 {
			c = descPolymod(c, cls)
			cls = 0
			clsCount = 0
		}
	}

	if clsCount > 0 {
		c = descPolymod(c, cls)
	}
	for range 8 {
		c = descPolymod(c, 0)
	}
	c ^= 1

	checksum := make([]byte, 8)
	for j := range 8 {
		checksum[j] = descChecksumCharset[(c>>(5*(7-j)))&31]
	}

	return string(checksum), nil
}

// AddDescriptorChecksum returns desc with "#checksum" appended.
func AddDescriptorChecksum(desc string) (string, error) {
	checksum, err := DescriptorChecksum(desc)
	if err != nil {
		return "", err
	}

	return desc + "#" + checksum, nil
}

// VerifyDescriptorChecksum checks a descriptor of the form desc#checksum.
func VerifyDescriptorChecksum(desc string) error {
	body, checksum, ok := strings.Cut(desc, "#")
	if !ok {
		return fmt.Errorf("%w: missing checksum", ErrInvalidDescriptor)
	}

	want, err := DescriptorChecksum(body)
	if err != nil {
		return err
	}

	if checksum != want {
		return fmt.Errorf("%w: checksum %q, want %q",
			ErrInvalidDescriptor, checksum, want)
	}

	return nil
}

// KeyOrigin renders a descriptor key origin "[fingerprint/path]" for the
// given master fingerprint and raw path.
func KeyOrigin(fingerprint uint32, path []uint32) string {
	return fmt.Sprintf("[%08x/%s]", fingerprint, originPath(path))
}

// OutputDescriptor returns the descriptor of one chain of a single-sig
// account, e.g.
//
//	wpkh([73c5da0a/84'/0'/0']xpub.../0/*)#checksum
//
// The key is always serialized with the plain BIP32 prefix since descriptor
// parsers do not accept SLIP-132 variants.
func (e *Engine) OutputDescriptor(st ScriptType, account uint32,
	change bool) (string, error) {

	xpub, err := e.accountXpub(st, account)
	if err != nil {
		return "", err
	}

	chain := ExternalBranch
	if change {
		chain = InternalBranch
	}

	origin := KeyOrigin(e.Fingerprint(), []uint32{
		st.Purpose() + HardenedKeyStart,
		e.CoinType() + HardenedKeyStart,
		account + HardenedKeyStart,
	})
	key := fmt.Sprintf("%s%s/%d/*", origin, xpub, chain)

	var desc string
	switch st {
	case ScriptTypeP2PKH:
		desc = "pkh(" + key + ")"

	case ScriptTypeNestedP2WPKH:
		desc = "sh(wpkh(" + key + "))"

	case ScriptTypeP2WPKH:
		desc = "wpkh(" + key + ")"

	case ScriptTypeP2TR:
		desc = "tr(" + key + ")"

	default:
		return "", fmt.Errorf("%w: %v", ErrUnknownScriptType, st)
	}

	return AddDescriptorChecksum(desc)
}
