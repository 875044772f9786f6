// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package keyring

import (
	"crypto/sha512"
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/tyler-smith/go-bip39"
	"golang.org/x/crypto/pbkdf2"
	"golang.org/x/text/unicode/norm"
)

const (
	// seedIterations is the BIP39 PBKDF2 round count.
	seedIterations = 2048

	// seedLen is the length of a BIP39 seed in bytes.
	seedLen = 64
)

// ErrInvalidMnemonic is returned when a mnemonic has a bad word count, an
// unknown word or a wrong checksum.
var ErrInvalidMnemonic = errors.New("invalid mnemonic")

// normalizeMnemonic applies NFKD and collapses whitespace to single spaces.
func normalizeMnemonic(mnemonic string) string {
	return strings.Join(strings.Fields(norm.NFKD.String(mnemonic)), " ")
}

// ValidateMnemonic checks the word list membership and the checksum of a
// BIP39 mnemonic.
func ValidateMnemonic(mnemonic string) error {
	normalized := normalizeMnemonic(mnemonic)
	if !bip39.IsMnemonicValid(normalized) {
		return ErrInvalidMnemonic
	}

	entropy, err := bip39.EntropyFromMnemonic(normalized)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMnemonic, err)
	}
	zeroBytes(entropy)

	return nil
}

// MnemonicToSeed derives the 64 byte BIP39 seed. Both the mnemonic and the
// passphrase are NFKD normalized first so that non-ASCII passphrases give
// the same seed as other implementations.
func MnemonicToSeed(mnemonic, passphrase string) ([]byte, error) {
	if err := ValidateMnemonic(mnemonic); err != nil {
		return nil, err
	}

	password := []byte(normalizeMnemonic(mnemonic))
	defer zeroBytes(password)

	salt := []byte("mnemonic" + norm.NFKD.String(passphrase))
	defer zeroBytes(salt)

	return pbkdf2.Key(
		password, salt, seedIterations, seedLen, sha512.New,
	), nil
}

// NewFromMnemonic creates an engine from a BIP39 mnemonic and optional
// passphrase.
func NewFromMnemonic(mnemonic, passphrase string,
	net *chaincfg.Params) (*Engine, error) {

	seed, err := MnemonicToSeed(mnemonic, passphrase)
	if err != nil {
		return nil, err
	}
	defer zeroBytes(seed)

	return New(seed, net)
}

// GenerateMnemonic returns a fresh mnemonic with the given entropy size in
// bits, which must be a multiple of 32 between 128 and 256.
func GenerateMnemonic(bits int) (string, error) {
	entropy, err := bip39.NewEntropy(bits)
	if err != nil {
		return "", fmt.Errorf("create entropy: %w", err)
	}
	defer zeroBytes(entropy)

	return bip39.NewMnemonic(entropy)
}
