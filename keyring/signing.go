// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package keyring

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
)

// KeyPair is raw signing capability for one path. The private key is a
// borrow: call Zero as soon as it is no longer needed.
type KeyPair struct {
	// Path is where the pair was derived.
	Path Path

	// PrivKey is the private key at Path.
	PrivKey *btcec.PrivateKey

	// PubKey is the compressed public key at Path.
	PubKey *btcec.PublicKey
}

// Zero wipes the private scalar.
func (k *KeyPair) Zero() {
	if k.PrivKey != nil {
		k.PrivKey.Zero()
	}
}

// TaprootKeyPair extends KeyPair with the BIP86 tweaked key material.
type TaprootKeyPair struct {
	KeyPair

	// TweakedPrivKey signs for OutputKey.
	TweakedPrivKey *btcec.PrivateKey

	// OutputKey is the tweaked output key committed to by the address.
	OutputKey *btcec.PublicKey
}

// Zero wipes both private scalars.
func (k *TaprootKeyPair) Zero() {
	k.KeyPair.Zero()
	if k.TweakedPrivKey != nil {
		k.TweakedPrivKey.Zero()
	}
}

// privKey derives the private key at path.
func (e *Engine) privKey(path Path) (*btcec.PrivateKey, error) {
	if err := e.checkAlive(); err != nil {
		return nil, err
	}

	if e.IsWatchOnly() {
		return nil, ErrMissingPrivateKey
	}

	child, err := e.childKey(path)
	if err != nil {
		return nil, err
	}
	defer child.Zero()

	priv, err := child.ECPrivKey()
	if errors.Is(err, hdkeychain.ErrNotPrivExtKey) {
		return nil, ErrMissingPrivateKey
	}

	return priv, err
}

// SigningKeyPair returns the untweaked key pair at path.
func (e *Engine) SigningKeyPair(path Path) (*KeyPair, error) {
	priv, err := e.privKey(path)
	if err != nil {
		return nil, err
	}

	return &KeyPair{Path: path, PrivKey: priv, PubKey: priv.PubKey()}, nil
}

// TaprootKeyPair returns the key pair at path together with its BIP86
// tweaked private key and output key.
func (e *Engine) TaprootKeyPair(path Path) (*TaprootKeyPair, error) {
	pair, err := e.SigningKeyPair(path)
	if err != nil {
		return nil, err
	}

	tweaked, err := TweakPrivKey(pair.PrivKey)
	if err != nil {
		pair.Zero()
		return nil, err
	}

	return &TaprootKeyPair{
		KeyPair:        *pair,
		TweakedPrivKey: tweaked,
		OutputKey:      tweaked.PubKey(),
	}, nil
}

// WithPrivKey lends the private key at path to fn and zeroes it when fn
// returns, whatever the outcome.
func (e *Engine) WithPrivKey(path Path,
	fn func(*btcec.PrivateKey) error) error {

	priv, err := e.privKey(path)
	if err != nil {
		return err
	}
	defer priv.Zero()

	return fn(priv)
}

// WithTaprootPrivKey is WithPrivKey for the tweaked taproot key at path.
func (e *Engine) WithTaprootPrivKey(path Path,
	fn func(*btcec.PrivateKey) error) error {

	return e.WithPrivKey(path, func(priv *btcec.PrivateKey) error {
		tweaked, err := TweakPrivKey(priv)
		if err != nil {
			return err
		}
		defer tweaked.Zero()

		return fn(tweaked)
	})
}

// PubKey returns the compressed public key at path. It works on watch-only
// engines as long as the hardened levels are cached or derivable.
func (e *Engine) PubKey(path Path) (*btcec.PublicKey, error) {
	child, err := e.childKey(path)
	if err != nil {
		return nil, err
	}
	defer child.Zero()

	return child.ECPubKey()
}

// SignECDSA signs a 32 byte digest with the untweaked key at path and
// returns the DER encoded signature without a sighash byte.
func (e *Engine) SignECDSA(path Path, hash []byte) ([]byte, error) {
	if len(hash) != 32 {
		return nil, fmt.Errorf("digest must be 32 bytes, got %d",
			len(hash))
	}

	var sig []byte
	err := e.WithPrivKey(path, func(priv *btcec.PrivateKey) error {
		sig = ecdsa.Sign(priv, hash).Serialize()
		return nil
	})

	return sig, err
}

// SignSchnorr produces a BIP340 signature over a 32 byte digest with the
// BIP86 tweaked key at path, i.e. a taproot key path signature.
func (e *Engine) SignSchnorr(path Path, hash []byte) ([]byte, error) {
	var sig []byte
	err := e.WithTaprootPrivKey(path, func(priv *btcec.PrivateKey) error {
		s, err := schnorr.Sign(priv, hash)
		if err != nil {
			return err
		}

		sig = s.Serialize()

		return nil
	})

	return sig, err
}

// WIF exports the private key at path in wallet import format.
func (e *Engine) WIF(path Path) (string, error) {
	var encoded string
	err := e.WithPrivKey(path, func(priv *btcec.PrivateKey) error {
		wif, err := btcutil.NewWIF(priv, e.net, true)
		if err != nil {
			return err
		}

		encoded = wif.String()

		return nil
	})

	return encoded, err
}

// MultisigKeyPath is the position of a cosigner key below its BIP48 account,
// m/48'/coin'/account'/type'/chain/index.
type MultisigKeyPath struct {
	Type    MultisigType
	Account uint32
	Chain   uint32
	Index   uint32
}

// multisigChild derives the cosigner key at path. The caller owns the result
// and must zero it.
func (e *Engine) multisigChild(
	path MultisigKeyPath) (*hdkeychain.ExtendedKey, error) {

	if err := e.checkAlive(); err != nil {
		return nil, err
	}

	account, err := e.multisigNode(path.Type, path.Account)
	if err != nil {
		return nil, err
	}

	return deriveFrom(account, path.Chain, path.Index)
}

// MultisigPubKey returns the compressed cosigner public key at path.
func (e *Engine) MultisigPubKey(path MultisigKeyPath) (*btcec.PublicKey,
	error) {

	child, err := e.multisigChild(path)
	if err != nil {
		return nil, err
	}
	defer child.Zero()

	return child.ECPubKey()
}

// WithMultisigPrivKey lends the cosigner private key at path to fn and
// zeroes it when fn returns.
func (e *Engine) WithMultisigPrivKey(path MultisigKeyPath,
	fn func(*btcec.PrivateKey) error) error {

	if e.IsWatchOnly() {
		return ErrMissingPrivateKey
	}

	child, err := e.multisigChild(path)
	if err != nil {
		return err
	}
	defer child.Zero()

	priv, err := child.ECPrivKey()
	if errors.Is(err, hdkeychain.ErrNotPrivExtKey) {
		return ErrMissingPrivateKey
	}
	if err != nil {
		return err
	}
	defer priv.Zero()

	return fn(priv)
}
