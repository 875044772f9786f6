// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package keyring

import (
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// tapTweak computes the BIP341 key path tweak t = H_TapTweak(P) for an
// internal key with no script tree.
func tapTweak(internal *btcec.PublicKey) (secp256k1.ModNScalar, error) {
	var tweak secp256k1.ModNScalar

	tweakHash := chainhash.TaggedHash(
		chainhash.TagTapTweak, schnorr.SerializePubKey(internal),
	)

	// A hash that overflows the group order is not a valid tweak.
	if overflow := tweak.SetBytes((*[32]byte)(tweakHash)); overflow != 0 {
		return tweak, ErrTweakFailure
	}

	return tweak, nil
}

// TweakedOutputKey returns the BIP86 output key Q = lift_x(P) + t*G of an
// internal key.
func TweakedOutputKey(internal *btcec.PublicKey) (*btcec.PublicKey, error) {
	tweak, err := tapTweak(internal)
	if err != nil {
		return nil, err
	}

	// lift_x picks the even y point for the x coordinate, round tripping
	// through the x-only encoding does exactly that.
	evenKey, err := schnorr.ParsePubKey(schnorr.SerializePubKey(internal))
	if err != nil {
		return nil, err
	}

	var p, tG, q secp256k1.JacobianPoint
	evenKey.AsJacobian(&p)
	secp256k1.ScalarBaseMultNonConst(&tweak, &tG)
	secp256k1.AddNonConst(&p, &tG, &q)

	if (q.X.IsZero() && q.Y.IsZero()) || q.Z.IsZero() {
		return nil, ErrTweakFailure
	}

	q.ToAffine()

	return secp256k1.NewPublicKey(&q.X, &q.Y), nil
}

// TweakPrivKey returns the private key of the BIP86 output key for an
// internal private key. When the internal public key has an odd y
// coordinate the scalar is negated before adding the tweak, so that the
// result matches lift_x(P) + t*G. The input key is not modified.
func TweakPrivKey(priv *btcec.PrivateKey) (*btcec.PrivateKey, error) {
	internal := priv.PubKey()

	tweak, err := tapTweak(internal)
	if err != nil {
		return nil, err
	}

	var scalar secp256k1.ModNScalar
	scalar.Set(&priv.Key)

	pubBytes := internal.SerializeCompressed()
	if pubBytes[0] == secp256k1.PubKeyFormatCompressedOdd {
		scalar.Negate()
	}

	scalar.Add(&tweak)
	if scalar.IsZero() {
		return nil, ErrTweakFailure
	}

	return secp256k1.NewPrivateKey(&scalar), nil
}
