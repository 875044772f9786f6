// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package keyring

import (
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
)

// AddressInfo is one derived single-sig address. It is a plain value that
// callers may persist as is.
type AddressInfo struct {
	// Address is the encoded address string.
	Address string

	// Path is the full derivation path of the key.
	Path Path

	// Index is the last path level.
	Index uint32

	// Change is true for addresses on the internal branch.
	Change bool

	// ScriptType is the script family of the address.
	ScriptType ScriptType

	// PkScript is the output script paying to the address.
	PkScript []byte

	// PubKey is the compressed public key at Path. For taproot this is the
	// untweaked internal key.
	PubKey []byte

	// TaprootOutputKey is the x-only tweaked output key, taproot only.
	TaprootOutputKey []byte
}

// AddressForKey builds the address of type st that commits to pub.
func AddressForKey(st ScriptType, pub *btcec.PublicKey,
	net *chaincfg.Params) (btcutil.Address, error) {

	switch st {
	case ScriptTypeP2PKH:
		return btcutil.NewAddressPubKeyHash(
			btcutil.Hash160(pub.SerializeCompressed()), net,
		)

	case ScriptTypeNestedP2WPKH:
		witnessProgram, err := nestedWitnessProgram(pub, net)
		if err != nil {
			return nil, err
		}

		return btcutil.NewAddressScriptHash(witnessProgram, net)

	case ScriptTypeP2WPKH:
		return btcutil.NewAddressWitnessPubKeyHash(
			btcutil.Hash160(pub.SerializeCompressed()), net,
		)

	case ScriptTypeP2TR:
		outputKey, err := TweakedOutputKey(pub)
		if err != nil {
			return nil, err
		}

		return btcutil.NewAddressTaproot(
			schnorr.SerializePubKey(outputKey), net,
		)

	default:
		return nil, fmt.Errorf("%w: %v", ErrUnknownScriptType, st)
	}
}

// nestedWitnessProgram returns the P2WPKH program that a P2SH-P2WPKH output
// commits to, i.e. its redeem script.
func nestedWitnessProgram(pub *btcec.PublicKey,
	net *chaincfg.Params) ([]byte, error) {

	witAddr, err := btcutil.NewAddressWitnessPubKeyHash(
		btcutil.Hash160(pub.SerializeCompressed()), net,
	)
	if err != nil {
		return nil, err
	}

	return txscript.PayToAddrScript(witAddr)
}

// NestedRedeemScript returns the redeem script of the P2SH-P2WPKH address of
// pub.
func NestedRedeemScript(pub *btcec.PublicKey,
	net *chaincfg.Params) ([]byte, error) {

	return nestedWitnessProgram(pub, net)
}

// DerivePath derives the address at m/purpose'/coin'/account'/chain/index.
// The purpose selects the script family: 44 P2PKH, 49 P2SH-P2WPKH, 84 P2WPKH
// and 86 P2TR.
func (e *Engine) DerivePath(purpose, account, chain,
	index uint32) (*AddressInfo, error) {

	st, err := ScriptTypeFromPurpose(purpose)
	if err != nil {
		return nil, err
	}

	return e.deriveAddress(st, Path{
		Purpose:  purpose,
		CoinType: e.CoinType(),
		Account:  account,
		Chain:    chain,
		Index:    index,
	})
}

// DeriveAddress derives the address of type st at the given position.
func (e *Engine) DeriveAddress(st ScriptType, account uint32, change bool,
	index uint32) (*AddressInfo, error) {

	chain := ExternalBranch
	if change {
		chain = InternalBranch
	}

	if st.Purpose() == 0 {
		return nil, fmt.Errorf("%w: %v", ErrUnknownScriptType, st)
	}

	return e.DerivePath(st.Purpose(), account, chain, index)
}

// DeriveAddresses derives count consecutive addresses starting at start.
func (e *Engine) DeriveAddresses(st ScriptType, account uint32, change bool,
	start, count uint32) ([]AddressInfo, error) {

	addrs := make([]AddressInfo, 0, count)
	for i := range count {
		info, err := e.DeriveAddress(st, account, change, start+i)
		if err != nil {
			return nil, err
		}

		addrs = append(addrs, *info)
	}

	return addrs, nil
}

// deriveAddress is the shared body of the derivation helpers.
func (e *Engine) deriveAddress(st ScriptType,
	path Path) (*AddressInfo, error) {

	child, err := e.childKey(path)
	if err != nil {
		return nil, err
	}
	defer child.Zero()

	pub, err := child.ECPubKey()
	if err != nil {
		return nil, err
	}

	addr, err := AddressForKey(st, pub, e.net)
	if err != nil {
		return nil, err
	}

	pkScript, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return nil, err
	}

	info := &AddressInfo{
		Address:    addr.EncodeAddress(),
		Path:       path,
		Index:      path.Index,
		Change:     path.IsChange(),
		ScriptType: st,
		PkScript:   pkScript,
		PubKey:     pub.SerializeCompressed(),
	}

	if st == ScriptTypeP2TR {
		// The witness program of a v1 output is the x-only output
		// key.
		info.TaprootOutputKey = append([]byte(nil), pkScript[2:]...)
	}

	return info, nil
}
