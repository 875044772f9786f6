// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package keyring

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
)

// neuteredString returns the standard-prefix (xpub/tpub) serialization of
// the public half of node.
func neuteredString(node *hdkeychain.ExtendedKey) (string, error) {
	pub, err := node.Neuter()
	if err != nil {
		return "", fmt.Errorf("neuter: %w", err)
	}

	return pub.String(), nil
}

// accountXpub returns the standard-prefix account xpub of a single-sig
// script type.
func (e *Engine) accountXpub(st ScriptType, account uint32) (string, error) {
	if err := e.checkAlive(); err != nil {
		return "", err
	}

	if st.Purpose() == 0 {
		return "", fmt.Errorf("%w: %v", ErrUnknownScriptType, st)
	}

	node, err := e.accountNode(st.Purpose(), account)
	if err != nil {
		return "", err
	}

	return neuteredString(node)
}

// ExtendedPublicKey returns the account level extended public key of a
// single-sig script type, serialized with the SLIP-132 prefix of that type:
// xpub/tpub for legacy and taproot, ypub/upub for wrapped segwit and
// zpub/vpub for native segwit.
func (e *Engine) ExtendedPublicKey(st ScriptType,
	account uint32) (string, error) {

	xpub, err := e.accountXpub(st, account)
	if err != nil {
		return "", err
	}

	version, err := VersionFor(e.net, singleSigFormat(st), false)
	if err != nil {
		return "", err
	}

	return ConvertVersion(xpub, version)
}

// MultisigXpub returns the BIP48 account extended public key at
// m/48'/coin'/account'/type'. Wrapped and native segwit use the Ypub/Upub and
// Zpub/Vpub prefixes, bare P2SH keeps xpub/tpub.
func (e *Engine) MultisigXpub(mt MultisigType,
	account uint32) (string, error) {

	xpub, err := e.multisigStandardXpub(mt, account)
	if err != nil {
		return "", err
	}

	version, err := VersionFor(e.net, multisigFormat(mt), false)
	if err != nil {
		return "", err
	}

	return ConvertVersion(xpub, version)
}

// multisigStandardXpub returns the BIP48 account xpub with the plain BIP32
// prefix, as embedded in descriptors.
func (e *Engine) multisigStandardXpub(mt MultisigType,
	account uint32) (string, error) {

	if err := e.checkAlive(); err != nil {
		return "", err
	}

	node, err := e.multisigNode(mt, account)
	if err != nil {
		return "", err
	}

	return neuteredString(node)
}
