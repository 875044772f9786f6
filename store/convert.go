// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package store

import (
	"github.com/btcsuite/btcmultisig/keyring"
	"github.com/btcsuite/btcmultisig/multisig"
)

// FromAddressInfo converts a single-sig address.
func FromAddressInfo(walletID string, info keyring.AddressInfo) AddressRecord {
	return AddressRecord{
		WalletID:   walletID,
		Address:    info.Address,
		Path:       info.Path.String(),
		Index:      info.Index,
		Change:     info.Change,
		ScriptType: info.ScriptType.String(),
	}
}

// FromMultisigAddress converts a multisig address. Its path is relative to
// the account keys of the cosigners.
func FromMultisigAddress(walletID string,
	info *multisig.AddressInfo) AddressRecord {

	chain := uint32(keyring.ExternalBranch)
	if info.Change {
		chain = keyring.InternalBranch
	}

	return AddressRecord{
		WalletID:   walletID,
		Address:    info.Address,
		Path:       keyring.FormatDerivationPath([]uint32{chain, info.Index}),
		Index:      info.Index,
		Change:     info.Change,
		ScriptType: info.ScriptType.String(),
	}
}
