// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package store persists the values the key and multisig engines hand out:
// derived addresses, extended public keys and output descriptors. The
// engines themselves never import it, callers decide what to keep.
package store

import (
	"context"
	"time"
)

// AddressRecord is a derived address as stored.
type AddressRecord struct {
	// WalletID groups the records of one keyring or multisig wallet.
	WalletID string

	Address string

	// Path is the derivation path. Multisig addresses use the path
	// relative to the cosigner account keys, e.g. m/0/5.
	Path string

	Index  uint32
	Change bool

	// ScriptType is the string form of the keyring script or multisig
	// type.
	ScriptType string

	// CreatedAt is set by the database.
	CreatedAt time.Time
}

// XpubEntry is an exported extended public key.
type XpubEntry struct {
	WalletID string

	// Format is the SLIP-132 family, e.g. zpub or Zpub.
	Format string

	Account uint32
	Xpub    string

	CreatedAt time.Time
}

// DescriptorEntry is an output descriptor with its checksum.
type DescriptorEntry struct {
	WalletID   string
	Descriptor string
	Change     bool

	CreatedAt time.Time
}

// Store is the persistence contract. Put operations are idempotent: writing
// a record that exists by its natural key updates it in place.
type Store interface {
	// PutAddress stores an address keyed by wallet and address.
	PutAddress(ctx context.Context, rec AddressRecord) error

	// ListAddresses returns the addresses of a wallet ordered by change
	// flag and index.
	ListAddresses(ctx context.Context, walletID string) ([]AddressRecord,
		error)

	PutXpub(ctx context.Context, entry XpubEntry) error
	ListXpubs(ctx context.Context, walletID string) ([]XpubEntry, error)

	PutDescriptor(ctx context.Context, entry DescriptorEntry) error
	ListDescriptors(ctx context.Context, walletID string) ([]DescriptorEntry,
		error)

	// Close releases the database handle.
	Close() error
}
