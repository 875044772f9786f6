// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package multisig

import "errors"

var (
	// ErrInvalidThreshold is reported when m is not within 1..n.
	ErrInvalidThreshold = errors.New("invalid signature threshold")

	// ErrTooManyCosigners is reported when n exceeds the script limit or
	// more cosigners than n were added.
	ErrTooManyCosigners = errors.New("too many cosigners")

	// ErrTooFewCosigners is reported when n is below two.
	ErrTooFewCosigners = errors.New("too few cosigners")

	// ErrDuplicateFingerprint is reported when two cosigners share a
	// master key fingerprint.
	ErrDuplicateFingerprint = errors.New("duplicate cosigner fingerprint")

	// ErrDuplicateCosigner is returned when a cosigner id is added twice.
	ErrDuplicateCosigner = errors.New("duplicate cosigner id")

	// ErrWalletIncomplete is returned by operations that need all n
	// cosigners.
	ErrWalletIncomplete = errors.New("multisig wallet incomplete")

	// ErrWalletComplete is returned when the cosigner set of a complete
	// wallet would change.
	ErrWalletComplete = errors.New("multisig wallet complete")

	// ErrCosignerNotFound is returned for an unknown cosigner id.
	ErrCosignerNotFound = errors.New("cosigner not found")

	// ErrInvalidPolicy wraps the first validation issue when an address
	// or descriptor is requested from an invalid wallet.
	ErrInvalidPolicy = errors.New("invalid multisig policy")

	// ErrNoLocalSigner is returned when signing is requested for a
	// cosigner without an attached key engine.
	ErrNoLocalSigner = errors.New("no local signer for cosigner")

	// ErrXpubMismatch is returned when an attached engine does not own
	// the cosigner extended public key.
	ErrXpubMismatch = errors.New("engine does not match cosigner xpub")

	// ErrPrivateXpub is returned when a cosigner is added with an
	// extended private key.
	ErrPrivateXpub = errors.New("cosigner key must be public")

	// ErrInvalidExport is returned when an exported wallet cannot be
	// decoded.
	ErrInvalidExport = errors.New("invalid wallet export")
)
