// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package keyring

import "errors"

var (
	// ErrInvalidPath is returned when a derivation path string cannot be
	// parsed or does not have the shape the caller asked for.
	ErrInvalidPath = errors.New("invalid derivation path")

	// ErrMissingPrivateKey is returned when an operation that needs
	// private key material is attempted on a watch-only engine.
	ErrMissingPrivateKey = errors.New("private key not available")

	// ErrTweakFailure is returned when the taproot tweak produces an
	// invalid scalar or the point at infinity.
	ErrTweakFailure = errors.New("taproot tweak failed")

	// ErrUnknownScriptType is returned when a purpose, script type or
	// address cannot be mapped to a supported script family.
	ErrUnknownScriptType = errors.New("unknown script type")

	// ErrUnknownVersion is returned when an extended key carries version
	// bytes that are not in the known SLIP-132 table.
	ErrUnknownVersion = errors.New("unknown extended key version")

	// ErrEngineDestroyed is returned by every operation on an engine
	// after Destroy has been called.
	ErrEngineDestroyed = errors.New("key engine destroyed")
)
