// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package psbtmgr

import (
	"errors"

	"github.com/btcsuite/btcmultisig/keyring"
)

var (
	// ErrInsufficientFunds is returned when the inputs cannot pay for the
	// outputs and the fee.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrMissingUtxoData is returned when an input lacks the previous
	// output or the scripts needed to size, sign or finalize it.
	ErrMissingUtxoData = errors.New("missing utxo data")

	// ErrMissingRawTxForLegacyInput is returned when a P2PKH or bare P2SH
	// input comes without its full previous transaction.
	ErrMissingRawTxForLegacyInput = errors.New(
		"legacy input requires the full previous transaction",
	)

	// ErrPrevTxMismatch is returned when a previous transaction does not
	// match the outpoint or output it is supplied for.
	ErrPrevTxMismatch = errors.New("previous transaction does not match " +
		"outpoint")

	// ErrRedeemScriptMismatch is returned when a redeem or witness script
	// does not hash to the output script it claims to unlock.
	ErrRedeemScriptMismatch = errors.New("script does not match output")

	// ErrNoRecipients is returned when a transaction has no outputs.
	ErrNoRecipients = errors.New("no recipients")

	// ErrWrongNetwork is returned for an address of another network.
	ErrWrongNetwork = errors.New("address is for another network")

	// ErrMissingChangeAddress is returned when a non-dust change amount
	// has nowhere to go.
	ErrMissingChangeAddress = errors.New("change address required")

	// ErrPathMismatch is returned when a signing path does not derive the
	// key of the input it was given for.
	ErrPathMismatch = errors.New("path does not match input address")

	// ErrInsufficientSignatures is returned when a multisig input holds
	// fewer than m signatures.
	ErrInsufficientSignatures = errors.New("insufficient signatures")

	// ErrFinalizationFailure is returned when no strategy could finalize
	// an input. The concrete error is a *FinalizationError.
	ErrFinalizationFailure = errors.New("finalization failed")

	// ErrNotComplete is returned when extracting a packet with inputs
	// that are not finalized.
	ErrNotComplete = errors.New("psbt is not complete")

	// ErrCombineMismatch is returned when combining packets of different
	// unsigned transactions.
	ErrCombineMismatch = errors.New("psbts spend different transactions")

	// ErrUnknownScriptType is returned when an input script cannot be
	// classified.
	ErrUnknownScriptType = keyring.ErrUnknownScriptType
)
