// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package multisig

import (
	"fmt"

	"github.com/btcsuite/btcmultisig/keyring"
)

// ValidationIssue is one problem found by Validate.
type ValidationIssue struct {
	// Err is the sentinel error of the issue, usable with errors.Is.
	Err error

	// Message is a human readable description.
	Message string
}

// Error implements the error interface.
func (v ValidationIssue) Error() string {
	return v.Message
}

// Unwrap returns the sentinel error.
func (v ValidationIssue) Unwrap() error {
	return v.Err
}

// ValidationResult lists every policy issue of a wallet at once.
type ValidationResult struct {
	Issues []ValidationIssue
}

// Valid reports whether no issue was found.
func (r ValidationResult) Valid() bool {
	return len(r.Issues) == 0
}

// Err returns the first issue wrapped in ErrInvalidPolicy, or nil.
func (r ValidationResult) Err() error {
	if r.Valid() {
		return nil
	}

	return fmt.Errorf("%w: %w", ErrInvalidPolicy, r.Issues[0])
}

// Has reports whether an issue with the given sentinel was found.
func (r ValidationResult) Has(err error) bool {
	for _, issue := range r.Issues {
		if issue.Err == err {
			return true
		}
	}

	return false
}

// Validate checks the policy and the cosigner set. It never fails, every
// problem is returned as an issue.
func (w *Wallet) Validate() ValidationResult {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.validateLocked()
}

func (w *Wallet) validateLocked() ValidationResult {
	var result ValidationResult
	report := func(err error, format string, args ...any) {
		result.Issues = append(result.Issues, ValidationIssue{
			Err:     err,
			Message: fmt.Sprintf(format, args...),
		})
	}

	if w.n < MinCosigners {
		report(ErrTooFewCosigners, "n=%d is below the minimum of %d",
			w.n, MinCosigners)
	}

	if w.n > MaxCosigners {
		report(ErrTooManyCosigners, "n=%d exceeds the maximum of %d",
			w.n, MaxCosigners)
	}

	if w.m < 1 || w.m > w.n {
		report(ErrInvalidThreshold, "m=%d must be between 1 and n=%d",
			w.m, w.n)
	}

	if len(w.cosigners) > w.n {
		report(ErrTooManyCosigners, "%d cosigners for n=%d",
			len(w.cosigners), w.n)
	}

	if !w.scriptType.Valid() {
		report(keyring.ErrUnknownScriptType, "script type %v",
			w.scriptType)
	}

	seen := make(map[uint32]string, len(w.cosigners))
	for _, c := range w.cosigners {
		fp := c.info.Fingerprint
		if other, ok := seen[fp]; ok {
			report(ErrDuplicateFingerprint, "cosigners %s and %s "+
				"share fingerprint %08x", other, c.info.ID, fp)
			continue
		}
		seen[fp] = c.info.ID
	}

	return result
}
