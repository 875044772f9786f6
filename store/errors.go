// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package store

import "errors"

var (
	// ErrNilDB is returned when a store is created without a database.
	ErrNilDB = errors.New("database connection is nil")

	// ErrMissingWalletID is returned when a record has no wallet id.
	ErrMissingWalletID = errors.New("missing wallet id")
)

// ErrorCode identifies a kind of error.
type ErrorCode int

// These constants are used to identify a specific Error.
const (
	// ErrDatabase indicates a failure of the underlying database.
	ErrDatabase ErrorCode = iota

	// ErrMigration indicates that the schema could not be brought up to
	// date.
	ErrMigration

	// ErrInvalidRecord indicates a record that cannot be stored.
	ErrInvalidRecord
)

// Error identifies a store error. It has an error code, a descriptive
// message and the underlying error if any.
type Error struct {
	Code ErrorCode
	Desc string
	Err  error
}

// Error satisfies the error interface and prints human-readable errors.
func (e Error) Error() string {
	if e.Err != nil {
		return e.Desc + ": " + e.Err.Error()
	}

	return e.Desc
}

// Unwrap returns the underlying error, if any.
func (e Error) Unwrap() error {
	return e.Err
}

// newError creates an Error given a set of arguments.
func newError(c ErrorCode, desc string, err error) Error {
	return Error{Code: c, Desc: desc, Err: err}
}

// IsErrorCode reports whether err is a store Error with the given code.
func IsErrorCode(err error, code ErrorCode) bool {
	var serr Error
	if errors.As(err, &serr) {
		return serr.Code == code
	}

	return false
}
