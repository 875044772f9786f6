// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package store

import (
	"context"
	"database/sql"
	"fmt"
)

// queries is the statement set of one backend. Each backend file carries
// its own set in its native placeholder syntax.
type queries struct {
	putAddress      string
	listAddresses   string
	putXpub         string
	listXpubs       string
	putDescriptor   string
	listDescriptors string
}

// sqlStore implements Store over database/sql. The backends only differ in
// their statements.
type sqlStore struct {
	db   *sql.DB
	name string
	q    *queries
}

// A compile-time check to ensure that sqlStore implements the Store
// interface.
var _ Store = (*sqlStore)(nil)

func newSQLStore(db *sql.DB, name string, q *queries) (*sqlStore, error) {
	if db == nil {
		return nil, ErrNilDB
	}

	return &sqlStore{db: db, name: name, q: q}, nil
}

// execInTx runs fn inside a transaction, committing on success and rolling
// back when fn or the commit fails.
func execInTx(ctx context.Context, db *sql.DB,
	fn func(tx *sql.Tx) error) error {

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return newError(ErrDatabase, "begin transaction", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			log.Errorf("Rollback failed: %v", rbErr)
		}

		return err
	}

	if err := tx.Commit(); err != nil {
		return newError(ErrDatabase, "commit transaction", err)
	}

	return nil
}

// exec runs a single statement in its own transaction.
func (s *sqlStore) exec(ctx context.Context, query string,
	args ...any) error {

	return execInTx(ctx, s.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return newError(ErrDatabase, "exec", err)
		}

		return nil
	})
}

// list runs a query for one wallet and scans every row with scan.
func list[T any](ctx context.Context, s *sqlStore, query string,
	walletID string, scan func(*sql.Rows) (T, error)) ([]T, error) {

	rows, err := s.db.QueryContext(ctx, query, walletID)
	if err != nil {
		return nil, newError(ErrDatabase, "query", err)
	}
	defer rows.Close()

	var records []T
	for rows.Next() {
		rec, err := scan(rows)
		if err != nil {
			return nil, newError(ErrDatabase, "scan row", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, newError(ErrDatabase, "iterate rows", err)
	}

	return records, nil
}

func checkWalletID(id string) error {
	if id == "" {
		return newError(ErrInvalidRecord, "invalid record",
			ErrMissingWalletID)
	}

	return nil
}

// PutAddress stores an address keyed by wallet and address.
func (s *sqlStore) PutAddress(ctx context.Context, rec AddressRecord) error {
	if err := checkWalletID(rec.WalletID); err != nil {
		return err
	}

	err := s.exec(ctx, s.q.putAddress, rec.WalletID, rec.Address,
		rec.Path, int64(rec.Index), rec.Change, rec.ScriptType)
	if err != nil {
		return fmt.Errorf("put address %s: %w", rec.Address, err)
	}

	log.Tracef("Stored address %s of %s", rec.Address, rec.WalletID)

	return nil
}

// ListAddresses returns the addresses of a wallet ordered by change flag and
// index.
func (s *sqlStore) ListAddresses(ctx context.Context,
	walletID string) ([]AddressRecord, error) {

	return list(ctx, s, s.q.listAddresses, walletID,
		func(rows *sql.Rows) (AddressRecord, error) {
			var (
				rec   AddressRecord
				index int64
			)
			err := rows.Scan(&rec.WalletID, &rec.Address, &rec.Path,
				&index, &rec.Change, &rec.ScriptType,
				&rec.CreatedAt)
			rec.Index = uint32(index)

			return rec, err
		},
	)
}

// PutXpub stores an extended public key keyed by wallet and key.
func (s *sqlStore) PutXpub(ctx context.Context, entry XpubEntry) error {
	if err := checkWalletID(entry.WalletID); err != nil {
		return err
	}

	err := s.exec(ctx, s.q.putXpub, entry.WalletID, entry.Format,
		int64(entry.Account), entry.Xpub)
	if err != nil {
		return fmt.Errorf("put xpub: %w", err)
	}

	return nil
}

// ListXpubs returns the extended public keys of a wallet.
func (s *sqlStore) ListXpubs(ctx context.Context,
	walletID string) ([]XpubEntry, error) {

	return list(ctx, s, s.q.listXpubs, walletID,
		func(rows *sql.Rows) (XpubEntry, error) {
			var (
				entry   XpubEntry
				account int64
			)
			err := rows.Scan(&entry.WalletID, &entry.Format,
				&account, &entry.Xpub, &entry.CreatedAt)
			entry.Account = uint32(account)

			return entry, err
		},
	)
}

// PutDescriptor stores a descriptor keyed by wallet and descriptor.
func (s *sqlStore) PutDescriptor(ctx context.Context,
	entry DescriptorEntry) error {

	if err := checkWalletID(entry.WalletID); err != nil {
		return err
	}

	err := s.exec(ctx, s.q.putDescriptor, entry.WalletID,
		entry.Descriptor, entry.Change)
	if err != nil {
		return fmt.Errorf("put descriptor: %w", err)
	}

	return nil
}

// ListDescriptors returns the descriptors of a wallet.
func (s *sqlStore) ListDescriptors(ctx context.Context,
	walletID string) ([]DescriptorEntry, error) {

	return list(ctx, s, s.q.listDescriptors, walletID,
		func(rows *sql.Rows) (DescriptorEntry, error) {
			var entry DescriptorEntry
			err := rows.Scan(&entry.WalletID, &entry.Descriptor,
				&entry.Change, &entry.CreatedAt)

			return entry, err
		},
	)
}

// Close closes the database.
func (s *sqlStore) Close() error {
	log.Debugf("Closing %s store", s.name)

	return s.db.Close()
}
