// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package store

import (
	"database/sql"

	// Registers the "sqlite" driver.
	_ "modernc.org/sqlite"
)

// sqliteQueries are the SQLite statements.
var sqliteQueries = &queries{
	putAddress: `
INSERT INTO addresses (
    wallet_id, address, derivation_path, address_index, is_change,
    script_type
) VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT (wallet_id, address) DO UPDATE SET
    derivation_path = excluded.derivation_path,
    address_index = excluded.address_index,
    is_change = excluded.is_change,
    script_type = excluded.script_type`,

	listAddresses: `
SELECT wallet_id, address, derivation_path, address_index, is_change,
    script_type, created_at
FROM addresses
WHERE wallet_id = ?
ORDER BY is_change, address_index, address`,

	putXpub: `
INSERT INTO xpubs (wallet_id, key_format, account, xpub)
VALUES (?, ?, ?, ?)
ON CONFLICT (wallet_id, xpub) DO UPDATE SET
    key_format = excluded.key_format,
    account = excluded.account`,

	listXpubs: `
SELECT wallet_id, key_format, account, xpub, created_at
FROM xpubs
WHERE wallet_id = ?
ORDER BY account, key_format, xpub`,

	putDescriptor: `
INSERT INTO descriptors (wallet_id, descriptor, is_change)
VALUES (?, ?, ?)
ON CONFLICT (wallet_id, descriptor) DO UPDATE SET
    is_change = excluded.is_change`,

	listDescriptors: `
SELECT wallet_id, descriptor, is_change, created_at
FROM descriptors
WHERE wallet_id = ?
ORDER BY is_change, descriptor`,
}

// SQLiteStore is the SQLite implementation of the Store interface.
type SQLiteStore struct {
	*sqlStore
}

// NewSQLiteStore creates a Store over an open SQLite database. The schema
// must already be migrated.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s, err := newSQLStore(db, "sqlite", sqliteQueries)
	if err != nil {
		return nil, err
	}

	return &SQLiteStore{sqlStore: s}, nil
}

// sqliteDSN enables foreign keys, WAL journaling, immediate transaction
// locking and a busy timeout on path.
func sqliteDSN(path string) string {
	dsn := path + "?_pragma=foreign_keys=on"
	dsn += "&_pragma=journal_mode=WAL"
	dsn += "&_txlock=immediate"

	return dsn + "&_pragma=busy_timeout=5000"
}

// OpenSQLite opens the database file at path, applies the migrations and
// returns the store.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", sqliteDSN(path))
	if err != nil {
		return nil, newError(ErrDatabase, "open sqlite database", err)
	}

	if err := ApplySQLiteMigrations(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return NewSQLiteStore(db)
}
