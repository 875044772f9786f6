// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package store

import (
	"context"
	"database/sql"
	"time"

	// Registers the "pgx" driver.
	_ "github.com/jackc/pgx/v5/stdlib"
)

// pingTimeout bounds the connection check of OpenPostgres.
const pingTimeout = 10 * time.Second

// pgQueries are the PostgreSQL statements.
var pgQueries = &queries{
	putAddress: `
INSERT INTO addresses (
    wallet_id, address, derivation_path, address_index, is_change,
    script_type
) VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (wallet_id, address) DO UPDATE SET
    derivation_path = excluded.derivation_path,
    address_index = excluded.address_index,
    is_change = excluded.is_change,
    script_type = excluded.script_type`,

	listAddresses: `
SELECT wallet_id, address, derivation_path, address_index, is_change,
    script_type, created_at
FROM addresses
WHERE wallet_id = $1
ORDER BY is_change, address_index, address`,

	putXpub: `
INSERT INTO xpubs (wallet_id, key_format, account, xpub)
VALUES ($1, $2, $3, $4)
ON CONFLICT (wallet_id, xpub) DO UPDATE SET
    key_format = excluded.key_format,
    account = excluded.account`,

	listXpubs: `
SELECT wallet_id, key_format, account, xpub, created_at
FROM xpubs
WHERE wallet_id = $1
ORDER BY account, key_format, xpub`,

	putDescriptor: `
INSERT INTO descriptors (wallet_id, descriptor, is_change)
VALUES ($1, $2, $3)
ON CONFLICT (wallet_id, descriptor) DO UPDATE SET
    is_change = excluded.is_change`,

	listDescriptors: `
SELECT wallet_id, descriptor, is_change, created_at
FROM descriptors
WHERE wallet_id = $1
ORDER BY is_change, descriptor`,
}

// PostgresStore is the PostgreSQL implementation of the Store interface.
type PostgresStore struct {
	*sqlStore
}

// NewPostgresStore creates a Store over an open PostgreSQL database. The
// schema must already be migrated.
func NewPostgresStore(db *sql.DB) (*PostgresStore, error) {
	s, err := newSQLStore(db, "postgres", pgQueries)
	if err != nil {
		return nil, err
	}

	return &PostgresStore{sqlStore: s}, nil
}

// OpenPostgres connects to dsn, applies the migrations and returns the
// store.
func OpenPostgres(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, newError(ErrDatabase, "open postgres database", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, newError(ErrDatabase, "connect to postgres", err)
	}

	if err := ApplyPostgresMigrations(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return NewPostgresStore(db)
}
