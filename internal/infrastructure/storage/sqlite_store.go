// Package storage provides the durable key-value store backing the
// session anchor and the ringing dedupe record. Values are scoped per
// account so a multi-account client cannot cross-read records.
package storage

import (
	"context"
	"database/sql"
	"errors"

	_ "modernc.org/sqlite"

	apperrors "whispercall/pkg/errors"
)

const schema = `
CREATE TABLE IF NOT EXISTS kv (
	account TEXT NOT NULL,
	key     TEXT NOT NULL,
	value   TEXT NOT NULL,
	PRIMARY KEY (account, key)
);`

// SQLiteStore implements the KeyValueStore port on a local sqlite file.
type SQLiteStore struct {
	db      *sql.DB
	account string
}

// OpenSQLiteStore opens (creating if needed) the store at path, scoped to
// the given account.
func OpenSQLiteStore(path, account string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, apperrors.WrapError(err, apperrors.ErrCodeInternal, "failed to open store")
	}
	// Serialized access keeps the single-file database simple; load is a
	// handful of writes per call.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, apperrors.WrapError(err, apperrors.ErrCodeInternal, "failed to create store schema")
	}
	return &SQLiteStore{db: db, account: account}, nil
}

// Get returns the stored value, or "" when the key is absent.
func (s *SQLiteStore) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM kv WHERE account = ? AND key = ?`, s.account, key,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", apperrors.WrapError(err, apperrors.ErrCodeInternal, "store read failed")
	}
	return value, nil
}

func (s *SQLiteStore) Set(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO kv (account, key, value) VALUES (?, ?, ?)
		 ON CONFLICT (account, key) DO UPDATE SET value = excluded.value`,
		s.account, key, value,
	)
	if err != nil {
		return apperrors.WrapError(err, apperrors.ErrCodeInternal, "store write failed")
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM kv WHERE account = ? AND key = ?`, s.account, key,
	)
	if err != nil {
		return apperrors.WrapError(err, apperrors.ErrCodeInternal, "store delete failed")
	}
	return nil
}

// DB exposes the handle so sibling sinks (call history) can share the
// same database file.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
