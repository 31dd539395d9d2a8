// Package store provides SQLite persistence for the current credential pair.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"puplink-authkit/internal/domain"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists the {token, identity} pair in a single-row table so
// a session survives process restarts. Implements domain.CredentialStore.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) the credential database at
// dbPath and initializes its schema.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("%w: create store directory: %w", domain.ErrPersistence, err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("%w: open database: %w", domain.ErrPersistence, err)
	}

	// WAL lets a concurrent Load proceed while a Save transaction commits.
	if _, err := db.Exec("PRAGMA journal_mode = WAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: enable WAL: %w", domain.ErrPersistence, err)
	}

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteStore{db: db}, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func initSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS credential (
			id          INTEGER PRIMARY KEY CHECK (id = 1),
			token       TEXT NOT NULL,
			identity    TEXT NOT NULL,
			updated_at  INTEGER NOT NULL
		);`)
	if err != nil {
		return fmt.Errorf("%w: init 'credential' table schema: %w", domain.ErrPersistence, err)
	}
	return nil
}

// Load returns the persisted pair, or domain.ErrNoSession when no session
// has been saved. A missing identity or token is treated as no session.
func (s *SQLiteStore) Load(ctx context.Context) (string, *domain.IdentityRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT token, identity FROM credential WHERE id = 1`)

	var tok, identityJSON string
	if err := row.Scan(&tok, &identityJSON); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil, domain.ErrNoSession
		}
		return "", nil, fmt.Errorf("%w: load credential: %w", domain.ErrPersistence, err)
	}

	if tok == "" || identityJSON == "" {
		return "", nil, domain.ErrNoSession
	}

	var identity domain.IdentityRecord
	if err := json.Unmarshal([]byte(identityJSON), &identity); err != nil {
		return "", nil, fmt.Errorf("%w: decode identity record: %w", domain.ErrPersistence, err)
	}

	return tok, &identity, nil
}

// Save upserts the pair inside a transaction so a concurrent Load never
// observes a half-written row.
func (s *SQLiteStore) Save(ctx context.Context, tok string, identity *domain.IdentityRecord) error {
	identityJSON, err := json.Marshal(identity)
	if err != nil {
		return fmt.Errorf("%w: encode identity record: %w", domain.ErrPersistence, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin save: %w", domain.ErrPersistence, err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO credential (id, token, identity, updated_at)
		VALUES (1, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			token = excluded.token,
			identity = excluded.identity,
			updated_at = excluded.updated_at`,
		tok, string(identityJSON), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("%w: save credential: %w", domain.ErrPersistence, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit save: %w", domain.ErrPersistence, err)
	}
	return nil
}

// Clear removes the persisted pair. Clearing an empty store is not an error.
func (s *SQLiteStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM credential WHERE id = 1`); err != nil {
		return fmt.Errorf("%w: clear credential: %w", domain.ErrPersistence, err)
	}
	return nil
}
