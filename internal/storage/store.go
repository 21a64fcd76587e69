// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/posgateway/amlsession/internal/session"
)

// Hint keys.
const (
	KeySessionTimeout     = "sessionTimeout"
	KeyRedirectAfterLogin = "redirectAfterLogin"
	KeySessionCookie      = "sessionCookie"
)

// ErrNotFound is returned when a key has no value.
var ErrNotFound = errors.New("hint not found")

const schema = `
CREATE TABLE IF NOT EXISTS hints (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);
`

// Store is a small key/value table of session hints.
type Store struct {
	db   *sql.DB
	path string
}

var _ session.HintStore = (*Store)(nil)

// Open opens (creating if needed) the hint database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite only supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &Store{db: db, path: path}, nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Get returns the value stored under key.
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM hints WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get %s: %w", key, err)
	}
	return value, nil
}

// Put stores value under key, replacing any previous value.
func (s *Store) Put(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO hints (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM hints WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// All returns every stored hint.
func (s *Store) All(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM hints ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("list hints: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("list hints: %w", err)
		}
		out[k] = v
	}
	return out, rows.Err()
}

// =============================================================================
// SESSION HINTS
// =============================================================================

// LoadTimeout returns the cached server timeout. Unparseable or
// non-positive values count as absent.
func (s *Store) LoadTimeout(ctx context.Context) (time.Duration, bool, error) {
	raw, err := s.Get(ctx, KeySessionTimeout)
	if errors.Is(err, ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || ms <= 0 {
		return 0, false, nil
	}
	return time.Duration(ms) * time.Millisecond, true, nil
}

// SaveTimeout caches the server timeout in milliseconds.
func (s *Store) SaveTimeout(ctx context.Context, timeout time.Duration) error {
	return s.Put(ctx, KeySessionTimeout, strconv.FormatInt(timeout.Milliseconds(), 10))
}

// StashRedirect remembers the page to restore after the next login.
func (s *Store) StashRedirect(ctx context.Context, path string) error {
	return s.Put(ctx, KeyRedirectAfterLogin, path)
}

// TakeRedirect returns and clears the stashed page in one transaction, so
// the page is restored at most once.
func (s *Store) TakeRedirect(ctx context.Context) (string, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", false, fmt.Errorf("take redirect: %w", err)
	}
	defer tx.Rollback()

	var path string
	err = tx.QueryRowContext(ctx, `SELECT value FROM hints WHERE key = ?`, KeyRedirectAfterLogin).Scan(&path)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("take redirect: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM hints WHERE key = ?`, KeyRedirectAfterLogin); err != nil {
		return "", false, fmt.Errorf("take redirect: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return "", false, fmt.Errorf("take redirect: %w", err)
	}
	return path, true, nil
}

// SessionCookie returns the stored session cookie, or "".
func (s *Store) SessionCookie(ctx context.Context) (string, error) {
	v, err := s.Get(ctx, KeySessionCookie)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	return v, err
}

// SaveSessionCookie stores the session cookie.
func (s *Store) SaveSessionCookie(ctx context.Context, value string) error {
	return s.Put(ctx, KeySessionCookie, value)
}

// ClearSession forgets the cookie and cached timeout after a logout.
func (s *Store) ClearSession(ctx context.Context) error {
	if err := s.Delete(ctx, KeySessionCookie); err != nil {
		return err
	}
	return s.Delete(ctx, KeySessionTimeout)
}
