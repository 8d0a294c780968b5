// Package store provides the sqlite-backed auxiliary state that must
// survive a restart but doesn't belong in index.json: revoked bearer
// tokens and per-identity rate-limit usage counters. Grounded on
// wingthing's internal/relay/store.go (OpenRelay/migrate pattern) and
// bandwidth.go (syncToDB).
package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Store wraps the auxiliary sqlite database.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the sqlite database at dsn and
// applies the schema.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS revoked_tokens (
			jti TEXT PRIMARY KEY,
			expires_at TEXT NOT NULL,
			revoked_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS rate_limit_usage (
			identity TEXT NOT NULL,
			category TEXT NOT NULL,
			count INTEGER NOT NULL DEFAULT 0,
			updated_at TEXT NOT NULL,
			PRIMARY KEY (identity, category)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// RevokeToken marks jti as revoked until expiresAt, after which it is
// eligible for pruning.
func (s *Store) RevokeToken(jti string, expiresAt time.Time) error {
	_, err := s.db.Exec(
		`INSERT INTO revoked_tokens (jti, expires_at, revoked_at) VALUES (?, ?, ?)
		 ON CONFLICT(jti) DO UPDATE SET expires_at = excluded.expires_at`,
		jti, expiresAt.UTC().Format(time.RFC3339), time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	return nil
}

// IsRevoked reports whether jti has been revoked and has not yet expired
// out of the table.
func (s *Store) IsRevoked(jti string) (bool, error) {
	var expiresAt string
	err := s.db.QueryRow(`SELECT expires_at FROM revoked_tokens WHERE jti = ?`, jti).Scan(&expiresAt)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check revocation: %w", err)
	}
	return true, nil
}

// PruneExpiredRevocations deletes revocation entries whose token has
// already expired — there is no longer any need to remember them.
func (s *Store) PruneExpiredRevocations() error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.Exec(`DELETE FROM revoked_tokens WHERE expires_at < ?`, now)
	if err != nil {
		return fmt.Errorf("prune revocations: %w", err)
	}
	return nil
}

// RecordUsage adds delta to identity's running total for category.
func (s *Store) RecordUsage(identity, category string, delta int64) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.Exec(
		`INSERT INTO rate_limit_usage (identity, category, count, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(identity, category) DO UPDATE SET count = count + excluded.count, updated_at = excluded.updated_at`,
		identity, category, delta, now,
	)
	if err != nil {
		return fmt.Errorf("record usage: %w", err)
	}
	return nil
}

// UsageTotal returns identity's cumulative usage for category (0 if none
// recorded yet).
func (s *Store) UsageTotal(identity, category string) (int64, error) {
	var count int64
	err := s.db.QueryRow(
		`SELECT count FROM rate_limit_usage WHERE identity = ? AND category = ?`,
		identity, category,
	).Scan(&count)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("usage total: %w", err)
	}
	return count, nil
}
