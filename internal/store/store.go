// Package store keeps an audit trail of sessions, file transfers and
// uploads in a local SQLite database. It is bookkeeping only: nothing on
// the message path depends on it.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// migrations is an ordered list of SQL statements applied on startup.
// Each entry is idempotent (IF NOT EXISTS) so re-running is safe.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS sessions (
		id           TEXT PRIMARY KEY,
		remote_addr  TEXT NOT NULL DEFAULT '',
		connected_at TEXT NOT NULL,
		closed_at    TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS transfers (
		id         TEXT PRIMARY KEY,
		name       TEXT NOT NULL,
		direction  TEXT NOT NULL,
		outcome    TEXT NOT NULL,
		size_bytes INTEGER NOT NULL DEFAULT 0,
		at         TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS uploads (
		id         TEXT PRIMARY KEY,
		name       TEXT NOT NULL,
		size_bytes INTEGER NOT NULL DEFAULT 0,
		at         TEXT NOT NULL
	)`,
}

// Store wraps the SQLite database.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and runs migrations.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("%s?_journal=WAL&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite handles one writer at a time.

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close() //nolint:errcheck
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	for _, stmt := range migrations {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migration: %w", err)
		}
	}
	return nil
}

func (s *Store) Close() error { return s.db.Close() }

func ts(t time.Time) string { return t.UTC().Format(time.RFC3339) }

// SessionOpened records a new authenticated session.
func (s *Store) SessionOpened(id, remote string, at time.Time) error {
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO sessions (id, remote_addr, connected_at) VALUES (?, ?, ?)`,
		id, remote, ts(at))
	return err
}

// SessionClosed stamps a session's close time.
func (s *Store) SessionClosed(id string, at time.Time) error {
	_, err := s.db.Exec(`UPDATE sessions SET closed_at = ? WHERE id = ?`, ts(at), id)
	return err
}

// TransferRecorded records one push attempt and its outcome.
func (s *Store) TransferRecorded(name, direction, outcome string, bytes int64, at time.Time) error {
	_, err := s.db.Exec(
		`INSERT INTO transfers (id, name, direction, outcome, size_bytes, at) VALUES (?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), name, direction, outcome, bytes, ts(at))
	return err
}

// UploadRecorded records one completed HTTP upload.
func (s *Store) UploadRecorded(name string, bytes int64, at time.Time) error {
	_, err := s.db.Exec(
		`INSERT INTO uploads (id, name, size_bytes, at) VALUES (?, ?, ?, ?)`,
		uuid.NewString(), name, bytes, ts(at))
	return err
}

// TransferRecord is one row of push history.
type TransferRecord struct {
	Name      string
	Direction string
	Outcome   string
	SizeBytes int64
	At        time.Time
}

// RecentTransfers returns up to limit transfers, newest first.
func (s *Store) RecentTransfers(ctx context.Context, limit int) ([]TransferRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, direction, outcome, size_bytes, at FROM transfers ORDER BY at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TransferRecord
	for rows.Next() {
		var r TransferRecord
		var at string
		if err := rows.Scan(&r.Name, &r.Direction, &r.Outcome, &r.SizeBytes, &at); err != nil {
			return nil, err
		}
		r.At, _ = time.Parse(time.RFC3339, at)
		out = append(out, r)
	}
	return out, rows.Err()
}
