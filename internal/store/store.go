// Package store persists session snapshots locally
package store

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	apperrors "github.com/truelens/capture/internal/errors"
)

// timeLayout is fixed-width so lexicographic order on the TEXT column
// matches temporal order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store keeps durable session snapshots in SQLite. A snapshot is the
// canonical session JSON, written before every remote save so entries
// survive daemon restarts and backend outages.
type Store struct {
	db *sql.DB
}

// Snapshot is one stored session document.
type Snapshot struct {
	SessionID string
	Data      []byte // canonical session JSON
	Status    string
	UpdatedAt time.Time
}

// Open opens the snapshot database, creating the directory and schema as
// needed. WAL keeps concurrent reads cheap.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, apperrors.Wrap(err, apperrors.CodeSnapshotStore, "create snapshot dir")
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeSnapshotStore, "open snapshot db")
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, apperrors.Wrap(err, apperrors.CodeSnapshotStore, "ping snapshot db")
	}

	s := &Store{db: db}
	if err := s.ensureSchema(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS sessions (
  id TEXT PRIMARY KEY,
  data TEXT NOT NULL,
  status TEXT NOT NULL,
  updated_at TEXT NOT NULL
);
`
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return apperrors.Wrap(err, apperrors.CodeSnapshotStore, "create sessions table")
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save upserts the full serialized session.
func (s *Store) Save(ctx context.Context, sessionID string, data []byte, status string) error {
	const stmt = `
INSERT INTO sessions (id, data, status, updated_at)
VALUES (?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
  data=excluded.data,
  status=excluded.status,
  updated_at=excluded.updated_at;
`
	now := time.Now().UTC().Format(timeLayout)
	if _, err := s.db.ExecContext(ctx, stmt, sessionID, string(data), status, now); err != nil {
		return apperrors.Wrap(err, apperrors.CodeSnapshotStore, "save snapshot")
	}
	return nil
}

// Load returns the snapshot for a session id.
func (s *Store) Load(ctx context.Context, sessionID string) (*Snapshot, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, data, status, updated_at
		FROM sessions
		WHERE id = ?
	`, sessionID)

	snap, err := scanSnapshot(row.Scan)
	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.Newf(apperrors.CodeNotFound, "no snapshot for %s", sessionID)
		}
		return nil, err
	}
	return snap, nil
}

// List returns all snapshots, most recently updated first.
func (s *Store) List(ctx context.Context) ([]Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, data, status, updated_at
		FROM sessions
		ORDER BY updated_at DESC
	`)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeSnapshotStore, "query snapshots")
	}
	defer rows.Close()

	var snaps []Snapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows.Scan)
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, *snap)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeSnapshotStore, "iterate snapshots")
	}
	return snaps, nil
}

// Delete removes the snapshot for a session id. Deleting a missing id is
// not an error.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, sessionID); err != nil {
		return apperrors.Wrap(err, apperrors.CodeSnapshotStore, "delete snapshot")
	}
	return nil
}

func scanSnapshot(scan func(...any) error) (*Snapshot, error) {
	var snap Snapshot
	var data, updatedAt string
	if err := scan(&snap.SessionID, &data, &snap.Status, &updatedAt); err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, apperrors.Wrap(err, apperrors.CodeSnapshotStore, "scan snapshot")
	}
	snap.Data = []byte(data)
	ts, err := time.Parse(timeLayout, updatedAt)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeSnapshotStore, "parse snapshot timestamp")
	}
	snap.UpdatedAt = ts
	return &snap, nil
}
