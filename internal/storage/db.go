// Package storage persists the durable surfaces: the append-only event log,
// entanglement scan snapshots, and project role assignments. Backed by
// SQLite so a single file carries them across restarts.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("storage: not found")

const schema = `
CREATE TABLE IF NOT EXISTS events (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	kind      TEXT NOT NULL,
	operation TEXT NOT NULL,
	ids       TEXT NOT NULL,
	ts        TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_ts ON events(ts);

CREATE TABLE IF NOT EXISTS scans (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	scanned_at TEXT NOT NULL,
	snapshot   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_scans_at ON scans(scanned_at);

CREATE TABLE IF NOT EXISTS project_roles (
	project     TEXT PRIMARY KEY,
	role        TEXT NOT NULL,
	gravity     TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	weight      REAL NOT NULL,
	updated_at  TEXT NOT NULL
);
`

// DB wraps the SQLite handle.
type DB struct {
	sql    *sql.DB
	logger *slog.Logger
}

// Open opens (creating if needed) the database at path and applies the
// schema. Use ":memory:" for an ephemeral database in tests.
func Open(ctx context.Context, path string, logger *slog.Logger) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", path, err)
	}
	// modernc sqlite serializes writes; a single connection avoids
	// SQLITE_BUSY under concurrent appenders.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("storage: apply schema: %w", err)
	}
	return &DB{sql: db, logger: logger}, nil
}

// Close releases the database handle.
func (d *DB) Close() error {
	return d.sql.Close()
}
