// Package store provides a SQLite-backed history of indexing runs. Each call
// to the ingestion pipeline appends one row describing what it scanned and how
// many chunks it wrote, so operators can see when the collection was last
// refreshed without querying the vector store. The database lives in the
// service data directory.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // register "sqlite" driver
)

// DefaultFileName is the database file created inside the data directory.
const DefaultFileName = "index.db"

// Run describes a single indexing pass.
type Run struct {
	// ID is the database row id. Zero for runs not yet persisted.
	ID int64 `json:"id"`
	// Dir is the documents directory that was scanned.
	Dir string `json:"dir"`
	// StartedAt is when the pass began.
	StartedAt time.Time `json:"started_at"`
	// FinishedAt is when the pass ended.
	FinishedAt time.Time `json:"finished_at"`
	// Files is the number of files that produced at least one chunk.
	Files int `json:"files"`
	// Skipped is the number of files whose extraction returned no text.
	Skipped int `json:"skipped"`
	// Failed is the number of files that could not be chunked or embedded.
	Failed int `json:"failed"`
	// Chunks is the number of points written to the vector store.
	Chunks int `json:"chunks"`
	// Error is the failure message for runs that did not complete. Empty on success.
	Error string `json:"error,omitempty"`
}

// RunStore persists and lists indexing runs. Implementations must be safe for
// concurrent use.
type RunStore interface {
	// Record appends run to the history.
	Record(ctx context.Context, run Run) error
	// Recent returns the most recent n runs, newest first.
	Recent(ctx context.Context, n int) ([]Run, error)
	// Close releases any resources held by the store.
	Close() error
}

// SQLiteStore is a RunStore backed by a local SQLite database.
type SQLiteStore struct {
	// db is the underlying database connection pool.
	db *sql.DB
}

// DefaultDBPath returns the history database path inside dataDir, creating
// the directory if needed.
func DefaultDBPath(dataDir string) (string, error) {
	if dataDir == "" {
		return "", fmt.Errorf("store: data directory must not be empty")
	}
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return "", fmt.Errorf("store: could not create %s: %w", dataDir, err)
	}
	return filepath.Join(dataDir, DefaultFileName), nil
}

// Open opens (or creates) a SQLiteStore at the given path and runs the schema
// migration. Use ":memory:" for an in-memory database in tests.
func Open(path string) (*SQLiteStore, error) {
	// WAL mode lets `leann runs` read while a server is writing.
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	// Limit to a single writer connection to avoid SQLITE_BUSY under concurrent writes.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// migrate creates the schema if it does not already exist.
func (s *SQLiteStore) migrate() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS index_runs (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    dir          TEXT    NOT NULL,
    started_at   INTEGER NOT NULL,  -- Unix time (milliseconds)
    finished_at  INTEGER NOT NULL,  -- Unix time (milliseconds)
    files        INTEGER NOT NULL DEFAULT 0,
    skipped      INTEGER NOT NULL DEFAULT 0,
    failed       INTEGER NOT NULL DEFAULT 0,
    chunks       INTEGER NOT NULL DEFAULT 0,
    error        TEXT    NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_index_runs_started
    ON index_runs (started_at);
`
	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// Record appends run to the history.
func (s *SQLiteStore) Record(ctx context.Context, run Run) error {
	const q = `
INSERT INTO index_runs (dir, started_at, finished_at, files, skipped, failed, chunks, error)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, q,
		run.Dir,
		run.StartedAt.UnixMilli(),
		run.FinishedAt.UnixMilli(),
		run.Files,
		run.Skipped,
		run.Failed,
		run.Chunks,
		run.Error,
	)
	if err != nil {
		return fmt.Errorf("store: record: %w", err)
	}
	return nil
}

// Recent returns the most recent n runs, newest first.
func (s *SQLiteStore) Recent(ctx context.Context, n int) ([]Run, error) {
	const q = `
SELECT id, dir, started_at, finished_at, files, skipped, failed, chunks, error
FROM   index_runs
ORDER  BY started_at DESC, id DESC
LIMIT  ?`

	rows, err := s.db.QueryContext(ctx, q, n)
	if err != nil {
		return nil, fmt.Errorf("store: recent: %w", err)
	}
	defer rows.Close()

	runs := make([]Run, 0, n)
	for rows.Next() {
		var r Run
		var started, finished int64
		if err := rows.Scan(&r.ID, &r.Dir, &started, &finished, &r.Files, &r.Skipped, &r.Failed, &r.Chunks, &r.Error); err != nil {
			return nil, fmt.Errorf("store: recent scan: %w", err)
		}
		r.StartedAt = time.UnixMilli(started)
		r.FinishedAt = time.UnixMilli(finished)
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: recent rows: %w", err)
	}
	return runs, nil
}

// Close releases the database connection pool.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("store: close: %w", err)
	}
	return nil
}
