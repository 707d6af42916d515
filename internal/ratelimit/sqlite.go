package ratelimit

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore keeps fixed one-minute request windows in a local
// SQLite database so budgets survive process restarts. Any database
// error is returned to the caller, which denies the request.
type SQLiteStore struct {
	db    *sql.DB
	limit int
}

// NewSQLiteStore opens (or creates) the database at path. A window
// admits requestsPerMinute plus the burst allowance, mirroring what a
// full token bucket yields over one minute. Burst defaults to
// requestsPerMinute when unset, like the memory store.
func NewSQLiteStore(path string, requestsPerMinute, burst int) (*SQLiteStore, error) {
	if burst <= 0 {
		burst = requestsPerMinute
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("ratelimit: open sqlite store: %w", err)
	}
	// Single writer; the sqlite driver serializes anyway but this
	// keeps lock contention predictable.
	db.SetMaxOpenConns(1)

	const schema = `
CREATE TABLE IF NOT EXISTS request_windows (
	key          TEXT    NOT NULL,
	window_start INTEGER NOT NULL,
	count        INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (key, window_start)
);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("ratelimit: init sqlite schema: %w", err)
	}
	return &SQLiteStore{db: db, limit: requestsPerMinute + burst}, nil
}

// Allow increments the current window's counter for key and reports
// whether it is still within the limit.
func (s *SQLiteStore) Allow(key string, now time.Time) (bool, error) {
	window := now.Unix() / 60

	tx, err := s.db.Begin()
	if err != nil {
		return false, fmt.Errorf("ratelimit: begin: %w", err)
	}
	defer tx.Rollback()

	var count int
	err = tx.QueryRow(
		`SELECT count FROM request_windows WHERE key = ? AND window_start = ?`,
		key, window,
	).Scan(&count)
	if err != nil && err != sql.ErrNoRows {
		return false, fmt.Errorf("ratelimit: read window: %w", err)
	}

	if count >= s.limit {
		return false, nil
	}

	_, err = tx.Exec(
		`INSERT INTO request_windows (key, window_start, count) VALUES (?, ?, 1)
		 ON CONFLICT (key, window_start) DO UPDATE SET count = count + 1`,
		key, window,
	)
	if err != nil {
		return false, fmt.Errorf("ratelimit: increment window: %w", err)
	}

	// Drop windows older than two minutes while we hold the
	// transaction; keeps the table from growing unbounded.
	if _, err := tx.Exec(
		`DELETE FROM request_windows WHERE window_start < ?`, window-2,
	); err != nil {
		return false, fmt.Errorf("ratelimit: prune windows: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("ratelimit: commit: %w", err)
	}
	return true, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
