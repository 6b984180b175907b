// Package database stores capture events in a local SQLite file so the
// dashboard can show capture history across restarts.
package database

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// CaptureEvent is one recorded high-resolution capture.
type CaptureEvent struct {
	ID         int64     `json:"id"`
	ArtifactID string    `json:"artifact_id"`
	Path       string    `json:"path"`
	Marker     string    `json:"marker"`
	CreatedAt  time.Time `json:"created_at"`
}

// Store handles SQLite operations for capture history.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// Open creates and initializes the capture store at the given path.
// Use ":memory:" for an ephemeral store.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS captures (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		artifact_id TEXT NOT NULL UNIQUE,
		path TEXT NOT NULL,
		marker TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_captures_created_at ON captures(created_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Insert records a capture event and returns its row id.
func (s *Store) Insert(ev CaptureEvent) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`
		INSERT INTO captures (artifact_id, path, marker, created_at)
		VALUES (?, ?, ?, ?)
	`, ev.ArtifactID, ev.Path, ev.Marker, ev.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("insert capture: %w", err)
	}
	return res.LastInsertId()
}

// Recent returns the most recent capture events, newest first.
func (s *Store) Recent(limit int) ([]CaptureEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.Query(`
		SELECT id, artifact_id, path, marker, created_at
		FROM captures
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query captures: %w", err)
	}
	defer rows.Close()

	var events []CaptureEvent
	for rows.Next() {
		var ev CaptureEvent
		if err := rows.Scan(&ev.ID, &ev.ArtifactID, &ev.Path, &ev.Marker, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan capture: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// Count returns the total number of recorded captures.
func (s *Store) Count() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM captures`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count captures: %w", err)
	}
	return n, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
