// Package storage persists the pipeline's event journal to SQLite so
// connection and error history survive restarts.
package storage

import (
	"fmt"
	"log"
	"sync"
	"time"

	// Using modernc.org/sqlite, a pure-Go driver: no CGO, which keeps
	// cross-compilation for the small boards this runs on painless.
	"database/sql"

	_ "modernc.org/sqlite"
)

// maxJournalRows bounds the journal; older rows are pruned on open.
const maxJournalRows = 10000

// Event is one persisted journal row.
type Event struct {
	ID       int64     `json:"id"`
	Time     time.Time `json:"time"`
	Kind     string    `json:"kind"` // "connection" or "error"
	Category string    `json:"category"`
	Detail   string    `json:"detail"`
}

// EventStore persists events to SQLite. It creates the database and table
// on first use and supports concurrent access through internal locking.
type EventStore struct {
	db *sql.DB
	mu sync.Mutex
}

const schema = `
CREATE TABLE IF NOT EXISTS events (
	id       INTEGER PRIMARY KEY AUTOINCREMENT,
	ts       INTEGER NOT NULL,
	kind     TEXT NOT NULL,
	category TEXT NOT NULL,
	detail   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_ts ON events(ts);
`

// NewEventStore opens or creates the journal database at the given path.
// Use ":memory:" for an in-memory database (useful for testing).
func NewEventStore(path string) (*EventStore, error) {
	log.Printf("storage: opening event journal at %s", path)

	// busy_timeout covers concurrent access from the CLI and a running
	// bridge reading status at the same time.
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	s := &EventStore{db: db}
	if err := s.prune(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the database handle.
func (s *EventStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// Append writes one event row.
func (s *EventStore) Append(kind, category, detail string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		"INSERT INTO events (ts, kind, category, detail) VALUES (?, ?, ?, ?)",
		at.UnixMilli(), kind, category, detail,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// Recent returns up to limit events, newest first.
func (s *EventStore) Recent(limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(
		"SELECT id, ts, kind, category, detail FROM events ORDER BY id DESC LIMIT ?",
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var ts int64
		if err := rows.Scan(&e.ID, &ts, &e.Kind, &e.Category, &e.Detail); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.Time = time.UnixMilli(ts)
		events = append(events, e)
	}
	return events, rows.Err()
}

// prune keeps the journal bounded by deleting everything older than the
// newest maxJournalRows rows.
func (s *EventStore) prune() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		"DELETE FROM events WHERE id NOT IN (SELECT id FROM events ORDER BY id DESC LIMIT ?)",
		maxJournalRows,
	)
	if err != nil {
		return fmt.Errorf("prune events: %w", err)
	}
	return nil
}
