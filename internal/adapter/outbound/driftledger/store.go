// Package driftledger persists Group Sync drift events: IdP/ScopePolicy
// mutations whose two sides ended up disagreeing because a rollback step
// itself failed. This is
// operational audit data about past synchronization failures, not domain
// state that must be re-derivable from files, so it is backed by
// modernc.org/sqlite (a teacher dependency otherwise unused once the
// OSS API-key/role model was dropped) rather than the Registry/Scope
// Policy Store's file-per-record convention.
package driftledger

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Event is a single recorded drift incident.
type Event struct {
	ID        int64
	Timestamp time.Time
	GroupName string
	Operation string
	Reason    string
}

// Store records and lists drift events in a SQLite database.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the drift ledger database at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create drift ledger directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open drift ledger: %w", err)
	}
	db.SetMaxOpenConns(1)

	const schema = `
CREATE TABLE IF NOT EXISTS drift_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp TEXT NOT NULL,
	group_name TEXT NOT NULL,
	operation TEXT NOT NULL,
	reason TEXT NOT NULL
);`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate drift ledger: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record appends a drift event for groupName produced by operation
// (e.g. "delete_group"), with a human-readable reason.
func (s *Store) Record(ctx context.Context, groupName, operation, reason string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO drift_events (timestamp, group_name, operation, reason) VALUES (?, ?, ?, ?)`,
		time.Now().UTC().Format(time.RFC3339Nano), groupName, operation, reason,
	)
	if err != nil {
		return fmt.Errorf("record drift event: %w", err)
	}
	return nil
}

// ListForGroup returns every recorded drift event for groupName, most
// recent first.
func (s *Store) ListForGroup(ctx context.Context, groupName string) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, timestamp, group_name, operation, reason FROM drift_events WHERE group_name = ? ORDER BY id DESC`,
		groupName,
	)
	if err != nil {
		return nil, fmt.Errorf("query drift events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// List returns every recorded drift event, most recent first.
func (s *Store) List(ctx context.Context) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, timestamp, group_name, operation, reason FROM drift_events ORDER BY id DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("query drift events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]Event, error) {
	var events []Event
	for rows.Next() {
		var (
			e      Event
			tsText string
		)
		if err := rows.Scan(&e.ID, &tsText, &e.GroupName, &e.Operation, &e.Reason); err != nil {
			return nil, fmt.Errorf("scan drift event: %w", err)
		}
		ts, err := time.Parse(time.RFC3339Nano, tsText)
		if err != nil {
			return nil, fmt.Errorf("parse drift event timestamp: %w", err)
		}
		e.Timestamp = ts
		events = append(events, e)
	}
	return events, rows.Err()
}
