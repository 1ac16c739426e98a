// Package dedupe implements C11's SQLite-backed dedupe store (spec §4.11).
// Driver registration follows the teacher's doctor/repair commands
// (cmd/bd/doctor/*.go, cmd/bd/repair.go), which import the pure-Go
// ncruces/go-sqlite3 driver and its embedded build rather than linking
// cgo's mattn/go-sqlite3.
package dedupe

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/kira-vault/kira/internal/kernelerr"
)

const schema = `
CREATE TABLE IF NOT EXISTS seen_events (
	event_id     TEXT PRIMARY KEY,
	source       TEXT DEFAULT '',
	external_id  TEXT DEFAULT '',
	metadata     TEXT DEFAULT '',
	first_seen_at TEXT NOT NULL,
	last_seen_at  TEXT NOT NULL,
	seen_count    INTEGER NOT NULL DEFAULT 1
);
CREATE INDEX IF NOT EXISTS idx_seen_events_source ON seen_events(source);
`

// Record is one dedupe store row.
type Record struct {
	EventID     string
	Source      string
	ExternalID  string
	Metadata    string
	FirstSeenAt time.Time
	LastSeenAt  time.Time
	SeenCount   int
}

// Stats summarizes dedupe activity (spec §4.11 get_stats).
type Stats struct {
	TotalUnique          int
	EventsWithDuplicates int
	TotalSeen            int
	DuplicateRate        float64
	BySource             map[string]int
}

// Store is the dedupe backing store.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) a dedupe store at path. Use ":memory:"
// for an ephemeral store in tests.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("%w: open dedupe store: %v", kernelerr.ErrIO, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: create dedupe schema: %v", kernelerr.ErrIO, err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// IsDuplicate reports whether eventID has already been seen.
func (s *Store) IsDuplicate(eventID string) (bool, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(1) FROM seen_events WHERE event_id = ?`, eventID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("%w: query dedupe store: %v", kernelerr.ErrIO, err)
	}
	return count > 0, nil
}

// MarkSeen records eventID, returning true if this is the first time it has
// been seen (spec §4.11: "insert-or-update with seen_count incremented on
// duplicate").
func (s *Store) MarkSeen(eventID, source, externalID, metadata string) (firstTime bool, err error) {
	now := time.Now().UTC().Format(time.RFC3339)

	tx, err := s.db.Begin()
	if err != nil {
		return false, fmt.Errorf("%w: begin dedupe tx: %v", kernelerr.ErrIO, err)
	}
	defer tx.Rollback()

	var existing int
	err = tx.QueryRow(`SELECT COUNT(1) FROM seen_events WHERE event_id = ?`, eventID).Scan(&existing)
	if err != nil {
		return false, fmt.Errorf("%w: query dedupe store: %v", kernelerr.ErrIO, err)
	}

	if existing == 0 {
		_, err = tx.Exec(`
			INSERT INTO seen_events (event_id, source, external_id, metadata, first_seen_at, last_seen_at, seen_count)
			VALUES (?, ?, ?, ?, ?, ?, 1)`,
			eventID, source, externalID, metadata, now, now)
		if err != nil {
			return false, fmt.Errorf("%w: insert dedupe row: %v", kernelerr.ErrIO, err)
		}
		if err := tx.Commit(); err != nil {
			return false, fmt.Errorf("%w: commit dedupe tx: %v", kernelerr.ErrIO, err)
		}
		return true, nil
	}

	_, err = tx.Exec(`
		UPDATE seen_events SET last_seen_at = ?, seen_count = seen_count + 1 WHERE event_id = ?`,
		now, eventID)
	if err != nil {
		return false, fmt.Errorf("%w: update dedupe row: %v", kernelerr.ErrIO, err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("%w: commit dedupe tx: %v", kernelerr.ErrIO, err)
	}
	return false, nil
}

// GetEventInfo returns the stored record for eventID, or nil if unseen.
func (s *Store) GetEventInfo(eventID string) (*Record, error) {
	row := s.db.QueryRow(`
		SELECT event_id, source, external_id, metadata, first_seen_at, last_seen_at, seen_count
		FROM seen_events WHERE event_id = ?`, eventID)

	var rec Record
	var firstSeen, lastSeen string
	err := row.Scan(&rec.EventID, &rec.Source, &rec.ExternalID, &rec.Metadata, &firstSeen, &lastSeen, &rec.SeenCount)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: query dedupe record: %v", kernelerr.ErrIO, err)
	}
	rec.FirstSeenAt, _ = time.Parse(time.RFC3339, firstSeen)
	rec.LastSeenAt, _ = time.Parse(time.RFC3339, lastSeen)
	return &rec, nil
}

// CleanupOldEvents deletes rows whose last_seen_at is older than ttlDays,
// returning the number of rows removed.
func (s *Store) CleanupOldEvents(ttlDays int) (int, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -ttlDays).Format(time.RFC3339)
	res, err := s.db.Exec(`DELETE FROM seen_events WHERE last_seen_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("%w: cleanup dedupe store: %v", kernelerr.ErrIO, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%w: rows affected: %v", kernelerr.ErrIO, err)
	}
	return int(n), nil
}

// GetStats summarizes the dedupe store's activity (spec §4.11).
func (s *Store) GetStats() (*Stats, error) {
	stats := &Stats{BySource: make(map[string]int)}

	err := s.db.QueryRow(`SELECT COUNT(1), COALESCE(SUM(seen_count), 0) FROM seen_events`).
		Scan(&stats.TotalUnique, &stats.TotalSeen)
	if err != nil {
		return nil, fmt.Errorf("%w: query dedupe stats: %v", kernelerr.ErrIO, err)
	}

	err = s.db.QueryRow(`SELECT COUNT(1) FROM seen_events WHERE seen_count > 1`).Scan(&stats.EventsWithDuplicates)
	if err != nil {
		return nil, fmt.Errorf("%w: query dedupe stats: %v", kernelerr.ErrIO, err)
	}

	if stats.TotalUnique > 0 {
		stats.DuplicateRate = float64(stats.EventsWithDuplicates) / float64(stats.TotalUnique)
	}

	rows, err := s.db.Query(`SELECT source, COUNT(1) FROM seen_events GROUP BY source`)
	if err != nil {
		return nil, fmt.Errorf("%w: query dedupe by-source stats: %v", kernelerr.ErrIO, err)
	}
	defer rows.Close()
	for rows.Next() {
		var source string
		var count int
		if err := rows.Scan(&source, &count); err != nil {
			return nil, fmt.Errorf("%w: scan dedupe by-source row: %v", kernelerr.ErrIO, err)
		}
		stats.BySource[source] = count
	}
	return stats, nil
}
