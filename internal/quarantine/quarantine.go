// Package quarantine persists rejected payloads with a reason and
// timestamp (C5), grounded on the teacher's append-only JSONL audit log
// (internal/audit) but one file per record, as the spec's filesystem layout
// requires (<vault>/artifacts/quarantine/*.json).
package quarantine

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/kira-vault/kira/internal/markdown"
)

// Record is a persisted rejected payload (spec §3).
type Record struct {
	Timestamp time.Time      `json:"timestamp"`
	Kind      string         `json:"kind"`
	Reason    string         `json:"reason"`
	Errors    []string       `json:"errors"`
	Payload   map[string]any `json:"payload"`
	FilePath  string         `json:"file_path"`
}

// Store writes and lists quarantine records under dir
// (<vault>/artifacts/quarantine/).
type Store struct {
	dir string
}

// New returns a quarantine store rooted at dir, creating it if absent.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("quarantine: mkdir %s: %w", dir, err)
	}
	return &Store{dir: dir}, nil
}

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

func safeID(id string) string {
	if id == "" {
		return "unknown"
	}
	return unsafeChars.ReplaceAllString(id, "_")
}

// Quarantine persists payload along with the validation errors and reason it
// was rejected. The file name is
// "<kind>_<YYYYmmdd_HHMMSS_us>_<safe_id>.json" (spec §4.5).
func (s *Store) Quarantine(kind string, payload map[string]any, errs []string, reason string) (*Record, error) {
	now := time.Now().UTC()
	id, _ := payload["id"].(string)
	stamp := fmt.Sprintf("%s_%06d", now.Format("20060102_150405"), now.Nanosecond()/1000)
	fileName := fmt.Sprintf("%s_%s_%s.json", kind, stamp, safeID(id))
	path := filepath.Join(s.dir, fileName)

	record := &Record{
		Timestamp: now,
		Kind:      kind,
		Reason:    reason,
		Errors:    errs,
		Payload:   payload,
		FilePath:  path,
	}

	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("quarantine: marshal record: %w", err)
	}
	if err := markdown.WriteFileAtomic(path, data, 0o644); err != nil {
		return nil, fmt.Errorf("quarantine: write record: %w", err)
	}
	return record, nil
}

// List returns quarantine records, optionally filtered by kind, newest
// first, capped at limit (0 means unlimited).
func (s *Store) List(kind string, limit int) ([]*Record, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("quarantine: read dir: %w", err)
	}

	var records []*Record
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		if kind != "" && !strings.HasPrefix(entry.Name(), kind+"_") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, entry.Name()))
		if err != nil {
			continue
		}
		var rec Record
		if err := json.Unmarshal(data, &rec); err != nil {
			continue
		}
		records = append(records, &rec)
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].Timestamp.After(records[j].Timestamp)
	})
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

// Cleanup removes quarantine records older than ttlDays, returning the
// count deleted.
func (s *Store) Cleanup(ttlDays int) (int, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -ttlDays)
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("quarantine: read dir: %w", err)
	}
	deleted := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(s.dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var rec Record
		if err := json.Unmarshal(data, &rec); err != nil {
			continue
		}
		if rec.Timestamp.Before(cutoff) {
			if err := os.Remove(path); err == nil {
				deleted++
			}
		}
	}
	return deleted, nil
}
