// Package audit appends one JSONL record per Host API mutation (create,
// update, delete) to a forensic trail independent of the entity.* event bus
// stream (internal/eventbus) — events are for live subscribers, the audit
// trail is for after-the-fact replay once a subscriber is long gone.
// Adapted from the teacher's internal/audit interactions log, generalized
// from LLM/tool-call entries to vault mutation entries.
package audit

import (
	"bufio"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// FileName is the audit log file name, stored under the vault's artifacts
// directory (sibling to quarantine's own record directory).
const FileName = "mutations.jsonl"

const idPrefix = "mut-"

// Entry is one append-only mutation record.
type Entry struct {
	ID        string    `json:"id"`
	Op        string    `json:"op"` // "create" | "update" | "delete"
	EntityID  string    `json:"entity_id"`
	Kind      string    `json:"kind"`
	Timestamp time.Time `json:"timestamp"`

	ChangedKeys []string `json:"changed_keys,omitempty"`
	Actor       string   `json:"actor,omitempty"`
	Error       string   `json:"error,omitempty"`
}

// Log appends Entry records to a single JSONL file. It serializes writers
// internally so a Log value can be shared by every hostapi.API call without
// each caller needing its own file lock, mirroring the single-writer
// discipline the rest of the kernel applies to the vault itself.
type Log struct {
	mu   sync.Mutex
	path string
}

// Open ensures dir exists and returns a Log appending to dir/mutations.jsonl.
func Open(dir string) (*Log, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("audit: create dir: %w", err)
	}
	path := filepath.Join(dir, FileName)
	if _, err := os.Stat(path); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("audit: stat log: %w", err)
		}
		// nolint:gosec // JSONL trail is read by the doctor CLI and tooling, not secret.
		if err := os.WriteFile(path, []byte{}, 0o644); err != nil {
			return nil, fmt.Errorf("audit: create log: %w", err)
		}
	}
	return &Log{path: path}, nil
}

// Append writes e as a single JSON line, assigning ID/Timestamp if unset.
func (l *Log) Append(e Entry) error {
	if e.Op == "" {
		return fmt.Errorf("audit: op is required")
	}
	if e.ID == "" {
		id, err := newID()
		if err != nil {
			return err
		}
		e.ID = id
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	} else {
		e.Timestamp = e.Timestamp.UTC()
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644) // nolint:gosec // matches teacher's log perms
	if err != nil {
		return fmt.Errorf("audit: open log: %w", err)
	}
	defer func() { _ = f.Close() }()

	bw := bufio.NewWriter(f)
	enc := json.NewEncoder(bw)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(e); err != nil {
		return fmt.Errorf("audit: encode entry: %w", err)
	}
	return bw.Flush()
}

func newID() (string, error) {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("audit: generate id: %w", err)
	}
	return idPrefix + hex.EncodeToString(b[:]), nil
}
