package sync

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/kira-vault/kira/internal/kernelerr"
)

const ledgerSchema = `
CREATE TABLE IF NOT EXISTS sync_ledger (
	remote_id     TEXT PRIMARY KEY,
	version_seen  INTEGER NOT NULL,
	etag_seen     TEXT DEFAULT '',
	last_sync_ts  TEXT NOT NULL,
	entity_id     TEXT DEFAULT ''
);
`

// Ledger is the SQLite-backed remote_id -> sync-state mapping (spec §4.13).
type Ledger struct {
	db *sql.DB
}

// OpenLedger opens (creating if needed) a sync ledger at path. Use
// ":memory:" for an ephemeral ledger in tests.
func OpenLedger(path string) (*Ledger, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("%w: open sync ledger: %v", kernelerr.ErrIO, err)
	}
	if _, err := db.Exec(ledgerSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: create sync ledger schema: %v", kernelerr.ErrIO, err)
	}
	return &Ledger{db: db}, nil
}

// Close releases the underlying database handle.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// Get returns the ledger entry for remoteID, or nil if never synced.
func (l *Ledger) Get(remoteID string) (*LedgerEntry, error) {
	row := l.db.QueryRow(`
		SELECT remote_id, version_seen, etag_seen, last_sync_ts, entity_id
		FROM sync_ledger WHERE remote_id = ?`, remoteID)

	var entry LedgerEntry
	var lastSync string
	err := row.Scan(&entry.RemoteID, &entry.VersionSeen, &entry.ETagSeen, &lastSync, &entry.EntityID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: query sync ledger: %v", kernelerr.ErrIO, err)
	}
	entry.LastSyncTS, _ = time.Parse(time.RFC3339, lastSync)
	return &entry, nil
}

// RecordSync upserts remoteID's ledger row after a successful import or
// export (spec §4.13: "call record_sync(remote_id, remote_version, etag,
// entity_id)").
func (l *Ledger) RecordSync(remoteID string, version int, etag, entityID string) error {
	now := time.Now().UTC()
	if err := validateISO(now); err != nil {
		return err
	}
	_, err := l.db.Exec(`
		INSERT INTO sync_ledger (remote_id, version_seen, etag_seen, last_sync_ts, entity_id)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(remote_id) DO UPDATE SET
			version_seen = excluded.version_seen,
			etag_seen    = excluded.etag_seen,
			last_sync_ts = excluded.last_sync_ts,
			entity_id    = excluded.entity_id`,
		remoteID, version, etag, now.Format(time.RFC3339), entityID)
	if err != nil {
		return fmt.Errorf("%w: record sync ledger entry: %v", kernelerr.ErrIO, err)
	}
	return nil
}

// ShouldImportRemote looks up remoteID's ledger entry and applies echo
// suppression (spec §4.13 Echo suppression).
func (l *Ledger) ShouldImportRemote(remoteID string, remoteVersion int) (EchoDecision, error) {
	entry, err := l.Get(remoteID)
	if err != nil {
		return "", err
	}
	return ShouldImport(entry, remoteVersion), nil
}
