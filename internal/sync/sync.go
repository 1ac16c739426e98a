// Package sync implements C13: the per-entity sync contract stamped onto
// entity.SyncContract, and the SQLite-backed sync ledger used to suppress
// echoes and resolve conflicts across a two-way integration (spec §4.13).
package sync

import (
	"fmt"
	"time"

	"github.com/kira-vault/kira/internal/entity"
)

// StampKiraWrite advances c for a Kira-originated write: bumps version,
// refreshes last_write_ts, sets source=kira (spec §4.13: "On every
// Kira-originated write").
func StampKiraWrite(c entity.SyncContract, now time.Time) entity.SyncContract {
	c.Source = entity.SourceKira
	c.Version++
	c.LastWriteTs = now.UTC()
	return c
}

// StampRemoteImport advances c for a remote-originated import: bumps
// version, sets source/remote_id/etag (spec §4.13: "On every
// remote-originated import").
func StampRemoteImport(c entity.SyncContract, source entity.SyncSource, remoteID, etag string, now time.Time) entity.SyncContract {
	c.Source = source
	c.Version++
	c.RemoteID = remoteID
	c.Etag = etag
	c.LastWriteTs = now.UTC()
	return c
}

// ConflictOutcome is the result of comparing two independently-advanced
// writes to the same entity (spec §4.13 Conflict resolution).
type ConflictOutcome string

const (
	ConflictLocalWins  ConflictOutcome = "local"
	ConflictRemoteWins ConflictOutcome = "remote"
	ConflictTie        ConflictOutcome = "tie" // policy: keep local
)

// ResolveConflict compares two last_write_ts values and reports which side
// wins. Equal timestamps report Tie; the caller's default policy is to keep
// local (spec §4.13).
func ResolveConflict(localWriteTS, remoteWriteTS time.Time) ConflictOutcome {
	switch {
	case localWriteTS.After(remoteWriteTS):
		return ConflictLocalWins
	case remoteWriteTS.After(localWriteTS):
		return ConflictRemoteWins
	default:
		return ConflictTie
	}
}

// LedgerEntry is one sync-ledger row: per remote_id, the version/etag last
// synced and which entity_id it resolved to (spec §4.13 Sync ledger).
type LedgerEntry struct {
	RemoteID    string
	VersionSeen int
	ETagSeen    string
	LastSyncTS  time.Time
	EntityID    string
}

// EchoDecision is the outcome of checking an inbound remote update against
// the ledger (spec §4.13 Echo suppression).
type EchoDecision string

const (
	EchoDrop   EchoDecision = "drop"   // remote_version == version_seen: this is our own write echoed back
	EchoImport EchoDecision = "import" // genuinely new remote state
)

// ShouldImport decides whether a remote update is an echo of Kira's own
// prior write or a genuine new remote change (spec §4.13: "If
// remote_version == version_seen for that remote_id, treat as echo →
// drop. Else, import").
func ShouldImport(entry *LedgerEntry, remoteVersion int) EchoDecision {
	if entry != nil && remoteVersion == entry.VersionSeen {
		return EchoDrop
	}
	return EchoImport
}

// validateISO guards against a malformed last_write_ts reaching the ledger;
// the vault's writers always produce RFC3339 UTC, so a failure here signals
// upstream corruption rather than a normal input-validation case.
func validateISO(ts time.Time) error {
	if ts.IsZero() {
		return fmt.Errorf("sync: last_write_ts must not be zero")
	}
	return nil
}
