// Package vault implements C6, the single-writer discipline: no code
// outside this package may open an entity file for write. Locking is
// grounded on the teacher's sync-lock pattern (cmd/bd/sync.go, which uses
// gofrs/flock's TryLock against a lock file under .beads/), generalized
// from one global sync lock to one advisory lock file per entity ID under
// <vault>/.kira/locks/<id>.lock, polled at a short interval up to a
// configurable timeout instead of failing immediately — concurrent writers
// to *different* entities never contend, so blocking briefly for the rare
// same-entity race is preferable to a hard fail.
package vault

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/kira-vault/kira/internal/kernelerr"
)

const lockPollInterval = 20 * time.Millisecond

// DefaultLockTimeout matches the spec's default per-entity lock timeout.
const DefaultLockTimeout = 10 * time.Second

// EntityLock wraps an OS advisory flock for one entity ID.
type EntityLock struct {
	id   string
	path string
	fl   *flock.Flock
}

// LocksDir returns <vaultRoot>/.kira/locks.
func LocksDir(vaultRoot string) string {
	return filepath.Join(vaultRoot, ".kira", "locks")
}

// NewEntityLock returns (but does not acquire) the lock for id under
// vaultRoot.
func NewEntityLock(vaultRoot, id string) (*EntityLock, error) {
	dir := LocksDir(vaultRoot)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: mkdir locks dir: %v", kernelerr.ErrIO, err)
	}
	path := filepath.Join(dir, id+".lock")
	return &EntityLock{id: id, path: path, fl: flock.New(path)}, nil
}

// Acquire blocks (polling at lockPollInterval) until the lock is obtained or
// timeout elapses, whichever comes first. Returns kernelerr.ErrLockTimeout
// on timeout — an operation that times out acquiring the lock is safe to
// retry (spec §7).
func (l *EntityLock) Acquire(ctx context.Context, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		locked, err := l.fl.TryLock()
		if err != nil {
			return fmt.Errorf("%w: flock %s: %v", kernelerr.ErrIO, l.path, err)
		}
		if locked {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: entity %s locked by another writer", kernelerr.ErrLockTimeout, l.id)
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", kernelerr.ErrLockTimeout, ctx.Err())
		case <-time.After(lockPollInterval):
		}
	}
}

// Release unlocks the entity lock. Safe to call even if Acquire failed
// (no-op in that case) — callers defer Release unconditionally on every
// exit path (spec §4.6 step 4).
func (l *EntityLock) Release() error {
	if !l.fl.Locked() {
		return nil
	}
	if err := l.fl.Unlock(); err != nil {
		return fmt.Errorf("%w: unlock %s: %v", kernelerr.ErrIO, l.path, err)
	}
	return nil
}
