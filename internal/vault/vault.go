package vault

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kira-vault/kira/internal/entity"
	"github.com/kira-vault/kira/internal/kernelerr"
	"github.com/kira-vault/kira/internal/markdown"
)

// Vault is the single-writer gateway for entity files. It does not itself
// validate, update the link graph, or emit events — those are Host API
// (C7) concerns that the Host API sequences around its Mutate call;
// Mutate's callback only decides what to write or delete.
type Vault struct {
	root        string
	lockTimeout time.Duration
}

// New returns a Vault rooted at root with the default lock timeout.
func New(root string) *Vault {
	return &Vault{root: root, lockTimeout: DefaultLockTimeout}
}

// WithLockTimeout returns a copy of v using the given lock acquisition
// timeout.
func (v *Vault) WithLockTimeout(d time.Duration) *Vault {
	cp := *v
	cp.lockTimeout = d
	return &cp
}

// Root returns the vault's filesystem root.
func (v *Vault) Root() string { return v.root }

// PathFor returns the fixed path an entity of kind id must live at (spec §3
// invariant 4: path is a pure function of ID).
func (v *Vault) PathFor(kind entity.Kind, id string) string {
	return filepath.Join(v.root, kind.Folder(), id+".md")
}

// Mutation is the callback invoked under the entity's exclusive lock. It
// receives the entity currently on disk (nil if none exists) and must
// return the content to write (nil to signal "delete"), or an error to
// abort without writing.
type Mutation func(current *markdown.Document) (write *markdown.Document, path string, delete bool, err error)

// Mutate acquires id's per-entity lock, invokes fn with whatever is
// currently on disk at path (nil if the file doesn't exist), and — unless
// fn errors — performs fn's requested atomic write or delete, releasing the
// lock on every exit path (spec §4.6).
//
// path identifies where the entity is expected to live going in (needed to
// read the current state); fn may return a different path to write to
// (handles rename-on-kind-change, which the Host API never actually does,
// but keeps this primitive general).
func (v *Vault) Mutate(ctx context.Context, id string, path string, fn Mutation) error {
	lock, err := NewEntityLock(v.root, id)
	if err != nil {
		return err
	}
	if err := lock.Acquire(ctx, v.lockTimeout); err != nil {
		return err
	}
	defer func() { _ = lock.Release() }()

	var current *markdown.Document
	if data, err := os.ReadFile(path); err == nil {
		current, err = markdown.Parse(data)
		if err != nil {
			return fmt.Errorf("%w: parse %s: %v", kernelerr.ErrIO, path, err)
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("%w: read %s: %v", kernelerr.ErrIO, path, err)
	}

	doc, writePath, del, err := fn(current)
	if err != nil {
		return err
	}

	if del {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("%w: delete %s: %v", kernelerr.ErrIO, path, err)
		}
		return nil
	}

	if doc == nil {
		return fmt.Errorf("%w: mutation returned neither a document nor delete", kernelerr.ErrFatal)
	}
	if err := markdown.WriteEntityFile(writePath, doc.Frontmatter, doc.Content); err != nil {
		return fmt.Errorf("%w: %v", kernelerr.ErrIO, err)
	}
	return nil
}

// Read loads the entity at path without taking the write lock (reads are
// concurrency-safe; spec §5).
func (v *Vault) Read(path string) (*markdown.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", kernelerr.ErrNotFound, path)
		}
		return nil, fmt.Errorf("%w: read %s: %v", kernelerr.ErrIO, path, err)
	}
	doc, err := markdown.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", kernelerr.ErrIO, path, err)
	}
	return doc, nil
}

// ListPaths returns every ".md" file path under kind's folder.
func (v *Vault) ListPaths(kind entity.Kind) ([]string, error) {
	dir := filepath.Join(v.root, kind.Folder())
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: read dir %s: %v", kernelerr.ErrIO, dir, err)
	}
	var paths []string
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".md" {
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	return paths, nil
}
