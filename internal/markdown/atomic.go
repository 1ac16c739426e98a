package markdown

import (
	"fmt"
	"os"
	"path/filepath"
)

// WriteFileAtomic writes data to path by writing a temp file in the same
// directory, fsyncing it, renaming it over path, then fsyncing the
// directory entry — so a crash at any point leaves either the old or the
// new content on disk, never a partial write (spec §4.1 rule 4, §8
// invariant 1). Pattern grounded on the teacher's registry writer
// (internal/daemon/registry.go writeEntriesLocked), generalized with the
// directory fsync the spec additionally requires.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("markdown: create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("markdown: write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("markdown: sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("markdown: close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("markdown: chmod temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("markdown: rename temp file: %w", err)
	}
	if err := syncDir(dir); err != nil {
		return fmt.Errorf("markdown: sync directory: %w", err)
	}
	return nil
}

// syncDir fsyncs the directory entry itself so the rename above is durable
// even across a crash before the next fsync of an unrelated file. Best
// effort on platforms where opening a directory for fsync isn't supported.
func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		// Some filesystems/platforms don't support fsync on directories;
		// treat as best-effort rather than failing the whole write.
		return nil
	}
	return nil
}

// ReadEntityFile reads and parses an entity Markdown file at path.
func ReadEntityFile(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("markdown: read %s: %w", path, err)
	}
	return Parse(data)
}

// WriteEntityFile serializes fm+content and writes it atomically to path,
// creating parent directories as needed.
func WriteEntityFile(path string, fm map[string]any, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("markdown: mkdir %s: %w", filepath.Dir(path), err)
	}
	data, err := Serialize(fm, content)
	if err != nil {
		return err
	}
	return WriteFileAtomic(path, data, 0o644)
}
