package validation

import (
	"fmt"
	"path/filepath"

	"github.com/kira-vault/kira/internal/entity"
)

// FolderContract verifies that path lives under kind's fixed folder (spec
// §4.3: "folder contracts (allowed locations, required front-matter)").
// Unknown kinds are never permitted a write path; they only ever appear in
// the fallback listing bucket.
func FolderContract(kind entity.Kind, vaultRoot, path string) error {
	if !kind.Known() {
		return fmt.Errorf("folder contract: kind %q is not a recognized kind for writing", kind)
	}
	wantDir := filepath.Join(vaultRoot, kind.Folder())
	gotDir := filepath.Dir(path)
	if gotDir != wantDir {
		return fmt.Errorf("folder contract: %s must live under %s, got %s", kind, wantDir, gotDir)
	}
	return nil
}
