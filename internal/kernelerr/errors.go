// Package kernelerr defines the closed taxonomy of error kinds surfaced by
// the vault kernel (spec §7). Components return sentinel errors from this
// package, wrapped with context via fmt.Errorf("...: %w", kernelerr.ErrNotFound).
package kernelerr

import "errors"

// Sentinel kinds. Components wrap these with %w to preserve errors.Is checks
// while attaching entity/operation context.
var (
	ErrValidation      = errors.New("validation failed")
	ErrNotFound        = errors.New("not found")
	ErrAlreadyExists   = errors.New("already exists")
	ErrFolderContract  = errors.New("folder contract violation")
	ErrLockTimeout     = errors.New("lock timeout")
	ErrIO              = errors.New("io error")
	ErrPermission      = errors.New("permission denied")
	ErrTransient       = errors.New("transient failure")
	ErrFatal           = errors.New("fatal invariant violation")
)

// Is reports whether err is, or wraps, target per errors.Is. Exposed so
// callers outside this package don't need to import "errors" solely to
// match kernel error kinds.
func Is(err, target error) bool {
	return errors.Is(err, target)
}
