// Package policy implements C15: the stateless permission and filesystem
// checks the plugin sandbox (C14) consults on every RPC call (spec §4.15).
package policy

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/kira-vault/kira/internal/kernelerr"
	"github.com/kira-vault/kira/internal/plugin"
)

// CheckPermission raises (returns a non-nil error) if perm is not among
// granted (spec §4.15: "raises on missing").
func CheckPermission(perm plugin.Permission, granted []plugin.Permission, pluginName string) error {
	for _, p := range granted {
		if p == perm {
			return nil
		}
	}
	return fmt.Errorf("%w: plugin %q lacks permission %q", kernelerr.ErrPermission, pluginName, perm)
}

// CheckNetworkAccess enforces spec §4.14: "net denied unless both 'net' ∈
// permissions and sandbox.network_access == true."
func CheckNetworkAccess(m *plugin.Manifest) error {
	if !m.HasPermission(plugin.PermNet) {
		return fmt.Errorf("%w: plugin %q has not declared the net permission", kernelerr.ErrPermission, m.Name)
	}
	if !m.Sandbox.NetworkAccess {
		return fmt.Errorf("%w: plugin %q sandbox.network_access is disabled", kernelerr.ErrPermission, m.Name)
	}
	return nil
}

// resolvesUnder reports whether path, once made absolute and cleaned,
// falls under any of prefixes (each also cleaned/made absolute).
func resolvesUnder(path string, prefixes []string) (bool, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false, fmt.Errorf("%w: resolve path %s: %v", kernelerr.ErrIO, path, err)
	}
	for _, prefix := range prefixes {
		absPrefix, err := filepath.Abs(prefix)
		if err != nil {
			continue
		}
		rel, err := filepath.Rel(absPrefix, abs)
		if err != nil {
			continue
		}
		if rel == "." || (!strings.HasPrefix(rel, "..") && rel != "..") {
			return true, nil
		}
	}
	return false, nil
}

// isUnderVaultRoot reports whether path resolves within vaultRoot — plugins
// may never touch the vault directly (spec §4.14: "any path resolving
// under the vault root is forbidden for plugins").
func isUnderVaultRoot(path, vaultRoot string) bool {
	ok, err := resolvesUnder(path, []string{vaultRoot})
	return err == nil && ok
}

// CheckFSReadAccess enforces spec §4.15: vault-root paths are always
// denied; other paths must resolve under an allow-listed prefix.
func CheckFSReadAccess(path string, m *plugin.Manifest, vaultRoot string) error {
	if isUnderVaultRoot(path, vaultRoot) {
		return fmt.Errorf("%w: vault paths are reachable only via RPC, not direct fs access", kernelerr.ErrPermission)
	}
	if !m.HasPermission(plugin.PermFSRead) {
		return fmt.Errorf("%w: plugin %q lacks fs.read permission", kernelerr.ErrPermission, m.Name)
	}
	ok, err := resolvesUnder(path, m.Sandbox.FSReadPaths)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: path %s not under an allow-listed fs_read_paths prefix", kernelerr.ErrPermission, path)
	}
	return nil
}

// CheckFSWriteAccess is CheckFSReadAccess's write-side counterpart.
func CheckFSWriteAccess(path string, m *plugin.Manifest, vaultRoot string) error {
	if isUnderVaultRoot(path, vaultRoot) {
		return fmt.Errorf("%w: vault paths are reachable only via RPC, not direct fs access", kernelerr.ErrPermission)
	}
	if !m.HasPermission(plugin.PermFSWrite) {
		return fmt.Errorf("%w: plugin %q lacks fs.write permission", kernelerr.ErrPermission, m.Name)
	}
	ok, err := resolvesUnder(path, m.Sandbox.FSWritePaths)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: path %s not under an allow-listed fs_write_paths prefix", kernelerr.ErrPermission, path)
	}
	return nil
}

// GetViolations returns diagnostic warnings for semantically inconsistent
// manifests (spec §4.15) — these do not block loading, unlike the Check*
// functions above, which are enforced per-call.
func GetViolations(m *plugin.Manifest) []string {
	var violations []string

	if m.Sandbox.NetworkAccess && !m.HasPermission(plugin.PermNet) {
		violations = append(violations, "sandbox.network_access is true but the net permission is not declared")
	}
	if len(m.Sandbox.FSReadPaths) > 0 && !m.HasPermission(plugin.PermFSRead) {
		violations = append(violations, "fs_read_paths is set but the fs.read permission is not declared")
	}
	if len(m.Sandbox.FSWritePaths) > 0 && !m.HasPermission(plugin.PermFSWrite) {
		violations = append(violations, "fs_write_paths is set but the fs.write permission is not declared")
	}
	if m.HasPermission(plugin.PermVaultWrite) && !m.HasPermission(plugin.PermVaultRead) {
		violations = append(violations, "vault.write granted without vault.read")
	}
	if m.Sandbox.MemoryLimitMB < 0 {
		violations = append(violations, "sandbox.memory_limit_mb must not be negative")
	}
	if m.Sandbox.TimeoutMS <= 0 {
		violations = append(violations, "sandbox.timeout_ms must be positive")
	}
	return violations
}
