// Package plugin implements C14: subprocess-isolated plugin execution over
// a Content-Length-framed JSON-RPC 2.0 channel, manifest parsing, resource
// limits, and restart-rate-limited lifecycle management (spec §4.14).
package plugin

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/kira-vault/kira/internal/kernelerr"
)

// Permission is one of the closed set of grantable plugin capabilities
// (spec §4.14).
type Permission string

const (
	PermCalendarRead    Permission = "calendar.read"
	PermCalendarWrite   Permission = "calendar.write"
	PermVaultRead       Permission = "vault.read"
	PermVaultWrite      Permission = "vault.write"
	PermFSRead          Permission = "fs.read"
	PermFSWrite         Permission = "fs.write"
	PermNet             Permission = "net"
	PermSecretsRead     Permission = "secrets.read"
	PermSecretsWrite    Permission = "secrets.write"
	PermEventsPublish   Permission = "events.publish"
	PermEventsSubscribe Permission = "events.subscribe"
	PermSchedulerCreate Permission = "scheduler.create"
	PermSchedulerCancel Permission = "scheduler.cancel"
	PermSandboxExecute  Permission = "sandbox.execute"
)

// knownPermissions is the closed set a manifest may declare.
var knownPermissions = map[Permission]bool{
	PermCalendarRead: true, PermCalendarWrite: true,
	PermVaultRead: true, PermVaultWrite: true,
	PermFSRead: true, PermFSWrite: true,
	PermNet: true,
	PermSecretsRead: true, PermSecretsWrite: true,
	PermEventsPublish: true, PermEventsSubscribe: true,
	PermSchedulerCreate: true, PermSchedulerCancel: true,
	PermSandboxExecute: true,
}

// Sandbox is the manifest's sandbox{} block (spec §4.14).
type Sandbox struct {
	Strategy       string   `json:"strategy" toml:"strategy"`
	TimeoutMS      int      `json:"timeout_ms" toml:"timeout_ms"`
	MemoryLimitMB  int      `json:"memory_limit_mb,omitempty" toml:"memory_limit_mb,omitempty"`
	NetworkAccess  bool     `json:"network_access" toml:"network_access"`
	FSReadPaths    []string `json:"fs_read_paths,omitempty" toml:"fs_read_paths,omitempty"`
	FSWritePaths   []string `json:"fs_write_paths,omitempty" toml:"fs_write_paths,omitempty"`
}

// Contributes describes what the plugin adds to the kernel's surface.
type Contributes struct {
	Events   []string `json:"events,omitempty" toml:"events,omitempty"`
	Commands []string `json:"commands,omitempty" toml:"commands,omitempty"`
	Adapters []string `json:"adapters,omitempty" toml:"adapters,omitempty"`
}

// Engines pins the kernel version range a plugin targets.
type Engines struct {
	Kira string `json:"kira,omitempty" toml:"kira,omitempty"`
}

// Manifest is a plugin's declared identity, permissions, and sandbox
// configuration (spec §4.14).
type Manifest struct {
	Name         string       `json:"name" toml:"name"`
	Version      string       `json:"version" toml:"version"`
	Entry        string       `json:"entry" toml:"entry"`
	Permissions  []Permission `json:"permissions,omitempty" toml:"permissions,omitempty"`
	Sandbox      Sandbox      `json:"sandbox" toml:"sandbox"`
	Capabilities []string     `json:"capabilities,omitempty" toml:"capabilities,omitempty"`
	Contributes  Contributes  `json:"contributes,omitempty" toml:"contributes,omitempty"`
	Engines      Engines      `json:"engines,omitempty" toml:"engines,omitempty"`
}

// ParseManifest reads a manifest from path, using JSON by default and TOML
// when the extension is ".toml" (spec doesn't mandate a format; TOML
// support is carried because the teacher itself ships a TOML-configured
// CLI — github.com/BurntSushi/toml — and plugin authors may prefer it for
// the same readability reasons the teacher's own config does).
func ParseManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read manifest %s: %v", kernelerr.ErrIO, path, err)
	}
	var m Manifest
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if err := toml.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("%w: parse TOML manifest %s: %v", kernelerr.ErrValidation, path, err)
		}
	} else {
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("%w: parse JSON manifest %s: %v", kernelerr.ErrValidation, path, err)
		}
	}
	if err := validateManifest(&m); err != nil {
		return nil, err
	}
	return &m, nil
}

func validateManifest(m *Manifest) error {
	if m.Name == "" || m.Entry == "" {
		return fmt.Errorf("%w: manifest requires name and entry", kernelerr.ErrValidation)
	}
	for _, p := range m.Permissions {
		if !knownPermissions[p] {
			return fmt.Errorf("%w: unknown permission %q", kernelerr.ErrValidation, p)
		}
	}
	if m.Sandbox.Strategy == "" {
		m.Sandbox.Strategy = "subprocess"
	}
	if m.Sandbox.TimeoutMS <= 0 {
		m.Sandbox.TimeoutMS = 30_000
	}
	return nil
}

// HasPermission reports whether m declares perm.
func (m *Manifest) HasPermission(perm Permission) bool {
	for _, p := range m.Permissions {
		if p == perm {
			return true
		}
	}
	return false
}
