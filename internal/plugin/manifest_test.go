package plugin

import (
	"os"
	"path/filepath"
	"testing"
)

func writeManifest(t *testing.T, name, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	return path
}

func TestParseJSONManifest(t *testing.T) {
	path := writeManifest(t, "manifest.json", `{
		"name": "calendar-sync",
		"version": "1.0.0",
		"entry": "./plugin",
		"permissions": ["calendar.read", "vault.write"],
		"sandbox": {"strategy": "subprocess", "timeout_ms": 5000, "network_access": false}
	}`)

	m, err := ParseManifest(path)
	if err != nil {
		t.Fatalf("ParseManifest: %v", err)
	}
	if m.Name != "calendar-sync" || m.Entry != "./plugin" {
		t.Fatalf("unexpected manifest: %+v", m)
	}
	if !m.HasPermission(PermCalendarRead) {
		t.Fatal("expected calendar.read permission")
	}
	if m.HasPermission(PermNet) {
		t.Fatal("did not expect net permission")
	}
}

func TestParseTOMLManifest(t *testing.T) {
	path := writeManifest(t, "manifest.toml", `
name = "reminder-bot"
version = "0.1.0"
entry = "./reminder-bot"
permissions = ["scheduler.create"]

[sandbox]
strategy = "subprocess"
timeout_ms = 10000
network_access = false
`)
	m, err := ParseManifest(path)
	if err != nil {
		t.Fatalf("ParseManifest: %v", err)
	}
	if m.Name != "reminder-bot" {
		t.Fatalf("expected name reminder-bot, got %s", m.Name)
	}
	if !m.HasPermission(PermSchedulerCreate) {
		t.Fatal("expected scheduler.create permission")
	}
}

func TestParseManifestRejectsUnknownPermission(t *testing.T) {
	path := writeManifest(t, "manifest.json", `{
		"name": "bad-plugin", "entry": "./x",
		"permissions": ["root.access"],
		"sandbox": {"timeout_ms": 1000}
	}`)
	if _, err := ParseManifest(path); err == nil {
		t.Fatal("expected rejection of an unknown permission")
	}
}

func TestParseManifestRequiresNameAndEntry(t *testing.T) {
	path := writeManifest(t, "manifest.json", `{"sandbox": {"timeout_ms": 1000}}`)
	if _, err := ParseManifest(path); err == nil {
		t.Fatal("expected rejection of a manifest missing name/entry")
	}
}

func TestParseManifestDefaultsSandbox(t *testing.T) {
	path := writeManifest(t, "manifest.json", `{"name": "x", "entry": "./x"}`)
	m, err := ParseManifest(path)
	if err != nil {
		t.Fatalf("ParseManifest: %v", err)
	}
	if m.Sandbox.Strategy != "subprocess" || m.Sandbox.TimeoutMS != 30_000 {
		t.Fatalf("expected defaulted sandbox config, got %+v", m.Sandbox)
	}
}
