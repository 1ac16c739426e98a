package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, dir, yaml string) string {
	t.Helper()
	path := filepath.Join(dir, "kira.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadRequiresVaultPath(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "scheduler:\n  tick: 100ms\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for missing vault.path")
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "vault:\n  path: "+dir+"\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.VaultTZ.String() != "Europe/Brussels" {
		t.Fatalf("expected default tz Europe/Brussels, got %s", cfg.VaultTZ)
	}
	if cfg.SchedulerTick != 50*time.Millisecond {
		t.Fatalf("expected default tick 50ms, got %s", cfg.SchedulerTick)
	}
}

func TestLoadRejectsBadTimezone(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "vault:\n  path: "+dir+"\n  tz: Not/AZone\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for invalid timezone")
	}
}

func TestLoadResolvesAdapterAndPluginSections(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "vault:\n  path: "+dir+"\nadapters:\n  gcal:\n    enabled: true\nplugins:\n  summarizer:\n    timeout: 5s\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Adapters["gcal"]["enabled"] != true {
		t.Fatalf("expected adapters.gcal.enabled true, got %+v", cfg.Adapters)
	}
	if cfg.Plugins["summarizer"]["timeout"] != "5s" {
		t.Fatalf("expected plugins.summarizer.timeout 5s, got %+v", cfg.Plugins)
	}
}

func TestLoadEnvOverridesVaultPath(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "vault:\n  path: /placeholder\n")
	override := filepath.Join(dir, "real-vault")
	t.Setenv("KIRA_VAULT_PATH", override)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.VaultPath != override {
		t.Fatalf("expected env override to win, got %s", cfg.VaultPath)
	}
}
