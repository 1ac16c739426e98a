// Package config loads the kernel's single YAML configuration file (spec
// §6 "Configuration"), generalized from the teacher's package-level viper
// singleton (internal/config/config.go) into an explicit *Config value so
// multiple components (Host API, scheduler, CLI) can each hold their own
// reference instead of reaching through global getters.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// ErrConfig is the sentinel for configuration problems (missing vault.path,
// unparseable timezone, unreadable file) — maps to CLI exit code 6 (spec
// §6 "Exit codes").
var ErrConfig = errors.New("configuration error")

// Config is the kernel's resolved configuration.
type Config struct {
	VaultPath     string
	VaultTZ       *time.Location
	SchedulerTick time.Duration
	Adapters      map[string]map[string]any
	Plugins       map[string]map[string]any

	v *viper.Viper
}

// Load reads the YAML config at path (or, if path is empty, the first of
// $KIRA_CONFIG, ./kira.yaml, $XDG_CONFIG_HOME/kira/config.yaml,
// ~/.kira/config.yaml that exists), applies KIRA_-prefixed environment
// overrides, and validates the required fields (spec §6: "vault.path
// (required), vault.tz (... default Europe/Brussels)").
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	if path == "" {
		path = os.Getenv("KIRA_CONFIG")
	}
	if path != "" {
		v.SetConfigFile(path)
	} else if found := locateConfigFile(); found != "" {
		v.SetConfigFile(found)
	}

	v.SetEnvPrefix("KIRA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault("vault.tz", "Europe/Brussels")
	v.SetDefault("scheduler.tick", "50ms")
	v.SetDefault("adapters", map[string]any{})
	v.SetDefault("plugins", map[string]any{})

	if v.ConfigFileUsed() != "" {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("%w: read %s: %v", ErrConfig, v.ConfigFileUsed(), err)
		}
	}

	return fromViper(v)
}

// locateConfigFile searches, in order, ./kira.yaml, $XDG_CONFIG_HOME/kira/config.yaml,
// and ~/.kira/config.yaml, returning the first that exists (empty if none
// do, in which case Load proceeds on defaults and environment variables
// alone).
func locateConfigFile() string {
	if cwd, err := os.Getwd(); err == nil {
		candidate := filepath.Join(cwd, "kira.yaml")
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	if configDir, err := os.UserConfigDir(); err == nil {
		candidate := filepath.Join(configDir, "kira", "config.yaml")
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	if home, err := os.UserHomeDir(); err == nil {
		candidate := filepath.Join(home, ".kira", "config.yaml")
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return ""
}

func fromViper(v *viper.Viper) (*Config, error) {
	vaultPath := v.GetString("vault.path")
	if vaultPath == "" {
		return nil, fmt.Errorf("%w: vault.path is required", ErrConfig)
	}
	if !filepath.IsAbs(vaultPath) {
		if cwd, err := os.Getwd(); err == nil {
			vaultPath = filepath.Join(cwd, vaultPath)
		}
	}

	tzName := v.GetString("vault.tz")
	loc, err := time.LoadLocation(tzName)
	if err != nil {
		return nil, fmt.Errorf("%w: vault.tz %q: %v", ErrConfig, tzName, err)
	}

	tick := v.GetDuration("scheduler.tick")
	if tick <= 0 {
		tick = 50 * time.Millisecond
	}

	return &Config{
		VaultPath:     vaultPath,
		VaultTZ:       loc,
		SchedulerTick: tick,
		Adapters:      stringMapMap(v, "adapters"),
		Plugins:       stringMapMap(v, "plugins"),
		v:             v,
	}, nil
}

// stringMapMap reads key as a two-level string-keyed map, tolerating both
// map[string]any and the map[interface{}]interface{} shape some YAML
// decoders produce for nested mappings.
func stringMapMap(v *viper.Viper, key string) map[string]map[string]any {
	raw := v.GetStringMap(key)
	out := make(map[string]map[string]any, len(raw))
	for k, val := range raw {
		out[k] = toStringMap(val)
	}
	return out
}

func toStringMap(val any) map[string]any {
	switch m := val.(type) {
	case map[string]any:
		return m
	case map[interface{}]interface{}:
		conv := make(map[string]any, len(m))
		for kk, vv := range m {
			conv[fmt.Sprint(kk)] = vv
		}
		return conv
	default:
		return map[string]any{}
	}
}

// Watch installs fsnotify-based live reload on the file Load read
// (grounded on the teacher's debounced onChanged-callback watcher,
// cmd/bd/daemon_watcher.go, simplified to viper's own single-file watch
// since the kernel has exactly one config file rather than a JSONL store
// plus git refs to track). onChange receives the freshly reloaded Config,
// or a non-nil error if the reload failed validation — the caller decides
// whether to keep running on the last-good Config or abort. A no-op if
// Load had no backing file (defaults/env-only configuration).
func (c *Config) Watch(onChange func(*Config, error)) {
	if c.v == nil || c.v.ConfigFileUsed() == "" {
		return
	}
	c.v.OnConfigChange(func(_ fsnotify.Event) {
		next, err := fromViper(c.v)
		onChange(next, err)
	})
	c.v.WatchConfig()
}

// ConfigFileUsed returns the path Load read from, or "" if none was found.
func (c *Config) ConfigFileUsed() string {
	if c.v == nil {
		return ""
	}
	return c.v.ConfigFileUsed()
}
