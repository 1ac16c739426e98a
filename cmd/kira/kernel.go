package main

import (
	"path/filepath"

	"github.com/kira-vault/kira/internal/audit"
	"github.com/kira-vault/kira/internal/config"
	"github.com/kira-vault/kira/internal/entity"
	"github.com/kira-vault/kira/internal/eventbus"
	"github.com/kira-vault/kira/internal/hostapi"
	"github.com/kira-vault/kira/internal/idutil"
	"github.com/kira-vault/kira/internal/linkgraph"
	"github.com/kira-vault/kira/internal/logging"
	"github.com/kira-vault/kira/internal/quarantine"
	"github.com/kira-vault/kira/internal/vault"
)

// kernel bundles the Host API with the collaborating components doctor
// checks need direct access to (the link graph and quarantine store sit
// behind hostapi.API's unexported fields, since ordinary Host API callers
// never need them).
type kernel struct {
	api   *hostapi.API
	cfg   *config.Config
	graph *linkgraph.Graph
	q     *quarantine.Store
}

// buildKernel loads configuration, wires the Host API's collaborating
// components, and rehydrates the link graph and ID collision set from
// whatever is already on disk (the kernel keeps no durable index beyond the
// Markdown files themselves, spec §9), since each CLI invocation is a fresh
// process with no warm in-memory state to inherit.
func buildKernel() (*kernel, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	log := logging.Init(logging.Options{Level: "info"})

	v := vault.New(cfg.VaultPath)
	graph := linkgraph.New()
	bus := eventbus.New()

	q, err := quarantine.New(filepath.Join(cfg.VaultPath, "artifacts", "quarantine"))
	if err != nil {
		return nil, err
	}

	auditLog, err := audit.Open(filepath.Join(cfg.VaultPath, "artifacts", "audit"))
	if err != nil {
		return nil, err
	}

	ids := idutil.NewCollisionDetector(nil)
	api := hostapi.New(v, graph, bus, q, ids, cfg.VaultTZ).WithLogger(log).WithAudit(auditLog)

	if err := api.Rehydrate(); err != nil {
		return nil, err
	}

	return &kernel{api: api, cfg: cfg, graph: graph, q: q}, nil
}

// buildAPI is the common case: callers that only need the Host API surface.
func buildAPI() (*hostapi.API, *config.Config, error) {
	k, err := buildKernel()
	if err != nil {
		return nil, nil, err
	}
	return k.api, k.cfg, nil
}

// knownIDs lists every entity ID currently on disk, across all known kinds,
// for use as linkgraph.FindBroken's reference set of live targets.
func (k *kernel) knownIDs() (map[string]bool, error) {
	known := map[string]bool{}
	for _, kind := range entity.KnownKinds {
		entities, err := k.api.ListEntities(kind, 0, 0)
		if err != nil {
			return nil, err
		}
		for _, e := range entities {
			known[e.ID] = true
		}
	}
	return known, nil
}
