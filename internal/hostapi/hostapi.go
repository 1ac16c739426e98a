// Package hostapi implements C7: the single mutation surface plugins and
// ingress adapters use to read and write vault entities. It is the only
// caller of vault.Mutate in the kernel — every create/update/delete does its
// existence check and file write inside the entity-locked section, with
// validation, folder-contract enforcement, link-graph maintenance, and event
// emission sequenced around it (spec §4.7),
// grounded on the teacher's RPC handler dispatch table
// (internal/rpc/server_core.go) generalized from bd's flat CRUD methods to
// Kira's create/read/update/delete/list/upsert/get-links surface.
package hostapi

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/kira-vault/kira/internal/audit"
	"github.com/kira-vault/kira/internal/entity"
	"github.com/kira-vault/kira/internal/eventbus"
	"github.com/kira-vault/kira/internal/idutil"
	"github.com/kira-vault/kira/internal/kernelerr"
	"github.com/kira-vault/kira/internal/linkgraph"
	"github.com/kira-vault/kira/internal/markdown"
	"github.com/kira-vault/kira/internal/quarantine"
	"github.com/kira-vault/kira/internal/sync"
	"github.com/kira-vault/kira/internal/validation"
	"github.com/kira-vault/kira/internal/vault"
)

// reservedFrontmatterKeys are promoted to dedicated Entity fields rather
// than living in Entity.Metadata.
var reservedFrontmatterKeys = map[string]bool{
	"id": true, "kind": true, "created": true, "updated": true, "x-kira": true,
}

// API is the Host API surface. Not safe for concurrent mutation calls
// against the *same* entity beyond what vault.Mutate's per-ID lock already
// serializes; concurrent calls against different entities proceed in
// parallel (spec §5).
type API struct {
	vault      *vault.Vault
	graph      *linkgraph.Graph
	bus        *eventbus.Bus
	quarantine *quarantine.Store
	ids        *idutil.CollisionDetector
	tz         *time.Location
	nowFn      func() time.Time
	log        *zerolog.Logger
	audit      *audit.Log
}

// New returns a Host API wired to the given vault, link graph, event bus,
// quarantine store, and ID collision detector. tz is used to render
// generated IDs' date/time segment in the vault's configured timezone (nil
// defaults to UTC).
func New(v *vault.Vault, graph *linkgraph.Graph, bus *eventbus.Bus, q *quarantine.Store, ids *idutil.CollisionDetector, tz *time.Location) *API {
	if tz == nil {
		tz = time.UTC
	}
	return &API{vault: v, graph: graph, bus: bus, quarantine: q, ids: ids, tz: tz, nowFn: time.Now}
}

// WithLogger returns a copy of a that logs rejected mutations to l.
func (a *API) WithLogger(l zerolog.Logger) *API {
	cp := *a
	cp.log = &l
	return &cp
}

// WithAudit returns a copy of a that appends one record per successful
// create/update/delete to log, independent of the entity.* event bus stream.
func (a *API) WithAudit(log *audit.Log) *API {
	cp := *a
	cp.audit = log
	return &cp
}

func (a *API) appendAudit(op, id string, kind entity.Kind, changedKeys []string) {
	if a.audit == nil {
		return
	}
	if err := a.audit.Append(audit.Entry{Op: op, EntityID: id, Kind: string(kind), ChangedKeys: changedKeys}); err != nil && a.log != nil {
		a.log.Error().Err(err).Str("op", op).Str("entity_id", id).Msg("failed to append audit record")
	}
}

func (a *API) now() time.Time {
	return a.nowFn().UTC()
}

// OutgoingLink is one edge leaving an entity (spec §4.7 get_entity_links).
type OutgoingLink struct {
	Target string
	Type   linkgraph.LinkType
}

// IncomingLink is one edge arriving at an entity.
type IncomingLink struct {
	Source string
	Type   linkgraph.LinkType
}

// Links is the result of GetEntityLinks.
type Links struct {
	Outgoing []OutgoingLink
	Incoming []IncomingLink
}

// kindFromID recovers an entity's kind from its ID prefix
// ("<kind>-YYYYMMDD-HHmm-<slug>"), the ID format's kind segment being
// authoritative for every operation that takes only an ID (spec §3).
func kindFromID(id string) entity.Kind {
	if i := strings.IndexByte(id, '-'); i > 0 {
		return entity.Kind(id[:i])
	}
	return entity.Kind(id)
}

func cloneMetadata(data map[string]any) map[string]entity.Value {
	m := make(map[string]entity.Value, len(data))
	for k, v := range data {
		if reservedFrontmatterKeys[k] {
			continue
		}
		m[k] = v
	}
	return m
}

func parseAnyTime(v any) (time.Time, bool) {
	switch val := v.(type) {
	case time.Time:
		return val, true
	case string:
		for _, layout := range []string{time.RFC3339, time.RFC3339Nano, "2006-01-02T15:04:05.000-07:00", "2006-01-02"} {
			if t, err := time.Parse(layout, val); err == nil {
				return t, true
			}
		}
	}
	return time.Time{}, false
}

func syncContractToMap(s entity.SyncContract) map[string]any {
	m := map[string]any{
		"source":        string(s.Source),
		"version":       s.Version,
		"last_write_ts": s.LastWriteTs,
	}
	if s.RemoteID != "" {
		m["remote_id"] = s.RemoteID
	}
	if s.Etag != "" {
		m["etag"] = s.Etag
	}
	return m
}

func syncContractFromMap(v any) entity.SyncContract {
	var sc entity.SyncContract
	m, _ := v.(map[string]any)
	if m == nil {
		return sc
	}
	if s, ok := m["source"].(string); ok {
		sc.Source = entity.SyncSource(s)
	}
	switch ver := m["version"].(type) {
	case int:
		sc.Version = ver
	case float64:
		sc.Version = int(ver)
	}
	if rid, ok := m["remote_id"].(string); ok {
		sc.RemoteID = rid
	}
	if et, ok := m["etag"].(string); ok {
		sc.Etag = et
	}
	if t, ok := parseAnyTime(m["last_write_ts"]); ok {
		sc.LastWriteTs = t
	}
	return sc
}

// buildFrontmatter flattens e back into the single front-matter mapping
// markdown.Serialize expects: Entity.Metadata plus the promoted
// id/kind/created/updated/x-kira fields.
func (a *API) buildFrontmatter(e *entity.Entity) map[string]any {
	fm := make(map[string]any, len(e.Metadata)+5)
	for k, v := range e.Metadata {
		fm[k] = v
	}
	fm["id"] = e.ID
	fm["kind"] = string(e.Kind)
	fm["created"] = e.CreatedTs
	fm["updated"] = e.UpdatedTs
	fm["x-kira"] = syncContractToMap(e.Sync)
	return fm
}

// entityFromFrontmatter is buildFrontmatter's inverse, used when reading an
// entity back off disk.
func entityFromFrontmatter(path string, fm map[string]any, content string) *entity.Entity {
	id, _ := fm["id"].(string)
	kind, _ := fm["kind"].(string)
	e := &entity.Entity{
		ID:       id,
		Kind:     entity.Kind(kind),
		Path:     path,
		Content:  content,
		Metadata: make(map[string]entity.Value, len(fm)),
	}
	for k, v := range fm {
		if reservedFrontmatterKeys[k] {
			continue
		}
		e.Metadata[k] = v
	}
	if t, ok := parseAnyTime(fm["created"]); ok {
		e.CreatedTs = t
	}
	if t, ok := parseAnyTime(fm["updated"]); ok {
		e.UpdatedTs = t
	}
	e.Sync = syncContractFromMap(fm["x-kira"])
	return e
}

func (a *API) quarantineReject(kind entity.Kind, payload map[string]any, errs []string, reason string) {
	if a.quarantine != nil {
		if _, err := a.quarantine.Quarantine(string(kind), payload, errs, reason); err != nil && a.log != nil {
			a.log.Error().Err(err).Str("kind", string(kind)).Msg("failed to write quarantine record")
		}
	}
	if a.log != nil {
		a.log.Warn().Str("kind", string(kind)).Strs("errors", errs).Str("reason", reason).Msg("entity rejected")
	}
}

// CreateEntity implements the Create algorithm (spec §4.7 steps 1-8).
func (a *API) CreateEntity(ctx context.Context, kind entity.Kind, data map[string]any, content string) (*entity.Entity, error) {
	now := a.now()

	id, _ := data["id"].(string)
	if id == "" {
		title, _ := data["title"].(string)
		candidate := idutil.Generate(string(kind), title, now, a.tz)
		if a.ids != nil {
			candidate = a.ids.Resolve(candidate)
		}
		id = candidate
	} else if !validation.ValidID(id) {
		return nil, fmt.Errorf("%w: malformed id %q", kernelerr.ErrValidation, id)
	}

	path := a.vault.PathFor(kind, id)

	e := &entity.Entity{
		ID:        id,
		Kind:      kind,
		Metadata:  cloneMetadata(data),
		Content:   content,
		Path:      path,
		CreatedTs: now,
		UpdatedTs: now,
		Sync:      sync.StampKiraWrite(entity.SyncContract{}, now),
	}
	if t, ok := parseAnyTime(data["created"]); ok {
		e.CreatedTs = t
	}
	if t, ok := parseAnyTime(data["updated"]); ok {
		e.UpdatedTs = t
	}

	res, err := validation.Validate(e, now)
	if err != nil {
		return nil, err
	}
	if !res.Valid {
		a.quarantineReject(kind, a.buildFrontmatter(e), res.Errors, "create validation failed")
		return nil, fmt.Errorf("%w: %s", kernelerr.ErrValidation, strings.Join(res.Errors, "; "))
	}

	if err := validation.FolderContract(kind, a.vault.Root(), path); err != nil {
		return nil, fmt.Errorf("%w: %v", kernelerr.ErrFolderContract, err)
	}

	err = a.vault.Mutate(ctx, id, path, func(current *markdown.Document) (*markdown.Document, string, bool, error) {
		if current != nil {
			return nil, "", false, fmt.Errorf("%w: entity %s", kernelerr.ErrAlreadyExists, id)
		}
		doc := &markdown.Document{Frontmatter: a.buildFrontmatter(e), Content: e.Content}
		return doc, path, false, nil
	})
	if err != nil {
		return nil, err
	}

	if a.ids != nil {
		a.ids.Reserve(id)
	}
	a.graph.UpdateEntityLinks(id, e.Metadata, e.Content)
	a.bus.Publish("entity.created", map[string]any{
		"entity_id": id, "kind": string(kind), "path": path, "metadata": e.Metadata,
	}, nil, "")
	a.appendAudit("create", id, kind, nil)

	return e.Clone(), nil
}

// ReadEntity loads the entity at the path its ID prescribes.
func (a *API) ReadEntity(id string) (*entity.Entity, error) {
	kind := kindFromID(id)
	path := a.vault.PathFor(kind, id)
	doc, err := a.vault.Read(path)
	if err != nil {
		return nil, err
	}
	return entityFromFrontmatter(path, doc.Frontmatter, doc.Content), nil
}

// UpdateEntity merges updates into the entity's metadata (content replaced
// wholesale when non-nil), stamps updated unconditionally, revalidates, and
// emits entity.updated with the set of keys that actually changed (spec
// §4.7 "Update").
func (a *API) UpdateEntity(ctx context.Context, id string, updates map[string]any, content *string) (*entity.Entity, error) {
	kind := kindFromID(id)
	path := a.vault.PathFor(kind, id)
	now := a.now()

	var result *entity.Entity
	var changedKeys []string

	err := a.vault.Mutate(ctx, id, path, func(current *markdown.Document) (*markdown.Document, string, bool, error) {
		if current == nil {
			return nil, "", false, fmt.Errorf("%w: entity %s", kernelerr.ErrNotFound, id)
		}
		existing := entityFromFrontmatter(path, current.Frontmatter, current.Content)

		changed := make(map[string]bool, len(updates))
		for k, v := range updates {
			if reservedFrontmatterKeys[k] && k != "updated" {
				continue
			}
			if !reflect.DeepEqual(existing.Metadata[k], v) {
				changed[k] = true
			}
			existing.Metadata[k] = v
		}
		if content != nil && *content != existing.Content {
			changed["content"] = true
			existing.Content = *content
		}
		existing.UpdatedTs = now

		res, verr := validation.Validate(existing, now)
		if verr != nil {
			return nil, "", false, verr
		}
		if !res.Valid {
			a.quarantineReject(kind, a.buildFrontmatter(existing), res.Errors, "update validation failed")
			return nil, "", false, fmt.Errorf("%w: %s", kernelerr.ErrValidation, strings.Join(res.Errors, "; "))
		}

		for k := range changed {
			changedKeys = append(changedKeys, k)
		}
		sort.Strings(changedKeys)
		result = existing

		doc := &markdown.Document{Frontmatter: a.buildFrontmatter(existing), Content: existing.Content}
		return doc, path, false, nil
	})
	if err != nil {
		return nil, err
	}

	a.graph.UpdateEntityLinks(id, result.Metadata, result.Content)
	a.bus.Publish("entity.updated", map[string]any{
		"entity_id": id, "kind": string(kind), "path": path, "changed_keys": changedKeys,
	}, nil, "")
	a.appendAudit("update", id, kind, changedKeys)

	return result.Clone(), nil
}

// DeleteEntity removes the entity's adjacent links from the graph, unlinks
// its file, and emits entity.deleted (spec §4.7 "Delete").
func (a *API) DeleteEntity(ctx context.Context, id string) error {
	kind := kindFromID(id)
	path := a.vault.PathFor(kind, id)

	err := a.vault.Mutate(ctx, id, path, func(current *markdown.Document) (*markdown.Document, string, bool, error) {
		if current == nil {
			return nil, "", false, fmt.Errorf("%w: entity %s", kernelerr.ErrNotFound, id)
		}
		return nil, path, true, nil
	})
	if err != nil {
		return err
	}

	a.graph.RemoveEntity(id)
	a.bus.Publish("entity.deleted", map[string]any{
		"entity_id": id, "kind": string(kind), "path": path,
	}, nil, "")
	a.appendAudit("delete", id, kind, nil)
	return nil
}

// ListEntities returns entities under kind's folder (every known kind's
// folder when kind is empty), sorted by path, paginated by offset/limit (0
// limit means unlimited). Unreadable or malformed files are skipped rather
// than failing the whole listing.
func (a *API) ListEntities(kind entity.Kind, limit, offset int) ([]*entity.Entity, error) {
	kinds := entity.KnownKinds
	if kind != "" {
		kinds = []entity.Kind{kind}
	}

	var paths []string
	for _, k := range kinds {
		ps, err := a.vault.ListPaths(k)
		if err != nil {
			return nil, err
		}
		paths = append(paths, ps...)
	}
	sort.Strings(paths)

	if offset > 0 {
		if offset >= len(paths) {
			paths = nil
		} else {
			paths = paths[offset:]
		}
	}
	if limit > 0 && len(paths) > limit {
		paths = paths[:limit]
	}

	entities := make([]*entity.Entity, 0, len(paths))
	for _, p := range paths {
		doc, err := a.vault.Read(p)
		if err != nil {
			continue
		}
		entities = append(entities, entityFromFrontmatter(p, doc.Frontmatter, doc.Content))
	}
	return entities, nil
}

// UpsertEntity updates data's "id" entity if it already exists on disk,
// otherwise creates it (spec §4.7 upsert_entity).
func (a *API) UpsertEntity(ctx context.Context, kind entity.Kind, data map[string]any, content string) (*entity.Entity, error) {
	if id, _ := data["id"].(string); id != "" {
		path := a.vault.PathFor(kind, id)
		if _, err := a.vault.Read(path); err == nil {
			return a.UpdateEntity(ctx, id, cloneMetadataAsAny(data), &content)
		} else if !kernelerr.Is(err, kernelerr.ErrNotFound) {
			return nil, err
		}
	}
	return a.CreateEntity(ctx, kind, data, content)
}

func cloneMetadataAsAny(data map[string]any) map[string]any {
	m := make(map[string]any, len(data))
	for k, v := range data {
		if reservedFrontmatterKeys[k] {
			continue
		}
		m[k] = v
	}
	return m
}

// Rehydrate walks every known kind's folder, feeding each entity file's
// metadata and content into the link graph and reserving its ID against the
// collision detector. The kernel holds no durable index beyond the
// Markdown files themselves (spec §9 design note), so this must run once at
// startup, before any Host API call, to rebuild that in-memory state.
// Unreadable or malformed files are skipped, mirroring ListEntities.
func (a *API) Rehydrate() error {
	for _, kind := range entity.KnownKinds {
		paths, err := a.vault.ListPaths(kind)
		if err != nil {
			return err
		}
		for _, p := range paths {
			doc, err := a.vault.Read(p)
			if err != nil {
				continue
			}
			e := entityFromFrontmatter(p, doc.Frontmatter, doc.Content)
			if e.ID == "" {
				continue
			}
			a.graph.AddEntity(e.ID)
			a.graph.UpdateEntityLinks(e.ID, e.Metadata, e.Content)
			if a.ids != nil {
				a.ids.Reserve(e.ID)
			}
		}
	}
	return nil
}

// GetEntityLinks returns id's outgoing and incoming link-graph edges (spec
// §4.7 get_entity_links). Fails with NotFound if id is not a live entity.
func (a *API) GetEntityLinks(id string) (*Links, error) {
	kind := kindFromID(id)
	path := a.vault.PathFor(kind, id)
	if _, err := a.vault.Read(path); err != nil {
		return nil, err
	}

	links := &Links{}
	for _, e := range a.graph.GetOutgoing(id, "") {
		links.Outgoing = append(links.Outgoing, OutgoingLink{Target: e.ID, Type: e.Type})
	}
	for _, e := range a.graph.GetIncoming(id, "") {
		links.Incoming = append(links.Incoming, IncomingLink{Source: e.ID, Type: e.Type})
	}
	return links, nil
}
