package hostapi

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kira-vault/kira/internal/audit"
	"github.com/kira-vault/kira/internal/entity"
	"github.com/kira-vault/kira/internal/eventbus"
	"github.com/kira-vault/kira/internal/idutil"
	"github.com/kira-vault/kira/internal/kernelerr"
	"github.com/kira-vault/kira/internal/linkgraph"
	"github.com/kira-vault/kira/internal/quarantine"
	"github.com/kira-vault/kira/internal/vault"
)

func newTestAPI(t *testing.T) (*API, string) {
	t.Helper()
	root := t.TempDir()
	q, err := quarantine.New(filepath.Join(root, "artifacts", "quarantine"))
	if err != nil {
		t.Fatalf("quarantine.New: %v", err)
	}
	api := New(vault.New(root), linkgraph.New(), eventbus.New(), q, idutil.NewCollisionDetector(nil), nil)
	return api, root
}

func TestCreateEntityGeneratesIDAndWritesFile(t *testing.T) {
	api, root := newTestAPI(t)
	e, err := api.CreateEntity(context.Background(), entity.KindNote, map[string]any{
		"title": "My First Note", "category": "general",
	}, "body text")
	if err != nil {
		t.Fatalf("CreateEntity: %v", err)
	}
	if !strings.HasPrefix(e.ID, "note-") {
		t.Fatalf("expected generated id to start with note-, got %s", e.ID)
	}
	if _, err := os.Stat(filepath.Join(root, "notes", e.ID+".md")); err != nil {
		t.Fatalf("expected entity file on disk: %v", err)
	}
}

func TestCreateEntityRejectsDuplicateID(t *testing.T) {
	api, _ := newTestAPI(t)
	data := map[string]any{"id": "note-20260101-0000-dup", "title": "Dup", "category": "x"}
	if _, err := api.CreateEntity(context.Background(), entity.KindNote, data, ""); err != nil {
		t.Fatalf("first create: %v", err)
	}
	_, err := api.CreateEntity(context.Background(), entity.KindNote, data, "")
	if !kernelerr.Is(err, kernelerr.ErrAlreadyExists) {
		t.Fatalf("expected AlreadyExists, got %v", err)
	}
}

func TestCreateEntityQuarantinesInvalidPayload(t *testing.T) {
	api, root := newTestAPI(t)
	_, err := api.CreateEntity(context.Background(), entity.KindTask, map[string]any{
		"title": "Broken", "status": "blocked",
	}, "")
	if !kernelerr.Is(err, kernelerr.ErrValidation) {
		t.Fatalf("expected Validation error, got %v", err)
	}
	entries, rerr := os.ReadDir(filepath.Join(root, "artifacts", "quarantine"))
	if rerr != nil || len(entries) == 0 {
		t.Fatalf("expected a quarantine record, dir read err=%v entries=%d", rerr, len(entries))
	}
}

func TestReadEntityRoundTrips(t *testing.T) {
	api, _ := newTestAPI(t)
	created, err := api.CreateEntity(context.Background(), entity.KindTask, map[string]any{
		"title": "Round Trip", "status": "todo",
	}, "details")
	if err != nil {
		t.Fatalf("CreateEntity: %v", err)
	}

	read, err := api.ReadEntity(created.ID)
	if err != nil {
		t.Fatalf("ReadEntity: %v", err)
	}
	if read.Content != "details" {
		t.Fatalf("expected content to round-trip, got %q", read.Content)
	}
	if read.Metadata["status"] != "todo" {
		t.Fatalf("expected status to round-trip, got %v", read.Metadata["status"])
	}
}

func TestUpdateEntityStampsAndEmitsChangedKeys(t *testing.T) {
	api, _ := newTestAPI(t)
	created, err := api.CreateEntity(context.Background(), entity.KindNote, map[string]any{
		"title": "Before", "category": "general",
	}, "")
	if err != nil {
		t.Fatalf("CreateEntity: %v", err)
	}

	var gotKeys []string
	api.bus.Subscribe("entity.updated", func(ev eventbus.Event) error {
		gotKeys, _ = ev.Payload["changed_keys"].([]string)
		return nil
	}, nil, false, eventbus.NoRetry)

	updated, err := api.UpdateEntity(context.Background(), created.ID, map[string]any{"category": "work"}, nil)
	if err != nil {
		t.Fatalf("UpdateEntity: %v", err)
	}
	if updated.Metadata["category"] != "work" {
		t.Fatalf("expected category to be updated, got %v", updated.Metadata["category"])
	}
	found := false
	for _, k := range gotKeys {
		if k == "category" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected changed_keys to include category, got %v", gotKeys)
	}
}

func TestUpdateEntityNotFound(t *testing.T) {
	api, _ := newTestAPI(t)
	_, err := api.UpdateEntity(context.Background(), "note-20260101-0000-missing", map[string]any{"category": "x"}, nil)
	if !kernelerr.Is(err, kernelerr.ErrNotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestDeleteEntityRemovesFileAndLinks(t *testing.T) {
	api, _ := newTestAPI(t)
	target, err := api.CreateEntity(context.Background(), entity.KindNote, map[string]any{
		"title": "Target", "category": "general",
	}, "")
	if err != nil {
		t.Fatalf("create target: %v", err)
	}
	_, err = api.CreateEntity(context.Background(), entity.KindNote, map[string]any{
		"title": "Source", "category": "general", "relates_to": []string{target.ID},
	}, "")
	if err != nil {
		t.Fatalf("create source: %v", err)
	}

	if err := api.DeleteEntity(context.Background(), target.ID); err != nil {
		t.Fatalf("DeleteEntity: %v", err)
	}
	if _, err := api.ReadEntity(target.ID); !kernelerr.Is(err, kernelerr.ErrNotFound) {
		t.Fatalf("expected NotFound after delete, got %v", err)
	}
	links := api.graph.GetIncoming(target.ID, "")
	if len(links) != 0 {
		t.Fatalf("expected no incoming links to remain for deleted entity, got %v", links)
	}
}

func TestListEntitiesPaginates(t *testing.T) {
	api, _ := newTestAPI(t)
	for i := 0; i < 3; i++ {
		if _, err := api.CreateEntity(context.Background(), entity.KindTask, map[string]any{
			"id": "task-20260101-000" + string(rune('0'+i)) + "-t", "title": "T", "status": "todo",
		}, ""); err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
	}
	all, err := api.ListEntities(entity.KindTask, 0, 0)
	if err != nil {
		t.Fatalf("ListEntities: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 entities, got %d", len(all))
	}
	page, err := api.ListEntities(entity.KindTask, 1, 1)
	if err != nil {
		t.Fatalf("ListEntities paginated: %v", err)
	}
	if len(page) != 1 {
		t.Fatalf("expected 1 entity on the page, got %d", len(page))
	}
}

func TestGetEntityLinksReflectsRelatesTo(t *testing.T) {
	api, _ := newTestAPI(t)
	target, err := api.CreateEntity(context.Background(), entity.KindNote, map[string]any{
		"title": "Target", "category": "general",
	}, "")
	if err != nil {
		t.Fatalf("create target: %v", err)
	}
	source, err := api.CreateEntity(context.Background(), entity.KindNote, map[string]any{
		"title": "Source", "category": "general", "relates_to": []string{target.ID},
	}, "")
	if err != nil {
		t.Fatalf("create source: %v", err)
	}

	links, err := api.GetEntityLinks(source.ID)
	if err != nil {
		t.Fatalf("GetEntityLinks: %v", err)
	}
	found := false
	for _, o := range links.Outgoing {
		if o.Target == target.ID && o.Type == linkgraph.RelatesTo {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected outgoing relates_to edge to %s, got %+v", target.ID, links.Outgoing)
	}

	targetLinks, err := api.GetEntityLinks(target.ID)
	if err != nil {
		t.Fatalf("GetEntityLinks target: %v", err)
	}
	foundBack := false
	for _, in := range targetLinks.Incoming {
		if in.Source == source.ID {
			foundBack = true
		}
	}
	if !foundBack {
		t.Fatalf("expected incoming edge from %s, got %+v", source.ID, targetLinks.Incoming)
	}
}

func TestWithAuditAppendsOneRecordPerMutation(t *testing.T) {
	api, root := newTestAPI(t)
	log, err := audit.Open(filepath.Join(root, "artifacts", "audit"))
	if err != nil {
		t.Fatalf("audit.Open: %v", err)
	}
	api = api.WithAudit(log)

	created, err := api.CreateEntity(context.Background(), entity.KindNote, map[string]any{
		"title": "Audited", "category": "general",
	}, "")
	if err != nil {
		t.Fatalf("CreateEntity: %v", err)
	}
	if _, err := api.UpdateEntity(context.Background(), created.ID, map[string]any{"category": "work"}, nil); err != nil {
		t.Fatalf("UpdateEntity: %v", err)
	}
	if err := api.DeleteEntity(context.Background(), created.ID); err != nil {
		t.Fatalf("DeleteEntity: %v", err)
	}

	raw, err := os.ReadFile(filepath.Join(root, "artifacts", "audit", audit.FileName))
	if err != nil {
		t.Fatalf("read audit log: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 audit records, got %d: %q", len(lines), lines)
	}
}

func TestRehydrateRebuildsGraphAndCollisionSet(t *testing.T) {
	api, root := newTestAPI(t)
	target, err := api.CreateEntity(context.Background(), entity.KindNote, map[string]any{
		"title": "Target", "category": "general",
	}, "")
	if err != nil {
		t.Fatalf("create target: %v", err)
	}
	source, err := api.CreateEntity(context.Background(), entity.KindNote, map[string]any{
		"title": "Source", "category": "general", "relates_to": []string{target.ID},
	}, "")
	if err != nil {
		t.Fatalf("create source: %v", err)
	}

	fresh := New(vault.New(root), linkgraph.New(), eventbus.New(), nil, idutil.NewCollisionDetector(nil), nil)
	if err := fresh.Rehydrate(); err != nil {
		t.Fatalf("Rehydrate: %v", err)
	}

	links, err := fresh.GetEntityLinks(source.ID)
	if err != nil {
		t.Fatalf("GetEntityLinks after rehydrate: %v", err)
	}
	found := false
	for _, o := range links.Outgoing {
		if o.Target == target.ID {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected rehydrated graph to include relates_to edge, got %+v", links.Outgoing)
	}

	_, err = fresh.CreateEntity(context.Background(), entity.KindNote, map[string]any{
		"id": target.ID, "title": "Dup", "category": "x",
	}, "")
	if !kernelerr.Is(err, kernelerr.ErrAlreadyExists) {
		t.Fatalf("expected rehydrated vault.Read to still catch duplicate id, got %v", err)
	}
}

func TestUpsertEntityCreatesThenUpdates(t *testing.T) {
	api, _ := newTestAPI(t)
	data := map[string]any{"id": "note-20260101-0000-up", "title": "Upsert Me", "category": "general"}
	created, err := api.UpsertEntity(context.Background(), entity.KindNote, data, "v1")
	if err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	if created.Content != "v1" {
		t.Fatalf("expected v1 content, got %q", created.Content)
	}

	data2 := map[string]any{"id": created.ID, "title": "Upsert Me", "category": "changed"}
	updated, err := api.UpsertEntity(context.Background(), entity.KindNote, data2, "v2")
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if updated.Content != "v2" || updated.Metadata["category"] != "changed" {
		t.Fatalf("expected upsert to update existing entity, got %+v", updated)
	}
}
