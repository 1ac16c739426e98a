package validation

import (
	"testing"
	"time"

	"github.com/kira-vault/kira/internal/entity"
)

func mustEntity(kind entity.Kind, md map[string]any) *entity.Entity {
	return &entity.Entity{Kind: kind, Metadata: md}
}

func TestValidateTaskBlockedRequiresReason(t *testing.T) {
	e := mustEntity(entity.KindTask, map[string]any{
		"title": "Do a thing", "status": "blocked",
	})
	res, err := Validate(e, time.Now())
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if res.Valid {
		t.Fatal("expected invalid: blocked without blocked_reason")
	}
}

func TestValidateTaskOK(t *testing.T) {
	e := mustEntity(entity.KindTask, map[string]any{
		"title": "Do a thing", "status": "todo", "estimate": "2h",
	})
	res, err := Validate(e, time.Now())
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if !res.Valid {
		t.Fatalf("expected valid, got errors: %v", res.Errors)
	}
}

func TestValidateNoteRequiresCategoryOrTags(t *testing.T) {
	e := mustEntity(entity.KindNote, map[string]any{"title": "A note"})
	res, err := Validate(e, time.Now())
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if res.Valid {
		t.Fatal("expected invalid: note without category or tags")
	}

	e2 := mustEntity(entity.KindNote, map[string]any{"title": "A note", "tags": []any{}})
	res2, err := Validate(e2, time.Now())
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if !res2.Valid {
		t.Fatalf("expected valid with empty tags list, got: %v", res2.Errors)
	}
}

func TestValidateEventEndBeforeStart(t *testing.T) {
	e := mustEntity(entity.KindEvent, map[string]any{
		"title":      "Standup",
		"start_time": "2025-01-15T10:00:00Z",
		"end_time":   "2025-01-15T09:00:00Z",
	})
	res, err := Validate(e, time.Now())
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if res.Valid {
		t.Fatal("expected invalid: end_time before start_time")
	}
}

func TestValidIDFormat(t *testing.T) {
	if !ValidID("task-20250115-1430-fix-bug") {
		t.Fatal("expected valid ID")
	}
	if ValidID("not an id") {
		t.Fatal("expected invalid ID")
	}
}
