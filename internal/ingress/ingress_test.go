package ingress

import "testing"

func TestTelegramNormalization(t *testing.T) {
	n := New()
	res := n.ValidateAndNormalize(SourceTelegram, map[string]any{
		"text":       "hi",
		"message_id": 42,
		"date":       "2026-07-30T00:00:00Z",
		"user_id":    7,
		"username":   "alice",
		"first_name": "Alice",
	})
	if !res.Valid {
		t.Fatalf("expected valid, got errors: %v", res.Errors)
	}
	if res.Normalized["external_id"] != "tg-42" {
		t.Fatalf("expected external_id tg-42, got %v", res.Normalized["external_id"])
	}
	if res.Normalized["type"] != "message" {
		t.Fatalf("expected type message, got %v", res.Normalized["type"])
	}
}

func TestTelegramMissingMessageIDRejected(t *testing.T) {
	n := New()
	res := n.ValidateAndNormalize(SourceTelegram, map[string]any{"text": "hi"})
	if res.Valid {
		t.Fatal("expected rejection for missing message_id")
	}
}

func TestGCalMapsFieldsAndAttendees(t *testing.T) {
	n := New()
	res := n.ValidateAndNormalize(SourceGCal, map[string]any{
		"id":          "abc123",
		"summary":     "Standup",
		"description": "daily sync",
		"location":    "Zoom",
		"start":       map[string]any{"dateTime": "2026-07-30T09:00:00Z"},
		"end":         map[string]any{"dateTime": "2026-07-30T09:15:00Z"},
		"attendees": []any{
			map[string]any{"email": "a@example.com"},
			map[string]any{"email": "b@example.com"},
		},
	})
	if !res.Valid {
		t.Fatalf("expected valid, got errors: %v", res.Errors)
	}
	if res.Normalized["title"] != "Standup" {
		t.Fatalf("expected title mapped from summary, got %v", res.Normalized["title"])
	}
	if res.Normalized["external_id"] != "gcal-abc123" {
		t.Fatalf("expected external_id gcal-abc123, got %v", res.Normalized["external_id"])
	}
	attendees, ok := res.Normalized["attendees"].([]string)
	if !ok || len(attendees) != 2 {
		t.Fatalf("expected 2 attendee emails, got %v", res.Normalized["attendees"])
	}
}

func TestGCalAllDayUsesDateFallback(t *testing.T) {
	n := New()
	res := n.ValidateAndNormalize(SourceGCal, map[string]any{
		"id":      "allday-1",
		"summary": "Holiday",
		"start":   map[string]any{"date": "2026-12-25"},
		"end":     map[string]any{"date": "2026-12-26"},
	})
	if !res.Valid {
		t.Fatalf("expected valid all-day event, got errors: %v", res.Errors)
	}
	if res.Normalized["start_time"] != "2026-12-25" {
		t.Fatalf("expected start_time from date fallback, got %v", res.Normalized["start_time"])
	}
}

func TestCLIPassthroughStampsType(t *testing.T) {
	n := New()
	res := n.ValidateAndNormalize(SourceCLI, map[string]any{"command": "add-task", "title": "x"})
	if !res.Valid {
		t.Fatalf("expected valid, got errors: %v", res.Errors)
	}
	if res.Normalized["type"] != "cli.add-task" {
		t.Fatalf("expected type cli.add-task, got %v", res.Normalized["type"])
	}
	if res.Normalized["title"] != "x" {
		t.Fatal("expected passthrough fields preserved")
	}
}

func TestGenericRequiresType(t *testing.T) {
	n := New()
	res := n.ValidateAndNormalize(SourceGeneric, map[string]any{"foo": "bar"})
	if res.Valid {
		t.Fatal("expected rejection for missing type")
	}
	res2 := n.ValidateAndNormalize(SourceGeneric, map[string]any{"type": "custom.event"})
	if !res2.Valid {
		t.Fatalf("expected valid with type present, got errors: %v", res2.Errors)
	}
}

func TestUnknownSourceRejected(t *testing.T) {
	n := New()
	res := n.ValidateAndNormalize(Source("unknown"), map[string]any{})
	if res.Valid {
		t.Fatal("expected rejection for unknown source")
	}
}
