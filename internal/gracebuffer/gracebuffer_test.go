package gracebuffer

import (
	"testing"
	"time"

	"github.com/kira-vault/kira/internal/envelope"
)

// fieldSetReducer is a minimal reducer used only to exercise Buffer/Registry
// semantics: state is map[string]map[string]any keyed by entity_id, and
// Apply merges env.Payload's fields into whatever is already materialized
// without clobbering fields the envelope doesn't mention.
type fieldSetReducer struct{ alwaysReady bool }

func (r fieldSetReducer) Apply(state any, env *envelope.Envelope) (any, error) {
	st, _ := state.(map[string]map[string]any)
	if st == nil {
		st = make(map[string]map[string]any)
	}
	key := EntityKey(env)
	entity, ok := st[key]
	if !ok {
		entity = make(map[string]any)
	}
	for k, v := range env.Payload {
		entity[k] = v
	}
	st[key] = entity
	return st, nil
}

func (r fieldSetReducer) CanApply(state any, env *envelope.Envelope) bool {
	return r.alwaysReady
}

func newEnv(t *testing.T, typ string, payload map[string]any, ts string, seq int) *envelope.Envelope {
	t.Helper()
	s := seq
	return &envelope.Envelope{
		EventID: typ + "-" + ts + "-" + payload["entity_id"].(string),
		EventTS: ts,
		Source:  "cli",
		Type:    typ,
		Payload: payload,
		Seq:     &s,
	}
}

func TestBucketingByEntityKey(t *testing.T) {
	reg := NewRegistry()
	reg.Register("task.*", fieldSetReducer{})
	b := New(5*time.Second, reg)

	e1 := newEnv(t, "task.created", map[string]any{"entity_id": "task-1", "title": "A"}, "2026-01-01T00:00:00Z", 1)
	e2 := newEnv(t, "task.updated", map[string]any{"entity_id": "task-2", "title": "B"}, "2026-01-01T00:00:01Z", 2)

	if !b.AddEvent(e1) || !b.AddEvent(e2) {
		t.Fatal("expected both distinct events to be added")
	}
	if len(b.buckets) != 2 {
		t.Fatalf("expected 2 buckets (one per entity_id), got %d", len(b.buckets))
	}
}

func TestAddEventRejectsDuplicate(t *testing.T) {
	reg := NewRegistry()
	b := New(5*time.Second, reg)
	e := newEnv(t, "task.created", map[string]any{"entity_id": "task-1"}, "2026-01-01T00:00:00Z", 1)

	if !b.AddEvent(e) {
		t.Fatal("expected first add to succeed")
	}
	if b.AddEvent(e) {
		t.Fatal("expected duplicate event_id to be rejected")
	}
}

func TestDrainReadyWaitsForGracePeriod(t *testing.T) {
	reg := NewRegistry()
	reg.Register("task.*", fieldSetReducer{alwaysReady: false})
	b := New(5*time.Second, reg)

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	b.nowFn = func() time.Time { return now }

	e := newEnv(t, "task.created", map[string]any{"entity_id": "task-1", "title": "A"}, "2026-01-01T00:00:00Z", 1)
	b.AddEvent(e)

	_, processed, err := b.DrainReady(nil)
	if err != nil {
		t.Fatalf("DrainReady: %v", err)
	}
	if len(processed) != 0 {
		t.Fatalf("expected nothing ready before grace period elapses, got %d", len(processed))
	}

	b.nowFn = func() time.Time { return now.Add(6 * time.Second) }
	_, processed, err = b.DrainReady(nil)
	if err != nil {
		t.Fatalf("DrainReady: %v", err)
	}
	if len(processed) != 1 {
		t.Fatalf("expected event to be ready after grace period, got %d", len(processed))
	}
}

func TestDrainReadyEarlyPathViaCanApply(t *testing.T) {
	reg := NewRegistry()
	reg.Register("task.*", fieldSetReducer{alwaysReady: true})
	b := New(5*time.Second, reg)

	e := newEnv(t, "task.created", map[string]any{"entity_id": "task-1", "title": "A"}, "2026-01-01T00:00:00Z", 1)
	b.AddEvent(e)

	_, processed, err := b.DrainReady(nil)
	if err != nil {
		t.Fatalf("DrainReady: %v", err)
	}
	if len(processed) != 1 {
		t.Fatalf("expected CanApply early path to make the event ready immediately, got %d", len(processed))
	}
}

func TestGlobalOrderingByTimestampSeqThenID(t *testing.T) {
	reg := NewRegistry()
	reg.Register("task.*", fieldSetReducer{alwaysReady: true})
	b := New(5*time.Second, reg)

	e1 := newEnv(t, "task.created", map[string]any{"entity_id": "task-1", "order": 1}, "2026-01-01T00:00:01Z", 2)
	e2 := newEnv(t, "task.created", map[string]any{"entity_id": "task-2", "order": 2}, "2026-01-01T00:00:00Z", 5)
	b.AddEvent(e1)
	b.AddEvent(e2)

	_, processed, err := b.DrainReady(nil)
	if err != nil {
		t.Fatalf("DrainReady: %v", err)
	}
	if len(processed) != 2 || processed[0].EventTS != "2026-01-01T00:00:00Z" {
		t.Fatalf("expected e2 (earlier event_ts) processed first, got %+v", processed)
	}
}

func TestWildcardResolutionPrefersExactMatch(t *testing.T) {
	reg := NewRegistry()
	wildcard := fieldSetReducer{alwaysReady: true}
	exact := fieldSetReducer{alwaysReady: false}
	reg.Register("task.*", wildcard)
	reg.Register("task.created", exact)

	if reg.Resolve("task.created") != Reducer(exact) {
		t.Fatal("expected the exact registration to win for task.created")
	}
	if reg.Resolve("task.updated") != Reducer(wildcard) {
		t.Fatal("expected wildcard fallback for task.updated")
	}
	if reg.Resolve("note.created") != nil {
		t.Fatal("expected no match for an unrelated type")
	}
}

func TestFlushAllDrainsEverythingRegardlessOfAge(t *testing.T) {
	reg := NewRegistry()
	reg.Register("task.*", fieldSetReducer{alwaysReady: false})
	b := New(5*time.Second, reg)

	e := newEnv(t, "task.created", map[string]any{"entity_id": "task-1", "title": "A"}, "2026-01-01T00:00:00Z", 1)
	b.AddEvent(e)

	_, processed, err := b.FlushAll(nil)
	if err != nil {
		t.Fatalf("FlushAll: %v", err)
	}
	if len(processed) != 1 {
		t.Fatalf("expected flush_all to drain regardless of grace period, got %d", len(processed))
	}
	if len(b.buckets) != 0 {
		t.Fatal("expected buckets empty after flush_all")
	}
}

func TestSizeLimitEvictsOldest(t *testing.T) {
	reg := NewRegistry()
	b := New(5*time.Second, reg)
	b.maxSize = 2

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		at := base.Add(time.Duration(i) * time.Second)
		b.nowFn = func() time.Time { return at }
		e := newEnv(t, "task.created", map[string]any{"entity_id": "task-x"}, at.Format(time.RFC3339), i)
		e.EventID = e.EventID + "-uniq" + at.String()
		b.AddEvent(e)
	}
	if b.totalSize() != 2 {
		t.Fatalf("expected oldest event evicted once max_buffer_size exceeded, got %d buffered", b.totalSize())
	}
}
