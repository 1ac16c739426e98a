// Package gracebuffer implements C12: a short-lived reordering buffer that
// holds envelopes for a grace period before they are allowed to mutate
// state, plus the reducer registry that applies them (spec §4.12).
package gracebuffer

import (
	"sort"
	"time"

	"github.com/kira-vault/kira/internal/envelope"
)

// DefaultGracePeriod matches the spec's default grace window.
const DefaultGracePeriod = 5 * time.Second

// MinGracePeriod and MaxGracePeriod bound the configurable range (spec
// §4.12: "default 5s, range 3-10s").
const (
	MinGracePeriod = 3 * time.Second
	MaxGracePeriod = 10 * time.Second
)

// DefaultMaxBufferSize matches the spec's eviction threshold.
const DefaultMaxBufferSize = 1000

// BufferedEvent pairs an envelope with the wall-clock time it was added.
type BufferedEvent struct {
	Envelope  *envelope.Envelope
	ReceivedAt time.Time
}

// Reducer applies one envelope to accumulated state. Implementations must
// be idempotent, commutative for independent events, and deterministic
// (spec §4.12) — Apply must never read the wall clock or any other
// external source, deriving all effects from the envelope itself.
type Reducer interface {
	// Apply returns state after env has been folded in.
	Apply(state any, env *envelope.Envelope) (any, error)
	// CanApply reports whether env is safe to apply before its grace
	// period elapses (the "early fast path", spec §4.12 Readiness).
	CanApply(state any, env *envelope.Envelope) bool
}

// Registry resolves a Reducer for an event type, trying an exact match
// first and then the longest matching wildcard prefix ("task.*" matches
// "task.created", "task.updated", ...; spec §4.12).
type Registry struct {
	exact      map[string]Reducer
	wildcards  []wildcardEntry
}

type wildcardEntry struct {
	prefix  string
	reducer Reducer
}

// NewRegistry returns an empty reducer registry.
func NewRegistry() *Registry {
	return &Registry{exact: make(map[string]Reducer)}
}

// Register binds pattern to reducer. pattern is either an exact event type
// ("task.created") or a wildcard prefix ("task.*").
func (r *Registry) Register(pattern string, reducer Reducer) {
	if len(pattern) > 2 && pattern[len(pattern)-2:] == ".*" {
		prefix := pattern[:len(pattern)-1] // keep trailing "."
		r.wildcards = append(r.wildcards, wildcardEntry{prefix: prefix, reducer: reducer})
		sort.Slice(r.wildcards, func(i, j int) bool {
			return len(r.wildcards[i].prefix) > len(r.wildcards[j].prefix)
		})
		return
	}
	r.exact[pattern] = reducer
}

// Resolve returns the reducer bound to typ, or nil if none matches.
func (r *Registry) Resolve(typ string) Reducer {
	if red, ok := r.exact[typ]; ok {
		return red
	}
	for _, w := range r.wildcards {
		if len(typ) >= len(w.prefix) && typ[:len(w.prefix)] == w.prefix {
			return w.reducer
		}
	}
	return nil
}

// entityKeyFields is the priority order for extracting an event's bucket
// key (spec §4.12 Bucketing): "first of entity_id, id, task_id, note_id;
// else event type".
var entityKeyFields = []string{"entity_id", "id", "task_id", "note_id"}

// EntityKey extracts env's bucket key.
func EntityKey(env *envelope.Envelope) string {
	for _, field := range entityKeyFields {
		if v, ok := env.Payload[field]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s
			}
		}
	}
	return env.Type
}

type bucket struct {
	key    string
	events []BufferedEvent
}

// Buffer holds envelopes grouped by entity key until they are ready to
// apply (spec §4.12).
type Buffer struct {
	gracePeriod  time.Duration
	maxSize      int
	registry     *Registry
	buckets      map[string]*bucket
	processed    map[string]bool // event_id -> applied, across the buffer's lifetime
	nowFn        func() time.Time
}

// New returns a Buffer using gracePeriod (clamped to [MinGracePeriod,
// MaxGracePeriod]) and the default max buffer size.
func New(gracePeriod time.Duration, registry *Registry) *Buffer {
	if gracePeriod < MinGracePeriod {
		gracePeriod = MinGracePeriod
	}
	if gracePeriod > MaxGracePeriod {
		gracePeriod = MaxGracePeriod
	}
	return &Buffer{
		gracePeriod: gracePeriod,
		maxSize:     DefaultMaxBufferSize,
		registry:    registry,
		buckets:     make(map[string]*bucket),
		processed:   make(map[string]bool),
		nowFn:       time.Now,
	}
}

// totalSize returns the number of events currently buffered across all
// buckets.
func (b *Buffer) totalSize() int {
	n := 0
	for _, bk := range b.buckets {
		n += len(bk.events)
	}
	return n
}

// AddEvent enqueues env, returning false if it is a duplicate of one
// already processed or currently buffered (spec §4.12 Deduplication).
func (b *Buffer) AddEvent(env *envelope.Envelope) bool {
	if b.processed[env.EventID] {
		return false
	}
	key := EntityKey(env)
	bk, ok := b.buckets[key]
	if !ok {
		bk = &bucket{key: key}
		b.buckets[key] = bk
	}
	for _, be := range bk.events {
		if be.Envelope.EventID == env.EventID {
			return false
		}
	}
	bk.events = append(bk.events, BufferedEvent{Envelope: env, ReceivedAt: b.nowFn()})

	if b.totalSize() > b.maxSize {
		b.evictOldest()
	}
	return true
}

// evictOldest removes the single oldest buffered event (by ReceivedAt)
// from whichever bucket holds it (spec §4.12 Size limit).
func (b *Buffer) evictOldest() {
	var oldestKey string
	var oldestIdx int
	var oldestAt time.Time
	found := false
	for key, bk := range b.buckets {
		for i, be := range bk.events {
			if !found || be.ReceivedAt.Before(oldestAt) {
				oldestKey, oldestIdx, oldestAt, found = key, i, be.ReceivedAt, true
			}
		}
	}
	if !found {
		return
	}
	bk := b.buckets[oldestKey]
	bk.events = append(bk.events[:oldestIdx], bk.events[oldestIdx+1:]...)
	if len(bk.events) == 0 {
		delete(b.buckets, oldestKey)
	}
}

// isReady implements spec §4.12 Readiness.
func (b *Buffer) isReady(state any, be BufferedEvent) bool {
	age := b.nowFn().Sub(be.ReceivedAt)
	if age >= b.gracePeriod {
		return true
	}
	if b.gracePeriod > time.Second {
		if red := b.registry.Resolve(be.Envelope.Type); red != nil && red.CanApply(state, be.Envelope) {
			return true
		}
	}
	return false
}

// DrainReady applies every currently-ready event across all buckets, in
// deterministic global order (spec §4.12 Processing order), and returns
// the resulting state plus the envelopes that were applied.
func (b *Buffer) DrainReady(state any) (any, []*envelope.Envelope, error) {
	type candidate struct {
		key string
		idx int
		be  BufferedEvent
	}
	var ready []candidate
	for key, bk := range b.buckets {
		for i, be := range bk.events {
			if b.isReady(state, be) {
				ready = append(ready, candidate{key: key, idx: i, be: be})
			}
		}
	}

	sort.Slice(ready, func(i, j int) bool {
		return lessGlobalOrder(ready[i].be.Envelope, ready[j].be.Envelope)
	})

	var processed []*envelope.Envelope
	for _, c := range ready {
		red := b.registry.Resolve(c.be.Envelope.Type)
		if red == nil {
			continue
		}
		var err error
		state, err = red.Apply(state, c.be.Envelope)
		if err != nil {
			return state, processed, err
		}
		b.processed[c.be.Envelope.EventID] = true
		processed = append(processed, c.be.Envelope)
	}

	for _, c := range ready {
		bk, ok := b.buckets[c.key]
		if !ok {
			continue
		}
		bk.events = removeByEventID(bk.events, c.be.Envelope.EventID)
		if len(bk.events) == 0 {
			delete(b.buckets, c.key)
		}
	}

	return state, processed, nil
}

// FlushAll drains every buffered event regardless of readiness, in
// deterministic global order (spec §4.12 flush_all).
func (b *Buffer) FlushAll(state any) (any, []*envelope.Envelope, error) {
	var all []*envelope.Envelope
	for _, bk := range b.buckets {
		for _, be := range bk.events {
			all = append(all, be.Envelope)
		}
	}
	sort.Slice(all, func(i, j int) bool { return lessGlobalOrder(all[i], all[j]) })

	var processed []*envelope.Envelope
	for _, env := range all {
		red := b.registry.Resolve(env.Type)
		if red == nil {
			continue
		}
		var err error
		state, err = red.Apply(state, env)
		if err != nil {
			return state, processed, err
		}
		b.processed[env.EventID] = true
		processed = append(processed, env)
	}
	b.buckets = make(map[string]*bucket)
	return state, processed, nil
}

func removeByEventID(events []BufferedEvent, id string) []BufferedEvent {
	out := events[:0]
	for _, e := range events {
		if e.Envelope.EventID != id {
			out = append(out, e)
		}
	}
	return out
}

// lessGlobalOrder sorts by (event_ts, seq|0, event_id) per spec §4.12.
func lessGlobalOrder(a, b *envelope.Envelope) bool {
	if a.EventTS != b.EventTS {
		return a.EventTS < b.EventTS
	}
	as, bs := 0, 0
	if a.Seq != nil {
		as = *a.Seq
	}
	if b.Seq != nil {
		bs = *b.Seq
	}
	if as != bs {
		return as < bs
	}
	return a.EventID < b.EventID
}
