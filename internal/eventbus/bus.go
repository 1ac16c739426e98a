// Package eventbus implements C8: an in-process, synchronous publish/
// subscribe bus with per-subscriber retry/backoff, filter predicates,
// correlation IDs, and once-handlers (spec §4.8).
//
// Dispatch is single-threaded per Publish call: handlers run on the
// publisher's goroutine, in subscription order, and Publish returns only
// after every current subscriber has been attempted (including retry
// sleeps). This mirrors the teacher's synchronous RPC dispatch
// (internal/rpc/server_core.go handles one request to completion before the
// next) generalized to a multi-subscriber broadcast.
package eventbus

import (
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is a single bus message.
type Event struct {
	Name          string
	Payload       map[string]any
	Headers       map[string]string
	CorrelationID string
}

// Handler processes an Event. Returning an error triggers the subscription's
// retry policy.
type Handler func(Event) error

// Filter returns false to skip delivering ev to the subscriber it guards.
type Filter func(Event) bool

// RetryPolicy controls retry/backoff on handler error (spec §4.8).
type RetryPolicy struct {
	MaxAttempts       int
	InitialDelay      time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64
	Jitter            bool
}

// NoRetry is the zero-retry policy: a handler error is not retried.
var NoRetry = RetryPolicy{MaxAttempts: 1}

// Handle identifies a subscription for later unsubscription.
type Handle struct {
	id   string
	name string
}

type subscription struct {
	handle  Handle
	name    string
	handler Handler
	filter  Filter
	once    bool
	retry   RetryPolicy
	active  bool
}

// Bus is the in-process pub/sub dispatcher. Safe for concurrent use: the
// subscriber list is protected by a mutex, but dispatch of a single Publish
// call snapshots the list up front so unsubscribes mid-iteration never
// reinvoke a cancelled handler (spec §4.8 cancellation).
type Bus struct {
	mu   sync.Mutex
	subs map[string][]*subscription // event name -> subscriptions, in registration order

	onDeliveryFailure func(name string, handle Handle, err error)
}

// New returns an empty Bus.
func New() *Bus {
	return &Bus{subs: make(map[string][]*subscription)}
}

// OnDeliveryFailure installs a callback invoked whenever a subscriber
// exhausts its retry policy (spec §4.8: "the delivery is counted as failed
// and logged"). Intended for wiring a logger; optional.
func (b *Bus) OnDeliveryFailure(fn func(name string, handle Handle, err error)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onDeliveryFailure = fn
}

// Subscribe registers handler for events named name. filter and retry may
// be the zero value (nil filter matches everything; RetryPolicy{} behaves
// like NoRetry with MaxAttempts defaulted to 1).
func (b *Bus) Subscribe(name string, handler Handler, filter Filter, once bool, retry RetryPolicy) Handle {
	if retry.MaxAttempts < 1 {
		retry.MaxAttempts = 1
	}
	h := Handle{id: uuid.NewString(), name: name}
	sub := &subscription{handle: h, name: name, handler: handler, filter: filter, once: once, retry: retry, active: true}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[name] = append(b.subs[name], sub)
	return h
}

// Unsubscribe removes handle's subscription. In-flight delivery to that
// handler (if currently mid-Publish) completes; no further deliveries occur
// (spec §4.8).
func (b *Bus) Unsubscribe(handle Handle) {
	b.mu.Lock()
	defer b.mu.Unlock()
	list := b.subs[handle.name]
	for i, s := range list {
		if s.handle.id == handle.id {
			s.active = false
			b.subs[handle.name] = append(list[:i], list[i+1:]...)
			return
		}
	}
}

// UnsubscribeAll removes every subscription for name.
func (b *Bus) UnsubscribeAll(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.subs[name] {
		s.active = false
	}
	delete(b.subs, name)
}

// Publish delivers payload to every current subscriber of name, in
// subscription order, returning the count of subscribers that ultimately
// succeeded (after retries, if any). Publish blocks for the aggregate of
// handler durations plus retry sleeps (spec §5).
func (b *Bus) Publish(name string, payload map[string]any, headers map[string]string, correlationID string) int {
	ev := Event{Name: name, Payload: payload, Headers: headers, CorrelationID: correlationID}

	b.mu.Lock()
	snapshot := make([]*subscription, len(b.subs[name]))
	copy(snapshot, b.subs[name])
	b.mu.Unlock()

	delivered := 0
	var onceToRemove []Handle

	for _, sub := range snapshot {
		if sub.filter != nil && !sub.filter(ev) {
			continue
		}
		if err := deliverWithRetry(sub, ev); err != nil {
			b.mu.Lock()
			cb := b.onDeliveryFailure
			b.mu.Unlock()
			if cb != nil {
				cb(name, sub.handle, err)
			}
			continue
		}
		delivered++
		if sub.once {
			onceToRemove = append(onceToRemove, sub.handle)
		}
	}

	for _, h := range onceToRemove {
		b.Unsubscribe(h)
	}
	return delivered
}

// deliverWithRetry invokes sub.handler, retrying per sub.retry on error.
func deliverWithRetry(sub *subscription, ev Event) error {
	var lastErr error
	delay := sub.retry.InitialDelay
	for attempt := 0; attempt < sub.retry.MaxAttempts; attempt++ {
		if attempt > 0 {
			sleep := delay
			if sub.retry.Jitter {
				sleep = time.Duration(float64(sleep) * (0.5 + rand.Float64()))
			}
			time.Sleep(sleep)
			if sub.retry.MaxDelay > 0 && delay < sub.retry.MaxDelay {
				delay = time.Duration(float64(delay) * maxf(sub.retry.BackoffMultiplier, 1))
				if delay > sub.retry.MaxDelay {
					delay = sub.retry.MaxDelay
				}
			}
		}
		err := safeCall(sub.handler, ev)
		if err == nil {
			return nil
		}
		lastErr = err
	}
	return fmt.Errorf("delivery failed after %d attempts: %w", sub.retry.MaxAttempts, lastErr)
}

// safeCall recovers a handler panic into an error so one misbehaving
// subscriber can never abort Publish for the others.
func safeCall(h Handler, ev Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return h(ev)
}

func maxf(v, fallback float64) float64 {
	if v <= 0 {
		return fallback
	}
	return v
}

// SubscriberCount returns how many active subscriptions exist for name,
// mainly for diagnostics/tests.
func (b *Bus) SubscriberCount(name string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[name])
}

// Names returns every event name with at least one subscriber, sorted.
func (b *Bus) Names() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	names := make([]string, 0, len(b.subs))
	for n := range b.subs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
