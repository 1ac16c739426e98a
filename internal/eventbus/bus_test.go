package eventbus

import (
	"errors"
	"testing"
	"time"
)

func TestPublishOrderingAndCount(t *testing.T) {
	b := New()
	var order []int
	for i := 0; i < 3; i++ {
		i := i
		b.Subscribe("entity.created", func(Event) error {
			order = append(order, i)
			return nil
		}, nil, false, NoRetry)
	}

	n := b.Publish("entity.created", map[string]any{"id": "task-1"}, nil, "")
	if n != 3 {
		t.Fatalf("expected 3 deliveries, got %d", n)
	}
	for i, v := range order {
		if v != i {
			t.Fatalf("expected subscription order, got %v", order)
		}
	}
}

func TestOnceUnsubscribesAfterDelivery(t *testing.T) {
	b := New()
	calls := 0
	b.Subscribe("x", func(Event) error { calls++; return nil }, nil, true, NoRetry)

	b.Publish("x", nil, nil, "")
	b.Publish("x", nil, nil, "")

	if calls != 1 {
		t.Fatalf("expected exactly 1 call for a once-handler, got %d", calls)
	}
}

func TestFilterSkipsDelivery(t *testing.T) {
	b := New()
	calls := 0
	b.Subscribe("x", func(Event) error { calls++; return nil }, func(ev Event) bool {
		return ev.Payload["allow"] == true
	}, false, NoRetry)

	b.Publish("x", map[string]any{"allow": false}, nil, "")
	if calls != 0 {
		t.Fatalf("expected filter to skip delivery, got %d calls", calls)
	}
	b.Publish("x", map[string]any{"allow": true}, nil, "")
	if calls != 1 {
		t.Fatalf("expected filter to allow delivery, got %d calls", calls)
	}
}

func TestRetryExhaustionDoesNotBlockOtherSubscribers(t *testing.T) {
	b := New()
	attempts := 0
	b.Subscribe("x", func(Event) error {
		attempts++
		return errors.New("boom")
	}, nil, false, RetryPolicy{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, BackoffMultiplier: 2})

	otherCalled := false
	b.Subscribe("x", func(Event) error { otherCalled = true; return nil }, nil, false, NoRetry)

	var failed bool
	b.OnDeliveryFailure(func(name string, h Handle, err error) { failed = true })

	n := b.Publish("x", nil, nil, "")
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
	if !failed {
		t.Fatal("expected delivery-failure callback to fire")
	}
	if !otherCalled {
		t.Fatal("expected other subscriber to still be delivered to")
	}
	if n != 1 {
		t.Fatalf("expected 1 successful delivery, got %d", n)
	}
}

func TestUnsubscribeMidIterationNotReinvoked(t *testing.T) {
	b := New()
	var secondCalls int
	var h Handle
	b.Subscribe("x", func(Event) error {
		b.Unsubscribe(h)
		return nil
	}, nil, false, NoRetry)
	h = b.Subscribe("x", func(Event) error { secondCalls++; return nil }, nil, false, NoRetry)

	b.Publish("x", nil, nil, "")
	if secondCalls != 1 {
		t.Fatalf("expected the snapshot to still include the second subscriber on this publish, got %d calls", secondCalls)
	}
	b.Publish("x", nil, nil, "")
	if secondCalls != 1 {
		t.Fatalf("expected unsubscribe to take effect on the next publish, got %d calls", secondCalls)
	}
}
