package scheduler

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestIntervalJobRunsRepeatedly(t *testing.T) {
	s := New()
	s.tick = time.Millisecond
	var count int32
	_, err := s.ScheduleInterval("job-1", "tick", 5*time.Millisecond, func() error {
		atomic.AddInt32(&count, 1)
		return nil
	})
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	s.Start()
	defer s.Stop(time.Second)

	deadline := time.Now().Add(200 * time.Millisecond)
	for time.Now().Before(deadline) {
		if atomic.LoadInt32(&count) >= 3 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if atomic.LoadInt32(&count) < 3 {
		t.Fatalf("expected at least 3 runs, got %d", count)
	}
}

func TestScheduleIsIdempotentByJobID(t *testing.T) {
	s := New()
	var calls int32
	for i := 0; i < 2; i++ {
		_, err := s.ScheduleInterval("job-x", "same", time.Hour, func() error {
			atomic.AddInt32(&calls, 1)
			return nil
		})
		if err != nil {
			t.Fatalf("schedule: %v", err)
		}
	}
	s.mu.Lock()
	n := len(s.jobs)
	s.mu.Unlock()
	if n != 1 {
		t.Fatalf("expected re-scheduling job-x to replace, not duplicate: got %d jobs", n)
	}
}

func TestCancelPreventsFurtherRuns(t *testing.T) {
	s := New()
	s.tick = time.Millisecond
	var count int32
	_, err := s.ScheduleInterval("job-c", "cancel me", 2*time.Millisecond, func() error {
		atomic.AddInt32(&count, 1)
		return nil
	})
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if err := s.Cancel("job-c"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	s.Start()
	time.Sleep(20 * time.Millisecond)
	if err := s.Stop(time.Second); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if atomic.LoadInt32(&count) != 0 {
		t.Fatalf("expected cancelled job to never run, got %d calls", count)
	}
	job, ok := s.Get("job-c")
	if !ok || job.Status != StatusCancelled {
		t.Fatalf("expected terminal Cancelled status, got %+v ok=%v", job, ok)
	}
}

func TestMissedIntervalRunsExactlyOnceThenResumesCadence(t *testing.T) {
	s := New()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.nowFn = func() time.Time { return base }

	job, err := s.ScheduleInterval("job-m", "missed", time.Minute, func() error { return nil })
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if !job.NextRunAt.Equal(base.Add(time.Minute)) {
		t.Fatalf("expected first NextRunAt = base+1m, got %v", job.NextRunAt)
	}

	// Simulate the process sleeping through several missed boundaries: the
	// next tick fires long after NextRunAt.
	ranAt := base.Add(10 * time.Minute)
	s.runJob(job, ranAt)

	if job.RunCount != 1 {
		t.Fatalf("expected exactly one catch-up run, got RunCount=%d", job.RunCount)
	}
	want := ranAt.Add(time.Minute)
	if !job.NextRunAt.Equal(want) {
		t.Fatalf("expected next run computed forward from actual run time %v, got %v", want, job.NextRunAt)
	}
}

func TestCronMatchesEveryFiveMinutes(t *testing.T) {
	cs, err := parseCron("*/5 * * * *")
	if err != nil {
		t.Fatalf("parseCron: %v", err)
	}
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	if !cs.matches(t0) {
		t.Fatal("expected 00:00 to match */5")
	}
	if cs.matches(t0.Add(3 * time.Minute)) {
		t.Fatal("expected 00:03 to not match */5")
	}
	next, err := cs.nextAfter(t0)
	if err != nil {
		t.Fatalf("nextAfter: %v", err)
	}
	if !next.Equal(t0.Add(5 * time.Minute)) {
		t.Fatalf("expected next match at 00:05, got %v", next)
	}
}

func TestAtTriggerDoesNotRecur(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	next, err := computeNextRun(Trigger{Kind: TriggerAt, At: base}, base)
	if err != nil {
		t.Fatalf("computeNextRun: %v", err)
	}
	if next != nil {
		t.Fatalf("expected at-trigger to not reschedule, got %v", next)
	}
}
