// Package scheduler implements C9: interval/at/cron jobs with missed-run
// and idempotent registration, run on one dedicated worker goroutine (spec
// §4.9, §5). Job execution never blocks the event bus or the vault; the
// worker sleeps on a short ticker (<=100ms) exactly as the spec requires.
package scheduler

import (
	"fmt"
	"sync"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
)

// Status is a job's lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// TriggerKind distinguishes a job's scheduling rule.
type TriggerKind string

const (
	TriggerInterval TriggerKind = "interval"
	TriggerAt       TriggerKind = "at"
	TriggerCron     TriggerKind = "cron"
)

// Trigger describes when a job runs next (spec §3).
type Trigger struct {
	Kind     TriggerKind
	Interval time.Duration // TriggerInterval
	At       time.Time     // TriggerAt
	CronExpr string        // TriggerCron
}

// Callable is the work a job performs. Errors are captured onto the job
// (LastError, ErrorCount) and never kill the scheduler worker (spec §7).
type Callable func() error

// Job is a scheduled unit of work (spec §3).
type Job struct {
	JobID      string
	Name       string
	Trigger    Trigger
	Callable   Callable
	Status     Status
	LastRunAt  *time.Time
	NextRunAt  *time.Time
	RunCount   int
	ErrorCount int
	LastError  string
	Metadata   map[string]any
}

// Scheduler runs jobs on one dedicated worker goroutine.
type Scheduler struct {
	mu       sync.Mutex
	jobs     map[string]*Job
	order    []string // job_id insertion order, for deterministic tick iteration
	tick     time.Duration
	stopCh   chan struct{}
	doneCh   chan struct{}
	running  bool
	onError  func(job *Job, err error)
	nowFn    func() time.Time
}

// DefaultTick is the scheduler's polling interval, satisfying the spec's
// "tick interval <= 100ms" requirement.
const DefaultTick = 50 * time.Millisecond

// New returns a Scheduler with the default tick interval.
func New() *Scheduler {
	return &Scheduler{
		jobs:   make(map[string]*Job),
		tick:   DefaultTick,
		nowFn:  time.Now,
	}
}

// OnJobError installs a callback invoked whenever a job's Callable returns
// an error (for wiring a logger).
func (s *Scheduler) OnJobError(fn func(job *Job, err error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onError = fn
}

// scheduleLocked computes next-run and idempotently inserts/replaces job.
func (s *Scheduler) scheduleLocked(jobID, name string, trig Trigger, fn Callable) (*Job, error) {
	next, err := computeFirstRun(trig, s.nowFn())
	if err != nil {
		return nil, err
	}
	job, exists := s.jobs[jobID]
	if !exists {
		job = &Job{JobID: jobID, Metadata: map[string]any{}}
		s.order = append(s.order, jobID)
	}
	job.Name = name
	job.Trigger = trig
	job.Callable = fn
	job.Status = StatusPending
	job.NextRunAt = next
	s.jobs[jobID] = job
	return job, nil
}

// ScheduleInterval registers (or replaces, if jobID already exists) a job
// that runs every interval starting interval from now.
func (s *Scheduler) ScheduleInterval(jobID, name string, interval time.Duration, fn Callable) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scheduleLocked(jobID, name, Trigger{Kind: TriggerInterval, Interval: interval}, fn)
}

// ScheduleAt registers a one-shot job that runs once at 'at'.
func (s *Scheduler) ScheduleAt(jobID, name string, at time.Time, fn Callable) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scheduleLocked(jobID, name, Trigger{Kind: TriggerAt, At: at}, fn)
}

// ScheduleAtNatural registers a one-shot job parsed from a natural-language
// phrase ("tomorrow at 9am"), falling back to strict RFC3339 parsing. This
// is the kernel's one use of the teacher's olebedev/when dependency, which
// the retrieved files never exercised directly.
func (s *Scheduler) ScheduleAtNatural(jobID, name string, phrase string, fn Callable) (*Job, error) {
	at, err := ParseNaturalTime(phrase, s.nowFn())
	if err != nil {
		return nil, err
	}
	return s.ScheduleAt(jobID, name, at, fn)
}

// ScheduleCron registers a job that runs on every match of expr.
func (s *Scheduler) ScheduleCron(jobID, name string, expr string, fn Callable) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scheduleLocked(jobID, name, Trigger{Kind: TriggerCron, CronExpr: expr}, fn)
}

// Cancel transitions jobID to the terminal Cancelled status. A currently
// executing run completes without rescheduling (spec §4.9, §5).
func (s *Scheduler) Cancel(jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("scheduler: unknown job %q", jobID)
	}
	job.Status = StatusCancelled
	job.NextRunAt = nil
	return nil
}

// Get returns a copy of jobID's current state.
func (s *Scheduler) Get(jobID string) (Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return Job{}, false
	}
	return *job, true
}

// Start launches the worker goroutine if it is not already running. Safe to
// call more than once (idempotent).
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.mu.Unlock()

	go s.run()
}

// Stop signals the worker to exit and waits up to timeout for it to finish
// its current tick. Safe to call more than once, and safe to call when the
// worker was never started.
func (s *Scheduler) Stop(timeout time.Duration) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	stopCh, doneCh := s.stopCh, s.doneCh
	s.mu.Unlock()

	close(stopCh)
	select {
	case <-doneCh:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("scheduler: worker did not stop within %s", timeout)
	}
}

func (s *Scheduler) run() {
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		close(s.doneCh)
	}()

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.tickOnce()
		}
	}
}

// tickOnce runs every job whose NextRunAt has elapsed. Exactly one run is
// performed per tick per due job even if multiple interval boundaries were
// missed (e.g. the process was asleep) — computeNextRun recomputes forward
// from the actual run time, not from the missed boundary, so the backlog
// never replays (spec §8 invariant 10).
func (s *Scheduler) tickOnce() {
	now := s.nowFn()

	s.mu.Lock()
	var due []*Job
	for _, id := range s.order {
		job := s.jobs[id]
		if job.Status == StatusCancelled {
			continue
		}
		if job.NextRunAt != nil && !job.NextRunAt.After(now) {
			job.Status = StatusRunning
			due = append(due, job)
		}
	}
	s.mu.Unlock()

	for _, job := range due {
		s.runJob(job, now)
	}
}

func (s *Scheduler) runJob(job *Job, ranAt time.Time) {
	err := safeRun(job.Callable)

	s.mu.Lock()
	defer s.mu.Unlock()

	cancelled := job.Status == StatusCancelled
	job.LastRunAt = &ranAt
	job.RunCount++
	if err != nil {
		job.ErrorCount++
		job.LastError = err.Error()
		job.Status = StatusFailed
		if s.onError != nil {
			cb := s.onError
			s.mu.Unlock()
			cb(job, err)
			s.mu.Lock()
		}
	} else {
		job.LastError = ""
		job.Status = StatusCompleted
	}

	if cancelled || job.Status == StatusCancelled {
		job.Status = StatusCancelled
		job.NextRunAt = nil
		return
	}
	next, nerr := computeNextRun(job.Trigger, ranAt)
	if nerr != nil {
		job.NextRunAt = nil
		return
	}
	job.NextRunAt = next
	if next != nil {
		job.Status = StatusPending
	}
}

func safeRun(fn Callable) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return fn()
}

// ParseNaturalTime parses phrase via olebedev/when's English ruleset,
// falling back to RFC3339 if the phrase isn't natural-language.
func ParseNaturalTime(phrase string, now time.Time) (time.Time, error) {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	result, err := w.Parse(phrase, now)
	if err == nil && result != nil {
		return result.Time, nil
	}
	if t, perr := time.Parse(time.RFC3339, phrase); perr == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("scheduler: could not parse %q as a time", phrase)
}
