package service

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/crabzie/factory-runtime/internal/core/domain"
	"github.com/crabzie/factory-runtime/internal/core/port"
	"go.uber.org/zap"
)

type runningJob struct {
	job   domain.Job
	timer port.Timer
	// expiredAt is set once the countdown elapsed while the release is retried
	expiredAt time.Time
}

const defaultReleaseRetry = time.Second

// JobTracker owns the machine -> in-flight job table and the countdown of
// every job. A machine has at most one live job; starting another one on the
// same machine supersedes it and its completion event is never emitted.
//
// Expiry and supersession race on mu. Whoever takes it first wins: an
// expiry that finds another job id on its machine has been superseded and
// does nothing. A job stays live until its machine is released in the store;
// a failed release is retried every releaseRetry.
type JobTracker struct {
	store        port.ResourceStore
	clock        port.Clock
	notifier     *CompletionNotifier
	metrics      port.Metrics
	unit         time.Duration
	releaseRetry time.Duration
	log          *zap.Logger

	mu   sync.Mutex
	jobs map[string]*runningJob
	busy map[string]time.Duration
}

// TrackerOption customizes a JobTracker
type TrackerOption func(*JobTracker)

// WithTimeUnit sets the wall time of one duration unit (default one second)
func WithTimeUnit(unit time.Duration) TrackerOption {
	return func(t *JobTracker) {
		if unit > 0 {
			t.unit = unit
		}
	}
}

// WithReleaseRetry sets how long to wait before retrying a failed release
func WithReleaseRetry(d time.Duration) TrackerOption {
	return func(t *JobTracker) {
		if d > 0 {
			t.releaseRetry = d
		}
	}
}

// WithTrackerMetrics records busy state and completions
func WithTrackerMetrics(m port.Metrics) TrackerOption {
	return func(t *JobTracker) {
		if m != nil {
			t.metrics = m
		}
	}
}

func NewJobTracker(
	store port.ResourceStore,
	clock port.Clock,
	notifier *CompletionNotifier,
	log *zap.Logger,
	opts ...TrackerOption,
) *JobTracker {
	t := &JobTracker{
		store:        store,
		clock:        clock,
		notifier:     notifier,
		metrics:      port.NopMetrics{},
		unit:         time.Second,
		releaseRetry: defaultReleaseRetry,
		log:          log,
		jobs:         make(map[string]*runningJob),
		busy:         make(map[string]time.Duration),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// StartJob marks the machine busy, cancels any live job on it and arms a
// countdown of duration units. The started job is returned with its id,
// start time and wall duration filled in.
func (t *JobTracker) StartJob(ctx context.Context, machine string, duration int, job domain.Job) (domain.Job, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.store.UpdateMachineState(ctx, machine, domain.MachineBusy); err != nil {
		return job, fmt.Errorf("mark %s busy: %w", machine, err)
	}
	return t.startLocked(machine, duration, job), nil
}

// track arms the countdown of a job whose machine the caller already marked
// busy in the store.
func (t *JobTracker) track(machine string, duration int, job domain.Job) domain.Job {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.startLocked(machine, duration, job)
}

func (t *JobTracker) startLocked(machine string, duration int, job domain.Job) domain.Job {
	if prev, ok := t.jobs[machine]; ok {
		prev.timer.Stop()
		delete(t.jobs, machine)
		t.log.Info("Superseded running job",
			zap.String("machine", machine),
			zap.String("job_id", prev.job.ID),
			zap.String("order_id", prev.job.OrderID))
	}

	if job.ID == "" {
		job.ID = domain.NewJobID()
	}
	job.Machine = machine
	job.StartedAt = t.clock.Now()
	job.Duration = time.Duration(max(duration, 0)) * t.unit

	jobID := job.ID
	running := &runningJob{job: job}
	running.timer = t.clock.AfterFunc(job.Duration, func() {
		t.expire(machine, jobID)
	})
	t.jobs[machine] = running
	t.metrics.SetMachineBusy(machine, true)

	t.log.Info("Job started",
		zap.String("machine", machine),
		zap.String("job_id", job.ID),
		zap.String("order_id", job.OrderID),
		zap.String("product", job.Product),
		zap.Int("quantity", job.Quantity),
		zap.Duration("duration", job.Duration))

	return job
}

// expire runs when a countdown elapses
func (t *JobTracker) expire(machine, jobID string) {
	ctx := context.Background()

	t.mu.Lock()
	running, ok := t.jobs[machine]
	if !ok || running.job.ID != jobID {
		t.mu.Unlock()
		t.log.Debug("Ignoring expiry of superseded job",
			zap.String("machine", machine),
			zap.String("job_id", jobID))
		return
	}
	if running.expiredAt.IsZero() {
		running.expiredAt = t.clock.Now()
	}

	if err := t.store.UpdateMachineState(ctx, machine, domain.MachineIdle); err != nil {
		running.timer = t.clock.AfterFunc(t.releaseRetry, func() {
			t.expire(machine, jobID)
		})
		t.mu.Unlock()
		t.log.Error("Failed to release machine, retrying",
			zap.String("machine", machine),
			zap.String("job_id", jobID),
			zap.Duration("retry_in", t.releaseRetry),
			zap.Error(err))
		return
	}
	delete(t.jobs, machine)

	now := running.expiredAt
	elapsed := now.Sub(running.job.StartedAt)
	t.busy[machine] += elapsed

	schedule, err := t.store.LoadSchedule(ctx)
	if err != nil {
		t.log.Warn("Failed to snapshot schedule for completion event",
			zap.String("machine", machine),
			zap.Error(err))
		schedule = domain.Schedule{}
	}
	t.mu.Unlock()

	t.metrics.SetMachineBusy(machine, false)
	t.metrics.ObserveCompletion(machine, elapsed)

	event := domain.NewCompletionEvent(running.job, schedule, now)
	t.log.Info("Job completed",
		zap.String("machine", machine),
		zap.String("job_id", jobID),
		zap.String("order_id", running.job.OrderID),
		zap.Duration("elapsed", elapsed))

	if err := t.notifier.Notify(ctx, event); err != nil {
		t.log.Warn("Completion notification failed",
			zap.String("machine", machine),
			zap.String("order_id", running.job.OrderID),
			zap.Error(err))
	}
}

// Summarize returns the cumulative busy seconds of every machine that has
// completed at least one job. Wall time is reported, so with a time unit
// other than one second the figures differ from the duration units.
func (t *JobTracker) Summarize() map[string]float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]float64, len(t.busy))
	for machine, d := range t.busy {
		out[machine] = d.Seconds()
	}
	return out
}

// ActiveJobs lists live jobs ordered by machine
func (t *JobTracker) ActiveJobs() []domain.Job {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]domain.Job, 0, len(t.jobs))
	for _, machine := range slices.Sorted(maps.Keys(t.jobs)) {
		out = append(out, t.jobs[machine].job)
	}
	return out
}

// Stop cancels every countdown without emitting completion events.
// Machines stay busy in the store.
func (t *JobTracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for machine, running := range t.jobs {
		running.timer.Stop()
		delete(t.jobs, machine)
		t.log.Info("Cancelled running job on shutdown",
			zap.String("machine", machine),
			zap.String("order_id", running.job.OrderID))
	}
}
