package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/me/taskd/internal/executor"
	"github.com/me/taskd/internal/store"
	"github.com/me/taskd/pkg/model"
	"github.com/robfig/cron/v3"
)

// Config holds scheduler configuration.
type Config struct {
	// PollInterval is the sleep between cycles.
	PollInterval time.Duration `yaml:"poll_interval"`

	// Lookahead is added to "now" when selecting due tasks. It must exceed
	// PollInterval or tasks falling between two polls run late.
	Lookahead time.Duration `yaml:"lookahead"`

	// LeaseTTL bounds how long a claim survives a crashed scheduler.
	LeaseTTL time.Duration `yaml:"lease_ttl"`

	// RepeatSchedule is a cron spec (or descriptor such as "@daily" or
	// "@every 1h") used to compute the next run of repeating tasks.
	RepeatSchedule string `yaml:"repeat_schedule"`

	// Owner identifies this loop's claims. Empty means a random id.
	Owner string `yaml:"owner"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		PollInterval:   4 * time.Second,
		Lookahead:      5 * time.Second,
		LeaseTTL:       5 * time.Minute,
		RepeatSchedule: "@daily",
	}
}

// Option configures optional Loop behaviour.
type Option func(*Loop)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Loop) {
		l.now = now
	}
}

// Loop implements the Scheduler interface with a polling-based scheduling loop.
type Loop struct {
	store    store.Store
	registry *executor.Registry
	config   Config
	repeat   cron.Schedule
	owner    string
	now      func() time.Time
	logger   *slog.Logger
	metrics  metrics

	started  atomic.Bool
	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewLoop creates a new scheduler loop. It fails when cfg.RepeatSchedule
// is not a valid cron spec.
func NewLoop(st store.Store, reg *executor.Registry, cfg Config, logger *slog.Logger, opts ...Option) (*Loop, error) {
	def := DefaultConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.Lookahead < 0 {
		cfg.Lookahead = 0
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = def.LeaseTTL
	}
	if cfg.RepeatSchedule == "" {
		cfg.RepeatSchedule = def.RepeatSchedule
	}
	repeat, err := cron.ParseStandard(cfg.RepeatSchedule)
	if err != nil {
		return nil, fmt.Errorf("parse repeat schedule %q: %w", cfg.RepeatSchedule, err)
	}
	owner := cfg.Owner
	if owner == "" {
		owner = "sched_" + uuid.New().String()
	}

	l := &Loop{
		store:    st,
		registry: reg,
		config:   cfg,
		repeat:   repeat,
		owner:    owner,
		now:      time.Now,
		logger:   logger.With("component", "scheduler", "owner", owner),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Owner returns the id this loop claims tasks under.
func (l *Loop) Owner() string {
	return l.owner
}

// Start begins the scheduling loop. Blocks until ctx is cancelled or Stop is called.
// The first cycle runs immediately; later cycles start PollInterval after
// the previous one finished.
func (l *Loop) Start(ctx context.Context) error {
	l.started.Store(true)
	defer close(l.doneCh)
	defer l.releaseClaims()

	l.logger.Info("scheduler started",
		"poll_interval", l.config.PollInterval,
		"lookahead", l.config.Lookahead,
		"lease_ttl", l.config.LeaseTTL,
		"repeat_schedule", l.config.RepeatSchedule,
	)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("scheduler stopping (context cancelled)")
			return ctx.Err()
		case <-l.stopCh:
			l.logger.Info("scheduler stopping (stop called)")
			return nil
		case <-timer.C:
			if err := l.Tick(ctx); err != nil {
				l.logger.Error("tick error", "error", err)
			}
			timer.Reset(l.config.PollInterval)
		}
	}
}

// Stop gracefully shuts down the scheduler and waits for the current tick to finish.
func (l *Loop) Stop() error {
	l.stopOnce.Do(func() { close(l.stopCh) })
	if l.started.Load() {
		<-l.doneCh
	}
	return nil
}

// Stats returns a snapshot of the loop counters.
func (l *Loop) Stats() model.SchedulerStats {
	return l.metrics.snapshot(l.owner)
}

// Tick runs a single scheduling iteration: claim due tasks, execute them in
// order, then delete or reschedule them. Only a failed claim is returned as
// an error; execution and reconcile failures are logged and counted.
func (l *Loop) Tick(ctx context.Context) error {
	start := l.now()
	deadline := start.Add(l.config.Lookahead)
	l.logger.Debug("checking tasks", "cycle", l.metrics.cycles.Load(), "before", deadline)

	tasks, err := l.store.ClaimDue(ctx, l.owner, deadline, start, l.config.LeaseTTL)
	if err != nil {
		l.metrics.pollFailures.Add(1)
		return fmt.Errorf("poll: %w", err)
	}

	var done, release []int64
	var repeating []*model.Task
	for i, task := range tasks {
		if ctx.Err() != nil {
			for _, rest := range tasks[i:] {
				release = append(release, rest.ID)
			}
			break
		}
		// A long batch can outlive its lease; another loop may own the task now.
		if !task.Claimed(l.now()) {
			l.metrics.leaseExpired.Add(1)
			l.logger.Warn("lease expired before execution, skipping task",
				"task_id", task.ID, "lease_expires_at", task.LeaseExpiresAt)
			continue
		}
		if !l.execute(ctx, task) {
			release = append(release, task.ID)
			continue
		}
		if task.Repeat {
			repeating = append(repeating, task)
		} else {
			done = append(done, task.ID)
		}
	}

	// Executed tasks are reconciled even if ctx was cancelled meanwhile.
	l.reconcile(context.WithoutCancel(ctx), done, repeating, release)

	l.metrics.cycleDone(start, l.now().Sub(start))
	return nil
}

// execute runs one task and records its outcome. It returns false when the
// run was cut short by ctx, in which case the task counts as not executed.
func (l *Loop) execute(ctx context.Context, task *model.Task) bool {
	ranAt := l.now().UTC()
	task.LastRun = &ranAt

	l.logger.Info("executing task", "task_id", task.ID, "task_type", task.TaskType)
	res := l.registry.Run(ctx, task)

	if !res.OK() && ctx.Err() != nil && errors.Is(res.Err, ctx.Err()) {
		l.metrics.interrupted.Add(1)
		l.logger.Warn("task interrupted, releasing claim",
			"task_id", task.ID, "task_type", task.TaskType, "error", res.Err)
		return false
	}

	l.metrics.executed.Add(1)
	if !res.OK() {
		l.metrics.executionFailures.Add(1)
		l.logger.Warn("task execution failed",
			"task_id", task.ID, "task_type", task.TaskType,
			"duration", res.Duration, "error", res.Err)
		return true
	}
	l.logger.Info("task executed",
		"task_id", task.ID, "task_type", task.TaskType,
		"duration", res.Duration, "output", res.Output)
	return true
}

// reconcile deletes finished one-shot tasks in one batch, moves repeating
// tasks to their next run and hands back claims on tasks that did not run.
// A failure leaves the claim to expire, after which the task is eligible again.
func (l *Loop) reconcile(ctx context.Context, done []int64, repeating []*model.Task, release []int64) {
	if len(done) > 0 {
		n, err := l.store.DeleteClaimed(ctx, l.owner, done)
		if err != nil {
			l.metrics.reconcileFailures.Add(1)
			l.logger.Error("delete executed tasks", "count", len(done), "error", err)
		} else {
			l.metrics.deleted.Add(uint64(n))
			if n < int64(len(done)) {
				l.logger.Warn("some executed tasks were not deleted", "want", len(done), "deleted", n)
			}
		}
	}

	for _, task := range repeating {
		next := l.nextRun(task)
		err := l.store.Reschedule(ctx, l.owner, task.ID, next, *task.LastRun)
		switch {
		case errors.Is(err, store.ErrLeaseLost):
			l.metrics.reconcileFailures.Add(1)
			l.logger.Warn("reschedule skipped, task no longer claimed", "task_id", task.ID)
		case err != nil:
			l.metrics.reconcileFailures.Add(1)
			l.logger.Error("reschedule task", "task_id", task.ID, "error", err)
		default:
			l.metrics.rescheduled.Add(1)
			l.logger.Info("task rescheduled", "task_id", task.ID, "next", next)
		}
	}

	if len(release) > 0 {
		n, err := l.store.ReleaseTasks(ctx, l.owner, release)
		if err != nil {
			l.metrics.reconcileFailures.Add(1)
			l.logger.Error("release unexecuted tasks", "count", len(release), "error", err)
		} else {
			l.logger.Info("released unexecuted tasks", "count", n)
		}
	}
}

// nextRun returns the first repeat-schedule activation after both the
// task's previous slot and its last run.
func (l *Loop) nextRun(task *model.Task) time.Time {
	base := task.ScheduledFor
	if task.LastRun != nil && task.LastRun.After(base) {
		base = *task.LastRun
	}
	return l.repeat.Next(base).UTC()
}

// releaseClaims hands back claims this loop still holds so another instance
// need not wait for the leases to expire.
func (l *Loop) releaseClaims() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	n, err := l.store.ReleaseClaims(ctx, l.owner)
	if err != nil {
		l.logger.Error("release claims", "error", err)
		return
	}
	if n > 0 {
		l.logger.Info("released claims", "count", n)
	}
}
