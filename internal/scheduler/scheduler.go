// Package scheduler runs the engine's background loops: promoting ready
// tasks onto their queue, re-leasing backing-off tasks once their retry
// deadline passes, and sweeping timed-out awakeables. The three loops run
// under golang.org/x/sync/errgroup so they share one cancellation/error
// path instead of being started as bare unsupervised goroutines.
package scheduler

import (
	"context"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/lprior-repo/nuoc-sub001/internal/domain"
	"github.com/lprior-repo/nuoc-sub001/internal/fsm"
	"github.com/lprior-repo/nuoc-sub001/internal/platform/logger"
)

// Store is the subset of *store.Store the scheduler polls.
type Store interface {
	ReadyPendingTasks(limit int) ([]domain.Task, error)
	EnqueueTask(jobID uuid.UUID, taskName, queueName string) error
	BackingOffDue(limit int) ([]domain.Task, error)
	TransitionTask(taskID uuid.UUID, newStatus domain.Status, reason string, fields map[string]any) (*domain.Task, error)
	SweepTimeouts() (int, error)
}

// Config tunes the scheduler's poll intervals and batch sizes.
type Config struct {
	ReadyPollInterval    time.Duration
	RetryPollInterval    time.Duration
	TimeoutSweepInterval time.Duration
	BatchSize            int
	DefaultQueue         string
	Retry                fsm.RetryPolicy
}

// Scheduler runs the ready-poll, retry-poll, and timeout-sweep loops.
type Scheduler struct {
	store Store
	log   *logger.Logger
	cfg   Config
}

// New builds a Scheduler over store with cfg, defaulting unset fields.
func New(store Store, baseLog *logger.Logger, cfg Config) *Scheduler {
	if cfg.ReadyPollInterval <= 0 {
		cfg.ReadyPollInterval = time.Second
	}
	if cfg.RetryPollInterval <= 0 {
		cfg.RetryPollInterval = time.Second
	}
	if cfg.TimeoutSweepInterval <= 0 {
		cfg.TimeoutSweepInterval = 2 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.DefaultQueue == "" {
		cfg.DefaultQueue = "default"
	}
	return &Scheduler{store: store, log: baseLog.With("component", "Scheduler"), cfg: cfg}
}

// Run starts all three loops and blocks until ctx is cancelled or one loop
// returns a non-nil error.
func (s *Scheduler) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.readyLoop(gctx) })
	g.Go(func() error { return s.retryLoop(gctx) })
	g.Go(func() error { return s.timeoutSweepLoop(gctx) })
	return g.Wait()
}

func (s *Scheduler) readyLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.ReadyPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.pollReady()
		}
	}
}

func (s *Scheduler) pollReady() {
	tasks, err := s.store.ReadyPendingTasks(s.cfg.BatchSize)
	if err != nil {
		s.log.Warn("ready poll failed", "error", err)
		return
	}
	for _, t := range tasks {
		if _, err := s.store.TransitionTask(t.ID, domain.StatusReady, "dependencies satisfied", nil); err != nil {
			s.log.Warn("transition to ready failed", "task_id", t.ID, "error", err)
			continue
		}
		if err := s.store.EnqueueTask(t.JobID, t.Name, s.queueFor(t)); err != nil {
			s.log.Warn("enqueue failed", "task_id", t.ID, "error", err)
		}
	}
}

// queueFor names the queue a task is enqueued on: "agent:<agent_type>" when
// the task declares one, falling back to the
// scheduler's configured default queue otherwise.
func (s *Scheduler) queueFor(t domain.Task) string {
	if t.AgentType != "" {
		return "agent:" + t.AgentType
	}
	return s.cfg.DefaultQueue
}

func (s *Scheduler) retryLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.RetryPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.pollRetries()
		}
	}
}

// PollRetriesForTest runs one retry-poll pass synchronously. Exported only
// for tests that want to drive the retry path without waiting on a ticker.
func (s *Scheduler) PollRetriesForTest() {
	s.pollRetries()
}

func (s *Scheduler) pollRetries() {
	tasks, err := s.store.BackingOffDue(s.cfg.BatchSize)
	if err != nil {
		s.log.Warn("retry poll failed", "error", err)
		return
	}
	for _, t := range tasks {
		// A retry gets a fresh attempt before it re-enters ready: bumping
		// attempt opens a new (job_id, task_name, attempt) journal scope, so
		// the handler replays from entry 0 of an empty journal instead of
		// immediately replaying the prior attempt's own recorded failure.
		// Landing in ready (not running) also keeps this path symmetric with
		// pollReady — the worker pool is the only place that transitions a
		// task into running, once it actually leases the attempt.
		nextAttempt := t.Attempt + 1
		if _, err := s.store.TransitionTask(t.ID, domain.StatusReady, "retry deadline reached", map[string]any{
			"attempt": nextAttempt,
		}); err != nil {
			s.log.Warn("transition to ready for retry failed", "task_id", t.ID, "error", err)
			continue
		}
		if err := s.store.EnqueueTask(t.JobID, t.Name, s.queueFor(t)); err != nil {
			s.log.Warn("retry enqueue failed", "task_id", t.ID, "error", err)
		}
	}
}

func (s *Scheduler) timeoutSweepLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.TimeoutSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := s.store.SweepTimeouts()
			if err != nil {
				s.log.Warn("timeout sweep failed", "error", err)
				continue
			}
			if n > 0 {
				s.log.Info("swept timed-out awakeables", "count", n)
			}
		}
	}
}
