// Package workerpool is a goroutine pool that registers as a Worker, polls
// its queues for leased tasks, and runs each one through the dispatch
// layer under the journal scope of the task's own (job_id, task_name,
// attempt). A poller goroutine that panics mid-handler recovers and
// completes the task as a failure instead of crashing the process.
package workerpool

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/lprior-repo/nuoc-sub001/internal/dispatch"
	"github.com/lprior-repo/nuoc-sub001/internal/domain"
	"github.com/lprior-repo/nuoc-sub001/internal/execctx"
	"github.com/lprior-repo/nuoc-sub001/internal/fsm"
	"github.com/lprior-repo/nuoc-sub001/internal/platform/apperr"
	"github.com/lprior-repo/nuoc-sub001/internal/platform/logger"
)

// Store is the subset of *store.Store the pool needs to lease, run, and
// complete tasks.
type Store interface {
	RegisterWorker(id string, capabilities []string, maxSlots int) (*domain.Worker, error)
	PollQueue(workerID, queueName string) (*domain.QueuedTask, error)
	HeartbeatWorker(workerID string) error
	CompleteQueuedTask(jobID uuid.UUID, taskName string) error
	ReapStaleLeases(timeout time.Duration) (int, error)

	GetTaskByName(jobID uuid.UUID, name string) (*domain.Task, error)
	TransitionTask(taskID uuid.UUID, newStatus domain.Status, reason string, fields map[string]any) (*domain.Task, error)
}

// Dispatcher is the subset of *dispatch.Dispatcher the pool invokes a
// leased task's handler through.
type Dispatcher interface {
	InvokeTask(ctx context.Context, inv dispatch.TaskInvocation, payload []byte) ([]byte, error)
}

// Metrics is the subset of *observability.Metrics the pool instruments.
// Declared locally so workerpool never imports the observability package
// directly; a nil Metrics is always safe to pass.
type Metrics interface {
	IncTaskLeased()
	AddLeasesReaped(n int)
	IncTaskTransition(status string)
	SetWorkerSlots(workerID, kind string, n float64)
}

// Config tunes one Pool's polling behavior.
type Config struct {
	WorkerID      string
	Queues        []string
	Concurrency   int
	MaxSlots      int
	PollInterval  time.Duration
	HeartbeatTick time.Duration
	LeaseTimeout  time.Duration
	RunReaper     bool
	ReaperTick    time.Duration

	AttemptCeiling time.Duration
	Retry          fsm.RetryPolicy
}

// Pool runs Config.Concurrency poller goroutines plus a heartbeat loop
// (and, when RunReaper is set, a lease-reaper loop) until its context is
// cancelled.
type Pool struct {
	store      Store
	dispatcher Dispatcher
	log        *logger.Logger
	metrics    Metrics
	cfg        Config
}

// New builds a Pool, filling in a sane default for every unset Config field.
func New(store Store, dispatcher Dispatcher, baseLog *logger.Logger, metrics Metrics, cfg Config) *Pool {
	if cfg.WorkerID == "" {
		cfg.WorkerID = "worker-" + uuid.New().String()[:8]
	}
	if len(cfg.Queues) == 0 {
		cfg.Queues = []string{"default"}
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.MaxSlots <= 0 {
		cfg.MaxSlots = cfg.Concurrency
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.HeartbeatTick <= 0 {
		cfg.HeartbeatTick = 5 * time.Second
	}
	if cfg.LeaseTimeout <= 0 {
		cfg.LeaseTimeout = 30 * time.Second
	}
	if cfg.ReaperTick <= 0 {
		cfg.ReaperTick = 5 * time.Second
	}
	if cfg.AttemptCeiling <= 0 {
		cfg.AttemptCeiling = 5 * time.Minute
	}
	return &Pool{
		store:      store,
		dispatcher: dispatcher,
		log:        baseLog.With("component", "WorkerPool", "worker_id", cfg.WorkerID),
		metrics:    metrics,
		cfg:        cfg,
	}
}

// Run registers the worker and blocks, running poller/heartbeat/reaper
// loops under an errgroup until ctx is cancelled or one loop errors.
func (p *Pool) Run(ctx context.Context) error {
	if _, err := p.store.RegisterWorker(p.cfg.WorkerID, p.cfg.Queues, p.cfg.MaxSlots); err != nil {
		return fmt.Errorf("register worker: %w", err)
	}
	p.log.Info("worker registered", "queues", p.cfg.Queues, "max_slots", p.cfg.MaxSlots, "concurrency", p.cfg.Concurrency)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < p.cfg.Concurrency; i++ {
		g.Go(func() error { return p.pollLoop(gctx) })
	}
	g.Go(func() error { return p.heartbeatLoop(gctx) })
	if p.cfg.RunReaper {
		g.Go(func() error { return p.reaperLoop(gctx) })
	}
	return g.Wait()
}

func (p *Pool) pollLoop(ctx context.Context) error {
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			for _, queue := range p.cfg.Queues {
				if p.pollOnce(ctx, queue) {
					break
				}
			}
		}
	}
}

// pollOnce leases and runs at most one task from queue. Returns true if a
// task was claimed, so the caller can stop scanning further queues this
// tick and let the next tick make progress on the others.
func (p *Pool) pollOnce(ctx context.Context, queue string) bool {
	queued, err := p.store.PollQueue(p.cfg.WorkerID, queue)
	if err != nil {
		p.log.Warn("poll failed", "queue", queue, "error", err)
		return false
	}
	if queued == nil {
		return false
	}
	if p.metrics != nil {
		p.metrics.IncTaskLeased()
	}
	p.runTask(ctx, *queued)
	return true
}

// runTask executes one leased task end to end: load, transition to
// running, dispatch, and resolve the outcome. A panic inside the handler
// is recovered and converted into a fatal completion instead of crashing
// the poller goroutine.
func (p *Pool) runTask(ctx context.Context, queued domain.QueuedTask) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("task handler panicked", "job_id", queued.JobID, "task_name", queued.TaskName, "panic", r)
			if t, err := p.store.GetTaskByName(queued.JobID, queued.TaskName); err == nil && t.Status == domain.StatusRunning {
				p.resolve(t, apperr.Fatal(fmt.Errorf("task handler panicked: %v", r)), nil)
			}
			_ = p.store.CompleteQueuedTask(queued.JobID, queued.TaskName)
		}
	}()

	task, err := p.store.GetTaskByName(queued.JobID, queued.TaskName)
	if err != nil {
		p.log.Warn("load leased task failed", "job_id", queued.JobID, "task_name", queued.TaskName, "error", err)
		_ = p.store.CompleteQueuedTask(queued.JobID, queued.TaskName)
		return
	}

	running, err := p.store.TransitionTask(task.ID, domain.StatusRunning, "leased by "+p.cfg.WorkerID, nil)
	if err != nil {
		p.log.Warn("transition to running failed", "task_id", task.ID, "error", err)
		_ = p.store.CompleteQueuedTask(queued.JobID, queued.TaskName)
		return
	}
	p.transitionMetric(domain.StatusRunning)

	attemptCtx, cancel := context.WithTimeout(ctx, p.cfg.AttemptCeiling)
	defer cancel()

	payload, _ := json.Marshal(map[string]any{
		"run_cmd": running.RunCmd,
		"needs":   running.NeedsList(),
	})

	output, runErr := p.dispatcher.InvokeTask(attemptCtx, dispatch.TaskInvocation{
		JobID:     running.JobID,
		TaskName:  running.Name,
		Attempt:   running.Attempt,
		Entity:    running.AgentType,
		Handler:   running.Name,
		ObjectKey: running.JobID.String(),
	}, payload)

	if attemptCtx.Err() == context.DeadlineExceeded {
		runErr = apperr.Transient(fmt.Errorf("attempt exceeded wall-clock ceiling of %s", p.cfg.AttemptCeiling))
	}

	p.resolve(running, runErr, output)
	if err := p.store.CompleteQueuedTask(queued.JobID, queued.TaskName); err != nil {
		p.log.Warn("complete queued task failed", "job_id", queued.JobID, "task_name", queued.TaskName, "error", err)
	}
}

// resolve applies the outcome of one attempt to the task's FSM state:
// suspend stays suspended, a transient failure backs off with the
// configured retry policy, anything else fatal completes the task as a
// failure, and a clean return completes it as a success.
func (p *Pool) resolve(task *domain.Task, runErr error, output []byte) {
	if execctx.IsSuspend(runErr) {
		if _, err := p.store.TransitionTask(task.ID, domain.StatusSuspended, runErr.Error(), nil); err != nil {
			p.log.Warn("transition to suspended failed", "task_id", task.ID, "error", err)
			return
		}
		p.transitionMetric(domain.StatusSuspended)
		return
	}

	if runErr != nil && apperr.KindOf(runErr) == apperr.KindTransient {
		retryCount := task.RetryCount + 1
		nextRetryAt := p.cfg.Retry.NextRetryAt(time.Now(), retryCount)
		if _, err := p.store.TransitionTask(task.ID, domain.StatusBackingOff, runErr.Error(), map[string]any{
			"retry_count":   retryCount,
			"next_retry_at": nextRetryAt,
		}); err != nil {
			p.log.Warn("transition to backing-off failed", "task_id", task.ID, "error", err)
			return
		}
		p.transitionMetric(domain.StatusBackingOff)
		return
	}

	if runErr != nil {
		failure := domain.CompletionFailure
		if _, err := p.store.TransitionTask(task.ID, domain.StatusCompleted, runErr.Error(), map[string]any{
			"completion_result":  &failure,
			"completion_failure": runErr.Error(),
		}); err != nil {
			p.log.Warn("transition to completed(failure) failed", "task_id", task.ID, "error", err)
			return
		}
		p.transitionMetric(domain.StatusCompleted)
		return
	}

	success := domain.CompletionSuccess
	if _, err := p.store.TransitionTask(task.ID, domain.StatusCompleted, "handler succeeded", map[string]any{
		"completion_result": &success,
		"output":            output,
	}); err != nil {
		p.log.Warn("transition to completed(success) failed", "task_id", task.ID, "error", err)
		return
	}
	p.transitionMetric(domain.StatusCompleted)
}

func (p *Pool) transitionMetric(status domain.Status) {
	if p.metrics == nil {
		return
	}
	p.metrics.IncTaskTransition(string(status))
}

func (p *Pool) heartbeatLoop(ctx context.Context) error {
	ticker := time.NewTicker(p.cfg.HeartbeatTick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := p.store.HeartbeatWorker(p.cfg.WorkerID); err != nil {
				p.log.Warn("heartbeat failed", "error", err)
			}
		}
	}
}

func (p *Pool) reaperLoop(ctx context.Context) error {
	ticker := time.NewTicker(p.cfg.ReaperTick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := p.store.ReapStaleLeases(p.cfg.LeaseTimeout)
			if err != nil {
				p.log.Warn("reap stale leases failed", "error", err)
				continue
			}
			if n > 0 {
				p.log.Info("reaped stale leases", "count", n)
				if p.metrics != nil {
					p.metrics.AddLeasesReaped(n)
				}
			}
		}
	}
}
