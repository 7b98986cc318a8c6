package scheduler_test

import (
	"testing"
	"time"

	"github.com/lprior-repo/nuoc-sub001/internal/domain"
	"github.com/lprior-repo/nuoc-sub001/internal/fsm"
	"github.com/lprior-repo/nuoc-sub001/internal/platform/logger"
	"github.com/lprior-repo/nuoc-sub001/internal/scheduler"
	"github.com/lprior-repo/nuoc-sub001/internal/store/storetest"
)

// A backing-off task whose retry deadline has passed lands in ready (not
// running) with a bumped Attempt, so its next run opens a fresh
// (job_id, task_name, attempt) journal scope instead of replaying the
// failed attempt's own recorded failure.
func TestPollRetriesBumpsAttemptAndLandsInReady(t *testing.T) {
	db := storetest.SQLite(t)
	s := storetest.New(db)
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}

	job, err := s.CreateJob("retry-job")
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	task, err := s.CreateTask(job.ID, "flaky-step", nil, "gpt", "", "", "")
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	if task.Attempt != 1 {
		t.Fatalf("expected a freshly created task to start at attempt 1, got %d", task.Attempt)
	}

	if _, err := s.TransitionTask(task.ID, domain.StatusReady, "ready", nil); err != nil {
		t.Fatalf("to ready: %v", err)
	}
	if _, err := s.TransitionTask(task.ID, domain.StatusRunning, "leased", nil); err != nil {
		t.Fatalf("to running: %v", err)
	}
	past := time.Now().Add(-time.Minute)
	if _, err := s.TransitionTask(task.ID, domain.StatusBackingOff, "transient failure", map[string]any{
		"retry_count":   1,
		"next_retry_at": &past,
	}); err != nil {
		t.Fatalf("to backing-off: %v", err)
	}

	sched := scheduler.New(s, log, scheduler.Config{Retry: fsm.RetryPolicy{Base: time.Millisecond, Factor: 2, Cap: time.Second}})
	sched.PollRetriesForTest()

	got, err := s.GetTaskByName(job.ID, task.Name)
	if err != nil {
		t.Fatalf("reload task: %v", err)
	}
	if got.Status != domain.StatusReady {
		t.Fatalf("expected retried task to land in ready, got %s", got.Status)
	}
	if got.Attempt != 2 {
		t.Fatalf("expected attempt bumped to 2, got %d", got.Attempt)
	}

	depth, err := s.QueueDepth("agent:gpt")
	if err != nil {
		t.Fatalf("queue depth: %v", err)
	}
	if depth != 1 {
		t.Fatalf("expected the retried task enqueued once, queue depth=%d", depth)
	}
}
