package store_test

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/lprior-repo/nuoc-sub001/internal/domain"
	"github.com/lprior-repo/nuoc-sub001/internal/platform/apperr"
	"github.com/lprior-repo/nuoc-sub001/internal/store/storetest"
)

// A resolved awakeable is terminal: a second resolve or a reject against the
// same id must fail rather than silently overwrite the first outcome.
func TestAwakeableResolveIsTerminal(t *testing.T) {
	db := storetest.SQLite(t)
	s := storetest.New(db)
	jobID := uuid.New()

	aw, err := s.CreateAwakeable("aw-1", jobID, "approve", 0, nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := s.ResolveAwakeable(aw.ID, []byte(`{"ok":true}`)); err != nil {
		t.Fatalf("first resolve: %v", err)
	}

	if _, err := s.ResolveAwakeable(aw.ID, []byte(`{"ok":false}`)); apperr.KindOf(err) != apperr.KindNotPending {
		t.Fatalf("expected KindNotPending for duplicate resolve, got %v", err)
	}
	if _, err := s.RejectAwakeable(aw.ID, "too late"); apperr.KindOf(err) != apperr.KindNotPending {
		t.Fatalf("expected KindNotPending rejecting an already-resolved awakeable, got %v", err)
	}

	got, err := s.GetAwakeable(aw.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != domain.AwakeableResolved {
		t.Fatalf("expected status to remain resolved, got %s", got.Status)
	}
}

// SweepTimeouts only touches awakeables whose deadline has passed, and it
// wakes the suspended task that was waiting on each one.
func TestSweepTimeoutsWakesOnlyExpiredAwakeables(t *testing.T) {
	db := storetest.SQLite(t)
	s := storetest.New(db)

	job, err := s.CreateJob("timeout-job")
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	task, err := s.CreateTask(job.ID, "wait-for-human", nil, "", "", "", "")
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	if _, err := s.TransitionTask(task.ID, domain.StatusReady, "ready", nil); err != nil {
		t.Fatalf("to ready: %v", err)
	}
	if _, err := s.TransitionTask(task.ID, domain.StatusRunning, "start", nil); err != nil {
		t.Fatalf("to running: %v", err)
	}
	if _, err := s.TransitionTask(task.ID, domain.StatusSuspended, "await awakeable", nil); err != nil {
		t.Fatalf("to suspended: %v", err)
	}

	past := time.Now().Add(-time.Minute)
	future := time.Now().Add(time.Hour)
	expired, err := s.CreateAwakeable("aw-expired", job.ID, task.Name, 0, &past)
	if err != nil {
		t.Fatalf("create expired: %v", err)
	}
	if _, err := s.CreateAwakeable("aw-live", job.ID, task.Name, 1, &future); err != nil {
		t.Fatalf("create live: %v", err)
	}

	n, err := s.SweepTimeouts()
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected exactly 1 swept awakeable, got %d", n)
	}

	gotExpired, err := s.GetAwakeable(expired.ID)
	if err != nil {
		t.Fatalf("get expired: %v", err)
	}
	if gotExpired.Status != domain.AwakeableTimeout {
		t.Fatalf("expected expired awakeable status=timeout, got %s", gotExpired.Status)
	}

	gotTask, err := s.GetTaskByName(job.ID, task.Name)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if gotTask.Status != domain.StatusPending {
		t.Fatalf("expected the timed-out task woken to pending, got %s", gotTask.Status)
	}

	n2, err := s.SweepTimeouts()
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if n2 != 0 {
		t.Fatalf("expected no additional awakeables swept, got %d", n2)
	}
}

// Two invocations racing to acquire the same virtual object's write lock:
// exactly one wins, and the loser is told who holds it.
func TestObjectLockIsSingleWriter(t *testing.T) {
	db := storetest.SQLite(t)
	s := storetest.New(db)

	if err := s.AcquireObjectLock("counter", "acct-1", "invocation-a"); err != nil {
		t.Fatalf("first acquire: %v", err)
	}

	err := s.AcquireObjectLock("counter", "acct-1", "invocation-b")
	if apperr.KindOf(err) != apperr.KindLockHeld {
		t.Fatalf("expected conflict for a contested lock, got %v", err)
	}

	if err := s.ReleaseObjectLock("counter", "acct-1", "invocation-a"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := s.AcquireObjectLock("counter", "acct-1", "invocation-b"); err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
}

// BeginWorkflowRun gives exactly-once semantics: the first caller starts the
// run, every later caller for the same (entity, workflow id) observes it's
// already in flight and gets the cached result once CompleteWorkflowRun runs.
func TestWorkflowRunExactlyOnce(t *testing.T) {
	db := storetest.SQLite(t)
	s := storetest.New(db)

	run1, started1, err := s.BeginWorkflowRun("onboarding", "wf-1", "holder-a")
	if err != nil {
		t.Fatalf("begin 1: %v", err)
	}
	if !started1 {
		t.Fatal("expected the first caller to start the run")
	}

	run2, started2, err := s.BeginWorkflowRun("onboarding", "wf-1", "holder-b")
	if err != nil {
		t.Fatalf("begin 2: %v", err)
	}
	if started2 {
		t.Fatal("expected the second caller to observe an already-started run")
	}
	if run2.Status != domain.WorkflowRunRunning {
		t.Fatalf("expected still-running status, got %s", run2.Status)
	}

	if err := s.CompleteWorkflowRun("onboarding", "wf-1", []byte(`"done"`)); err != nil {
		t.Fatalf("complete: %v", err)
	}

	run3, started3, err := s.BeginWorkflowRun("onboarding", "wf-1", "holder-c")
	if err != nil {
		t.Fatalf("begin 3: %v", err)
	}
	if started3 {
		t.Fatal("expected a caller after completion to still observe started=false")
	}
	if run3.Status != domain.WorkflowRunCompleted {
		t.Fatalf("expected completed status, got %s", run3.Status)
	}
	if string(run3.Result) != `"done"` {
		t.Fatalf("expected cached result, got %s", run3.Result)
	}
	_ = run1
}

// A worker that stops heartbeating past its lease timeout gets reaped, and
// its queued task becomes claimable by another worker.
func TestReapStaleLeasesFreesQueuedTask(t *testing.T) {
	db := storetest.SQLite(t)
	s := storetest.New(db)

	job, err := s.CreateJob("reap-job")
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	task, err := s.CreateTask(job.ID, "run-agent", nil, "gpt", "", "", "")
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	if err := s.EnqueueTask(job.ID, task.Name, "agent:gpt"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := s.RegisterWorker("worker-1", []string{"gpt"}, 1); err != nil {
		t.Fatalf("register worker: %v", err)
	}

	qt, err := s.PollQueue("worker-1", "agent:gpt")
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if qt == nil {
		t.Fatal("expected a leased queued task")
	}

	n, err := s.ReapStaleLeases(-time.Second)
	if err != nil {
		t.Fatalf("reap: %v", err)
	}
	if n == 0 {
		t.Fatal("expected at least one stale lease reaped")
	}

	if _, err := s.RegisterWorker("worker-2", []string{"gpt"}, 1); err != nil {
		t.Fatalf("register worker 2: %v", err)
	}
	qt2, err := s.PollQueue("worker-2", "agent:gpt")
	if err != nil {
		t.Fatalf("poll after reap: %v", err)
	}
	if qt2 == nil {
		t.Fatal("expected the reaped task to become claimable again")
	}
}
