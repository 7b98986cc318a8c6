package execctx_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/lprior-repo/nuoc-sub001/internal/execctx"
	"github.com/lprior-repo/nuoc-sub001/internal/store/storetest"
)

func TestRunReplaysWithoutReinvokingLive(t *testing.T) {
	db := storetest.SQLite(t)
	s := storetest.New(db)
	jobID := uuid.New()

	calls := 0
	handler := func() {
		ec := execctx.New(context.Background(), s, nil, jobID, "build", 1)
		_, err := ec.Run("compile", nil, func() ([]byte, error) {
			calls++
			return []byte(`"ok"`), nil
		})
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	}

	handler()
	handler()
	handler()

	if calls != 1 {
		t.Fatalf("expected live closure to run exactly once, ran %d times", calls)
	}
}

func TestSleepSuspendsThenReplaysInstantly(t *testing.T) {
	db := storetest.SQLite(t)
	s := storetest.New(db)
	jobID := uuid.New()

	ec := execctx.New(context.Background(), s, nil, jobID, "pace", 1)
	err := ec.Sleep(time.Hour)
	if !execctx.IsSuspend(err) {
		t.Fatalf("expected suspend signal, got %v", err)
	}

	ec2 := execctx.New(context.Background(), s, nil, jobID, "pace", 1)
	if err := ec2.Sleep(time.Hour); err != nil {
		t.Fatalf("replayed sleep should not suspend again: %v", err)
	}
}

func TestAwaitAwakeableSuspendsUntilResolved(t *testing.T) {
	db := storetest.SQLite(t)
	s := storetest.New(db)
	jobID := uuid.New()

	ec := execctx.New(context.Background(), s, nil, jobID, "approve", 1)
	id, err := ec.Awakeable(0)
	if err != nil {
		t.Fatalf("create awakeable: %v", err)
	}

	ec2 := execctx.New(context.Background(), s, nil, jobID, "approve", 1)
	ec2.Awakeable(0) // re-traverse the create entry during replay
	_, err = ec2.AwaitAwakeable(id)
	if !execctx.IsSuspend(err) {
		t.Fatalf("expected suspend awaiting unresolved awakeable, got %v", err)
	}

	if _, err := s.ResolveAwakeable(id, []byte(`{"approved":true}`)); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	ec3 := execctx.New(context.Background(), s, nil, jobID, "approve", 1)
	ec3.Awakeable(0)
	payload, err := ec3.AwaitAwakeable(id)
	if err != nil {
		t.Fatalf("await after resolve: %v", err)
	}
	if string(payload) != `{"approved":true}` {
		t.Fatalf("unexpected payload: %s", payload)
	}
}

func TestObjectStateRoundTrip(t *testing.T) {
	db := storetest.SQLite(t)
	s := storetest.New(db)
	jobID := uuid.New()

	ec := execctx.New(context.Background(), s, nil, jobID, "counter-incr", 1)
	ec.EntityName, ec.ObjectKey = "counter", "acct-1"

	if err := ec.SetState("count", []byte(`1`)); err != nil {
		t.Fatalf("set state: %v", err)
	}
	got, err := ec.GetState("count")
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	if string(got) != "1" {
		t.Fatalf("unexpected state value: %s", got)
	}
}

func TestGetStateReplaysRecordedSnapshotNotCurrentValue(t *testing.T) {
	db := storetest.SQLite(t)
	s := storetest.New(db)
	jobID := uuid.New()

	ec := execctx.New(context.Background(), s, nil, jobID, "counter-incr", 1)
	ec.EntityName, ec.ObjectKey = "counter", "acct-1"
	if err := ec.SetState("count", []byte(`1`)); err != nil {
		t.Fatalf("set state: %v", err)
	}

	ec2 := execctx.New(context.Background(), s, nil, jobID, "counter-incr", 1)
	ec2.EntityName, ec2.ObjectKey = "counter", "acct-1"
	ec2.SetState("count", []byte(`1`)) // re-traverse the set entry during replay
	first, err := ec2.GetState("count")
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	if string(first) != "1" {
		t.Fatalf("unexpected state value: %s", first)
	}

	// A concurrent writer changes the object's current state between the
	// first attempt and a second replay of the same attempt.
	if err := s.SetObjectState("counter", "acct-1", "count", []byte(`99`)); err != nil {
		t.Fatalf("external state mutation: %v", err)
	}

	ec3 := execctx.New(context.Background(), s, nil, jobID, "counter-incr", 1)
	ec3.EntityName, ec3.ObjectKey = "counter", "acct-1"
	ec3.SetState("count", []byte(`1`))
	replayed, err := ec3.GetState("count")
	if err != nil {
		t.Fatalf("get state on replay: %v", err)
	}
	if string(replayed) != "1" {
		t.Fatalf("replay must return the recorded snapshot (1), got current state %s instead", replayed)
	}
}
