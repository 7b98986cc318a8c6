package store_test

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/lprior-repo/nuoc-sub001/internal/domain"
	"github.com/lprior-repo/nuoc-sub001/internal/store"
	"github.com/lprior-repo/nuoc-sub001/internal/store/storetest"
)

func TestAppendEntrySequentialNoGaps(t *testing.T) {
	db := storetest.SQLite(t)
	s := storetest.New(db)

	jobID := uuid.New()
	for i := 0; i < 5; i++ {
		entry, err := s.AppendEntry(jobID, "verify", 1, domain.OpRun, "run", domain.FlagCompletable, []byte(`{}`))
		if err != nil {
			t.Fatalf("append entry %d: %v", i, err)
		}
		if entry.EntryIndex != i {
			t.Fatalf("entry %d: got index %d, want %d", i, entry.EntryIndex, i)
		}
	}
}

func TestAppendEntryRejectsOversizedPayload(t *testing.T) {
	db := storetest.SQLite(t)
	s := storetest.New(db)
	big := make([]byte, store.MaxPayloadBytes+1)
	_, err := s.AppendEntry(uuid.New(), "verify", 1, domain.OpRun, "run", domain.FlagCompletable, big)
	if err == nil {
		t.Fatal("expected validation error for oversized payload")
	}
}

func TestValidateOpTypeDetectsNonDeterminism(t *testing.T) {
	entry := &domain.JournalEntry{EntryIndex: 2, OpType: domain.OpSleep}
	if err := store.ValidateOpType(entry, domain.OpRun); err == nil {
		t.Fatal("expected non-determinism error")
	}
	if err := store.ValidateOpType(entry, domain.OpSleep); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCompleteEntryRoundTrip(t *testing.T) {
	db := storetest.SQLite(t)
	s := storetest.New(db)

	entry, err := s.AppendEntry(uuid.New(), "verify", 1, domain.OpCallAgent, "call-agent", domain.FlagCompletable|domain.FlagFallible, []byte(`{"prompt":"hi"}`))
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.CompleteEntry(entry.ID, []byte(`"output-a"`), "", ""); err != nil {
		t.Fatalf("complete: %v", err)
	}
	got, err := s.GetEntry(entry.JobID, entry.TaskName, entry.Attempt, entry.EntryIndex)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.Flags.Has(domain.FlagCompleted) {
		t.Fatalf("expected completed flag set, got flags=%d", got.Flags)
	}
	if string(got.Output) != `"output-a"` {
		t.Fatalf("unexpected output: %s", got.Output)
	}
	_ = time.Now()
}
