// Package execctx is the execution contract between the scheduler/worker
// loop and task business logic: a capability-scoped handle wrapping the
// journal boundary, the only sanctioned ways to record a side effect, and
// the suspend signal a handler returns to pause durably instead of
// blocking a goroutine.
//
// A task's handler function is re-invoked from entry_index 0 on every
// attempt. Context replays completed journal entries transparently and
// switches to live mode at the first entry beyond the journal's tail —
// this is what makes durable execution deterministic without snapshotting
// goroutine stacks.
package execctx

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/lprior-repo/nuoc-sub001/internal/awakeable"
	"github.com/lprior-repo/nuoc-sub001/internal/domain"
	"github.com/lprior-repo/nuoc-sub001/internal/platform/apperr"
)

// Store is the subset of *store.Store the context needs. Declared locally
// to keep execctx free of a hard dependency on the store package's
// migration/connection concerns.
type Store interface {
	AppendEntry(jobID uuid.UUID, taskName string, attempt int, opType domain.OpType, opName string, flags domain.EntryFlag, input []byte) (*domain.JournalEntry, error)
	GetEntry(jobID uuid.UUID, taskName string, attempt, entryIndex int) (*domain.JournalEntry, error)
	CompleteEntry(entryID uuid.UUID, output []byte, failureCode, failureMessage string) error

	CreateAwakeable(id string, jobID uuid.UUID, taskName string, entryIndex int, timeoutAt *time.Time) (*domain.Awakeable, error)
	GetAwakeable(id string) (*domain.Awakeable, error)

	GetObjectState(entityName, objectKey, field string) ([]byte, error)
	SetObjectState(entityName, objectKey, field string, value []byte) error
	ClearObjectState(entityName, objectKey, field string) error
	ClearAllObjectState(entityName, objectKey string) error
}

// Dispatcher routes an entity call to its registered handler. Implemented
// by the dispatch package; declared here so execctx never imports it (the
// dependency runs dispatch -> execctx, not the reverse).
type Dispatcher interface {
	Invoke(ctx context.Context, entity, handler, objectKey string, payload []byte) ([]byte, error)
}

// Suspend is returned by Context methods (and should be returned unchanged
// by handlers) to signal that the invocation must pause: the task
// transitions to suspended and is woken later by an awakeable resolution,
// timeout, or sleep deadline. It is not a failure.
type Suspend struct {
	Reason string
}

func (s *Suspend) Error() string { return "suspended: " + s.Reason }

// IsSuspend reports whether err is a Suspend signal.
func IsSuspend(err error) bool {
	_, ok := err.(*Suspend)
	return ok
}

// Context is the per-invocation execution handle passed to a task's handler.
type Context struct {
	Ctx        context.Context
	JobID      uuid.UUID
	TaskName   string
	Attempt    int
	EntityName string
	ObjectKey  string

	store      Store
	dispatcher Dispatcher
	cursor     int
}

// New builds a Context for one invocation of (jobID, taskName, attempt).
func New(ctx context.Context, store Store, dispatcher Dispatcher, jobID uuid.UUID, taskName string, attempt int) *Context {
	return &Context{
		Ctx:        ctx,
		JobID:      jobID,
		TaskName:   taskName,
		Attempt:    attempt,
		store:      store,
		dispatcher: dispatcher,
	}
}

// replayOrRun is the shared primitive behind every journaled operation: it
// looks up the entry at the current cursor. If found, it validates the
// op_type (non-determinism is fatal) and returns the recorded
// output/failure without invoking live. If not found, the invocation has
// reached live mode — live runs, and its outcome is appended+completed in
// one journal entry.
func (c *Context) replayOrRun(opType domain.OpType, opName string, flags domain.EntryFlag, input []byte, live func() ([]byte, error)) ([]byte, error) {
	idx := c.cursor
	existing, err := c.store.GetEntry(c.JobID, c.TaskName, c.Attempt, idx)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if err := validateOpType(existing, opType); err != nil {
			return nil, err
		}
		c.cursor++
		if existing.Flags.Has(domain.FlagFailed) {
			return nil, apperr.Wrap(apperr.KindFatal, existing.FailureMessage, nil)
		}
		return existing.Output, nil
	}

	entry, err := c.store.AppendEntry(c.JobID, c.TaskName, c.Attempt, opType, opName, flags, input)
	if err != nil {
		return nil, err
	}
	c.cursor++

	output, runErr := live()
	if runErr != nil {
		if IsSuspend(runErr) {
			return nil, runErr
		}
		_ = c.store.CompleteEntry(entry.ID, nil, "handler-error", runErr.Error())
		return nil, runErr
	}
	if err := c.store.CompleteEntry(entry.ID, output, "", ""); err != nil {
		return nil, err
	}
	return output, nil
}

func validateOpType(entry *domain.JournalEntry, expected domain.OpType) error {
	if entry.OpType != expected {
		return apperr.NonDeterminism("journal entry %d: expected op_type %s, found %s", entry.EntryIndex, expected, entry.OpType)
	}
	return nil
}

// Run journals an arbitrary side-effecting closure under opName, replaying
// its recorded output on subsequent attempts instead of re-executing it.
func (c *Context) Run(opName string, input []byte, fn func() ([]byte, error)) ([]byte, error) {
	return c.replayOrRun(domain.OpRun, opName, domain.FlagCompletable|domain.FlagFallible, input, fn)
}

// CallAgent journals an agent invocation — the same mechanics as Run under
// a distinct op_type so a handler can't accidentally replay an agent call's
// recording against a plain Run call site or vice versa.
func (c *Context) CallAgent(opName string, input []byte, fn func() ([]byte, error)) ([]byte, error) {
	return c.replayOrRun(domain.OpCallAgent, opName, domain.FlagCompletable|domain.FlagFallible, input, fn)
}

// Sleep durably pauses the invocation for d. The first call at this cursor
// position creates a timeout-only awakeable and returns Suspend; once the
// sweeper (or an earlier explicit resolution) wakes the task and the
// handler replays up to this point, the recorded entry is returned
// instantly with no further delay.
func (c *Context) Sleep(d time.Duration) error {
	idx := c.cursor
	existing, err := c.store.GetEntry(c.JobID, c.TaskName, c.Attempt, idx)
	if err != nil {
		return err
	}
	if existing != nil {
		if err := validateOpType(existing, domain.OpSleep); err != nil {
			return err
		}
		c.cursor++
		return nil
	}

	entry, err := c.store.AppendEntry(c.JobID, c.TaskName, c.Attempt, domain.OpSleep, "sleep", domain.FlagCompletable, nil)
	if err != nil {
		return err
	}
	c.cursor++

	wakeAt := time.Now().Add(d)
	id := awakeable.Generate(c.JobID, entry.EntryIndex)
	if _, err := c.store.CreateAwakeable(id, c.JobID, c.TaskName, entry.EntryIndex, &wakeAt); err != nil {
		return err
	}
	_ = c.store.CompleteEntry(entry.ID, marshalWakeAt(wakeAt), "", "")
	return &Suspend{Reason: "sleep until " + wakeAt.Format(time.RFC3339)}
}

func marshalWakeAt(t time.Time) []byte {
	b, _ := json.Marshal(map[string]string{"wake_at": t.Format(time.RFC3339)})
	return b
}

// Awakeable creates a completion token the invocation can hand to an
// external caller, returning its opaque id.
func (c *Context) Awakeable(timeout time.Duration) (string, error) {
	idx := c.cursor
	existing, err := c.store.GetEntry(c.JobID, c.TaskName, c.Attempt, idx)
	if err != nil {
		return "", err
	}
	if existing != nil {
		if err := validateOpType(existing, domain.OpAwakeableCreate); err != nil {
			return "", err
		}
		c.cursor++
		var decoded struct {
			ID string `json:"id"`
		}
		_ = json.Unmarshal(existing.Output, &decoded)
		return decoded.ID, nil
	}

	entry, err := c.store.AppendEntry(c.JobID, c.TaskName, c.Attempt, domain.OpAwakeableCreate, "awakeable", domain.FlagCompletable, nil)
	if err != nil {
		return "", err
	}
	c.cursor++

	id := awakeable.Generate(c.JobID, entry.EntryIndex)
	var timeoutAt *time.Time
	if timeout > 0 {
		t := time.Now().Add(timeout)
		timeoutAt = &t
	}
	if _, err := c.store.CreateAwakeable(id, c.JobID, c.TaskName, entry.EntryIndex, timeoutAt); err != nil {
		return "", err
	}
	output, _ := json.Marshal(map[string]string{"id": id})
	if err := c.store.CompleteEntry(entry.ID, output, "", ""); err != nil {
		return "", err
	}
	return id, nil
}

// AwaitAwakeable blocks the invocation on id's resolution. While the
// awakeable is still PENDING, this returns Suspend; the task resumes (and
// this call replays instantly) once the awakeable is resolved, rejected, or
// times out.
func (c *Context) AwaitAwakeable(id string) ([]byte, error) {
	idx := c.cursor
	existing, err := c.store.GetEntry(c.JobID, c.TaskName, c.Attempt, idx)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if err := validateOpType(existing, domain.OpAwakeableAwait); err != nil {
			return nil, err
		}
		c.cursor++
		if existing.Flags.Has(domain.FlagCompleted) {
			return existing.Output, nil
		}
		if existing.Flags.Has(domain.FlagFailed) {
			return nil, apperr.Wrap(apperr.KindFatal, existing.FailureMessage, nil)
		}
		// Recorded but not yet terminal: a prior attempt suspended here
		// before the awakeable settled. Re-check live status rather than
		// re-suspending forever on a stale entry.
		return c.settleAwaitEntry(existing.ID, id)
	}

	entry, err := c.store.AppendEntry(c.JobID, c.TaskName, c.Attempt, domain.OpAwakeableAwait, "await:"+id, domain.FlagCompletable|domain.FlagFallible, []byte(`"`+id+`"`))
	if err != nil {
		return nil, err
	}
	c.cursor++
	return c.settleAwaitEntry(entry.ID, id)
}

func (c *Context) settleAwaitEntry(entryID uuid.UUID, id string) ([]byte, error) {
	row, err := c.store.GetAwakeable(id)
	if err != nil {
		return nil, err
	}
	switch row.Status {
	case domain.AwakeableResolved:
		_ = c.store.CompleteEntry(entryID, row.Payload, "", "")
		return row.Payload, nil
	case domain.AwakeableRejected:
		_ = c.store.CompleteEntry(entryID, nil, "awakeable-rejected", row.Error)
		return nil, apperr.Wrap(apperr.KindFatal, row.Error, nil)
	case domain.AwakeableTimeout:
		_ = c.store.CompleteEntry(entryID, nil, "awakeable-timeout", "awakeable timed out")
		return nil, apperr.New(apperr.KindFatal, fmt.Sprintf("awakeable %s timed out", id))
	case domain.AwakeableCancelled:
		_ = c.store.CompleteEntry(entryID, nil, "awakeable-cancelled", "awakeable cancelled")
		return nil, apperr.New(apperr.KindFatal, fmt.Sprintf("awakeable %s cancelled", id))
	default:
		return nil, &Suspend{Reason: "awaiting " + id}
	}
}

// journalOnce advances the cursor past an already-recorded entry on replay,
// or appends+records one on first execution — used by the state ops below,
// which apply their live effect only on first execution (on replay they
// return without touching object state) but must still occupy a stable
// journal slot so later op_types in the same invocation don't shift.
func (c *Context) journalOnce(opType domain.OpType, opName string, input []byte) (replaying bool, err error) {
	idx := c.cursor
	existing, err := c.store.GetEntry(c.JobID, c.TaskName, c.Attempt, idx)
	if err != nil {
		return false, err
	}
	if existing != nil {
		if err := validateOpType(existing, opType); err != nil {
			return false, err
		}
		c.cursor++
		return true, nil
	}
	if _, err := c.store.AppendEntry(c.JobID, c.TaskName, c.Attempt, opType, opName, domain.FlagCompleted, input); err != nil {
		return false, err
	}
	c.cursor++
	return false, nil
}

// GetState reads one field of durable per-object state. The read is
// journaled with its result as the entry's output: on replay this returns
// the value recorded at that index, not the object's current state, so a
// handler observes a consistent snapshot across every attempt even if the
// object's state has since changed underneath it.
func (c *Context) GetState(field string) ([]byte, error) {
	return c.replayOrRun(domain.OpGetState, field, domain.FlagCompletable, nil, func() ([]byte, error) {
		return c.store.GetObjectState(c.EntityName, c.ObjectKey, field)
	})
}

// SetState durably writes one field of per-object state. Replayed calls are
// not re-applied — the write already landed on the attempt that performed
// it live.
func (c *Context) SetState(field string, value []byte) error {
	replaying, err := c.journalOnce(domain.OpSetState, field, value)
	if err != nil || replaying {
		return err
	}
	return c.store.SetObjectState(c.EntityName, c.ObjectKey, field, value)
}

// ClearState deletes one field of per-object state.
func (c *Context) ClearState(field string) error {
	replaying, err := c.journalOnce(domain.OpClearState, field, nil)
	if err != nil || replaying {
		return err
	}
	return c.store.ClearObjectState(c.EntityName, c.ObjectKey, field)
}

// ClearAllState deletes every field of per-object state.
func (c *Context) ClearAllState() error {
	replaying, err := c.journalOnce(domain.OpClearAllState, "", nil)
	if err != nil || replaying {
		return err
	}
	return c.store.ClearAllObjectState(c.EntityName, c.ObjectKey)
}

// Call invokes another entity's handler and blocks (replay-transparently)
// for its result.
func (c *Context) Call(entity, handler, objectKey string, payload []byte) ([]byte, error) {
	return c.replayOrRun(domain.OpCall, entity+"."+handler, domain.FlagCompletable|domain.FlagFallible, payload, func() ([]byte, error) {
		return c.dispatcher.Invoke(c.Ctx, entity, handler, objectKey, payload)
	})
}

// OneWayCall invokes another entity's handler without waiting for a result;
// the journal still records that the call was made so a replay doesn't
// re-fire it.
func (c *Context) OneWayCall(entity, handler, objectKey string, payload []byte) error {
	idx := c.cursor
	existing, err := c.store.GetEntry(c.JobID, c.TaskName, c.Attempt, idx)
	if err != nil {
		return err
	}
	if existing != nil {
		if err := validateOpType(existing, domain.OpOneWayCall); err != nil {
			return err
		}
		c.cursor++
		return nil
	}

	entry, err := c.store.AppendEntry(c.JobID, c.TaskName, c.Attempt, domain.OpOneWayCall, entity+"."+handler, domain.FlagCompletable, payload)
	if err != nil {
		return err
	}
	c.cursor++

	go func() {
		_, _ = c.dispatcher.Invoke(context.Background(), entity, handler, objectKey, payload)
	}()
	return c.store.CompleteEntry(entry.ID, nil, "", "")
}
