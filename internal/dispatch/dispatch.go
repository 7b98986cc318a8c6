package dispatch

import (
	"context"

	"github.com/google/uuid"

	"github.com/lprior-repo/nuoc-sub001/internal/domain"
	"github.com/lprior-repo/nuoc-sub001/internal/execctx"
	"github.com/lprior-repo/nuoc-sub001/internal/platform/apperr"
)

// TaskInvocation names a leased queued task's entry point: the entity and
// handler a worker must run, in the journal scope of the task itself
// (job_id, task_name, attempt) rather than a synthetic one.
type TaskInvocation struct {
	JobID     uuid.UUID
	TaskName  string
	Attempt   int
	Entity    string
	Handler   string
	ObjectKey string
}

// Store is the subset of *store.Store dispatch needs: the entity/lock/
// workflow primitives that enforce per-kind access discipline, plus the
// full execctx.Store surface so dispatched handlers can themselves journal
// Run/Sleep/state/Call operations through the Context this package builds.
type Store interface {
	execctx.Store
	GetEntity(name string) (*domain.Entity, error)
	AcquireObjectLock(entityName, objectKey, invocationID string) error
	ReleaseObjectLock(entityName, objectKey, invocationID string) error
	BeginWorkflowRun(entityName, workflowID, holder string) (*domain.WorkflowRun, bool, error)
	CompleteWorkflowRun(entityName, workflowID string, result []byte) error
}

// Dispatcher implements execctx.Dispatcher, fanning an invocation out to the
// Registry under the discipline its entity kind requires.
type Dispatcher struct {
	store    Store
	registry *Registry
}

// New builds a Dispatcher over store and registry.
func New(store Store, registry *Registry) *Dispatcher {
	return &Dispatcher{store: store, registry: registry}
}

var _ execctx.Dispatcher = (*Dispatcher)(nil)

// Invoke routes one call to entity.handler, applying service/virtual-object/
// workflow discipline before running the handler body. Used for
// inter-entity Call/OneWayCall made from inside a running invocation: each
// live downstream call gets a fresh synthetic journal scope (Sleep/Await/Run
// inside the handler body), because the caller's Call/OneWayCall already
// journaled the fact of this invocation under its own scope, so a replayed
// caller never reaches here again for the same logical call.
func (d *Dispatcher) Invoke(ctx context.Context, entity, handler, objectKey string, payload []byte) ([]byte, error) {
	decl, ent, err := d.resolve(entity, handler)
	if err != nil {
		return nil, err
	}
	ec := execctx.New(ctx, d.store, d, uuid.New(), handler, 1)
	ec.EntityName = entity
	ec.ObjectKey = objectKey
	return d.run(ec, ent, entity, objectKey, decl, payload)
}

// InvokeTask is the worker's top-level entry point for a leased queued
// task: unlike Invoke, it runs the handler in the task's own durable
// journal scope (job_id, task_name, attempt) so a crash mid-invocation
// resumes by replaying the same journal instead of starting a fresh one.
func (d *Dispatcher) InvokeTask(ctx context.Context, inv TaskInvocation, payload []byte) ([]byte, error) {
	decl, ent, err := d.resolve(inv.Entity, inv.Handler)
	if err != nil {
		return nil, err
	}
	ec := execctx.New(ctx, d.store, d, inv.JobID, inv.TaskName, inv.Attempt)
	ec.EntityName = inv.Entity
	ec.ObjectKey = inv.ObjectKey
	return d.run(ec, ent, inv.Entity, inv.ObjectKey, decl, payload)
}

func (d *Dispatcher) resolve(entity, handler string) (HandlerDecl, *domain.Entity, error) {
	decl, ok := d.registry.Get(entity, handler)
	if !ok {
		return HandlerDecl{}, nil, &ErrNoHandler{Entity: entity, Handler: handler}
	}
	ent, err := d.store.GetEntity(entity)
	if err != nil {
		return HandlerDecl{}, nil, err
	}
	return decl, ent, nil
}

func (d *Dispatcher) run(ec *execctx.Context, ent *domain.Entity, entity, objectKey string, decl HandlerDecl, payload []byte) ([]byte, error) {
	switch ent.Kind {
	case domain.EntityVirtualObject:
		return d.invokeVirtualObject(ec, entity, objectKey, decl, payload)
	case domain.EntityWorkflow:
		return d.invokeWorkflow(ec, entity, objectKey, decl, payload)
	default:
		return decl.Fn(ec, payload)
	}
}

func (d *Dispatcher) invokeVirtualObject(ec *execctx.Context, entity, objectKey string, decl HandlerDecl, payload []byte) ([]byte, error) {
	if decl.Access == domain.AccessRead {
		return decl.Fn(ec, payload)
	}
	invocationID := uuid.New().String()
	if err := d.store.AcquireObjectLock(entity, objectKey, invocationID); err != nil {
		return nil, err
	}
	defer func() { _ = d.store.ReleaseObjectLock(entity, objectKey, invocationID) }()
	return decl.Fn(ec, payload)
}

func (d *Dispatcher) invokeWorkflow(ec *execctx.Context, entity, workflowID string, decl HandlerDecl, payload []byte) ([]byte, error) {
	if decl.Access == domain.AccessSignal {
		return decl.Fn(ec, payload)
	}
	holder := uuid.New().String()
	run, started, err := d.store.BeginWorkflowRun(entity, workflowID, holder)
	if err != nil {
		return nil, err
	}
	if !started {
		if run.Status == domain.WorkflowRunCompleted {
			return run.Result, nil
		}
		return nil, apperr.NotPending("workflow %s/%s is already running", entity, workflowID)
	}
	result, err := decl.Fn(ec, payload)
	if err != nil {
		return nil, err
	}
	if err := d.store.CompleteWorkflowRun(entity, workflowID, result); err != nil {
		return nil, err
	}
	return result, nil
}
