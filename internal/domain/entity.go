package domain

import (
	"time"

	"gorm.io/datatypes"
)

// EntityKind is one of the three dispatch disciplines.
type EntityKind string

const (
	EntityService       EntityKind = "service"
	EntityVirtualObject EntityKind = "virtual_object"
	EntityWorkflow      EntityKind = "workflow"
)

// HandlerAccess is the access mode declared per handler on a registered
// entity: read/write for virtual objects, run/signal for workflows.
type HandlerAccess string

const (
	AccessRead   HandlerAccess = "read"
	AccessWrite  HandlerAccess = "write"
	AccessRun    HandlerAccess = "run"
	AccessSignal HandlerAccess = "signal"
)

// Entity is a registered handler namespace: the declaration of a service,
// virtual object, or workflow and its handlers' access modes.
type Entity struct {
	Name      string         `gorm:"column:name;primaryKey" json:"name"`
	Kind      EntityKind     `gorm:"column:kind;not null" json:"kind"`
	Handlers  datatypes.JSON `gorm:"column:handlers;type:jsonb" json:"handlers"`
	CreatedAt time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null;default:now()" json:"updated_at"`
}

func (Entity) TableName() string { return "entities" }

// ObjectStateRow is one (entity_name, object_key, field) -> value binding for
// a virtual object. Object state mutations are journaled by the execution
// context that performs them; this table is the current-value projection
// readers observe outside of replay.
type ObjectStateRow struct {
	EntityName string         `gorm:"column:entity_name;primaryKey" json:"entity_name"`
	ObjectKey  string         `gorm:"column:object_key;primaryKey" json:"object_key"`
	Field      string         `gorm:"column:field;primaryKey" json:"field"`
	Value      datatypes.JSON `gorm:"column:value;type:jsonb" json:"value"`
	UpdatedAt  time.Time      `gorm:"not null;default:now()" json:"updated_at"`
}

func (ObjectStateRow) TableName() string { return "object_state" }

// ObjectLock records the write-lock holder for (entity_name, object_key). At
// most one invocation may hold a given key's write lock at a time.
type ObjectLock struct {
	EntityName   string    `gorm:"column:entity_name;primaryKey" json:"entity_name"`
	ObjectKey    string    `gorm:"column:object_key;primaryKey" json:"object_key"`
	InvocationID string    `gorm:"column:invocation_id;not null" json:"invocation_id"`
	AcquiredAt   time.Time `gorm:"not null;default:now()" json:"acquired_at"`
}

func (ObjectLock) TableName() string { return "object_locks" }

// WorkflowRunStatus tracks the exactly-once run lifecycle for a workflow key.
type WorkflowRunStatus string

const (
	WorkflowRunRunning   WorkflowRunStatus = "running"
	WorkflowRunCompleted WorkflowRunStatus = "completed"
)

// WorkflowRun is the exactly-once ledger row for (entity_name, workflow_id):
// the first `run` invocation records itself here; every subsequent `run`
// for the same key returns the cached result instead of re-executing.
type WorkflowRun struct {
	EntityName string            `gorm:"column:entity_name;primaryKey" json:"entity_name"`
	WorkflowID string            `gorm:"column:workflow_id;primaryKey" json:"workflow_id"`
	Status     WorkflowRunStatus `gorm:"column:status;not null" json:"status"`
	Holder     string            `gorm:"column:holder" json:"holder,omitempty"`
	Result     datatypes.JSON    `gorm:"column:result;type:jsonb" json:"result,omitempty"`
	CreatedAt  time.Time         `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt  time.Time         `gorm:"not null;default:now()" json:"updated_at"`
}

func (WorkflowRun) TableName() string { return "workflow_runs" }
