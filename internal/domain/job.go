// Package domain holds the persistent entities of the workflow engine: jobs,
// tasks, journal entries, awakeables, entities/locks, workers, queued tasks,
// and the event ledger. Every type here is a GORM model; table names are
// explicit so migrations stay stable across struct renames.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// Status is one of the eight lifecycle states shared by jobs and tasks.
type Status string

const (
	StatusPending    Status = "pending"
	StatusScheduled  Status = "scheduled"
	StatusReady      Status = "ready"
	StatusRunning    Status = "running"
	StatusSuspended  Status = "suspended"
	StatusBackingOff Status = "backing-off"
	StatusPaused     Status = "paused"
	StatusCompleted  Status = "completed"
)

// CompletionResult records how a completed job or task ended.
type CompletionResult string

const (
	CompletionSuccess CompletionResult = "success"
	CompletionFailure CompletionResult = "failure"
)

// Job is a workflow instance: the root of a DAG of tasks.
type Job struct {
	ID                uuid.UUID  `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	Name              string     `gorm:"column:name;not null;index" json:"name"`
	Status            Status     `gorm:"column:status;not null;index" json:"status"`
	RetryCount        int        `gorm:"column:retry_count;not null;default:0" json:"retry_count"`
	NextRetryAt       *time.Time `gorm:"column:next_retry_at;index" json:"next_retry_at,omitempty"`
	CompletionResult  *CompletionResult `gorm:"column:completion_result" json:"completion_result,omitempty"`
	CompletionFailure string     `gorm:"column:completion_failure;type:text" json:"completion_failure,omitempty"`
	CreatedAt         time.Time  `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt         time.Time  `gorm:"not null;default:now();index" json:"updated_at"`
}

func (Job) TableName() string { return "jobs" }
