package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// AwakeableStatus is the terminal-or-pending state of a durable promise.
type AwakeableStatus string

const (
	AwakeablePending   AwakeableStatus = "PENDING"
	AwakeableResolved  AwakeableStatus = "RESOLVED"
	AwakeableRejected  AwakeableStatus = "REJECTED"
	AwakeableTimeout   AwakeableStatus = "TIMEOUT"
	AwakeableCancelled AwakeableStatus = "CANCELLED"
)

// Awakeable is a durable, externally-resolvable promise tied to the journal
// entry that created it. Its ID encodes (job_id, entry_index) so resolvers
// need no additional lookup context.
type Awakeable struct {
	ID         string          `gorm:"column:id;primaryKey" json:"id"`
	JobID      uuid.UUID       `gorm:"type:uuid;not null;index:idx_awakeable_job_task" json:"job_id"`
	TaskName   string          `gorm:"column:task_name;not null;index:idx_awakeable_job_task" json:"task_name"`
	EntryIndex int             `gorm:"column:entry_index;not null" json:"entry_index"`
	Status     AwakeableStatus `gorm:"column:status;not null;index;default:PENDING" json:"status"`
	Payload    datatypes.JSON  `gorm:"column:payload;type:jsonb" json:"payload,omitempty"`
	Error      string          `gorm:"column:error;type:text" json:"error,omitempty"`
	TimeoutAt  *time.Time      `gorm:"column:timeout_at;index" json:"timeout_at,omitempty"`
	CreatedAt  time.Time       `gorm:"not null;default:now();index" json:"created_at"`
	ResolvedAt *time.Time      `gorm:"column:resolved_at" json:"resolved_at,omitempty"`
}

func (Awakeable) TableName() string { return "awakeables" }
