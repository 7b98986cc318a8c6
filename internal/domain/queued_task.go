package domain

import (
	"time"

	"github.com/google/uuid"
)

// QueuedTaskStatus is the lease state of a task sitting in a named queue.
type QueuedTaskStatus string

const (
	QueuedTaskQueued QueuedTaskStatus = "QUEUED"
	QueuedTaskLeased QueuedTaskStatus = "LEASED"
	QueuedTaskDone   QueuedTaskStatus = "DONE"
)

// QueuedTask is a (job_id, task_name) entry sitting on a named queue
// (default naming "agent:<agent_type>"), awaiting a worker lease.
type QueuedTask struct {
	ID          uuid.UUID        `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	JobID       uuid.UUID        `gorm:"type:uuid;not null;index:idx_queued_task_job_name,unique,priority:1" json:"job_id"`
	TaskName    string           `gorm:"column:task_name;not null;index:idx_queued_task_job_name,unique,priority:2" json:"task_name"`
	QueueName   string           `gorm:"column:queue_name;not null;index:idx_queue_status" json:"queue_name"`
	Status      QueuedTaskStatus `gorm:"column:status;not null;index:idx_queue_status" json:"status"`
	ClaimedBy   string           `gorm:"column:claimed_by;index" json:"claimed_by,omitempty"`
	HeartbeatAt *time.Time       `gorm:"column:heartbeat_at;index" json:"heartbeat_at,omitempty"`
	EnqueuedAt  time.Time        `gorm:"column:enqueued_at;not null;default:now();index" json:"enqueued_at"`
}

func (QueuedTask) TableName() string { return "queued_tasks" }
