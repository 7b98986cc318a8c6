package domain

import (
	"time"

	"github.com/google/uuid"
)

// EventType enumerates the audit-record kinds the engine appends to the
// events ledger. job.StateChange is the only kind the FSM itself emits;
// additional kinds are reserved for future audit needs.
type EventType string

const (
	EventJobStateChange EventType = "job.StateChange"
)

// Event is an append-only audit record of a lifecycle transition, emitted in
// the same transaction as the transition so an external observer reading by
// timestamp sees a linearizable history per job.
type Event struct {
	ID        uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	JobID     uuid.UUID `gorm:"type:uuid;not null;index" json:"job_id"`
	TaskName  string    `gorm:"column:task_name;index" json:"task_name,omitempty"`
	EventType EventType `gorm:"column:event_type;not null;index" json:"event_type"`
	OldState  Status    `gorm:"column:old_state" json:"old_state"`
	NewState  Status    `gorm:"column:new_state" json:"new_state"`
	Reason    string    `gorm:"column:reason;type:text" json:"reason,omitempty"`
	CreatedAt time.Time `gorm:"not null;default:now();index" json:"created_at"`
}

func (Event) TableName() string { return "events" }
