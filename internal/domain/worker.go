package domain

import (
	"time"

	"gorm.io/datatypes"
)

// Worker is a registered task-queue consumer. active_slots <= max_slots is a
// hard cap enforced by the store in the same transaction as lease claim.
type Worker struct {
	ID            string         `gorm:"column:id;primaryKey" json:"id"`
	Capabilities  datatypes.JSON `gorm:"column:capabilities;type:jsonb" json:"capabilities"`
	MaxSlots      int            `gorm:"column:max_slots;not null" json:"max_slots"`
	ActiveSlots   int            `gorm:"column:active_slots;not null;default:0" json:"active_slots"`
	LastHeartbeat time.Time      `gorm:"column:last_heartbeat;not null;index" json:"last_heartbeat"`
	CreatedAt     time.Time      `gorm:"not null;default:now()" json:"created_at"`
}

func (Worker) TableName() string { return "workers" }
