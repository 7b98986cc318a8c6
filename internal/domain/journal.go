package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// OpType enumerates the side-effectful operations an invocation may journal.
type OpType string

const (
	OpRun             OpType = "run"
	OpCallAgent       OpType = "call-agent"
	OpAwakeableCreate OpType = "awakeable-create"
	OpAwakeableAwait  OpType = "awakeable-await"
	OpSleep           OpType = "sleep"
	OpGetState        OpType = "get-state"
	OpSetState        OpType = "set-state"
	OpClearState      OpType = "clear-state"
	OpClearAllState   OpType = "clear-all-state"
	OpCall            OpType = "call"
	OpOneWayCall      OpType = "one-way-call"
)

// EntryFlag bits describe an entry's completability/fallibility/completion.
type EntryFlag uint8

const (
	FlagCompletable EntryFlag = 1 << 0
	FlagFallible    EntryFlag = 1 << 1
	FlagCompleted   EntryFlag = 1 << 2
	FlagFailed      EntryFlag = 1 << 3
)

func (f EntryFlag) Has(bit EntryFlag) bool { return f&bit != 0 }

// JournalEntry is one recorded side effect within an invocation. The tuple
// (job_id, task_name, attempt, entry_index) is unique (idx_journal_scope;
// the primary key is the ID column); entry_index
// is allocated by the store under a SELECT-MAX+INSERT transaction so it can
// never race across workers.
type JournalEntry struct {
	ID             uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	JobID          uuid.UUID      `gorm:"type:uuid;not null;index:idx_journal_scope,unique,priority:1" json:"job_id"`
	TaskName       string         `gorm:"column:task_name;not null;index:idx_journal_scope,unique,priority:2" json:"task_name"`
	Attempt        int            `gorm:"column:attempt;not null;index:idx_journal_scope,unique,priority:3" json:"attempt"`
	EntryIndex     int            `gorm:"column:entry_index;not null;index:idx_journal_scope,unique,priority:4" json:"entry_index"`
	OpType         OpType         `gorm:"column:op_type;not null" json:"op_type"`
	OpName         string         `gorm:"column:op_name" json:"op_name,omitempty"`
	Flags          EntryFlag      `gorm:"column:flags;not null;default:0" json:"flags"`
	Input          datatypes.JSON `gorm:"column:input;type:jsonb" json:"input,omitempty"`
	Output         datatypes.JSON `gorm:"column:output;type:jsonb" json:"output,omitempty"`
	FailureCode    string         `gorm:"column:failure_code" json:"failure_code,omitempty"`
	FailureMessage string         `gorm:"column:failure_message;type:text" json:"failure_message,omitempty"`
	CreatedAt      time.Time      `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt      time.Time      `gorm:"not null;default:now();index" json:"updated_at"`
}

func (JournalEntry) TableName() string { return "journal_entries" }
