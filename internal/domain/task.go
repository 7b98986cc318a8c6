package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Task is a node in a job's DAG. (job_id, name, attempt) is the invocation key.
type Task struct {
	ID         uuid.UUID        `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	JobID      uuid.UUID        `gorm:"type:uuid;not null;index:idx_task_job_name,unique,priority:1" json:"job_id"`
	Name       string           `gorm:"column:name;not null;index:idx_task_job_name,unique,priority:2" json:"name"`
	Needs      datatypes.JSON   `gorm:"column:needs;type:jsonb" json:"needs,omitempty"`
	AgentType  string           `gorm:"column:agent_type;index" json:"agent_type,omitempty"`
	RunCmd     string           `gorm:"column:run_cmd;type:text" json:"run_cmd,omitempty"`
	Status     Status           `gorm:"column:status;not null;index" json:"status"`
	Attempt    int              `gorm:"column:attempt;not null;default:1" json:"attempt"`
	RetryCount int              `gorm:"column:retry_count;not null;default:0" json:"retry_count"`
	NextRetryAt *time.Time      `gorm:"column:next_retry_at;index" json:"next_retry_at,omitempty"`
	Gate       string           `gorm:"column:gate" json:"gate,omitempty"`
	Var        string           `gorm:"column:var" json:"var,omitempty"`
	Output     datatypes.JSON   `gorm:"column:output;type:jsonb" json:"output,omitempty"`
	CompletionResult  *CompletionResult `gorm:"column:completion_result" json:"completion_result,omitempty"`
	CompletionFailure string           `gorm:"column:completion_failure;type:text" json:"completion_failure,omitempty"`
	CreatedAt  time.Time        `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt  time.Time        `gorm:"not null;default:now();index" json:"updated_at"`
}

func (Task) TableName() string { return "tasks" }

// NeedsList decodes the Needs JSON column into a string slice.
func (t *Task) NeedsList() []string {
	var out []string
	if len(t.Needs) == 0 {
		return out
	}
	_ = json.Unmarshal(t.Needs, &out)
	return out
}
