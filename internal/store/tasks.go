package store

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/lprior-repo/nuoc-sub001/internal/domain"
	"github.com/lprior-repo/nuoc-sub001/internal/fsm"
	"github.com/lprior-repo/nuoc-sub001/internal/platform/apperr"
)

// CreateTask inserts a task in the pending state under jobID.
func (s *Store) CreateTask(jobID uuid.UUID, name string, needs []string, agentType, runCmd, gate, varName string) (*domain.Task, error) {
	if err := ValidateIdentifier("name", name); err != nil {
		return nil, err
	}
	needsJSON, err := marshalJSON(needs)
	if err != nil {
		return nil, err
	}
	task := &domain.Task{
		JobID:     jobID,
		Name:      name,
		Needs:     needsJSON,
		AgentType: agentType,
		RunCmd:    runCmd,
		Status:    domain.StatusPending,
		Attempt:   1,
		Gate:      gate,
		Var:       varName,
	}
	if err := s.db.Create(task).Error; err != nil {
		return nil, err
	}
	return task, nil
}

// GetTaskByName loads a task by (job_id, name).
func (s *Store) GetTaskByName(jobID uuid.UUID, name string) (*domain.Task, error) {
	var task domain.Task
	err := s.db.Where("job_id = ? AND name = ?", jobID, name).First(&task).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("task %s/%s not found", jobID, name)
	}
	if err != nil {
		return nil, err
	}
	return &task, nil
}

// ListTasks returns every task belonging to jobID.
func (s *Store) ListTasks(jobID uuid.UUID) ([]domain.Task, error) {
	var tasks []domain.Task
	err := s.db.Where("job_id = ?", jobID).Find(&tasks).Error
	return tasks, err
}

// DependenciesSatisfied reports whether every task named in needs has
// status=completed with a success completion result.
func (s *Store) DependenciesSatisfied(jobID uuid.UUID, needs []string) (bool, error) {
	if len(needs) == 0 {
		return true, nil
	}
	var count int64
	success := domain.CompletionSuccess
	err := s.db.Model(&domain.Task{}).
		Where("job_id = ? AND name IN ? AND status = ? AND completion_result = ?", jobID, needs, domain.StatusCompleted, success).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return int(count) == len(needs), nil
}

// TransitionTask validates old->new against the FSM and applies it plus
// field updates in one transaction. The same transaction writes a
// job.StateChange event row keyed by job_id+task_name carrying reason, and
// that event is passed to the OnEvent hook after commit.
func (s *Store) TransitionTask(taskID uuid.UUID, newStatus domain.Status, reason string, fields map[string]any) (*domain.Task, error) {
	var updated domain.Task
	var evt domain.Event
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var task domain.Task
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", taskID).First(&task).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperr.NotFound("task %s not found", taskID)
			}
			return err
		}
		if err := fsm.Validate(task.Status, newStatus); err != nil {
			return err
		}

		updates := map[string]any{}
		for k, v := range fields {
			updates[k] = v
		}
		updates["status"] = newStatus
		updates["updated_at"] = time.Now()

		if err := tx.Model(&domain.Task{}).Where("id = ?", taskID).Updates(updates).Error; err != nil {
			return err
		}
		evt = domain.Event{
			JobID:     task.JobID,
			TaskName:  task.Name,
			EventType: domain.EventJobStateChange,
			OldState:  task.Status,
			NewState:  newStatus,
			Reason:    reason,
		}
		if err := tx.Create(&evt).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", taskID).First(&updated).Error
	})
	if err != nil {
		return nil, err
	}
	s.emit(evt)
	return &updated, nil
}

// ReadyPendingTasks returns tasks in pending or scheduled whose
// dependencies are satisfied — the Scheduler poll's candidate set.
// Scheduled tasks are returned without any deadline check; a task carries
// no arrival-deadline field for this query to compare against.
func (s *Store) ReadyPendingTasks(limit int) ([]domain.Task, error) {
	now := time.Now()
	var candidates []domain.Task
	err := s.db.Where("status = ? OR status = ?", domain.StatusPending, domain.StatusScheduled).
		Order("created_at ASC").
		Limit(limit).
		Find(&candidates).Error
	if err != nil {
		return nil, err
	}
	_ = now
	var ready []domain.Task
	for _, t := range candidates {
		ok, err := s.DependenciesSatisfied(t.JobID, t.NeedsList())
		if err != nil {
			return nil, err
		}
		if ok {
			ready = append(ready, t)
		}
	}
	return ready, nil
}

// BackingOffDue returns tasks in backing-off whose next_retry_at has passed.
// Jobs don't carry next_retry_at themselves in this schema revision — retry
// scheduling is task-scoped since attempts are per-task.
func (s *Store) BackingOffDue(limit int) ([]domain.Task, error) {
	var tasks []domain.Task
	err := s.db.Where("status = ?", domain.StatusBackingOff).
		Where("next_retry_at IS NOT NULL AND next_retry_at <= ?", time.Now()).
		Order("next_retry_at ASC").
		Limit(limit).
		Find(&tasks).Error
	return tasks, err
}
