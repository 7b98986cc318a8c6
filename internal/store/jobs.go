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

// CreateJob inserts a new job in the pending state.
func (s *Store) CreateJob(name string) (*domain.Job, error) {
	if err := ValidateIdentifier("name", name); err != nil {
		return nil, err
	}
	job := &domain.Job{Name: name, Status: domain.StatusPending}
	if err := s.db.Create(job).Error; err != nil {
		return nil, err
	}
	return job, nil
}

// GetJob loads a job by id.
func (s *Store) GetJob(id uuid.UUID) (*domain.Job, error) {
	var job domain.Job
	err := s.db.Where("id = ?", id).First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("job %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// TransitionJob validates old->new against the FSM, applies field updates,
// and emits a job.StateChange event, all in one transaction.
func (s *Store) TransitionJob(id uuid.UUID, newStatus domain.Status, reason string, fields map[string]any) (*domain.Job, error) {
	var updated domain.Job
	var evt domain.Event
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var job domain.Job
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", id).First(&job).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperr.NotFound("job %s not found", id)
			}
			return err
		}
		if err := fsm.Validate(job.Status, newStatus); err != nil {
			return err
		}

		updates := map[string]any{}
		for k, v := range fields {
			updates[k] = v
		}
		updates["status"] = newStatus
		updates["updated_at"] = time.Now()

		if err := tx.Model(&domain.Job{}).Where("id = ?", id).Updates(updates).Error; err != nil {
			return err
		}
		evt = domain.Event{
			JobID:     id,
			EventType: domain.EventJobStateChange,
			OldState:  job.Status,
			NewState:  newStatus,
			Reason:    reason,
		}
		if err := tx.Create(&evt).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", id).First(&updated).Error
	})
	if err != nil {
		return nil, err
	}
	s.emit(evt)
	return &updated, nil
}

// CancelJob unconditionally moves a job and all its non-terminal tasks to
// completed (failure) and cancels every non-terminal awakeable belonging to
// the job. Cancellation is an administrative
// override, not a caller-facing transition, so unlike TransitionJob it is
// permitted from any non-terminal state rather than gated by the FSM table.
func (s *Store) CancelJob(id uuid.UUID, reason string) (*domain.Job, error) {
	failure := domain.CompletionFailure
	var job *domain.Job
	var evt *domain.Event
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var current domain.Job
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", id).First(&current).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperr.NotFound("job %s not found", id)
			}
			return err
		}
		if current.Status != domain.StatusCompleted {
			if err := tx.Model(&domain.Job{}).Where("id = ?", id).Updates(map[string]any{
				"status":              domain.StatusCompleted,
				"completion_result":   &failure,
				"completion_failure":  reason,
				"updated_at":          time.Now(),
			}).Error; err != nil {
				return err
			}
			created := domain.Event{
				JobID:     id,
				EventType: domain.EventJobStateChange,
				OldState:  current.Status,
				NewState:  domain.StatusCompleted,
				Reason:    reason,
			}
			if err := tx.Create(&created).Error; err != nil {
				return err
			}
			evt = &created
			current.Status = domain.StatusCompleted
			current.CompletionResult = &failure
			current.CompletionFailure = reason
		}
		job = &current

		var tasks []domain.Task
		if err := tx.Where("job_id = ? AND status <> ?", id, domain.StatusCompleted).Find(&tasks).Error; err != nil {
			return err
		}
		for _, t := range tasks {
			if err := tx.Model(&domain.Task{}).Where("id = ?", t.ID).Updates(map[string]any{
				"status":             domain.StatusCompleted,
				"completion_result":  &failure,
				"completion_failure": reason,
				"updated_at":         time.Now(),
			}).Error; err != nil {
				return err
			}
		}

		return tx.Model(&domain.Awakeable{}).
			Where("job_id = ? AND status = ?", id, domain.AwakeablePending).
			Updates(map[string]any{"status": domain.AwakeableCancelled}).Error
	})
	if err != nil {
		return nil, err
	}
	if evt != nil {
		s.emit(*evt)
	}
	return job, nil
}
