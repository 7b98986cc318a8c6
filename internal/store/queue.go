package store

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/lprior-repo/nuoc-sub001/internal/domain"
	"github.com/lprior-repo/nuoc-sub001/internal/platform/apperr"
)

// EnqueueTask inserts a QUEUED row for (jobID, taskName) on queueName.
// Duplicate enqueues of the same (job_id, task_name) are idempotent — the
// second call is a no-op.
func (s *Store) EnqueueTask(jobID uuid.UUID, taskName, queueName string) error {
	if err := ValidateIdentifier("queue_name", queueName); err != nil {
		return err
	}
	var existing domain.QueuedTask
	err := s.db.Where("job_id = ? AND task_name = ?", jobID, taskName).First(&existing).Error
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}
	return s.db.Create(&domain.QueuedTask{
		JobID:      jobID,
		TaskName:   taskName,
		QueueName:  queueName,
		Status:     domain.QueuedTaskQueued,
		EnqueuedAt: time.Now(),
	}).Error
}

// RegisterWorker upserts a worker's registration with active_slots reset to
// zero and a fresh heartbeat.
func (s *Store) RegisterWorker(id string, capabilities []string, maxSlots int) (*domain.Worker, error) {
	if err := ValidateIdentifier("worker_id", id); err != nil {
		return nil, err
	}
	raw, err := marshalJSON(capabilities)
	if err != nil {
		return nil, err
	}
	worker := &domain.Worker{
		ID:            id,
		Capabilities:  raw,
		MaxSlots:      maxSlots,
		ActiveSlots:   0,
		LastHeartbeat: time.Now(),
	}
	err = s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"capabilities", "max_slots", "active_slots", "last_heartbeat"}),
	}).Create(worker).Error
	if err != nil {
		return nil, err
	}
	return worker, nil
}

// PollQueue implements worker-poll: in one transaction, verify
// the worker is registered and active_slots < max_slots, atomically pick the
// oldest unclaimed QUEUED row for queueName, lease it, and increment
// active_slots. Returns nil, nil if there is nothing to claim.
func (s *Store) PollQueue(workerID, queueName string) (*domain.QueuedTask, error) {
	var claimed *domain.QueuedTask
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var worker domain.Worker
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", workerID).First(&worker).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperr.NotFound("worker %s not registered", workerID)
			}
			return err
		}
		if worker.ActiveSlots >= worker.MaxSlots {
			return nil
		}

		var task domain.QueuedTask
		err := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("queue_name = ? AND status = ?", queueName, domain.QueuedTaskQueued).
			Order("enqueued_at ASC").
			First(&task).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		now := time.Now()
		if err := tx.Model(&domain.QueuedTask{}).Where("id = ?", task.ID).Updates(map[string]any{
			"status":       domain.QueuedTaskLeased,
			"claimed_by":   workerID,
			"heartbeat_at": now,
		}).Error; err != nil {
			return err
		}
		if err := tx.Model(&domain.Worker{}).Where("id = ?", workerID).
			Update("active_slots", gorm.Expr("active_slots + 1")).Error; err != nil {
			return err
		}
		task.Status = domain.QueuedTaskLeased
		task.ClaimedBy = workerID
		task.HeartbeatAt = &now
		claimed = &task
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// HeartbeatWorker updates last_heartbeat for the worker and every row it
// currently holds leased.
func (s *Store) HeartbeatWorker(workerID string) error {
	now := time.Now()
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&domain.Worker{}).Where("id = ?", workerID).
			Update("last_heartbeat", now).Error; err != nil {
			return err
		}
		return tx.Model(&domain.QueuedTask{}).
			Where("claimed_by = ? AND status = ?", workerID, domain.QueuedTaskLeased).
			Update("heartbeat_at", now).Error
	})
}

// CompleteQueuedTask marks a leased row DONE and decrements the worker's
// active_slots.
func (s *Store) CompleteQueuedTask(jobID uuid.UUID, taskName string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var task domain.QueuedTask
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("job_id = ? AND task_name = ?", jobID, taskName).First(&task).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if task.Status != domain.QueuedTaskLeased {
			return tx.Model(&domain.QueuedTask{}).Where("id = ?", task.ID).Update("status", domain.QueuedTaskDone).Error
		}
		if err := tx.Model(&domain.QueuedTask{}).Where("id = ?", task.ID).Update("status", domain.QueuedTaskDone).Error; err != nil {
			return err
		}
		if task.ClaimedBy == "" {
			return nil
		}
		return tx.Model(&domain.Worker{}).Where("id = ? AND active_slots > 0", task.ClaimedBy).
			Update("active_slots", gorm.Expr("active_slots - 1")).Error
	})
}

// ReapStaleLeases returns every LEASED row whose heartbeat_at predates the
// timeout back to QUEUED, clears claimed_by, and decrements the owning
// worker's active_slots. Returns the count reaped.
func (s *Store) ReapStaleLeases(timeout time.Duration) (int, error) {
	cutoff := time.Now().Add(-timeout)
	var stale []domain.QueuedTask
	if err := s.db.Where("status = ? AND heartbeat_at IS NOT NULL AND heartbeat_at < ?", domain.QueuedTaskLeased, cutoff).
		Find(&stale).Error; err != nil {
		return 0, err
	}
	count := 0
	for _, row := range stale {
		err := s.db.Transaction(func(tx *gorm.DB) error {
			res := tx.Model(&domain.QueuedTask{}).Where("id = ? AND status = ?", row.ID, domain.QueuedTaskLeased).
				Updates(map[string]any{"status": domain.QueuedTaskQueued, "claimed_by": "", "heartbeat_at": nil})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 || row.ClaimedBy == "" {
				return nil
			}
			return tx.Model(&domain.Worker{}).Where("id = ? AND active_slots > 0", row.ClaimedBy).
				Update("active_slots", gorm.Expr("active_slots - 1")).Error
		})
		if err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

// QueueDepth returns the number of QUEUED rows on queueName.
func (s *Store) QueueDepth(queueName string) (int64, error) {
	var count int64
	err := s.db.Model(&domain.QueuedTask{}).
		Where("queue_name = ? AND status = ?", queueName, domain.QueuedTaskQueued).
		Count(&count).Error
	return count, err
}
