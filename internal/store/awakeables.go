package store

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/lprior-repo/nuoc-sub001/internal/domain"
	"github.com/lprior-repo/nuoc-sub001/internal/platform/apperr"
)

// CreateAwakeable inserts a PENDING awakeable row for the given journal
// coordinates. The caller (execctx) is responsible for synthesizing the id
// via the awakeable ID codec before calling this.
func (s *Store) CreateAwakeable(id string, jobID uuid.UUID, taskName string, entryIndex int, timeoutAt *time.Time) (*domain.Awakeable, error) {
	row := &domain.Awakeable{
		ID:         id,
		JobID:      jobID,
		TaskName:   taskName,
		EntryIndex: entryIndex,
		Status:     domain.AwakeablePending,
		TimeoutAt:  timeoutAt,
	}
	if err := s.db.Create(row).Error; err != nil {
		return nil, err
	}
	return row, nil
}

// GetAwakeable loads an awakeable by id.
func (s *Store) GetAwakeable(id string) (*domain.Awakeable, error) {
	var row domain.Awakeable
	err := s.db.Where("id = ?", id).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("awakeable %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// ResolveAwakeable verifies the row is PENDING, sets it RESOLVED with the
// given payload, and wakes the suspended task by transitioning it back to
// pending — all in one transaction.
func (s *Store) ResolveAwakeable(id string, payload []byte) (*domain.Awakeable, error) {
	return s.terminateAwakeable(id, domain.AwakeableResolved, payload, "")
}

// RejectAwakeable is identical to ResolveAwakeable but the terminal status is
// REJECTED and the payload is an error string. An empty error is rejected
// synchronously rather than stored: a reject with no reason is indistinguishable
// from a caller bug, not a legitimate terminal state.
func (s *Store) RejectAwakeable(id string, errMsg string) (*domain.Awakeable, error) {
	if strings.TrimSpace(errMsg) == "" {
		return nil, apperr.Validation("reject error must not be empty")
	}
	return s.terminateAwakeable(id, domain.AwakeableRejected, nil, errMsg)
}

func (s *Store) terminateAwakeable(id string, status domain.AwakeableStatus, payload []byte, errMsg string) (*domain.Awakeable, error) {
	if status == domain.AwakeableResolved {
		if err := ValidatePayload("payload", payload); err != nil {
			return nil, err
		}
	}
	var result domain.Awakeable
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var row domain.Awakeable
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", id).First(&row).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperr.NotFound("awakeable %s not found", id)
			}
			return err
		}
		if row.Status != domain.AwakeablePending {
			return apperr.NotPending("awakeable %s is %s, not pending", id, row.Status)
		}

		now := time.Now()
		updates := map[string]any{
			"status":      status,
			"resolved_at": now,
		}
		if status == domain.AwakeableResolved {
			updates["payload"] = payload
		} else {
			updates["error"] = errMsg
		}
		if err := tx.Model(&domain.Awakeable{}).Where("id = ?", id).Updates(updates).Error; err != nil {
			return err
		}

		if err := wakeTask(tx, row.JobID, row.TaskName); err != nil {
			return err
		}

		return tx.Where("id = ?", id).First(&result).Error
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// wakeTask transitions a suspended task back to pending so the scheduler
// re-enqueues it and replay delivers the awakeable's payload.
func wakeTask(tx *gorm.DB, jobID uuid.UUID, taskName string) error {
	var task domain.Task
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("job_id = ? AND name = ?", jobID, taskName).First(&task).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if task.Status != domain.StatusSuspended {
		return nil
	}
	return tx.Model(&domain.Task{}).Where("id = ?", task.ID).
		Updates(map[string]any{"status": domain.StatusPending, "updated_at": time.Now()}).Error
}

// SweepTimeouts transitions every PENDING awakeable whose timeout_at has
// passed to TIMEOUT, waking the associated task in the same transaction per
// row. A single sweep loop owns this scan; nothing else mutates timeout_at.
func (s *Store) SweepTimeouts() (int, error) {
	now := time.Now()
	var due []domain.Awakeable
	if err := s.db.Where("status = ? AND timeout_at IS NOT NULL AND timeout_at <= ?", domain.AwakeablePending, now).
		Find(&due).Error; err != nil {
		return 0, err
	}
	count := 0
	for _, row := range due {
		err := s.db.Transaction(func(tx *gorm.DB) error {
			res := tx.Model(&domain.Awakeable{}).
				Where("id = ? AND status = ?", row.ID, domain.AwakeablePending).
				Updates(map[string]any{"status": domain.AwakeableTimeout, "resolved_at": now})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return nil
			}
			return wakeTask(tx, row.JobID, row.TaskName)
		})
		if err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}
