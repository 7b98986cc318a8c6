package store

import (
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/lprior-repo/nuoc-sub001/internal/domain"
	"github.com/lprior-repo/nuoc-sub001/internal/platform/apperr"
)

// RegisterEntity upserts an entity's declaration (kind + handler access
// modes). Registration is idempotent: re-registering the same name replaces
// its handler map.
func (s *Store) RegisterEntity(name string, kind domain.EntityKind, handlers map[string]domain.HandlerAccess) (*domain.Entity, error) {
	if err := ValidateIdentifier("entity_name", name); err != nil {
		return nil, err
	}
	raw, err := marshalJSON(handlers)
	if err != nil {
		return nil, err
	}
	entity := &domain.Entity{Name: name, Kind: kind, Handlers: raw}
	err = s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"kind", "handlers", "updated_at"}),
	}).Create(entity).Error
	if err != nil {
		return nil, err
	}
	return entity, nil
}

// GetEntity loads an entity declaration by name.
func (s *Store) GetEntity(name string) (*domain.Entity, error) {
	var entity domain.Entity
	err := s.db.Where("name = ?", name).First(&entity).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("entity %s not found", name)
	}
	if err != nil {
		return nil, err
	}
	return &entity, nil
}

// AcquireObjectLock attempts to take the write lock on (entityName,
// objectKey) for invocationID. A contested write is refused synchronously
// with LockHeld naming the current holder.
func (s *Store) AcquireObjectLock(entityName, objectKey, invocationID string) error {
	err := s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&domain.ObjectLock{
		EntityName:   entityName,
		ObjectKey:    objectKey,
		InvocationID: invocationID,
		AcquiredAt:   time.Now(),
	}).Error
	if err != nil {
		return err
	}
	var lock domain.ObjectLock
	if err := s.db.Where("entity_name = ? AND object_key = ?", entityName, objectKey).First(&lock).Error; err != nil {
		return err
	}
	if lock.InvocationID != invocationID {
		return apperr.LockHeld(lock.InvocationID)
	}
	return nil
}

// ReleaseObjectLock releases the write lock, regardless of call-site
// outcome — callers must invoke this on every exit path, including failure
//.
func (s *Store) ReleaseObjectLock(entityName, objectKey, invocationID string) error {
	return s.db.Where("entity_name = ? AND object_key = ? AND invocation_id = ?", entityName, objectKey, invocationID).
		Delete(&domain.ObjectLock{}).Error
}

// SetObjectState upserts one (entityName, objectKey, field) binding.
func (s *Store) SetObjectState(entityName, objectKey, field string, value []byte) error {
	if err := ValidatePayload("value", value); err != nil {
		return err
	}
	row := &domain.ObjectStateRow{EntityName: entityName, ObjectKey: objectKey, Field: field, Value: value, UpdatedAt: time.Now()}
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "entity_name"}, {Name: "object_key"}, {Name: "field"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(row).Error
}

// GetObjectState returns the current value of one field, or nil if unset.
// Replay must NOT call this directly — it reflects current state, not the
// value recorded at a past journal index.
func (s *Store) GetObjectState(entityName, objectKey, field string) ([]byte, error) {
	var row domain.ObjectStateRow
	err := s.db.Where("entity_name = ? AND object_key = ? AND field = ?", entityName, objectKey, field).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return row.Value, nil
}

// GetAllObjectState returns every field for (entityName, objectKey).
func (s *Store) GetAllObjectState(entityName, objectKey string) (map[string][]byte, error) {
	var rows []domain.ObjectStateRow
	if err := s.db.Where("entity_name = ? AND object_key = ?", entityName, objectKey).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[string][]byte, len(rows))
	for _, r := range rows {
		out[r.Field] = r.Value
	}
	return out, nil
}

// ClearObjectState deletes one field.
func (s *Store) ClearObjectState(entityName, objectKey, field string) error {
	return s.db.Where("entity_name = ? AND object_key = ? AND field = ?", entityName, objectKey, field).
		Delete(&domain.ObjectStateRow{}).Error
}

// ClearAllObjectState deletes every field for the key.
func (s *Store) ClearAllObjectState(entityName, objectKey string) error {
	return s.db.Where("entity_name = ? AND object_key = ?", entityName, objectKey).
		Delete(&domain.ObjectStateRow{}).Error
}

// BeginWorkflowRun implements exactly-once run semantics: the
// first caller for (entityName, workflowID) records status=running and
// returns started=true; every subsequent caller observes the cached result
// (or that it's still running) and started=false.
func (s *Store) BeginWorkflowRun(entityName, workflowID, holder string) (run *domain.WorkflowRun, started bool, err error) {
	err = s.db.Transaction(func(tx *gorm.DB) error {
		var existing domain.WorkflowRun
		e := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("entity_name = ? AND workflow_id = ?", entityName, workflowID).First(&existing).Error
		if errors.Is(e, gorm.ErrRecordNotFound) {
			run = &domain.WorkflowRun{
				EntityName: entityName,
				WorkflowID: workflowID,
				Status:     domain.WorkflowRunRunning,
				Holder:     holder,
			}
			started = true
			return tx.Create(run).Error
		}
		if e != nil {
			return e
		}
		run = &existing
		started = false
		return nil
	})
	return run, started, err
}

// CompleteWorkflowRun records the cached result for an exactly-once run.
func (s *Store) CompleteWorkflowRun(entityName, workflowID string, result []byte) error {
	if err := ValidatePayload("result", result); err != nil {
		return err
	}
	return s.db.Model(&domain.WorkflowRun{}).
		Where("entity_name = ? AND workflow_id = ?", entityName, workflowID).
		Updates(map[string]any{
			"status":     domain.WorkflowRunCompleted,
			"result":     result,
			"updated_at": time.Now(),
		}).Error
}
