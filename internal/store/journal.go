package store

import (
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/lprior-repo/nuoc-sub001/internal/domain"
	"github.com/lprior-repo/nuoc-sub001/internal/platform/apperr"
)

// AppendEntry allocates the next entry_index for (jobID, taskName, attempt)
// and inserts a new journal row in one transaction — a SELECT-MAX-plus-INSERT,
// never an in-process counter, so entry_index can't race across workers.
func (s *Store) AppendEntry(jobID uuid.UUID, taskName string, attempt int, opType domain.OpType, opName string, flags domain.EntryFlag, input []byte) (*domain.JournalEntry, error) {
	if err := ValidateIdentifier("task_name", taskName); err != nil {
		return nil, err
	}
	if err := ValidatePayload("input", input); err != nil {
		return nil, err
	}
	var entry domain.JournalEntry
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var maxIdx struct{ Max *int }
		if err := tx.Model(&domain.JournalEntry{}).
			Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("job_id = ? AND task_name = ? AND attempt = ?", jobID, taskName, attempt).
			Select("MAX(entry_index) as max").
			Scan(&maxIdx).Error; err != nil {
			return err
		}
		next := 0
		if maxIdx.Max != nil {
			next = *maxIdx.Max + 1
		}
		entry = domain.JournalEntry{
			JobID:      jobID,
			TaskName:   taskName,
			Attempt:    attempt,
			EntryIndex: next,
			OpType:     opType,
			OpName:     opName,
			Flags:      flags,
			Input:      input,
		}
		return tx.Create(&entry).Error
	})
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// GetEntry returns the journal row at entry_index for the given invocation,
// or nil if none exists yet (the invocation is in live mode from this index
// onward).
func (s *Store) GetEntry(jobID uuid.UUID, taskName string, attempt, entryIndex int) (*domain.JournalEntry, error) {
	var entry domain.JournalEntry
	err := s.db.Where("job_id = ? AND task_name = ? AND attempt = ? AND entry_index = ?", jobID, taskName, attempt, entryIndex).
		First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// CompleteEntry writes the output of a live-mode entry, setting the
// completed flag (or failed flag plus failure details on error).
func (s *Store) CompleteEntry(entryID uuid.UUID, output []byte, failureCode, failureMessage string) error {
	if failureCode == "" {
		if err := ValidatePayload("output", output); err != nil {
			return err
		}
		return s.db.Model(&domain.JournalEntry{}).Where("id = ?", entryID).
			Updates(map[string]any{
				"output": output,
				"flags":  gorm.Expr("flags | ?", domain.FlagCompleted),
			}).Error
	}
	return s.db.Model(&domain.JournalEntry{}).Where("id = ?", entryID).
		Updates(map[string]any{
			"failure_code":    failureCode,
			"failure_message": failureMessage,
			"flags":           gorm.Expr("flags | ?", domain.FlagFailed),
		}).Error
}

// TailIndex returns the number of journal entries recorded for the given
// invocation — the index at which replay mode flips to live mode.
func (s *Store) TailIndex(jobID uuid.UUID, taskName string, attempt int) (int, error) {
	var count int64
	err := s.db.Model(&domain.JournalEntry{}).
		Where("job_id = ? AND task_name = ? AND attempt = ?", jobID, taskName, attempt).
		Count(&count).Error
	return int(count), err
}

// ValidateOpType checks a replayed entry's op_type against the expected call
// site; a mismatch is non-determinism, fatal to the attempt.
func ValidateOpType(entry *domain.JournalEntry, expected domain.OpType) error {
	if entry.OpType != expected {
		return apperr.NonDeterminism("journal entry %d: expected op_type %s, found %s", entry.EntryIndex, expected, entry.OpType)
	}
	return nil
}
