package store

import (
	"github.com/google/uuid"

	"github.com/lprior-repo/nuoc-sub001/internal/domain"
)

// ListEvents returns events for jobID, newest first, bounded by limit.
func (s *Store) ListEvents(jobID uuid.UUID, limit int) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	var events []domain.Event
	err := s.db.Where("job_id = ?", jobID).
		Order("created_at DESC").
		Limit(limit).
		Find(&events).Error
	return events, err
}
