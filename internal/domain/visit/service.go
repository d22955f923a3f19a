// Package visit exposes the appointment records that check-in consumes.
package visit

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("visit not found")

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) GetVisit(ctx context.Context, id uuid.UUID) (*Visit, error) {
	return s.repo.GetByID(ctx, id)
}

// MarkInProgress flags the visit as being seen. Visits that are already in
// progress are left alone.
func (s *Service) MarkInProgress(ctx context.Context, id uuid.UUID) error {
	v, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if v.Status == StatusInProgress {
		return nil
	}
	return s.repo.SetStatus(ctx, id, StatusInProgress)
}
