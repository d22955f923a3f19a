// Package patient is the registry that maps scheduling subjects to stable
// clinical patient identities.
package patient

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

var (
	ErrNotFound        = errors.New("patient not found")
	ErrSubjectRequired = errors.New("subject is required")
)

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// ResolveOrCreate returns the patient record for subject, creating one the
// first time the subject is seen.
func (s *Service) ResolveOrCreate(ctx context.Context, subject Subject) (*Patient, error) {
	if subject.ID == uuid.Nil {
		return nil, ErrSubjectRequired
	}
	subject.Name = strings.TrimSpace(subject.Name)
	if subject.Name == "" {
		subject.Name = "Unnamed patient"
	}
	p, err := s.repo.Upsert(ctx, subject)
	if err != nil {
		return nil, fmt.Errorf("resolve patient for subject %s: %w", subject.ID, err)
	}
	return p, nil
}

func (s *Service) GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return s.repo.GetByID(ctx, id)
}
