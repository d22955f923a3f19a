// Package problem stores persistent patient problems and derives the safety
// alerts shown alongside encounters.
package problem

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vetclinic/emr/internal/domain/clinicalevent"
	"github.com/vetclinic/emr/internal/platform/db"
	"github.com/vetclinic/emr/internal/platform/notification"
)

var (
	ErrNotFound          = errors.New("problem not found")
	ErrPatientRequired   = errors.New("patient is required")
	ErrNameRequired      = errors.New("problem name is required")
	ErrAlertTextRequired = errors.New("alert text is required when the problem is shown as an alert")
	ErrAlertTextTooLong  = fmt.Errorf("alert text must be at most %d characters", MaxAlertTextLen)
	ErrInvalidAttribute  = errors.New("invalid problem attribute")
	ErrAlreadyResolved   = errors.New("problem is already resolved")
)

type EventAppender interface {
	Append(ctx context.Context, ev *clinicalevent.Event) error
}

type Service struct {
	repo   Repository
	tx     db.Transactor
	events EventAppender
	pub    notification.Publisher
	logger zerolog.Logger
	now    func() time.Time
}

func NewService(repo Repository, tx db.Transactor, events EventAppender, logger zerolog.Logger) *Service {
	return &Service{
		repo:   repo,
		tx:     tx,
		events: events,
		pub:    notification.NopPublisher{},
		logger: logger.With().Str("component", "problem").Logger(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) SetPublisher(p notification.Publisher) { s.pub = p }

func applyDefaults(p *Problem) {
	if p.ProblemType == "" {
		p.ProblemType = TypeDiagnosis
	}
	if p.Severity == "" {
		p.Severity = SeverityModerate
	}
	if p.Status == "" {
		p.Status = StatusActive
	}
	if p.AlertSeverity == "" {
		p.AlertSeverity = AlertWarning
	}
}

func validateProblem(p *Problem) error {
	if p.PatientID == uuid.Nil {
		return ErrPatientRequired
	}
	if p.Name == "" {
		return ErrNameRequired
	}
	switch {
	case !p.ProblemType.Valid():
		return fmt.Errorf("%w: problem_type %q", ErrInvalidAttribute, p.ProblemType)
	case !p.Severity.Valid():
		return fmt.Errorf("%w: severity %q", ErrInvalidAttribute, p.Severity)
	case !p.Status.Valid():
		return fmt.Errorf("%w: status %q", ErrInvalidAttribute, p.Status)
	case !p.AlertSeverity.Valid():
		return fmt.Errorf("%w: alert_severity %q", ErrInvalidAttribute, p.AlertSeverity)
	}
	if p.IsAlert && p.AlertText == "" {
		return ErrAlertTextRequired
	}
	if utf8.RuneCountInString(p.AlertText) > MaxAlertTextLen {
		return ErrAlertTextTooLong
	}
	return nil
}

// AddProblem stores p and logs a problem_added event in the same transaction.
// The event is significant when the problem is an alert.
func (s *Service) AddProblem(ctx context.Context, p *Problem, actor string) error {
	p.Name = strings.TrimSpace(p.Name)
	p.AlertText = strings.TrimSpace(p.AlertText)
	applyDefaults(p)
	if err := validateProblem(p); err != nil {
		return err
	}
	p.CreatedBy = actor
	if p.Status == StatusResolved && p.ResolvedDate == nil {
		now := s.now()
		p.ResolvedDate = &now
	}

	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		if err := s.repo.Create(ctx, p); err != nil {
			return fmt.Errorf("create problem: %w", err)
		}
		pid := p.ID
		return s.events.Append(ctx, &clinicalevent.Event{
			PatientID:     p.PatientID,
			ProblemID:     &pid,
			EventType:     clinicalevent.TypeProblemAdded,
			Summary:       fmt.Sprintf("Problem added: %s (%s)", p.Name, p.ProblemType.Display()),
			IsSignificant: p.IsAlert,
			RecordedBy:    actor,
		})
	})
	if err != nil {
		return err
	}

	s.publish(ctx, p, actor)
	return nil
}

// ResolveProblem marks a problem resolved and logs a significant
// problem_resolved event.
func (s *Service) ResolveProblem(ctx context.Context, id uuid.UUID, actor string) (*Problem, error) {
	var p *Problem
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		var err error
		p, err = s.repo.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if p.Status == StatusResolved {
			return ErrAlreadyResolved
		}
		now := s.now()
		if err := s.repo.Resolve(ctx, id, now); err != nil {
			return err
		}
		p.Status = StatusResolved
		p.ResolvedDate = &now

		pid := p.ID
		return s.events.Append(ctx, &clinicalevent.Event{
			PatientID:     p.PatientID,
			ProblemID:     &pid,
			EventType:     clinicalevent.TypeProblemResolved,
			Summary:       "Problem resolved: " + p.Name,
			IsSignificant: true,
			RecordedBy:    actor,
		})
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, p, actor)
	return p, nil
}

func (s *Service) GetProblem(ctx context.Context, id uuid.UUID) (*Problem, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*Problem, error) {
	return s.repo.ListByPatient(ctx, patientID)
}

// ActiveAlerts is computed on every call; nothing caches it.
func (s *Service) ActiveAlerts(ctx context.Context, patientID uuid.UUID) ([]*Problem, error) {
	return s.repo.ListActiveAlerts(ctx, patientID)
}

func (s *Service) CountActiveAlerts(ctx context.Context, patientIDs []uuid.UUID) (map[uuid.UUID]int, error) {
	return s.repo.CountActiveAlerts(ctx, patientIDs)
}

func (s *Service) publish(ctx context.Context, p *Problem, actor string) {
	s.pub.Publish(ctx, notification.Message{
		Kind:      notification.KindProblemChanged,
		PatientID: p.PatientID.String(),
		State:     string(p.Status),
		ActorID:   actor,
	})
}
