// Package clinicalevent is the append-only clinical timeline. Events are
// written once; the only sanctioned change afterwards is marking an event
// entered in error, optionally pointing at the event that supersedes it.
package clinicalevent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/vetclinic/emr/internal/platform/db"
	"github.com/vetclinic/emr/internal/platform/notification"
	"github.com/vetclinic/emr/internal/platform/telemetry"
	"github.com/vetclinic/emr/pkg/pagination"
)

var (
	ErrNotFound          = errors.New("clinical event not found")
	ErrEncounterNotFound = errors.New("encounter not found")
	ErrPatientRequired   = errors.New("patient is required")
	ErrActorRequired     = errors.New("recording actor is required")
	ErrInvalidType       = errors.New("invalid event type")
	ErrTextRequired      = errors.New("note text is required")
	ErrReasonRequired    = errors.New("correction reason is required")
	ErrAlreadyInError    = errors.New("event is already marked entered in error")
	ErrEncounterMismatch = errors.New("encounter does not belong to patient")
	ErrPatientMismatch   = errors.New("replacement event must keep the original patient")
)

// EncounterLocator resolves the patient and location an encounter belongs to.
// Unknown encounters are reported as ErrEncounterNotFound.
type EncounterLocator interface {
	EncounterContext(ctx context.Context, encounterID uuid.UUID) (patientID, locationID uuid.UUID, err error)
}

type Service struct {
	repo       Repository
	tx         db.Transactor
	encounters EncounterLocator
	pub        notification.Publisher
	logger     zerolog.Logger
	pageSize   int
	now        func() time.Time
}

func NewService(repo Repository, tx db.Transactor, logger zerolog.Logger) *Service {
	return &Service{
		repo:     repo,
		tx:       tx,
		pub:      notification.NopPublisher{},
		logger:   logger.With().Str("component", "clinicalevent").Logger(),
		pageSize: pagination.DefaultLimit,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetEncounterLocator is wired after the encounter service exists.
func (s *Service) SetEncounterLocator(l EncounterLocator) { s.encounters = l }

func (s *Service) SetPublisher(p notification.Publisher) { s.pub = p }

// SetPageSize sets the default timeline page; it is capped at pagination.MaxLimit.
func (s *Service) SetPageSize(n int) {
	if n > 0 {
		s.pageSize = min(n, pagination.MaxLimit)
	}
}

func (s *Service) PageSize() int { return s.pageSize }

// Append inserts ev. Correction fields on ev are ignored.
func (s *Service) Append(ctx context.Context, ev *Event) (err error) {
	ctx, finish := telemetry.StartSpan(ctx, "clinicalevent.append",
		attribute.String("event.type", string(ev.EventType)))
	defer func() { finish(err) }()

	if ev.PatientID == uuid.Nil {
		return ErrPatientRequired
	}
	if !ev.EventType.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidType, ev.EventType)
	}
	if strings.TrimSpace(ev.RecordedBy) == "" {
		return ErrActorRequired
	}
	ev.Summary = Truncate(ev.Summary, MaxSummaryLen)

	if ev.LocationID == nil && ev.EncounterID != nil && s.encounters != nil {
		_, loc, err := s.encounters.EncounterContext(ctx, *ev.EncounterID)
		if err != nil {
			return fmt.Errorf("resolve encounter location: %w", err)
		}
		ev.LocationID = &loc
	}

	now := s.now()
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = now
	}
	ev.RecordedAt = now
	ev.IsEnteredInError = false
	ev.ErrorCorrectionReason = ""
	ev.ErrorCorrectedAt = nil
	ev.ErrorCorrectedBy = nil
	ev.SupersededBy = nil

	if err := s.repo.Insert(ctx, ev); err != nil {
		return fmt.Errorf("insert clinical event: %w", err)
	}
	return nil
}

type NoteInput struct {
	PatientID   uuid.UUID
	EncounterID *uuid.UUID
	Text        string
	OccurredAt  time.Time
}

// AppendNote records a free-text clinical note. When an encounter is given
// it must belong to the patient, and the note takes the encounter's location.
func (s *Service) AppendNote(ctx context.Context, in NoteInput, actor string) (*Event, error) {
	text := strings.TrimSpace(in.Text)
	if text == "" {
		return nil, ErrTextRequired
	}
	if in.PatientID == uuid.Nil {
		return nil, ErrPatientRequired
	}

	ev := &Event{
		PatientID:   in.PatientID,
		EncounterID: in.EncounterID,
		EventType:   TypeNote,
		Summary:     text,
		OccurredAt:  in.OccurredAt,
		RecordedBy:  actor,
	}
	if in.EncounterID != nil && s.encounters != nil {
		pid, loc, err := s.encounters.EncounterContext(ctx, *in.EncounterID)
		if err != nil {
			return nil, err
		}
		if pid != in.PatientID {
			return nil, ErrEncounterMismatch
		}
		ev.LocationID = &loc
	}

	if err := s.Append(ctx, ev); err != nil {
		return nil, err
	}
	s.publish(ctx, notification.KindEventRecorded, ev, actor)
	return ev, nil
}

// MarkEnteredInError flags an event as erroneous. Nothing outside the
// correction fields changes, and an event can only be corrected once.
func (s *Service) MarkEnteredInError(ctx context.Context, id uuid.UUID, reason, actor string) (*Event, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, ErrReasonRequired
	}

	var ev *Event
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		var err error
		ev, err = s.repo.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if ev.IsEnteredInError {
			return ErrAlreadyInError
		}
		c := Correction{Reason: reason, CorrectedAt: s.now(), CorrectedBy: actor}
		if err := s.repo.MarkEnteredInError(ctx, id, c); err != nil {
			return err
		}
		ev.applyCorrection(c)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("event_id", id.String()).Str("actor", actor).Msg("event marked entered in error")
	s.publish(ctx, notification.KindEventCorrected, ev, actor)
	return ev, nil
}

// Supersede appends replacement and marks the old event entered in error
// with a link to it, atomically. Unset context on the replacement is copied
// from the old event; the patient cannot change.
func (s *Service) Supersede(ctx context.Context, oldID uuid.UUID, replacement *Event, reason, actor string) (*Event, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, ErrReasonRequired
	}

	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		old, err := s.repo.GetForUpdate(ctx, oldID)
		if err != nil {
			return err
		}
		if old.IsEnteredInError {
			return ErrAlreadyInError
		}

		if replacement.PatientID == uuid.Nil {
			replacement.PatientID = old.PatientID
		}
		if replacement.PatientID != old.PatientID {
			return ErrPatientMismatch
		}
		if replacement.EncounterID == nil {
			replacement.EncounterID = old.EncounterID
		}
		if replacement.LocationID == nil {
			replacement.LocationID = old.LocationID
		}
		if replacement.ProblemID == nil {
			replacement.ProblemID = old.ProblemID
		}
		if replacement.EventType == "" {
			replacement.EventType = old.EventType
			if replacement.EventSubtype == "" {
				replacement.EventSubtype = old.EventSubtype
			}
		}
		if replacement.OccurredAt.IsZero() {
			replacement.OccurredAt = old.OccurredAt
		}
		replacement.RecordedBy = actor

		if err := s.Append(ctx, replacement); err != nil {
			return err
		}
		newID := replacement.ID
		return s.repo.MarkEnteredInError(ctx, oldID, Correction{
			Reason:       reason,
			CorrectedAt:  s.now(),
			CorrectedBy:  actor,
			SupersededBy: &newID,
		})
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, notification.KindEventCorrected, replacement, actor)
	return replacement, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Event, error) {
	return s.repo.GetByID(ctx, id)
}

// Timeline returns a patient's events newest first. Entered-in-error events
// are included; hiding them is up to the reader.
func (s *Service) Timeline(ctx context.Context, patientID uuid.UUID, page pagination.Params) ([]*Event, int, pagination.Params, error) {
	page = page.Clamp(s.pageSize, pagination.MaxLimit)
	evs, total, err := s.repo.ListByPatient(ctx, patientID, page.Limit, page.Offset)
	if err != nil {
		return nil, 0, page, err
	}
	return evs, total, page, nil
}

// ListByEncounter returns an encounter's events in the order they happened.
func (s *Service) ListByEncounter(ctx context.Context, encounterID uuid.UUID) ([]*Event, error) {
	return s.repo.ListByEncounter(ctx, encounterID)
}

func (s *Service) publish(ctx context.Context, kind notification.Kind, ev *Event, actor string) {
	msg := notification.Message{
		Kind:      kind,
		PatientID: ev.PatientID.String(),
		ActorID:   actor,
	}
	if ev.EncounterID != nil {
		msg.EncounterID = ev.EncounterID.String()
	}
	if ev.LocationID != nil {
		msg.LocationID = ev.LocationID.String()
	}
	s.pub.Publish(ctx, msg)
}
