// Package encounter owns the encounter aggregate and its pipeline state
// machine. Every state change is written together with its clinical events in
// one transaction.
package encounter

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/vetclinic/emr/internal/domain/clinicalevent"
	"github.com/vetclinic/emr/internal/domain/location"
	"github.com/vetclinic/emr/internal/domain/patient"
	"github.com/vetclinic/emr/internal/domain/problem"
	"github.com/vetclinic/emr/internal/domain/visit"
	"github.com/vetclinic/emr/internal/platform/db"
	"github.com/vetclinic/emr/internal/platform/notification"
	"github.com/vetclinic/emr/internal/platform/telemetry"
	"github.com/vetclinic/emr/pkg/pagination"
)

var (
	ErrNotFound          = errors.New("encounter not found")
	ErrInvalidState      = errors.New("invalid pipeline state")
	ErrInvalidType       = errors.New("invalid encounter type")
	ErrInvalidRoom       = errors.New("room is not an active exam room at this location")
	ErrInvalidTransition = errors.New("transition not allowed")
	ErrVersionConflict   = errors.New("encounter was modified by someone else; reload and retry")
	ErrCheckInBlocked    = errors.New("visit cannot be checked in")
	ErrPatientRequired   = errors.New("visit has no patient")
	ErrVisitNotFound     = errors.New("visit not found")
)

// EventLog is the part of the clinical event log the pipeline writes to.
type EventLog interface {
	Append(ctx context.Context, ev *clinicalevent.Event) error
	Timeline(ctx context.Context, patientID uuid.UUID, page pagination.Params) ([]*clinicalevent.Event, int, pagination.Params, error)
}

type RoomDirectory interface {
	ActiveRooms(ctx context.Context, locationID uuid.UUID) ([]location.Room, error)
}

type PatientRegistry interface {
	ResolveOrCreate(ctx context.Context, subject patient.Subject) (*patient.Patient, error)
	GetPatient(ctx context.Context, id uuid.UUID) (*patient.Patient, error)
}

type VisitSource interface {
	GetVisit(ctx context.Context, id uuid.UUID) (*visit.Visit, error)
	MarkInProgress(ctx context.Context, id uuid.UUID) error
}

type AlertSource interface {
	ActiveAlerts(ctx context.Context, patientID uuid.UUID) ([]*problem.Problem, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*problem.Problem, error)
	CountActiveAlerts(ctx context.Context, patientIDs []uuid.UUID) (map[uuid.UUID]int, error)
}

type Service struct {
	repo     Repository
	tx       db.Transactor
	events   EventLog
	rooms    RoomDirectory
	patients PatientRegistry
	visits   VisitSource
	alerts   AlertSource
	pub      notification.Publisher
	logger   zerolog.Logger

	batchConcurrency int
	now              func() time.Time
}

func NewService(repo Repository, tx db.Transactor, events EventLog, rooms RoomDirectory,
	patients PatientRegistry, visits VisitSource, alerts AlertSource, logger zerolog.Logger) *Service {
	return &Service{
		repo:             repo,
		tx:               tx,
		events:           events,
		rooms:            rooms,
		patients:         patients,
		visits:           visits,
		alerts:           alerts,
		pub:              notification.NopPublisher{},
		logger:           logger.With().Str("component", "encounter").Logger(),
		batchConcurrency: 4,
		now:              func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) SetPublisher(p notification.Publisher) { s.pub = p }

// SetBatchConcurrency bounds how many check-ins BatchCheckIn runs at once.
func (s *Service) SetBatchConcurrency(n int) {
	if n > 0 {
		s.batchConcurrency = n
	}
}

// Outcome is the result of Transition: either *Transitioned or
// *RoomSelectionRequired.
type Outcome interface {
	isOutcome()
}

type Transitioned struct {
	Encounter *Encounter
	// Changed is false for same-state requests, which write nothing.
	Changed bool
	Events  []*clinicalevent.Event
}

// RoomSelectionRequired is returned when several rooms could take the
// encounter and the caller did not pick one. Nothing was written.
type RoomSelectionRequired struct {
	EncounterID uuid.UUID
	Rooms       []location.Room
}

func (*Transitioned) isOutcome()          {}
func (*RoomSelectionRequired) isOutcome() {}

type TransitionOptions struct {
	// RoomID is only looked at when moving to roomed.
	RoomID          *uuid.UUID
	ExpectedVersion *int
}

// Transition moves an encounter to target under a row lock.
func (s *Service) Transition(ctx context.Context, id uuid.UUID, target State, actor string, opts TransitionOptions) (out Outcome, err error) {
	ctx, finish := telemetry.StartSpan(ctx, "encounter.transition",
		attribute.String("encounter.id", id.String()),
		attribute.String("encounter.target_state", string(target)))
	defer func() { finish(err) }()

	if !target.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidState, target)
	}

	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		enc, err := s.repo.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if enc.State != target && opts.ExpectedVersion != nil && *opts.ExpectedVersion != enc.VersionID {
			return ErrVersionConflict
		}
		out, err = s.transition(ctx, enc, target, opts.RoomID, actor)
		return err
	})
	if err != nil {
		return nil, err
	}

	if t, ok := out.(*Transitioned); ok && t.Changed {
		s.logger.Debug().
			Str("encounter_id", id.String()).
			Str("state", string(t.Encounter.State)).
			Str("actor", actor).
			Msg("encounter transitioned")
		s.publish(ctx, notification.KindEncounterChanged, t.Encounter, actor)
	}
	return out, nil
}

// transition applies one state change to a locked encounter. It must run
// inside a transaction.
func (s *Service) transition(ctx context.Context, enc *Encounter, to State, roomID *uuid.UUID, actor string) (Outcome, error) {
	from := enc.State
	if from == to {
		return &Transitioned{Encounter: enc}, nil
	}
	if !CanTransition(from, to) {
		return nil, fmt.Errorf("%w: %s to %s", ErrInvalidTransition, from, to)
	}

	var room *location.Room
	if to == StateRoomed {
		rooms, err := s.rooms.ActiveRooms(ctx, enc.LocationID)
		if err != nil {
			return nil, fmt.Errorf("load rooms: %w", err)
		}
		picked, needChoice, err := pickRoom(rooms, roomID)
		if err != nil {
			return nil, err
		}
		if needChoice {
			return &RoomSelectionRequired{EncounterID: enc.ID, Rooms: rooms}, nil
		}
		room = picked
	}

	now := s.now()
	enc.enter(to, now)
	if room != nil {
		rid := room.ID
		enc.ExamRoomID = &rid
	}
	if err := s.repo.Update(ctx, enc); err != nil {
		return nil, err
	}

	evs := []*clinicalevent.Event{s.stateChangeEvent(enc, from, to, now, actor)}
	if room != nil {
		evs = append(evs, &clinicalevent.Event{
			PatientID:    enc.PatientID,
			EncounterID:  &enc.ID,
			LocationID:   &enc.LocationID,
			EventType:    clinicalevent.TypeRoomAssignment,
			EventSubtype: "room_assigned",
			Summary:      "Assigned to room: " + room.Name,
			OccurredAt:   now,
			RecordedBy:   actor,
		})
	}
	for _, ev := range evs {
		if err := s.events.Append(ctx, ev); err != nil {
			return nil, err
		}
	}
	return &Transitioned{Encounter: enc, Changed: true, Events: evs}, nil
}

func (s *Service) stateChangeEvent(enc *Encounter, from, to State, at time.Time, actor string) *clinicalevent.Event {
	return &clinicalevent.Event{
		PatientID:     enc.PatientID,
		EncounterID:   &enc.ID,
		LocationID:    &enc.LocationID,
		EventType:     clinicalevent.TypeStateChange,
		EventSubtype:  fmt.Sprintf("%s_to_%s", from, to),
		Summary:       fmt.Sprintf("Status changed: %s → %s", from.Display(), to.Display()),
		IsSignificant: to.significant(),
		OccurredAt:    at,
		RecordedBy:    actor,
	}
}

// pickRoom decides the room for a roomed transition. rooms are the active
// rooms at the encounter's location.
func pickRoom(rooms []location.Room, requested *uuid.UUID) (room *location.Room, needChoice bool, err error) {
	if requested != nil {
		for i := range rooms {
			if rooms[i].ID == *requested {
				return &rooms[i], false, nil
			}
		}
		return nil, false, fmt.Errorf("%w: %s", ErrInvalidRoom, requested)
	}
	switch len(rooms) {
	case 0:
		return nil, false, nil
	case 1:
		return &rooms[0], false, nil
	default:
		return nil, true, nil
	}
}

// NewEncounter is a walk-in without an originating visit.
type NewEncounter struct {
	PatientID      uuid.UUID
	LocationID     uuid.UUID
	EncounterType  Type
	ChiefComplaint string
	ClinicianID    *string
	TechnicianID   *string
}

// CreateEncounter opens a walk-in encounter in the scheduled state.
func (s *Service) CreateEncounter(ctx context.Context, in NewEncounter, actor string) (enc *Encounter, err error) {
	ctx, finish := telemetry.StartSpan(ctx, "encounter.create")
	defer func() { finish(err) }()

	if in.PatientID == uuid.Nil {
		return nil, ErrPatientRequired
	}
	if in.EncounterType == "" {
		in.EncounterType = TypeRoutine
	}
	if !in.EncounterType.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidType, in.EncounterType)
	}

	now := s.now()
	enc = &Encounter{
		PatientID:      in.PatientID,
		LocationID:     in.LocationID,
		ClinicianID:    in.ClinicianID,
		TechnicianID:   in.TechnicianID,
		State:          StateScheduled,
		EncounterType:  in.EncounterType,
		ChiefComplaint: strings.TrimSpace(in.ChiefComplaint),
		ScheduledAt:    &now,
		CreatedBy:      actor,
	}
	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		if err := s.repo.Create(ctx, enc); err != nil {
			return err
		}
		return s.events.Append(ctx, createdEvent(enc, now, actor))
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, notification.KindEncounterCreated, enc, actor)
	return enc, nil
}

func createdEvent(enc *Encounter, at time.Time, actor string) *clinicalevent.Event {
	complaint := clinicalevent.Truncate(enc.ChiefComplaint, 100)
	if complaint == "" {
		complaint = "No complaint specified"
	}
	return &clinicalevent.Event{
		PatientID:     enc.PatientID,
		EncounterID:   &enc.ID,
		LocationID:    &enc.LocationID,
		EventType:     clinicalevent.TypeEncounterCreated,
		Summary:       fmt.Sprintf("Encounter created: %s - %s", enc.EncounterType.Display(), complaint),
		IsSignificant: true,
		OccurredAt:    at,
		RecordedBy:    actor,
	}
}

// DetailsUpdate carries the non-state fields an encounter may be edited on.
// Nil fields are left alone; an empty staff id clears the assignment and
// uuid.Nil clears the exam room.
type DetailsUpdate struct {
	EncounterType  *Type
	ChiefComplaint *string
	ClinicianID    *string
	TechnicianID   *string
	ExamRoomID     *uuid.UUID
}

// UpdateDetails edits non-state fields and records a note event naming what
// changed. An edit that changes nothing writes nothing.
func (s *Service) UpdateDetails(ctx context.Context, id uuid.UUID, upd DetailsUpdate, expectedVersion *int, actor string) (*Encounter, error) {
	if upd.EncounterType != nil && !upd.EncounterType.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidType, *upd.EncounterType)
	}

	var (
		enc     *Encounter
		changed []string
		room    *location.Room
	)
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		var err error
		enc, err = s.repo.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if expectedVersion != nil && *expectedVersion != enc.VersionID {
			return ErrVersionConflict
		}

		if upd.EncounterType != nil && *upd.EncounterType != enc.EncounterType {
			enc.EncounterType = *upd.EncounterType
			changed = append(changed, "type")
		}
		if upd.ChiefComplaint != nil {
			if c := strings.TrimSpace(*upd.ChiefComplaint); c != enc.ChiefComplaint {
				enc.ChiefComplaint = c
				changed = append(changed, "chief complaint")
			}
		}
		if upd.ClinicianID != nil && !sameStaff(enc.ClinicianID, *upd.ClinicianID) {
			enc.ClinicianID = staffRef(*upd.ClinicianID)
			changed = append(changed, "clinician")
		}
		if upd.TechnicianID != nil && !sameStaff(enc.TechnicianID, *upd.TechnicianID) {
			enc.TechnicianID = staffRef(*upd.TechnicianID)
			changed = append(changed, "technician")
		}
		if upd.ExamRoomID != nil && !sameRoom(enc.ExamRoomID, *upd.ExamRoomID) {
			if *upd.ExamRoomID == uuid.Nil {
				enc.ExamRoomID = nil
			} else {
				rooms, err := s.rooms.ActiveRooms(ctx, enc.LocationID)
				if err != nil {
					return fmt.Errorf("load rooms: %w", err)
				}
				if room, _, err = pickRoom(rooms, upd.ExamRoomID); err != nil {
					return err
				}
				rid := room.ID
				enc.ExamRoomID = &rid
			}
			changed = append(changed, "exam room")
		}
		if len(changed) == 0 {
			return nil
		}

		if err := s.repo.Update(ctx, enc); err != nil {
			return err
		}
		if err := s.events.Append(ctx, &clinicalevent.Event{
			PatientID:    enc.PatientID,
			EncounterID:  &enc.ID,
			LocationID:   &enc.LocationID,
			EventType:    clinicalevent.TypeNote,
			EventSubtype: "encounter_updated",
			Summary:      "Encounter details updated: " + strings.Join(changed, ", "),
			RecordedBy:   actor,
		}); err != nil {
			return err
		}
		if room == nil {
			return nil
		}
		return s.events.Append(ctx, &clinicalevent.Event{
			PatientID:    enc.PatientID,
			EncounterID:  &enc.ID,
			LocationID:   &enc.LocationID,
			EventType:    clinicalevent.TypeRoomAssignment,
			EventSubtype: "room_changed",
			Summary:      "Assigned to room: " + room.Name,
			RecordedBy:   actor,
		})
	})
	if err != nil {
		return nil, err
	}

	if len(changed) > 0 {
		s.publish(ctx, notification.KindEncounterUpdated, enc, actor)
	}
	return enc, nil
}

func sameStaff(cur *string, next string) bool {
	if cur == nil {
		return next == ""
	}
	return *cur == next
}

func sameRoom(cur *uuid.UUID, next uuid.UUID) bool {
	if cur == nil {
		return next == uuid.Nil
	}
	return *cur == next
}

func staffRef(id string) *string {
	if id == "" {
		return nil
	}
	return &id
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Encounter, error) {
	return s.repo.GetByID(ctx, id)
}

// EncounterContext lets the event log resolve an encounter's patient and location.
func (s *Service) EncounterContext(ctx context.Context, id uuid.UUID) (uuid.UUID, uuid.UUID, error) {
	enc, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return uuid.Nil, uuid.Nil, clinicalevent.ErrEncounterNotFound
		}
		return uuid.Nil, uuid.Nil, err
	}
	return enc.PatientID, enc.LocationID, nil
}

func (s *Service) publish(ctx context.Context, kind notification.Kind, enc *Encounter, actor string) {
	s.pub.Publish(ctx, notification.Message{
		Kind:        kind,
		LocationID:  enc.LocationID.String(),
		PatientID:   enc.PatientID.String(),
		EncounterID: enc.ID.String(),
		State:       string(enc.State),
		ActorID:     actor,
		At:          s.now(),
	})
}
