package encounter

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/vetclinic/emr/internal/domain/patient"
	"github.com/vetclinic/emr/internal/domain/visit"
	"github.com/vetclinic/emr/internal/platform/db"
	"github.com/vetclinic/emr/internal/platform/notification"
	"github.com/vetclinic/emr/internal/platform/telemetry"
)

// CheckIn opens the encounter for a visit, or returns the one that already
// exists with created=false. A new encounter is written with its
// encounter_created event and the scheduled to checked_in transition, and
// the visit is marked in progress, all in one transaction.
func (s *Service) CheckIn(ctx context.Context, visitID, locationID uuid.UUID, actor string) (enc *Encounter, created bool, err error) {
	ctx, finish := telemetry.StartSpan(ctx, "encounter.check_in",
		attribute.String("visit.id", visitID.String()))
	defer func() { finish(err) }()

	v, err := s.visits.GetVisit(ctx, visitID)
	if err != nil {
		if errors.Is(err, visit.ErrNotFound) {
			return nil, false, ErrVisitNotFound
		}
		return nil, false, err
	}
	if v.Closed() {
		return nil, false, fmt.Errorf("%w: cannot check in %s visit", ErrCheckInBlocked, v.Status)
	}
	if v.SubjectID == nil {
		return nil, false, fmt.Errorf("%w: check-in requires a pet/patient", ErrPatientRequired)
	}

	existing, err := s.repo.GetByVisit(ctx, visitID)
	switch {
	case err == nil:
		return existing, false, nil
	case !errors.Is(err, ErrNotFound):
		return nil, false, err
	}

	if locationID == uuid.Nil {
		locationID = v.LocationID
	}

	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		p, err := s.patients.ResolveOrCreate(ctx, patient.Subject{
			ID:      *v.SubjectID,
			Name:    v.SubjectName,
			Species: v.Species,
		})
		if err != nil {
			return fmt.Errorf("resolve patient: %w", err)
		}

		now := s.now()
		scheduled := v.ScheduledAt
		vid := v.ID
		enc = &Encounter{
			PatientID:      p.ID,
			LocationID:     locationID,
			VisitID:        &vid,
			ClinicianID:    v.ClinicianID,
			State:          StateScheduled,
			EncounterType:  TypeRoutine,
			ChiefComplaint: chiefComplaint(v),
			ScheduledAt:    &scheduled,
			CreatedBy:      actor,
		}
		if err := s.repo.Create(ctx, enc); err != nil {
			return err
		}
		if err := s.events.Append(ctx, createdEvent(enc, now, actor)); err != nil {
			return err
		}
		if _, err := s.transition(ctx, enc, StateCheckedIn, nil, actor); err != nil {
			return err
		}
		return s.visits.MarkInProgress(ctx, v.ID)
	})
	if err != nil {
		if !db.IsUniqueViolation(err, "encounters_visit_id_key") {
			return nil, false, err
		}
		// Lost the race to a concurrent check-in of the same visit.
		s.logger.Info().Str("visit_id", visitID.String()).Msg("check-in raced; returning existing encounter")
		existing, gerr := s.repo.GetByVisit(ctx, visitID)
		if gerr != nil {
			return nil, false, errors.Join(err, gerr)
		}
		return existing, false, nil
	}

	s.publish(ctx, notification.KindEncounterCreated, enc, actor)
	return enc, true, nil
}

func chiefComplaint(v *visit.Visit) string {
	if n := strings.TrimSpace(v.Notes); n != "" {
		return n
	}
	return strings.TrimSpace(v.ServiceName)
}

// BatchResult reports one visit of a batch check-in.
type BatchResult struct {
	VisitID     uuid.UUID  `json:"visit_id"`
	EncounterID *uuid.UUID `json:"encounter_id,omitempty"`
	Created     bool       `json:"created"`
	Error       string     `json:"error,omitempty"`
}

// BatchCheckIn checks in each visit independently. A failing visit is
// reported in its result and does not stop the others.
func (s *Service) BatchCheckIn(ctx context.Context, visitIDs []uuid.UUID, locationID uuid.UUID, actor string) []BatchResult {
	results := make([]BatchResult, len(visitIDs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.batchConcurrency)

	for i, id := range visitIDs {
		results[i].VisitID = id
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				results[i].Error = err.Error()
				return nil
			}
			enc, created, err := s.CheckIn(gctx, id, locationID, actor)
			if err != nil {
				s.logger.Warn().Err(err).Str("visit_id", id.String()).Msg("batch check-in failed")
				results[i].Error = err.Error()
				return nil
			}
			eid := enc.ID
			results[i].EncounterID = &eid
			results[i].Created = created
			return nil
		})
	}
	_ = g.Wait()
	return results
}
