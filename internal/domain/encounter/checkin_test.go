package encounter

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vetclinic/emr/internal/domain/clinicalevent"
	"github.com/vetclinic/emr/internal/domain/visit"
)

func TestCheckIn_CreatesCheckedInEncounter(t *testing.T) {
	f := newFixture()
	clinician := "vet-3"
	subject := uuid.New()
	visitID := f.visits.add(visit.Visit{
		LocationID:  f.location,
		SubjectID:   &subject,
		SubjectName: "Mittens",
		Species:     "feline",
		ServiceName: "Dental cleaning",
		ClinicianID: &clinician,
		Status:      visit.StatusScheduled,
	})

	enc, created, err := f.svc.CheckIn(context.Background(), visitID, f.location, "recept-1")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, StateCheckedIn, enc.State)
	assert.NotNil(t, enc.CheckedInAt)
	require.NotNil(t, enc.VisitID)
	assert.Equal(t, visitID, *enc.VisitID)
	require.NotNil(t, enc.ClinicianID)
	assert.Equal(t, "vet-3", *enc.ClinicianID)
	assert.Equal(t, visit.StatusInProgress, f.visits.status(visitID))

	p, err := f.patients.GetByID(context.Background(), enc.PatientID)
	require.NoError(t, err)
	assert.Equal(t, subject, p.SubjectID)
	assert.Equal(t, "Mittens", p.Name)
}

func TestCheckIn_IsIdempotent(t *testing.T) {
	f := newFixture()
	visitID := f.addVisit("Dog is limping", "Sick visit")

	first, created, err := f.svc.CheckIn(context.Background(), visitID, f.location, "recept-1")
	require.NoError(t, err)
	assert.True(t, created)

	second, created, err := f.svc.CheckIn(context.Background(), visitID, f.location, "recept-1")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)

	assert.Equal(t, 1, f.repo.count())
	evs := f.events.forEncounter(first.ID)
	require.Len(t, evs, 2)
	assert.Equal(t, clinicalevent.TypeEncounterCreated, evs[0].EventType)
	assert.Equal(t, clinicalevent.TypeStateChange, evs[1].EventType)
	assert.Equal(t, "scheduled_to_checked_in", evs[1].EventSubtype)
}

func TestCheckIn_ChiefComplaint(t *testing.T) {
	tests := []struct {
		name, notes, service, want string
	}{
		{"notes win", "Dog is limping", "Sick visit", "Dog is limping"},
		{"falls back to service", "", "Sick visit", "Sick visit"},
		{"blank notes", "   ", "Vaccines", "Vaccines"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			enc, _, err := f.svc.CheckIn(context.Background(), f.addVisit(tt.notes, tt.service), f.location, "recept-1")
			require.NoError(t, err)
			assert.Equal(t, tt.want, enc.ChiefComplaint)
		})
	}
}

func TestCheckIn_ClosedVisit(t *testing.T) {
	for _, status := range []visit.Status{visit.StatusCancelled, visit.StatusCompleted} {
		t.Run(string(status), func(t *testing.T) {
			f := newFixture()
			subject := uuid.New()
			visitID := f.visits.add(visit.Visit{LocationID: f.location, SubjectID: &subject, Status: status})

			_, _, err := f.svc.CheckIn(context.Background(), visitID, f.location, "recept-1")
			require.ErrorIs(t, err, ErrCheckInBlocked)
			assert.Contains(t, err.Error(), "cannot check in "+string(status))
			assert.Zero(t, f.repo.count())
		})
	}
}

func TestCheckIn_VisitWithoutPatient(t *testing.T) {
	f := newFixture()
	visitID := f.visits.add(visit.Visit{LocationID: f.location, Status: visit.StatusConfirmed})

	_, _, err := f.svc.CheckIn(context.Background(), visitID, f.location, "recept-1")
	assert.ErrorIs(t, err, ErrPatientRequired)
	assert.Zero(t, f.repo.count())
}

func TestCheckIn_UnknownVisit(t *testing.T) {
	f := newFixture()
	_, _, err := f.svc.CheckIn(context.Background(), uuid.New(), f.location, "recept-1")
	assert.ErrorIs(t, err, ErrVisitNotFound)
}

func TestCheckIn_DefaultsToVisitLocation(t *testing.T) {
	f := newFixture()
	enc, _, err := f.svc.CheckIn(context.Background(), f.addVisit("", "Wellness"), uuid.Nil, "recept-1")
	require.NoError(t, err)
	assert.Equal(t, f.location, enc.LocationID)
}

func TestCheckIn_LostRaceReturnsWinner(t *testing.T) {
	f := newFixture()
	visitID := f.addVisit("", "Wellness")
	winner, _, err := f.svc.CheckIn(context.Background(), visitID, f.location, "recept-1")
	require.NoError(t, err)
	eventsBefore := len(f.events.forEncounter(winner.ID))

	// The loser's first lookup misses, so it reaches the insert and trips
	// the unique constraint on visit_id.
	f.repo.staleVisitReads = 1
	got, created, err := f.svc.CheckIn(context.Background(), visitID, f.location, "recept-2")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, winner.ID, got.ID)
	assert.Equal(t, 1, f.repo.count())
	assert.Len(t, f.events.forEncounter(winner.ID), eventsBefore)
	assert.Equal(t, 1, f.tx.Rollbacks())
}

func TestCheckIn_EventFailureLeavesNothing(t *testing.T) {
	f := newFixture()
	visitID := f.addVisit("", "Wellness")
	f.events.err = errors.New("connection reset")

	_, _, err := f.svc.CheckIn(context.Background(), visitID, f.location, "recept-1")
	require.Error(t, err)
	assert.Zero(t, f.repo.count())
	assert.Equal(t, visit.StatusConfirmed, f.visits.status(visitID))
	assert.Empty(t, f.patients.patients)
}

func TestBatchCheckIn_CollectsEveryResult(t *testing.T) {
	f := newFixture()
	f.svc.SetBatchConcurrency(2)
	ok1 := f.addVisit("", "Wellness")
	ok2 := f.addVisit("Coughing", "Sick visit")
	subject := uuid.New()
	cancelled := f.visits.add(visit.Visit{LocationID: f.location, SubjectID: &subject, Status: visit.StatusCancelled})
	missing := uuid.New()

	ids := []uuid.UUID{ok1, cancelled, missing, ok2, ok1}
	results := f.svc.BatchCheckIn(context.Background(), ids, f.location, "recept-1")
	require.Len(t, results, len(ids))

	for i, r := range results {
		assert.Equal(t, ids[i], r.VisitID)
	}
	assert.Empty(t, results[0].Error)
	assert.NotNil(t, results[0].EncounterID)
	assert.Contains(t, results[1].Error, "cannot check in cancelled")
	assert.Nil(t, results[1].EncounterID)
	assert.Equal(t, ErrVisitNotFound.Error(), results[2].Error)
	assert.Empty(t, results[3].Error)
	assert.True(t, results[3].Created)

	// ok1 appears twice; exactly one of the two calls created it.
	assert.Empty(t, results[4].Error)
	assert.Equal(t, *results[0].EncounterID, *results[4].EncounterID)
	assert.NotEqual(t, results[0].Created, results[4].Created)
	assert.Equal(t, 2, f.repo.count())
}

func TestBatchCheckIn_CancelledContext(t *testing.T) {
	f := newFixture()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results := f.svc.BatchCheckIn(ctx, []uuid.UUID{f.addVisit("", "Wellness")}, f.location, "recept-1")
	require.Len(t, results, 1)
	assert.Equal(t, context.Canceled.Error(), results[0].Error)
	assert.Zero(t, f.repo.count())
}
