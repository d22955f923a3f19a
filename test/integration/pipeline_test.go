package integration

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vetclinic/emr/internal/domain/clinicalevent"
	"github.com/vetclinic/emr/internal/domain/encounter"
	"github.com/vetclinic/emr/internal/domain/problem"
	"github.com/vetclinic/emr/internal/platform/db"
	"github.com/vetclinic/emr/pkg/pagination"
)

func TestMigrations_AlreadyApplied(t *testing.T) {
	pool := requireDB(t)
	ctx := context.Background()
	m := db.NewMigrator(pool, globalDB.MigrationsDir)

	n, err := m.Up(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	statuses, err := m.Status(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, statuses)
	for _, s := range statuses {
		assert.True(t, s.Applied, "migration %d not applied", s.Version)
	}
}

func TestPipeline_CheckInRoomAndBoard(t *testing.T) {
	pool := requireDB(t)
	ctx := context.Background()
	s := newStack(pool)

	loc := createTestLocation(t, ctx, pool, "Northside")
	roomA := createTestRoom(t, ctx, pool, loc, "Exam 1", 1)
	createTestRoom(t, ctx, pool, loc, "Exam 2", 2)
	visitID := createTestVisit(t, ctx, pool, loc, "Biscuit", "Limping on left hind")

	enc, created, err := s.encounters.CheckIn(ctx, visitID, uuid.Nil, "frontdesk")
	require.NoError(t, err)
	require.True(t, created)
	assert.Equal(t, encounter.StateCheckedIn, enc.State)
	assert.Equal(t, "Limping on left hind", enc.ChiefComplaint)
	assert.NotNil(t, enc.CheckedInAt)

	again, created, err := s.encounters.CheckIn(ctx, visitID, uuid.Nil, "frontdesk")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, enc.ID, again.ID)

	var visitStatus string
	require.NoError(t, pool.QueryRow(ctx, `SELECT status FROM visits WHERE id = $1`, visitID).Scan(&visitStatus))
	assert.Equal(t, "in_progress", visitStatus)

	t.Run("two rooms need a choice", func(t *testing.T) {
		out, err := s.encounters.Transition(ctx, enc.ID, encounter.StateRoomed, "tech-1", encounter.TransitionOptions{})
		require.NoError(t, err)
		sel, ok := out.(*encounter.RoomSelectionRequired)
		require.True(t, ok)
		assert.Len(t, sel.Rooms, 2)

		current, err := s.encounters.Get(ctx, enc.ID)
		require.NoError(t, err)
		assert.Equal(t, encounter.StateCheckedIn, current.State)
	})

	t.Run("chosen room", func(t *testing.T) {
		out, err := s.encounters.Transition(ctx, enc.ID, encounter.StateRoomed, "tech-1",
			encounter.TransitionOptions{RoomID: &roomA})
		require.NoError(t, err)
		tr, ok := out.(*encounter.Transitioned)
		require.True(t, ok)
		assert.True(t, tr.Changed)
		require.Len(t, tr.Events, 2)
		assert.Equal(t, clinicalevent.TypeStateChange, tr.Events[0].EventType)
		assert.Equal(t, clinicalevent.TypeRoomAssignment, tr.Events[1].EventType)
		assert.Equal(t, "Assigned to room: Exam 1", tr.Events[1].Summary)
	})

	t.Run("alert shows on the board", func(t *testing.T) {
		require.NoError(t, s.problems.AddProblem(ctx, &problem.Problem{
			PatientID:   enc.PatientID,
			Name:        "Penicillin allergy",
			ProblemType: problem.TypeAllergy,
			IsAlert:     true,
			AlertText:   "PCN ALLERGY",
		}, "vet-1"))

		board, err := s.encounters.Whiteboard(ctx, loc)
		require.NoError(t, err)
		assert.Equal(t, 1, board.Total)
		require.Len(t, board.Columns[encounter.StateRoomed], 1)
		card := board.Columns[encounter.StateRoomed][0]
		assert.Equal(t, "Biscuit", card.PatientName)
		assert.Equal(t, "Exam 1", card.ExamRoomName)
		assert.Equal(t, 1, card.ActiveAlerts)
		assert.Empty(t, board.Columns[encounter.StateCheckedIn])
	})

	t.Run("timeline is newest first", func(t *testing.T) {
		events, total, _, err := s.events.Timeline(ctx, enc.PatientID, pagination.Params{Limit: 50})
		require.NoError(t, err)
		// created, scheduled->checked_in, checked_in->roomed, room, problem
		assert.Equal(t, 5, total)
		require.Len(t, events, 5)
		assert.Equal(t, clinicalevent.TypeProblemAdded, events[0].EventType)
		assert.Equal(t, clinicalevent.TypeEncounterCreated, events[4].EventType)
	})
}

func TestPipeline_ConcurrentCheckInCreatesOne(t *testing.T) {
	pool := requireDB(t)
	ctx := context.Background()
	s := newStack(pool)

	loc := createTestLocation(t, ctx, pool, "Eastside")
	visitID := createTestVisit(t, ctx, pool, loc, "Mochi", "")

	const n = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
		ids     = make(map[uuid.UUID]bool)
		errs    []error
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			enc, c, err := s.encounters.CheckIn(ctx, visitID, uuid.Nil, "kiosk")
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			ids[enc.ID] = true
			if c {
				created++
			}
		}()
	}
	wg.Wait()

	require.Empty(t, errs)
	assert.Equal(t, 1, created)
	assert.Len(t, ids, 1)

	var rows, createdEvents int
	require.NoError(t, pool.QueryRow(ctx, `SELECT count(*) FROM encounters WHERE visit_id = $1`, visitID).Scan(&rows))
	require.NoError(t, pool.QueryRow(ctx, `
		SELECT count(*) FROM clinical_events ce JOIN encounters e ON e.id = ce.encounter_id
		WHERE e.visit_id = $1 AND ce.event_type = 'encounter_created'`, visitID).Scan(&createdEvents))
	assert.Equal(t, 1, rows)
	assert.Equal(t, 1, createdEvents)
}

func TestPipeline_StaleVersionRejected(t *testing.T) {
	pool := requireDB(t)
	ctx := context.Background()
	s := newStack(pool)

	loc := createTestLocation(t, ctx, pool, "Westside")
	enc, _, err := s.encounters.CheckIn(ctx, createTestVisit(t, ctx, pool, loc, "Pepper", ""), uuid.Nil, "frontdesk")
	require.NoError(t, err)
	stale := enc.VersionID

	complaint := "Vomiting since last night"
	_, err = s.encounters.UpdateDetails(ctx, enc.ID, encounter.DetailsUpdate{ChiefComplaint: &complaint}, &stale, "vet-1")
	require.NoError(t, err)

	_, err = s.encounters.Transition(ctx, enc.ID, encounter.StateInExam, "vet-1",
		encounter.TransitionOptions{ExpectedVersion: &stale})
	assert.ErrorIs(t, err, encounter.ErrVersionConflict)
}

func TestClinicalEvents_AppendOnlyInDatabase(t *testing.T) {
	pool := requireDB(t)
	ctx := context.Background()
	s := newStack(pool)

	loc := createTestLocation(t, ctx, pool, "Southside")
	enc, _, err := s.encounters.CheckIn(ctx, createTestVisit(t, ctx, pool, loc, "Olive", ""), uuid.Nil, "frontdesk")
	require.NoError(t, err)

	note, err := s.events.AppendNote(ctx, clinicalevent.NoteInput{
		PatientID:   enc.PatientID,
		EncounterID: &enc.ID,
		Text:        "Weight 12.4kg",
	}, "tech-1")
	require.NoError(t, err)
	assert.Equal(t, &loc, note.LocationID)

	_, err = pool.Exec(ctx, `UPDATE clinical_events SET summary = 'edited' WHERE id = $1`, note.ID)
	assert.Error(t, err)
	_, err = pool.Exec(ctx, `DELETE FROM clinical_events WHERE id = $1`, note.ID)
	assert.Error(t, err)

	corrected, err := s.events.MarkEnteredInError(ctx, note.ID, "wrong patient", "vet-1")
	require.NoError(t, err)
	assert.True(t, corrected.IsEnteredInError)
	assert.Equal(t, "Weight 12.4kg", corrected.Summary)

	_, err = s.events.MarkEnteredInError(ctx, note.ID, "again", "vet-1")
	assert.ErrorIs(t, err, clinicalevent.ErrAlreadyInError)

	_, err = pool.Exec(ctx, `UPDATE clinical_events SET error_correction_reason = 'sneaky' WHERE id = $1`, note.ID)
	assert.Error(t, err)
}

func TestProblems_ResolvedOnEntryKeepsResolvedDate(t *testing.T) {
	pool := requireDB(t)
	ctx := context.Background()
	s := newStack(pool)

	loc := createTestLocation(t, ctx, pool, "Harbor")
	enc, _, err := s.encounters.CheckIn(ctx, createTestVisit(t, ctx, pool, loc, "Juniper", ""), uuid.Nil, "frontdesk")
	require.NoError(t, err)

	p := &problem.Problem{
		PatientID: enc.PatientID,
		Name:      "Otitis externa",
		Status:    problem.StatusResolved,
	}
	require.NoError(t, s.problems.AddProblem(ctx, p, "vet-1"))
	require.NotNil(t, p.ResolvedDate)

	stored, err := problem.NewRepo(pool).GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, problem.StatusResolved, stored.Status)
	require.NotNil(t, stored.ResolvedDate)
	assert.WithinDuration(t, *p.ResolvedDate, *stored.ResolvedDate, time.Millisecond)

	_, err = s.problems.ResolveProblem(ctx, p.ID, "vet-1")
	assert.ErrorIs(t, err, problem.ErrAlreadyResolved)
}
