package encounter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to State
		want     bool
	}{
		{StateScheduled, StateCheckedIn, true},
		{StateCheckedIn, StateRoomed, true},
		{StateCheckedIn, StateCheckout, true},
		{StateInExam, StatePendingOrders, true},
		{StateTreatment, StateCompleted, true},
		{StateRoomed, StateCheckedIn, false},
		{StateCheckout, StateInExam, false},
		{StateScheduled, StateNoShow, true},
		{StateTreatment, StateCancelled, true},
		{StateCompleted, StateCancelled, false},
		{StateNoShow, StateCheckedIn, false},
		{StateCancelled, StateScheduled, false},
		{StateCompleted, StateCompleted, true},
		{StateCheckedIn, State("bogus"), false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestParseState(t *testing.T) {
	s, err := ParseState("in_exam")
	require.NoError(t, err)
	assert.Equal(t, StateInExam, s)
	assert.Equal(t, "In Exam", s.Display())

	_, err = ParseState("napping")
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestActiveStates(t *testing.T) {
	got := ActiveStates()
	assert.Equal(t, StateScheduled, got[0])
	assert.Equal(t, StateCheckout, got[len(got)-1])
	for _, s := range got {
		assert.False(t, s.Terminal(), s)
	}
}

func TestTypeDisplay(t *testing.T) {
	assert.Equal(t, "Urgent Care", TypeUrgent.Display())
	assert.True(t, TypeBoarding.Valid())
	assert.False(t, Type("spa").Valid())
}

func TestEnter_Timestamps(t *testing.T) {
	t0 := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	e := &Encounter{State: StateScheduled}

	e.enter(StateCheckedIn, t0)
	e.enter(StateRoomed, t0.Add(time.Minute))
	e.enter(StateInExam, t0.Add(2*time.Minute))
	require.Nil(t, e.ExamEndedAt)
	e.enter(StateCheckout, t0.Add(20*time.Minute))
	e.enter(StateCompleted, t0.Add(25*time.Minute))

	assert.Equal(t, t0, *e.CheckedInAt)
	assert.Equal(t, t0.Add(time.Minute), *e.RoomedAt)
	assert.Equal(t, t0.Add(2*time.Minute), *e.ExamStartedAt)
	assert.Equal(t, t0.Add(20*time.Minute), *e.ExamEndedAt)
	assert.Equal(t, t0.Add(25*time.Minute), *e.DischargedAt)
}

func TestEnter_CancelFromExamEndsExam(t *testing.T) {
	now := time.Now()
	e := &Encounter{State: StateInExam}
	e.enter(StateCancelled, now)
	require.NotNil(t, e.ExamEndedAt)
	assert.Nil(t, e.DischargedAt)
}
