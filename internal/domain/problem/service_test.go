package problem

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/vetclinic/emr/internal/domain/clinicalevent"
	"github.com/vetclinic/emr/internal/platform/db/dbtest"
)

// -- In-memory repository --

type memRepo struct {
	mu       sync.Mutex
	problems map[uuid.UUID]Problem
}

func newMemRepo() *memRepo {
	return &memRepo{problems: make(map[uuid.UUID]Problem)}
}

func (m *memRepo) Snapshot() func() {
	m.mu.Lock()
	saved := make(map[uuid.UUID]Problem, len(m.problems))
	for k, v := range m.problems {
		saved[k] = v
	}
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		m.problems = saved
		m.mu.Unlock()
	}
}

func (m *memRepo) Create(_ context.Context, p *Problem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p.ID = uuid.New()
	p.CreatedAt = time.Now()
	p.UpdatedAt = p.CreatedAt
	m.problems[p.ID] = *p
	return nil
}

func (m *memRepo) GetByID(_ context.Context, id uuid.UUID) (*Problem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.problems[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (m *memRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*Problem, error) {
	return m.GetByID(ctx, id)
}

func (m *memRepo) Resolve(_ context.Context, id uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.problems[id]
	if !ok {
		return ErrNotFound
	}
	p.Status = StatusResolved
	p.ResolvedDate = &at
	m.problems[id] = p
	return nil
}

func (m *memRepo) ListByPatient(_ context.Context, patientID uuid.UUID) ([]*Problem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Problem
	for _, p := range m.problems {
		if p.PatientID == patientID {
			cp := p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memRepo) ListActiveAlerts(ctx context.Context, patientID uuid.UUID) ([]*Problem, error) {
	all, _ := m.ListByPatient(ctx, patientID)
	var out []*Problem
	for _, p := range all {
		if p.ActiveAlert() {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *memRepo) CountActiveAlerts(ctx context.Context, patientIDs []uuid.UUID) (map[uuid.UUID]int, error) {
	counts := make(map[uuid.UUID]int)
	for _, id := range patientIDs {
		alerts, _ := m.ListActiveAlerts(ctx, id)
		if len(alerts) > 0 {
			counts[id] = len(alerts)
		}
	}
	return counts, nil
}

// -- Event log mock --

type mockEvents struct {
	mock.Mock
}

func (m *mockEvents) Append(ctx context.Context, ev *clinicalevent.Event) error {
	args := m.Called(ctx, ev)
	return args.Error(0)
}

func newTestService(events *mockEvents) (*Service, *memRepo) {
	repo := newMemRepo()
	return NewService(repo, dbtest.NewTransactor(repo), events, zerolog.Nop()), repo
}

func eventOfType(t clinicalevent.EventType) interface{} {
	return mock.MatchedBy(func(ev *clinicalevent.Event) bool { return ev.EventType == t })
}

// -- AddProblem --

func TestAddProblem_Defaults(t *testing.T) {
	events := &mockEvents{}
	events.On("Append", mock.Anything, eventOfType(clinicalevent.TypeProblemAdded)).Return(nil).Once()
	svc, _ := newTestService(events)

	p := &Problem{PatientID: uuid.New(), Name: "Otitis externa"}
	require.NoError(t, svc.AddProblem(context.Background(), p, "vet-1"))

	assert.Equal(t, TypeDiagnosis, p.ProblemType)
	assert.Equal(t, SeverityModerate, p.Severity)
	assert.Equal(t, StatusActive, p.Status)
	assert.Equal(t, AlertWarning, p.AlertSeverity)
	assert.Equal(t, "vet-1", p.CreatedBy)
	events.AssertExpectations(t)

	ev := events.Calls[0].Arguments.Get(1).(*clinicalevent.Event)
	assert.Equal(t, "Problem added: Otitis externa (Diagnosis)", ev.Summary)
	assert.False(t, ev.IsSignificant)
	require.NotNil(t, ev.ProblemID)
	assert.Equal(t, p.ID, *ev.ProblemID)
}

func TestAddProblem_AlertIsSignificant(t *testing.T) {
	events := &mockEvents{}
	events.On("Append", mock.Anything, mock.Anything).Return(nil)
	svc, _ := newTestService(events)

	p := &Problem{PatientID: uuid.New(), Name: "Penicillin", ProblemType: TypeAllergy, IsAlert: true, AlertText: "PENICILLIN ALLERGY"}
	require.NoError(t, svc.AddProblem(context.Background(), p, "vet-1"))

	ev := events.Calls[0].Arguments.Get(1).(*clinicalevent.Event)
	assert.True(t, ev.IsSignificant)
	assert.Equal(t, "Problem added: Penicillin (Allergy)", ev.Summary)
}

func TestAddProblem_ResolvedOnEntry(t *testing.T) {
	events := &mockEvents{}
	events.On("Append", mock.Anything, mock.Anything).Return(nil)
	svc, repo := newTestService(events)

	p := &Problem{PatientID: uuid.New(), Name: "Otitis externa", Status: StatusResolved}
	require.NoError(t, svc.AddProblem(context.Background(), p, "vet-1"))
	require.NotNil(t, p.ResolvedDate)

	stored, err := repo.GetByID(context.Background(), p.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.ResolvedDate)
	assert.Equal(t, *p.ResolvedDate, *stored.ResolvedDate)
}

func TestValidateProblem_AcceptsDefaults(t *testing.T) {
	p := &Problem{PatientID: uuid.New(), Name: "Otitis externa"}
	applyDefaults(p)
	assert.NoError(t, validateProblem(p))
}

func TestAddProblem_Validation(t *testing.T) {
	tests := []struct {
		name string
		p    Problem
		want error
	}{
		{"no patient", Problem{Name: "x"}, ErrPatientRequired},
		{"blank name", Problem{PatientID: uuid.New(), Name: "  "}, ErrNameRequired},
		{"alert without text", Problem{PatientID: uuid.New(), Name: "x", IsAlert: true}, ErrAlertTextRequired},
		{"alert text too long", Problem{PatientID: uuid.New(), Name: "x", IsAlert: true, AlertText: strings.Repeat("a", 101)}, ErrAlertTextTooLong},
		{"bad type", Problem{PatientID: uuid.New(), Name: "x", ProblemType: "cosmetic"}, ErrInvalidAttribute},
		{"bad severity", Problem{PatientID: uuid.New(), Name: "x", Severity: "meh"}, ErrInvalidAttribute},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events := &mockEvents{}
			svc, repo := newTestService(events)
			p := tt.p
			err := svc.AddProblem(context.Background(), &p, "vet-1")
			assert.ErrorIs(t, err, tt.want)
			assert.Empty(t, repo.problems)
			events.AssertNotCalled(t, "Append", mock.Anything, mock.Anything)
		})
	}
}

func TestAddProblem_EventFailureRollsBack(t *testing.T) {
	events := &mockEvents{}
	events.On("Append", mock.Anything, mock.Anything).Return(errors.New("log unavailable"))
	svc, repo := newTestService(events)

	err := svc.AddProblem(context.Background(), &Problem{PatientID: uuid.New(), Name: "x"}, "vet-1")
	require.Error(t, err)
	assert.Empty(t, repo.problems)
}

// -- ResolveProblem --

func TestResolveProblem(t *testing.T) {
	events := &mockEvents{}
	events.On("Append", mock.Anything, mock.Anything).Return(nil)
	svc, repo := newTestService(events)

	p := &Problem{PatientID: uuid.New(), Name: "Flea dermatitis"}
	require.NoError(t, svc.AddProblem(context.Background(), p, "vet-1"))

	resolved, err := svc.ResolveProblem(context.Background(), p.ID, "vet-2")
	require.NoError(t, err)
	assert.Equal(t, StatusResolved, resolved.Status)
	assert.NotNil(t, resolved.ResolvedDate)
	assert.Equal(t, StatusResolved, repo.problems[p.ID].Status)

	require.Len(t, events.Calls, 2)
	ev := events.Calls[1].Arguments.Get(1).(*clinicalevent.Event)
	assert.Equal(t, clinicalevent.TypeProblemResolved, ev.EventType)
	assert.Equal(t, "Problem resolved: Flea dermatitis", ev.Summary)
	assert.True(t, ev.IsSignificant)
	assert.Equal(t, "vet-2", ev.RecordedBy)
}

func TestResolveProblem_Twice(t *testing.T) {
	events := &mockEvents{}
	events.On("Append", mock.Anything, mock.Anything).Return(nil)
	svc, _ := newTestService(events)

	p := &Problem{PatientID: uuid.New(), Name: "x"}
	require.NoError(t, svc.AddProblem(context.Background(), p, "vet-1"))
	_, err := svc.ResolveProblem(context.Background(), p.ID, "vet-1")
	require.NoError(t, err)

	_, err = svc.ResolveProblem(context.Background(), p.ID, "vet-1")
	assert.ErrorIs(t, err, ErrAlreadyResolved)
	assert.Len(t, events.Calls, 2)
}

func TestResolveProblem_EventFailureRollsBack(t *testing.T) {
	events := &mockEvents{}
	events.On("Append", mock.Anything, eventOfType(clinicalevent.TypeProblemAdded)).Return(nil)
	events.On("Append", mock.Anything, eventOfType(clinicalevent.TypeProblemResolved)).Return(errors.New("boom"))
	svc, repo := newTestService(events)

	p := &Problem{PatientID: uuid.New(), Name: "x"}
	require.NoError(t, svc.AddProblem(context.Background(), p, "vet-1"))

	_, err := svc.ResolveProblem(context.Background(), p.ID, "vet-1")
	require.Error(t, err)
	assert.Equal(t, StatusActive, repo.problems[p.ID].Status)
	assert.Nil(t, repo.problems[p.ID].ResolvedDate)
}

func TestResolveProblem_NotFound(t *testing.T) {
	svc, _ := newTestService(&mockEvents{})
	_, err := svc.ResolveProblem(context.Background(), uuid.New(), "vet-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

// -- Alerts --

func TestActiveAlerts_ComputedAtRead(t *testing.T) {
	events := &mockEvents{}
	events.On("Append", mock.Anything, mock.Anything).Return(nil)
	svc, _ := newTestService(events)
	patientID := uuid.New()

	alert := &Problem{PatientID: patientID, Name: "Bites", ProblemType: TypeBehavioral, IsAlert: true, AlertText: "Muzzle required", AlertSeverity: AlertDanger}
	plain := &Problem{PatientID: patientID, Name: "Obesity"}
	require.NoError(t, svc.AddProblem(context.Background(), alert, "vet-1"))
	require.NoError(t, svc.AddProblem(context.Background(), plain, "vet-1"))

	alerts, err := svc.ActiveAlerts(context.Background(), patientID)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, "Muzzle required", alerts[0].AlertText)

	counts, err := svc.CountActiveAlerts(context.Background(), []uuid.UUID{patientID, uuid.New()})
	require.NoError(t, err)
	assert.Equal(t, 1, counts[patientID])

	_, err = svc.ResolveProblem(context.Background(), alert.ID, "vet-1")
	require.NoError(t, err)

	alerts, err = svc.ActiveAlerts(context.Background(), patientID)
	require.NoError(t, err)
	assert.Empty(t, alerts)
}

func TestGroupByStatus(t *testing.T) {
	a := &Problem{Name: "a", Status: StatusActive}
	b := &Problem{Name: "b", Status: StatusResolved}
	c := &Problem{Name: "c", Status: StatusActive}

	groups := GroupByStatus([]*Problem{a, b, c})
	assert.Equal(t, []*Problem{a, c}, groups[StatusActive])
	assert.Equal(t, []*Problem{b}, groups[StatusResolved])
}
