package encounter

import (
	"context"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/vetclinic/emr/internal/domain/clinicalevent"
	"github.com/vetclinic/emr/internal/domain/patient"
	"github.com/vetclinic/emr/internal/domain/problem"
	"github.com/vetclinic/emr/pkg/pagination"
)

const recentEncounters = 10

// Whiteboard groups a location's active encounters by state. Every active
// state has a column, empty or not.
func (s *Service) Whiteboard(ctx context.Context, locationID uuid.UUID) (*Whiteboard, error) {
	states := ActiveStates()
	cards, err := s.repo.BoardCards(ctx, locationID, states)
	if err != nil {
		return nil, err
	}

	if len(cards) > 0 && s.alerts != nil {
		ids := make([]uuid.UUID, 0, len(cards))
		seen := make(map[uuid.UUID]bool, len(cards))
		for _, c := range cards {
			if !seen[c.PatientID] {
				seen[c.PatientID] = true
				ids = append(ids, c.PatientID)
			}
		}
		counts, err := s.alerts.CountActiveAlerts(ctx, ids)
		if err != nil {
			return nil, err
		}
		for i := range cards {
			cards[i].ActiveAlerts = counts[cards[i].PatientID]
		}
	}

	wb := &Whiteboard{
		LocationID: locationID,
		Columns:    make(map[State][]Card, len(states)),
		Total:      len(cards),
	}
	for _, st := range states {
		wb.Columns[st] = []Card{}
	}
	for _, c := range cards {
		wb.Columns[c.State] = append(wb.Columns[c.State], c)
	}
	return wb, nil
}

// PatientSummary is the chart header read model. Entered-in-error events are
// left in the timeline for the reader to filter.
type PatientSummary struct {
	Patient          *patient.Patient                      `json:"patient"`
	Alerts           []*problem.Problem                    `json:"alerts"`
	Problems         map[problem.Status][]*problem.Problem `json:"problems"`
	Timeline         []*clinicalevent.Event                `json:"timeline"`
	TimelineTotal    int                                   `json:"timeline_total"`
	RecentEncounters []*Encounter                          `json:"recent_encounters"`
}

func (s *Service) PatientSummary(ctx context.Context, patientID uuid.UUID, page pagination.Params) (*PatientSummary, error) {
	p, err := s.patients.GetPatient(ctx, patientID)
	if err != nil {
		return nil, err
	}

	sum := &PatientSummary{Patient: p}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		sum.Alerts, err = s.alerts.ActiveAlerts(gctx, patientID)
		return err
	})
	g.Go(func() error {
		all, err := s.alerts.ListByPatient(gctx, patientID)
		if err != nil {
			return err
		}
		sum.Problems = problem.GroupByStatus(all)
		return nil
	})
	g.Go(func() error {
		var err error
		sum.Timeline, sum.TimelineTotal, _, err = s.events.Timeline(gctx, patientID, page)
		return err
	})
	g.Go(func() error {
		var err error
		sum.RecentEncounters, err = s.repo.ListByPatient(gctx, patientID, recentEncounters)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if sum.Alerts == nil {
		sum.Alerts = []*problem.Problem{}
	}
	if sum.Timeline == nil {
		sum.Timeline = []*clinicalevent.Event{}
	}
	if sum.RecentEncounters == nil {
		sum.RecentEncounters = []*Encounter{}
	}
	return sum, nil
}
