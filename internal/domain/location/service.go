// Package location is the read-only directory of clinic locations and their
// exam rooms.
package location

import (
	"context"
	"errors"
	"sort"

	"github.com/google/uuid"
)

var (
	ErrNotFound     = errors.New("location not found")
	ErrRoomNotFound = errors.New("exam room not found")
)

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) GetLocation(ctx context.Context, id uuid.UUID) (*Location, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) GetRoom(ctx context.Context, id uuid.UUID) (*Room, error) {
	return s.repo.GetRoom(ctx, id)
}

// ActiveRooms lists the active exam rooms at a location in display order.
// Inactive rooms are never returned even if the store hands them back.
func (s *Service) ActiveRooms(ctx context.Context, locationID uuid.UUID) ([]Room, error) {
	rooms, err := s.repo.ListActiveRooms(ctx, locationID)
	if err != nil {
		return nil, err
	}
	active := rooms[:0:0]
	for _, r := range rooms {
		if r.IsActive && r.LocationID == locationID {
			active = append(active, r)
		}
	}
	sort.SliceStable(active, func(i, j int) bool {
		if active[i].SortOrder != active[j].SortOrder {
			return active[i].SortOrder < active[j].SortOrder
		}
		return active[i].Name < active[j].Name
	})
	return active, nil
}
