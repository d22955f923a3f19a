package location

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Location, error)
	GetRoom(ctx context.Context, id uuid.UUID) (*Room, error)
	ListActiveRooms(ctx context.Context, locationID uuid.UUID) ([]Room, error)
}
