package problem

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, p *Problem) error
	GetByID(ctx context.Context, id uuid.UUID) (*Problem, error)
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Problem, error)
	Resolve(ctx context.Context, id uuid.UUID, resolvedDate time.Time) error
	ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*Problem, error)
	ListActiveAlerts(ctx context.Context, patientID uuid.UUID) ([]*Problem, error)
	CountActiveAlerts(ctx context.Context, patientIDs []uuid.UUID) (map[uuid.UUID]int, error)
}
