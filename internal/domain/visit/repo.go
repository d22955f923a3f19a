package visit

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Visit, error)
	SetStatus(ctx context.Context, id uuid.UUID, status Status) error
}
