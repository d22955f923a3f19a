package encounter

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, e *Encounter) error
	GetByID(ctx context.Context, id uuid.UUID) (*Encounter, error)
	// GetForUpdate locks the row for the rest of the surrounding transaction.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Encounter, error)
	GetByVisit(ctx context.Context, visitID uuid.UUID) (*Encounter, error)
	// Update writes e if its stored version still equals e.VersionID, then
	// bumps e.VersionID. A stale version yields ErrVersionConflict.
	Update(ctx context.Context, e *Encounter) error
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit int) ([]*Encounter, error)
	BoardCards(ctx context.Context, locationID uuid.UUID, states []State) ([]Card, error)
}
