package clinicalevent

import (
	"context"

	"github.com/google/uuid"
)

// Repository has no general update or delete. MarkEnteredInError writes the
// correction columns and nothing else.
type Repository interface {
	Insert(ctx context.Context, ev *Event) error
	GetByID(ctx context.Context, id uuid.UUID) (*Event, error)
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Event, error)
	MarkEnteredInError(ctx context.Context, id uuid.UUID, c Correction) error
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Event, int, error)
	ListByEncounter(ctx context.Context, encounterID uuid.UUID) ([]*Event, error)
}
