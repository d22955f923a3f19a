package patient

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	// Upsert returns the patient for subject.ID, inserting it if absent.
	// Concurrent callers for the same subject all get the same row.
	Upsert(ctx context.Context, subject Subject) (*Patient, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Patient, error)
}
