package patient

import (
	"time"

	"github.com/google/uuid"
)

// Subject is the animal a visit was booked for, as known to the scheduling side.
type Subject struct {
	ID      uuid.UUID `json:"id"`
	Name    string    `json:"name"`
	Species string    `json:"species,omitempty"`
	Breed   string    `json:"breed,omitempty"`
}

type Patient struct {
	ID            uuid.UUID `db:"id" json:"id"`
	SubjectID     uuid.UUID `db:"subject_id" json:"subject_id"`
	PatientNumber string    `db:"patient_number" json:"patient_number"`
	Name          string    `db:"name" json:"name"`
	Species       string    `db:"species" json:"species,omitempty"`
	Breed         string    `db:"breed" json:"breed,omitempty"`
	Status        string    `db:"status" json:"status"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}
