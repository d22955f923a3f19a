package visit

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusScheduled  Status = "scheduled"
	StatusConfirmed  Status = "confirmed"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
	StatusNoShow     Status = "no_show"
)

// Visit is a booked appointment. Encounters are opened from visits at check-in.
type Visit struct {
	ID          uuid.UUID  `db:"id" json:"id"`
	LocationID  uuid.UUID  `db:"location_id" json:"location_id"`
	SubjectID   *uuid.UUID `db:"subject_id" json:"subject_id,omitempty"`
	SubjectName string     `db:"subject_name" json:"subject_name,omitempty"`
	Species     string     `db:"species" json:"species,omitempty"`
	ServiceName string     `db:"service_name" json:"service_name,omitempty"`
	Notes       string     `db:"notes" json:"notes,omitempty"`
	ClinicianID *string    `db:"clinician_id" json:"clinician_id,omitempty"`
	ScheduledAt time.Time  `db:"scheduled_at" json:"scheduled_at"`
	Status      Status     `db:"status" json:"status"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updated_at"`
}

// Closed reports whether the visit can no longer be checked in.
func (v *Visit) Closed() bool {
	return v.Status == StatusCancelled || v.Status == StatusCompleted
}
