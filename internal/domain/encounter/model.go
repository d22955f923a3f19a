package encounter

import (
	"time"

	"github.com/google/uuid"
)

// Type is the clinical category of an encounter.
type Type string

const (
	TypeRoutine    Type = "routine"
	TypeUrgent     Type = "urgent"
	TypeEmergency  Type = "emergency"
	TypeFollowUp   Type = "follow_up"
	TypeTelehealth Type = "telehealth"
	TypeSurgery    Type = "surgery"
	TypeDental     Type = "dental"
	TypeGrooming   Type = "grooming"
	TypeBoarding   Type = "boarding"
	TypeOther      Type = "other"
)

var typeDisplay = map[Type]string{
	TypeRoutine:    "Routine/Wellness",
	TypeUrgent:     "Urgent Care",
	TypeEmergency:  "Emergency",
	TypeFollowUp:   "Follow-up",
	TypeTelehealth: "Telehealth",
	TypeSurgery:    "Surgery",
	TypeDental:     "Dental",
	TypeGrooming:   "Grooming",
	TypeBoarding:   "Boarding",
	TypeOther:      "Other",
}

func (t Type) Valid() bool {
	_, ok := typeDisplay[t]
	return ok
}

func (t Type) Display() string {
	if d, ok := typeDisplay[t]; ok {
		return d
	}
	return string(t)
}

// Encounter is one clinical visit from scheduling through discharge. Its
// pipeline state changes only through Service.Transition.
type Encounter struct {
	ID             uuid.UUID  `db:"id" json:"id"`
	PatientID      uuid.UUID  `db:"patient_id" json:"patient_id"`
	LocationID     uuid.UUID  `db:"location_id" json:"location_id"`
	VisitID        *uuid.UUID `db:"visit_id" json:"visit_id,omitempty"`
	ClinicianID    *string    `db:"clinician_id" json:"clinician_id,omitempty"`
	TechnicianID   *string    `db:"technician_id" json:"technician_id,omitempty"`
	ExamRoomID     *uuid.UUID `db:"exam_room_id" json:"exam_room_id,omitempty"`
	InvoiceID      *uuid.UUID `db:"invoice_id" json:"invoice_id,omitempty"`
	State          State      `db:"pipeline_state" json:"pipeline_state"`
	EncounterType  Type       `db:"encounter_type" json:"encounter_type"`
	ChiefComplaint string     `db:"chief_complaint" json:"chief_complaint"`

	ScheduledAt   *time.Time `db:"scheduled_at" json:"scheduled_at,omitempty"`
	CheckedInAt   *time.Time `db:"checked_in_at" json:"checked_in_at,omitempty"`
	RoomedAt      *time.Time `db:"roomed_at" json:"roomed_at,omitempty"`
	ExamStartedAt *time.Time `db:"exam_started_at" json:"exam_started_at,omitempty"`
	ExamEndedAt   *time.Time `db:"exam_ended_at" json:"exam_ended_at,omitempty"`
	DischargedAt  *time.Time `db:"discharged_at" json:"discharged_at,omitempty"`

	CreatedBy string    `db:"created_by" json:"created_by"`
	VersionID int       `db:"version_id" json:"version_id"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// enter moves the encounter into to and stamps the matching timestamp.
func (e *Encounter) enter(to State, now time.Time) {
	from := e.State
	e.State = to
	t := now
	switch to {
	case StateCheckedIn:
		e.CheckedInAt = &t
	case StateRoomed:
		e.RoomedAt = &t
	case StateInExam:
		e.ExamStartedAt = &t
	case StateCompleted:
		e.DischargedAt = &t
	}
	if from == StateInExam && to != StateInExam {
		e.ExamEndedAt = &t
	}
}

// Card is one encounter on the whiteboard.
type Card struct {
	EncounterID    uuid.UUID  `json:"encounter_id"`
	PatientID      uuid.UUID  `json:"patient_id"`
	PatientName    string     `json:"patient_name"`
	Species        string     `json:"species,omitempty"`
	State          State      `json:"pipeline_state"`
	EncounterType  Type       `json:"encounter_type"`
	ChiefComplaint string     `json:"chief_complaint"`
	ClinicianID    *string    `json:"clinician_id,omitempty"`
	TechnicianID   *string    `json:"technician_id,omitempty"`
	ExamRoomID     *uuid.UUID `json:"exam_room_id,omitempty"`
	ExamRoomName   string     `json:"exam_room_name,omitempty"`
	CheckedInAt    *time.Time `json:"checked_in_at,omitempty"`
	ActiveAlerts   int        `json:"active_alerts"`
	VersionID      int        `json:"version_id"`
}

type Whiteboard struct {
	LocationID uuid.UUID        `json:"location_id"`
	Columns    map[State][]Card `json:"columns"`
	Total      int              `json:"total"`
}
