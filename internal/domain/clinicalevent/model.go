package clinicalevent

import (
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

type EventType string

const (
	TypeEncounterCreated EventType = "encounter_created"
	TypeStateChange      EventType = "state_change"
	TypeRoomAssignment   EventType = "room_assignment"
	TypeProblemAdded     EventType = "problem_added"
	TypeProblemResolved  EventType = "problem_resolved"
	TypeNote             EventType = "note"
)

var typeDisplay = map[EventType]string{
	TypeEncounterCreated: "Encounter Created",
	TypeStateChange:      "Pipeline State Change",
	TypeRoomAssignment:   "Room Assignment",
	TypeProblemAdded:     "Problem Added",
	TypeProblemResolved:  "Problem Resolved",
	TypeNote:             "Clinical Note",
}

func (t EventType) Valid() bool {
	_, ok := typeDisplay[t]
	return ok
}

func (t EventType) Display() string {
	if d, ok := typeDisplay[t]; ok {
		return d
	}
	return string(t)
}

// MaxSummaryLen bounds Event.Summary, in runes.
const MaxSummaryLen = 500

// Event is one immutable fact in a patient's history. Only the correction
// group (IsEnteredInError through SupersededBy) may change after insert.
type Event struct {
	ID            uuid.UUID  `db:"id" json:"id"`
	Seq           int64      `db:"seq" json:"seq"`
	PatientID     uuid.UUID  `db:"patient_id" json:"patient_id"`
	EncounterID   *uuid.UUID `db:"encounter_id" json:"encounter_id,omitempty"`
	LocationID    *uuid.UUID `db:"location_id" json:"location_id,omitempty"`
	ProblemID     *uuid.UUID `db:"problem_id" json:"problem_id,omitempty"`
	EventType     EventType  `db:"event_type" json:"event_type"`
	EventSubtype  string     `db:"event_subtype" json:"event_subtype,omitempty"`
	Summary       string     `db:"summary" json:"summary"`
	IsSignificant bool       `db:"is_significant" json:"is_significant"`
	OccurredAt    time.Time  `db:"occurred_at" json:"occurred_at"`
	RecordedAt    time.Time  `db:"recorded_at" json:"recorded_at"`
	RecordedBy    string     `db:"recorded_by" json:"recorded_by"`

	IsEnteredInError      bool       `db:"is_entered_in_error" json:"is_entered_in_error"`
	ErrorCorrectionReason string     `db:"error_correction_reason" json:"error_correction_reason,omitempty"`
	ErrorCorrectedAt      *time.Time `db:"error_corrected_at" json:"error_corrected_at,omitempty"`
	ErrorCorrectedBy      *string    `db:"error_corrected_by" json:"error_corrected_by,omitempty"`
	SupersededBy          *uuid.UUID `db:"superseded_by" json:"superseded_by,omitempty"`
}

// Correction is the only set of values that may be written to an existing event.
type Correction struct {
	Reason       string
	CorrectedAt  time.Time
	CorrectedBy  string
	SupersededBy *uuid.UUID
}

func (e *Event) applyCorrection(c Correction) {
	at := c.CorrectedAt
	by := c.CorrectedBy
	e.IsEnteredInError = true
	e.ErrorCorrectionReason = c.Reason
	e.ErrorCorrectedAt = &at
	e.ErrorCorrectedBy = &by
	if c.SupersededBy != nil {
		e.SupersededBy = c.SupersededBy
	}
}

// Truncate cuts s to at most n runes.
func Truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}
