package problem

import (
	"time"

	"github.com/google/uuid"
)

type Type string

const (
	TypeDiagnosis  Type = "diagnosis"
	TypeAllergy    Type = "allergy"
	TypeChronic    Type = "chronic"
	TypeBehavioral Type = "behavioral"
	TypeOther      Type = "other"
)

var typeDisplay = map[Type]string{
	TypeDiagnosis:  "Diagnosis",
	TypeAllergy:    "Allergy",
	TypeChronic:    "Chronic Condition",
	TypeBehavioral: "Behavioral",
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

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityModerate Severity = "moderate"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityModerate, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

type Status string

const (
	StatusActive     Status = "active"
	StatusControlled Status = "controlled"
	StatusResolved   Status = "resolved"
	StatusInactive   Status = "inactive"
)

func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusControlled, StatusResolved, StatusInactive:
		return true
	}
	return false
}

type AlertSeverity string

const (
	AlertInfo    AlertSeverity = "info"
	AlertWarning AlertSeverity = "warning"
	AlertDanger  AlertSeverity = "danger"
)

func (s AlertSeverity) Valid() bool {
	switch s {
	case AlertInfo, AlertWarning, AlertDanger:
		return true
	}
	return false
}

const MaxAlertTextLen = 100

// Problem is a persistent clinical flag on a patient such as an allergy or a
// chronic condition. Problems are resolved, never deleted.
type Problem struct {
	ID            uuid.UUID     `db:"id" json:"id"`
	PatientID     uuid.UUID     `db:"patient_id" json:"patient_id"`
	Name          string        `db:"name" json:"name"`
	Description   string        `db:"description" json:"description,omitempty"`
	ProblemType   Type          `db:"problem_type" json:"problem_type"`
	Severity      Severity      `db:"severity" json:"severity"`
	Status        Status        `db:"status" json:"status"`
	IsAlert       bool          `db:"is_alert" json:"is_alert"`
	AlertText     string        `db:"alert_text" json:"alert_text,omitempty"`
	AlertSeverity AlertSeverity `db:"alert_severity" json:"alert_severity"`
	OnsetDate     *time.Time    `db:"onset_date" json:"onset_date,omitempty"`
	ResolvedDate  *time.Time    `db:"resolved_date" json:"resolved_date,omitempty"`
	CreatedBy     string        `db:"created_by" json:"created_by"`
	CreatedAt     time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time     `db:"updated_at" json:"updated_at"`
}

// ActiveAlert reports whether the problem must be surfaced prominently now.
func (p *Problem) ActiveAlert() bool {
	return p.IsAlert && p.Status != StatusResolved
}

// GroupByStatus buckets problems by status, preserving input order.
func GroupByStatus(problems []*Problem) map[Status][]*Problem {
	out := make(map[Status][]*Problem)
	for _, p := range problems {
		out[p.Status] = append(out[p.Status], p)
	}
	return out
}
