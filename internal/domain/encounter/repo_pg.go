package encounter

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vetclinic/emr/internal/platform/db"
)

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const encCols = `id, patient_id, location_id, visit_id, clinician_id, technician_id, exam_room_id, invoice_id,
	pipeline_state, encounter_type, chief_complaint,
	scheduled_at, checked_in_at, roomed_at, exam_started_at, exam_ended_at, discharged_at,
	created_by, version_id, created_at, updated_at`

func (r *repoPG) Create(ctx context.Context, e *Encounter) error {
	e.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO encounters (
			id, patient_id, location_id, visit_id, clinician_id, technician_id, exam_room_id,
			pipeline_state, encounter_type, chief_complaint,
			scheduled_at, checked_in_at, roomed_at, exam_started_at, exam_ended_at, discharged_at,
			created_by
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
		RETURNING version_id, created_at, updated_at`,
		e.ID, e.PatientID, e.LocationID, e.VisitID, e.ClinicianID, e.TechnicianID, e.ExamRoomID,
		e.State, e.EncounterType, e.ChiefComplaint,
		e.ScheduledAt, e.CheckedInAt, e.RoomedAt, e.ExamStartedAt, e.ExamEndedAt, e.DischargedAt,
		e.CreatedBy,
	).Scan(&e.VersionID, &e.CreatedAt, &e.UpdatedAt)
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Encounter, error) {
	return r.get(ctx, `SELECT `+encCols+` FROM encounters WHERE id = $1`, id)
}

func (r *repoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*Encounter, error) {
	return r.get(ctx, `SELECT `+encCols+` FROM encounters WHERE id = $1 FOR UPDATE`, id)
}

func (r *repoPG) GetByVisit(ctx context.Context, visitID uuid.UUID) (*Encounter, error) {
	return r.get(ctx, `SELECT `+encCols+` FROM encounters WHERE visit_id = $1`, visitID)
}

func (r *repoPG) get(ctx context.Context, sql string, arg uuid.UUID) (*Encounter, error) {
	e, err := scanEncounter(r.conn(ctx).QueryRow(ctx, sql, arg))
	if err != nil {
		if db.IsNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return e, nil
}

func (r *repoPG) Update(ctx context.Context, e *Encounter) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE encounters SET
			clinician_id = $2, technician_id = $3, exam_room_id = $4,
			pipeline_state = $5, encounter_type = $6, chief_complaint = $7,
			checked_in_at = $8, roomed_at = $9, exam_started_at = $10, exam_ended_at = $11, discharged_at = $12,
			version_id = version_id + 1, updated_at = NOW()
		WHERE id = $1 AND version_id = $13
		RETURNING version_id, updated_at`,
		e.ID, e.ClinicianID, e.TechnicianID, e.ExamRoomID,
		e.State, e.EncounterType, e.ChiefComplaint,
		e.CheckedInAt, e.RoomedAt, e.ExamStartedAt, e.ExamEndedAt, e.DischargedAt,
		e.VersionID,
	).Scan(&e.VersionID, &e.UpdatedAt)
	if db.IsNoRows(err) {
		return ErrVersionConflict
	}
	return err
}

func (r *repoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit int) ([]*Encounter, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+encCols+` FROM encounters
		WHERE patient_id = $1
		ORDER BY COALESCE(scheduled_at, created_at) DESC, created_at DESC
		LIMIT $2`, patientID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Encounter
	for rows.Next() {
		e, err := scanEncounter(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *repoPG) BoardCards(ctx context.Context, locationID uuid.UUID, states []State) ([]Card, error) {
	names := make([]string, len(states))
	for i, s := range states {
		names[i] = string(s)
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT e.id, e.patient_id, p.name, p.species, e.pipeline_state, e.encounter_type, e.chief_complaint,
			e.clinician_id, e.technician_id, e.exam_room_id, COALESCE(r.name, ''), e.checked_in_at, e.version_id
		FROM encounters e
		JOIN patients p ON p.id = e.patient_id
		LEFT JOIN exam_rooms r ON r.id = e.exam_room_id
		WHERE e.location_id = $1 AND e.pipeline_state = ANY($2)
		ORDER BY e.checked_in_at NULLS LAST, e.created_at`, locationID, names)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Card
	for rows.Next() {
		var c Card
		if err := rows.Scan(
			&c.EncounterID, &c.PatientID, &c.PatientName, &c.Species, &c.State, &c.EncounterType, &c.ChiefComplaint,
			&c.ClinicianID, &c.TechnicianID, &c.ExamRoomID, &c.ExamRoomName, &c.CheckedInAt, &c.VersionID,
		); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanEncounter(row pgx.Row) (*Encounter, error) {
	var e Encounter
	err := row.Scan(
		&e.ID, &e.PatientID, &e.LocationID, &e.VisitID, &e.ClinicianID, &e.TechnicianID, &e.ExamRoomID, &e.InvoiceID,
		&e.State, &e.EncounterType, &e.ChiefComplaint,
		&e.ScheduledAt, &e.CheckedInAt, &e.RoomedAt, &e.ExamStartedAt, &e.ExamEndedAt, &e.DischargedAt,
		&e.CreatedBy, &e.VersionID, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}
