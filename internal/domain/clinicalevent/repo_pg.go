package clinicalevent

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

const eventCols = `id, seq, patient_id, encounter_id, location_id, problem_id,
	event_type, event_subtype, summary, is_significant, occurred_at, recorded_at, recorded_by,
	is_entered_in_error, error_correction_reason, error_corrected_at, error_corrected_by, superseded_by`

func (r *repoPG) Insert(ctx context.Context, ev *Event) error {
	ev.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO clinical_events (
			id, patient_id, encounter_id, location_id, problem_id,
			event_type, event_subtype, summary, is_significant, occurred_at, recorded_at, recorded_by
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		RETURNING seq`,
		ev.ID, ev.PatientID, ev.EncounterID, ev.LocationID, ev.ProblemID,
		ev.EventType, ev.EventSubtype, ev.Summary, ev.IsSignificant, ev.OccurredAt, ev.RecordedAt, ev.RecordedBy,
	).Scan(&ev.Seq)
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Event, error) {
	return r.get(ctx, `SELECT `+eventCols+` FROM clinical_events WHERE id = $1`, id)
}

func (r *repoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*Event, error) {
	return r.get(ctx, `SELECT `+eventCols+` FROM clinical_events WHERE id = $1 FOR UPDATE`, id)
}

func (r *repoPG) get(ctx context.Context, sql string, id uuid.UUID) (*Event, error) {
	ev, err := scanEvent(r.conn(ctx).QueryRow(ctx, sql, id))
	if err != nil {
		if db.IsNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return ev, nil
}

func (r *repoPG) MarkEnteredInError(ctx context.Context, id uuid.UUID, c Correction) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE clinical_events SET
			is_entered_in_error = TRUE,
			error_correction_reason = $2,
			error_corrected_at = $3,
			error_corrected_by = $4,
			superseded_by = COALESCE($5, superseded_by)
		WHERE id = $1 AND NOT is_entered_in_error`,
		id, c.Reason, c.CorrectedAt, c.CorrectedBy, c.SupersededBy,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyInError
	}
	return nil
}

func (r *repoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Event, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM clinical_events WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+eventCols+` FROM clinical_events
		WHERE patient_id = $1
		ORDER BY occurred_at DESC, seq DESC
		LIMIT $2 OFFSET $3`, patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	evs, err := collectEvents(rows)
	return evs, total, err
}

func (r *repoPG) ListByEncounter(ctx context.Context, encounterID uuid.UUID) ([]*Event, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+eventCols+` FROM clinical_events
		WHERE encounter_id = $1
		ORDER BY occurred_at, seq`, encounterID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEvents(rows)
}

func scanEvent(row pgx.Row) (*Event, error) {
	var e Event
	err := row.Scan(
		&e.ID, &e.Seq, &e.PatientID, &e.EncounterID, &e.LocationID, &e.ProblemID,
		&e.EventType, &e.EventSubtype, &e.Summary, &e.IsSignificant, &e.OccurredAt, &e.RecordedAt, &e.RecordedBy,
		&e.IsEnteredInError, &e.ErrorCorrectionReason, &e.ErrorCorrectedAt, &e.ErrorCorrectedBy, &e.SupersededBy,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func collectEvents(rows pgx.Rows) ([]*Event, error) {
	var evs []*Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		evs = append(evs, e)
	}
	return evs, rows.Err()
}
