package problem

import (
	"context"
	"time"

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

const problemCols = `id, patient_id, name, description, problem_type, severity, status,
	is_alert, alert_text, alert_severity, onset_date, resolved_date, created_by, created_at, updated_at`

func (r *repoPG) Create(ctx context.Context, p *Problem) error {
	p.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO patient_problems (
			id, patient_id, name, description, problem_type, severity, status,
			is_alert, alert_text, alert_severity, onset_date, resolved_date, created_by
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		RETURNING created_at, updated_at`,
		p.ID, p.PatientID, p.Name, p.Description, p.ProblemType, p.Severity, p.Status,
		p.IsAlert, p.AlertText, p.AlertSeverity, p.OnsetDate, p.ResolvedDate, p.CreatedBy,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Problem, error) {
	return r.get(ctx, `SELECT `+problemCols+` FROM patient_problems WHERE id = $1`, id)
}

func (r *repoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*Problem, error) {
	return r.get(ctx, `SELECT `+problemCols+` FROM patient_problems WHERE id = $1 FOR UPDATE`, id)
}

func (r *repoPG) get(ctx context.Context, sql string, id uuid.UUID) (*Problem, error) {
	p, err := scanProblem(r.conn(ctx).QueryRow(ctx, sql, id))
	if err != nil {
		if db.IsNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return p, nil
}

func (r *repoPG) Resolve(ctx context.Context, id uuid.UUID, resolvedDate time.Time) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE patient_problems SET status = 'resolved', resolved_date = $2, updated_at = NOW()
		WHERE id = $1`, id, resolvedDate)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*Problem, error) {
	return r.list(ctx, `
		SELECT `+problemCols+` FROM patient_problems
		WHERE patient_id = $1
		ORDER BY is_alert DESC, created_at DESC`, patientID)
}

func (r *repoPG) ListActiveAlerts(ctx context.Context, patientID uuid.UUID) ([]*Problem, error) {
	return r.list(ctx, `
		SELECT `+problemCols+` FROM patient_problems
		WHERE patient_id = $1 AND is_alert AND status <> 'resolved'
		ORDER BY CASE alert_severity WHEN 'danger' THEN 0 WHEN 'warning' THEN 1 ELSE 2 END, created_at DESC`,
		patientID)
}

func (r *repoPG) CountActiveAlerts(ctx context.Context, patientIDs []uuid.UUID) (map[uuid.UUID]int, error) {
	counts := make(map[uuid.UUID]int, len(patientIDs))
	if len(patientIDs) == 0 {
		return counts, nil
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT patient_id, COUNT(*) FROM patient_problems
		WHERE patient_id = ANY($1) AND is_alert AND status <> 'resolved'
		GROUP BY patient_id`, patientIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var id uuid.UUID
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, err
		}
		counts[id] = n
	}
	return counts, rows.Err()
}

func (r *repoPG) list(ctx context.Context, sql string, args ...interface{}) ([]*Problem, error) {
	rows, err := r.conn(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Problem
	for rows.Next() {
		p, err := scanProblem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanProblem(row pgx.Row) (*Problem, error) {
	var p Problem
	err := row.Scan(&p.ID, &p.PatientID, &p.Name, &p.Description, &p.ProblemType, &p.Severity, &p.Status,
		&p.IsAlert, &p.AlertText, &p.AlertSeverity, &p.OnsetDate, &p.ResolvedDate, &p.CreatedBy,
		&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}
