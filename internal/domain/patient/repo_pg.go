package patient

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

const patientCols = `id, subject_id, patient_number, name, species, breed, status, created_at, updated_at`

// The no-op DO UPDATE makes RETURNING yield the existing row on conflict.
func (r *repoPG) Upsert(ctx context.Context, s Subject) (*Patient, error) {
	return scanPatient(r.conn(ctx).QueryRow(ctx, `
		INSERT INTO patients (id, subject_id, name, species, breed)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (subject_id) DO UPDATE SET subject_id = EXCLUDED.subject_id
		RETURNING `+patientCols,
		uuid.New(), s.ID, s.Name, s.Species, s.Breed,
	))
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	p, err := scanPatient(r.conn(ctx).QueryRow(ctx, `SELECT `+patientCols+` FROM patients WHERE id = $1`, id))
	if err != nil {
		if db.IsNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return p, nil
}

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(&p.ID, &p.SubjectID, &p.PatientNumber, &p.Name, &p.Species, &p.Breed,
		&p.Status, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}
