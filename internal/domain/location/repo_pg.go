package location

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

const roomCols = `id, location_id, name, room_type, is_active, sort_order`

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Location, error) {
	var l Location
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT id, name, code, is_active, created_at FROM locations WHERE id = $1`, id,
	).Scan(&l.ID, &l.Name, &l.Code, &l.IsActive, &l.CreatedAt)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &l, nil
}

func (r *repoPG) GetRoom(ctx context.Context, id uuid.UUID) (*Room, error) {
	room, err := scanRoom(r.conn(ctx).QueryRow(ctx, `SELECT `+roomCols+` FROM exam_rooms WHERE id = $1`, id))
	if err != nil {
		if db.IsNoRows(err) {
			return nil, ErrRoomNotFound
		}
		return nil, err
	}
	return room, nil
}

func (r *repoPG) ListActiveRooms(ctx context.Context, locationID uuid.UUID) ([]Room, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+roomCols+` FROM exam_rooms
		WHERE location_id = $1 AND is_active
		ORDER BY sort_order, name`, locationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rooms []Room
	for rows.Next() {
		room, err := scanRoom(rows)
		if err != nil {
			return nil, err
		}
		rooms = append(rooms, *room)
	}
	return rooms, rows.Err()
}

func scanRoom(row pgx.Row) (*Room, error) {
	var rm Room
	if err := row.Scan(&rm.ID, &rm.LocationID, &rm.Name, &rm.RoomType, &rm.IsActive, &rm.SortOrder); err != nil {
		return nil, err
	}
	return &rm, nil
}
