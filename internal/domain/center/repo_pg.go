package center

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/agendabi/agendabi/internal/platform/db"
)

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

const centerCols = `id, manager_id, name, description, type, address, province, phone, email,
	opening_time, closing_time, attendance_days, daily_capacity, active, created_at, updated_at`

func scanCenter(row pgx.Row) (*Center, error) {
	var c Center
	err := row.Scan(&c.ID, &c.ManagerID, &c.Name, &c.Description, &c.Type, &c.Address, &c.Province,
		&c.Phone, &c.Email, &c.OpeningTime, &c.ClosingTime, &c.AttendanceDays, &c.DailyCapacity,
		&c.Active, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan center: %w", err)
	}
	return &c, nil
}

func (r *repoPG) Create(ctx context.Context, c *Center) error {
	c.ID = uuid.New()
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO center (id, manager_id, name, description, type, address, province, phone, email,
			opening_time, closing_time, attendance_days, daily_capacity, active)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		RETURNING created_at, updated_at`,
		c.ID, c.ManagerID, c.Name, c.Description, c.Type, c.Address, c.Province, c.Phone, c.Email,
		c.OpeningTime, c.ClosingTime, c.AttendanceDays, c.DailyCapacity, c.Active,
	).Scan(&c.CreatedAt, &c.UpdatedAt)
	if db.IsUniqueViolation(err, "center_manager_key") {
		return ErrManagerHasCenter
	}
	if err != nil {
		return fmt.Errorf("insert center: %w", err)
	}
	return nil
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Center, error) {
	return scanCenter(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+centerCols+` FROM center WHERE id = $1`, id))
}

func (r *repoPG) GetByManager(ctx context.Context, managerID uuid.UUID) (*Center, error) {
	return scanCenter(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+centerCols+` FROM center WHERE manager_id = $1`, managerID))
}

func (r *repoPG) Update(ctx context.Context, c *Center) error {
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE center SET name=$2, description=$3, type=$4, address=$5, province=$6, phone=$7, email=$8,
			opening_time=$9, closing_time=$10, attendance_days=$11, daily_capacity=$12, active=$13,
			updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		c.ID, c.Name, c.Description, c.Type, c.Address, c.Province, c.Phone, c.Email,
		c.OpeningTime, c.ClosingTime, c.AttendanceDays, c.DailyCapacity, c.Active,
	).Scan(&c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("update center: %w", err)
	}
	return nil
}

// Delete removes the center together with its past schedules; their
// protocols cascade. The center row is locked first so a booking cannot
// commit between the upcoming check and the delete: inserting a schedule
// needs a key-share lock on the same row.
func (r *repoPG) Delete(ctx context.Context, id uuid.UUID, upcomingFrom time.Time) error {
	return db.WithTx(ctx, r.pool, func(ctx context.Context) error {
		q := db.Conn(ctx, r.pool)
		var locked uuid.UUID
		err := q.QueryRow(ctx, `SELECT id FROM center WHERE id = $1 FOR UPDATE`, id).Scan(&locked)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("lock center: %w", err)
		}

		var upcoming int
		if err := q.QueryRow(ctx, `
			SELECT COUNT(*) FROM schedule
			WHERE center_id = $1 AND scheduled_at >= $2 AND status <> 'CANCELLED'`, id, upcomingFrom).Scan(&upcoming); err != nil {
			return fmt.Errorf("count upcoming schedules: %w", err)
		}
		if upcoming > 0 {
			return fmt.Errorf("%w: %d", ErrCenterHasFutureSchedules, upcoming)
		}

		if _, err := q.Exec(ctx, `DELETE FROM schedule WHERE center_id = $1`, id); err != nil {
			return fmt.Errorf("delete center schedules: %w", err)
		}
		if _, err := q.Exec(ctx, `DELETE FROM center WHERE id = $1`, id); err != nil {
			return fmt.Errorf("delete center: %w", err)
		}
		return nil
	})
}

func (r *repoPG) List(ctx context.Context, f Filter) ([]*Center, error) {
	query := `SELECT ` + centerCols + ` FROM center WHERE 1=1`
	var args []interface{}
	idx := 1
	if f.Province != nil {
		query += fmt.Sprintf(` AND province = $%d`, idx)
		args = append(args, *f.Province)
		idx++
	}
	if f.Type != nil {
		query += fmt.Sprintf(` AND type = $%d`, idx)
		args = append(args, *f.Type)
		idx++
	}
	if f.Active != nil {
		query += fmt.Sprintf(` AND active = $%d`, idx)
		args = append(args, *f.Active)
	}
	query += ` ORDER BY name`

	rows, err := db.Conn(ctx, r.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list centers: %w", err)
	}
	defer rows.Close()
	var items []*Center
	for rows.Next() {
		c, err := scanCenter(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, c)
	}
	return items, rows.Err()
}

func (r *repoPG) CountSchedulesByStatus(ctx context.Context, id uuid.UUID) (map[string]int, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx,
		`SELECT status, COUNT(*) FROM schedule WHERE center_id = $1 GROUP BY status`, id)
	if err != nil {
		return nil, fmt.Errorf("count schedules by status: %w", err)
	}
	defer rows.Close()
	counts := map[string]int{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}
