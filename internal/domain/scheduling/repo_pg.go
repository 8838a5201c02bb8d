package scheduling

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

type storePG struct{ pool *pgxpool.Pool }

func NewStorePG(pool *pgxpool.Pool) Store { return &storePG{pool: pool} }

func (r *storePG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

func (r *storePG) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return db.WithTx(ctx, r.pool, fn)
}

func (r *storePG) LockKey(ctx context.Context, key string) error {
	return db.AdvisoryXactLock(ctx, r.conn(ctx), key)
}

const schedCols = `s.id, s.requester_id, s.center_id, s.scheduled_at, s.scheduled_day, s.bi_request_type,
	s.slot_number, s.description, s.notes, s.status, s.bi_status, s.created_at, s.updated_at`

func scanSchedule(row pgx.Row, extra ...interface{}) (*Schedule, error) {
	var s Schedule
	dest := []interface{}{&s.ID, &s.RequesterID, &s.CenterID, &s.ScheduledAt, &s.ScheduledDay, &s.BIRequestType,
		&s.SlotNumber, &s.Description, &s.Notes, &s.Status, &s.BIStatus, &s.CreatedAt, &s.UpdatedAt}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan schedule: %w", err)
	}
	return &s, nil
}

func (r *storePG) CountActive(ctx context.Context, centerID uuid.UUID, day time.Time) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT COUNT(*) FROM schedule
		WHERE center_id = $1 AND scheduled_day = $2 AND status = ANY($3)`,
		centerID, day, statusNames(consumesCapacity)).Scan(&n)
	return n, err
}

func (r *storePG) FindActiveByRequester(ctx context.Context, requesterID, centerID uuid.UUID) (*Schedule, error) {
	return scanSchedule(r.conn(ctx).QueryRow(ctx, `
		SELECT `+schedCols+` FROM schedule s
		WHERE s.requester_id = $1 AND s.center_id = $2 AND s.status = ANY($3)
		LIMIT 1`, requesterID, centerID, statusNames(blocksRebooking)))
}

func (r *storePG) SlotInUse(ctx context.Context, centerID uuid.UUID, day time.Time, slot int) (bool, error) {
	var taken bool
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM schedule
			WHERE center_id = $1 AND scheduled_day = $2 AND slot_number = $3 AND status <> 'CANCELLED')`,
		centerID, day, slot).Scan(&taken)
	return taken, err
}

func (r *storePG) MaxSlotSince(ctx context.Context, centerID uuid.UUID, day time.Time) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT COALESCE(MAX(slot_number), 0) FROM schedule WHERE center_id = $1 AND scheduled_day >= $2`,
		centerID, day).Scan(&n)
	return n, err
}

func (r *storePG) MaxSlotOn(ctx context.Context, centerID uuid.UUID, day time.Time) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT COALESCE(MAX(slot_number), 0) FROM schedule WHERE center_id = $1 AND scheduled_day = $2`,
		centerID, day).Scan(&n)
	return n, err
}

func (r *storePG) InsertSchedule(ctx context.Context, s *Schedule) error {
	s.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO schedule (id, requester_id, center_id, scheduled_at, scheduled_day, bi_request_type,
			slot_number, description, notes, status, bi_status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		RETURNING created_at, updated_at`,
		s.ID, s.RequesterID, s.CenterID, s.ScheduledAt, s.ScheduledDay, s.BIRequestType,
		s.SlotNumber, s.Description, s.Notes, s.Status, s.BIStatus,
	).Scan(&s.CreatedAt, &s.UpdatedAt)
	if db.IsUniqueViolation(err, "schedule_slot_key") {
		return &InvalidScheduleError{Reason: ReasonSlotTaken, Slot: s.SlotNumber, Date: s.ScheduledDay.Format(dayLayout)}
	}
	if err != nil {
		return fmt.Errorf("insert schedule: %w", err)
	}
	return nil
}

func (r *storePG) GetScheduleForUpdate(ctx context.Context, id uuid.UUID) (*Schedule, error) {
	return scanSchedule(r.conn(ctx).QueryRow(ctx, `SELECT `+schedCols+` FROM schedule s WHERE s.id = $1 FOR UPDATE`, id))
}

func (r *storePG) UpdateSchedule(ctx context.Context, s *Schedule) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE schedule SET description=$2, notes=$3, status=$4, bi_status=$5, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		s.ID, s.Description, s.Notes, s.Status, s.BIStatus).Scan(&s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("update schedule: %w", err)
	}
	return nil
}

func (r *storePG) DeleteSchedule(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM schedule WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete schedule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *storePG) FindSchedules(ctx context.Context, f Filter) ([]*ScheduleWithProtocol, error) {
	query := `SELECT ` + schedCols + `, p.protocol_number, p.current_status, p.registered_at
		FROM schedule s LEFT JOIN protocol p ON p.schedule_id = s.id WHERE 1=1`
	var args []interface{}
	add := func(clause string, v interface{}) {
		args = append(args, v)
		query += fmt.Sprintf(clause, len(args))
	}
	if f.ID != nil {
		add(` AND s.id = $%d`, *f.ID)
	}
	if f.RequesterID != nil {
		add(` AND s.requester_id = $%d`, *f.RequesterID)
	}
	if f.CenterID != nil {
		add(` AND s.center_id = $%d`, *f.CenterID)
	}
	if f.Status != nil {
		add(` AND s.status = $%d`, *f.Status)
	}
	if f.ProtocolNumber != nil {
		add(` AND p.protocol_number = $%d`, *f.ProtocolNumber)
	}
	query += ` ORDER BY s.scheduled_at, s.slot_number`

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("find schedules: %w", err)
	}
	defer rows.Close()

	var items []*ScheduleWithProtocol
	for rows.Next() {
		var number *string
		var current *BIStatus
		var registered *time.Time
		s, err := scanSchedule(rows, &number, &current, &registered)
		if err != nil {
			return nil, err
		}
		item := &ScheduleWithProtocol{Schedule: *s}
		if number != nil {
			item.Protocol = &ProtocolSummary{Number: *number, CurrentStatus: *current, RegisteredAt: *registered}
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

const protoCols = `p.id, p.protocol_number, p.schedule_id, p.previous_status, p.current_status, p.registered_at, p.processed_at`

func scanProtocol(row pgx.Row) (*Protocol, error) {
	var p Protocol
	err := row.Scan(&p.ID, &p.Number, &p.ScheduleID, &p.PreviousStatus, &p.CurrentStatus, &p.RegisteredAt, &p.ProcessedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan protocol: %w", err)
	}
	return &p, nil
}

func (r *storePG) InsertProtocol(ctx context.Context, p *Protocol) error {
	p.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO protocol (id, protocol_number, schedule_id, previous_status, current_status, registered_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT ON CONSTRAINT protocol_number_key DO NOTHING
		RETURNING registered_at`,
		p.ID, p.Number, p.ScheduleID, p.PreviousStatus, p.CurrentStatus, p.RegisteredAt,
	).Scan(&p.RegisteredAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrProtocolConflict
	}
	if err != nil {
		return fmt.Errorf("insert protocol: %w", err)
	}
	return nil
}

func (r *storePG) GetProtocolBySchedule(ctx context.Context, scheduleID uuid.UUID) (*Protocol, error) {
	return scanProtocol(r.conn(ctx).QueryRow(ctx, `SELECT `+protoCols+` FROM protocol p WHERE p.schedule_id = $1`, scheduleID))
}

func (r *storePG) GetProtocolByNumber(ctx context.Context, number string) (*Protocol, error) {
	return scanProtocol(r.conn(ctx).QueryRow(ctx, `SELECT `+protoCols+` FROM protocol p WHERE p.protocol_number = $1`, number))
}

func (r *storePG) UpdateProtocolStatus(ctx context.Context, p *Protocol) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE protocol SET previous_status=$2, current_status=$3, processed_at=$4 WHERE id = $1`,
		p.ID, p.PreviousStatus, p.CurrentStatus, p.ProcessedAt)
	if err != nil {
		return fmt.Errorf("update protocol: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *storePG) ListProtocolsByRequester(ctx context.Context, requesterID uuid.UUID) ([]*Protocol, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+protoCols+` FROM protocol p JOIN schedule s ON s.id = p.schedule_id
		WHERE s.requester_id = $1 ORDER BY p.registered_at DESC`, requesterID)
	if err != nil {
		return nil, fmt.Errorf("list protocols: %w", err)
	}
	defer rows.Close()
	var items []*Protocol
	for rows.Next() {
		p, err := scanProtocol(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, p)
	}
	return items, rows.Err()
}

func (r *storePG) AppendHistory(ctx context.Context, h *HistoryEntry) error {
	h.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO protocol_history (id, protocol_id, from_status, to_status, changed_at, changed_by)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		h.ID, h.ProtocolID, h.FromStatus, h.ToStatus, h.ChangedAt, h.ChangedBy)
	if err != nil {
		return fmt.Errorf("append protocol history: %w", err)
	}
	return nil
}

func (r *storePG) ListHistory(ctx context.Context, protocolID uuid.UUID) ([]*HistoryEntry, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, protocol_id, from_status, to_status, changed_at, changed_by
		FROM protocol_history WHERE protocol_id = $1 ORDER BY changed_at, id`, protocolID)
	if err != nil {
		return nil, fmt.Errorf("list protocol history: %w", err)
	}
	defer rows.Close()
	var items []*HistoryEntry
	for rows.Next() {
		var h HistoryEntry
		if err := rows.Scan(&h.ID, &h.ProtocolID, &h.FromStatus, &h.ToStatus, &h.ChangedAt, &h.ChangedBy); err != nil {
			return nil, fmt.Errorf("scan protocol history: %w", err)
		}
		items = append(items, &h)
	}
	return items, rows.Err()
}

func statusNames(ss []Status) []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = string(s)
	}
	return out
}
