package scheduling

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/agendabi/agendabi/internal/domain/center"
)

// Store is the persistence the allocator needs. Methods called inside
// WithinTx share its transaction.
type Store interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
	// LockKey serializes transactions on key until the current one ends.
	LockKey(ctx context.Context, key string) error

	CountActive(ctx context.Context, centerID uuid.UUID, day time.Time) (int, error)
	// FindActiveByRequester returns ErrNotFound when the requester has no
	// PENDING or CONFIRMED booking at the center.
	FindActiveByRequester(ctx context.Context, requesterID, centerID uuid.UUID) (*Schedule, error)
	SlotInUse(ctx context.Context, centerID uuid.UUID, day time.Time, slot int) (bool, error)
	MaxSlotSince(ctx context.Context, centerID uuid.UUID, day time.Time) (int, error)
	MaxSlotOn(ctx context.Context, centerID uuid.UUID, day time.Time) (int, error)

	InsertSchedule(ctx context.Context, s *Schedule) error
	GetScheduleForUpdate(ctx context.Context, id uuid.UUID) (*Schedule, error)
	UpdateSchedule(ctx context.Context, s *Schedule) error
	DeleteSchedule(ctx context.Context, id uuid.UUID) error
	FindSchedules(ctx context.Context, f Filter) ([]*ScheduleWithProtocol, error)

	// InsertProtocol returns ErrProtocolConflict when the number is taken.
	InsertProtocol(ctx context.Context, p *Protocol) error
	GetProtocolBySchedule(ctx context.Context, scheduleID uuid.UUID) (*Protocol, error)
	GetProtocolByNumber(ctx context.Context, number string) (*Protocol, error)
	UpdateProtocolStatus(ctx context.Context, p *Protocol) error
	ListProtocolsByRequester(ctx context.Context, requesterID uuid.UUID) ([]*Protocol, error)

	AppendHistory(ctx context.Context, h *HistoryEntry) error
	ListHistory(ctx context.Context, protocolID uuid.UUID) ([]*HistoryEntry, error)
}

// CenterLookup is satisfied by center.Repository.
type CenterLookup interface {
	GetByID(ctx context.Context, id uuid.UUID) (*center.Center, error)
}
