package center

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound                 = errors.New("center not found")
	ErrManagerHasCenter         = errors.New("manager already has a center")
	ErrCenterHasFutureSchedules = errors.New("center has upcoming schedules")
	ErrInvalidHours             = errors.New("closing time must be after opening time")
)

type Repository interface {
	Create(ctx context.Context, c *Center) error
	GetByID(ctx context.Context, id uuid.UUID) (*Center, error)
	GetByManager(ctx context.Context, managerID uuid.UUID) (*Center, error)
	Update(ctx context.Context, c *Center) error
	// Delete fails with ErrCenterHasFutureSchedules when live schedules at or
	// after upcomingFrom remain; the check and the delete are atomic.
	Delete(ctx context.Context, id uuid.UUID, upcomingFrom time.Time) error
	List(ctx context.Context, f Filter) ([]*Center, error)
	CountSchedulesByStatus(ctx context.Context, id uuid.UUID) (map[string]int, error)
}
