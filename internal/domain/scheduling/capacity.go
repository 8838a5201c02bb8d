package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/agendabi/agendabi/internal/domain/center"
)

// remaining is capacity minus the bookings holding a slot, floored at zero.
func remaining(capacity, active int) int {
	if n := capacity - active; n > 0 {
		return n
	}
	return 0
}

// AvailableSlots counts the free slots of a center on day. It reads the
// bookings fresh on every call.
func (s *Service) AvailableSlots(ctx context.Context, centerID uuid.UUID, day time.Time) (int, error) {
	c, err := s.loadCenter(ctx, centerID)
	if err != nil {
		return 0, err
	}
	return s.availableOn(ctx, c, day)
}

func (s *Service) availableOn(ctx context.Context, c *center.Center, day time.Time) (int, error) {
	active, err := s.store.CountActive(ctx, c.ID, day)
	if err != nil {
		return 0, fmt.Errorf("count bookings: %w", err)
	}
	return remaining(c.DailyCapacity, active), nil
}

func (s *Service) loadCenter(ctx context.Context, id uuid.UUID) (*center.Center, error) {
	c, err := s.centers.GetByID(ctx, id)
	if errors.Is(err, center.ErrNotFound) {
		return nil, fmt.Errorf("center %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load center: %w", err)
	}
	return c, nil
}
