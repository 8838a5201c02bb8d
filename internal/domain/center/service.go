package center

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/agendabi/agendabi/pkg/validate"
)

type Service struct {
	repo   Repository
	logger zerolog.Logger
	now    func() time.Time
}

func NewService(repo Repository, logger zerolog.Logger) *Service {
	return &Service{repo: repo, logger: logger, now: time.Now}
}

// log prefers the request logger installed by the tenant middleware.
func (s *Service) log(ctx context.Context) *zerolog.Logger {
	if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
		return l
	}
	return &s.logger
}

func checkHours(c *Center) error {
	open, close, err := c.Hours()
	if err != nil {
		return err
	}
	if close <= open {
		return ErrInvalidHours
	}
	return nil
}

// Create registers the caller's center. A manager owns at most one.
func (s *Service) Create(ctx context.Context, managerID uuid.UUID, req *CreateRequest) (*Center, error) {
	if err := validate.Check(req.rules()...); err != nil {
		return nil, err
	}
	c := req.build()
	c.ManagerID = managerID
	if err := checkHours(c); err != nil {
		return nil, err
	}

	if _, err := s.repo.GetByManager(ctx, managerID); err == nil {
		return nil, ErrManagerHasCenter
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	if err := s.repo.Create(ctx, c); err != nil {
		return nil, err
	}
	s.log(ctx).Info().Str("center_id", c.ID.String()).Str("manager_id", managerID.String()).Msg("center created")
	return c, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Center, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) GetByManager(ctx context.Context, managerID uuid.UUID) (*Center, error) {
	return s.repo.GetByManager(ctx, managerID)
}

func (s *Service) List(ctx context.Context, f Filter) ([]*Center, error) {
	return s.repo.List(ctx, f)
}

// ListByProvince returns the active centers of a province ordered by name.
func (s *Service) ListByProvince(ctx context.Context, p Province) ([]*Center, error) {
	if !validProvinces[p] {
		return nil, validate.Errors{{Field: "province", Message: "province is invalid"}}
	}
	active := true
	return s.repo.List(ctx, Filter{Province: &p, Active: &active})
}

// Update applies a partial patch. Hours are checked on the merged center so a
// patch touching only one end cannot invert them.
func (s *Service) Update(ctx context.Context, id uuid.UUID, req *UpdateRequest) (*Center, error) {
	if err := validate.Check(req.rules()...); err != nil {
		return nil, err
	}
	c, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	req.apply(c)
	if err := checkHours(c); err != nil {
		return nil, err
	}
	if err := s.repo.Update(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *Service) Deactivate(ctx context.Context, id uuid.UUID) (*Center, error) {
	c, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !c.Active {
		return c, nil
	}
	c.Active = false
	if err := s.repo.Update(ctx, c); err != nil {
		return nil, err
	}
	s.log(ctx).Info().Str("center_id", id.String()).Msg("center deactivated")
	return c, nil
}

// Delete refuses while live schedules at or after now remain.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	if err := s.repo.Delete(ctx, id, s.now()); err != nil {
		return err
	}
	s.log(ctx).Info().Str("center_id", id.String()).Msg("center deleted")
	return nil
}

func (s *Service) Statistics(ctx context.Context, id uuid.UUID) (*Statistics, error) {
	c, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	byStatus, err := s.repo.CountSchedulesByStatus(ctx, id)
	if err != nil {
		return nil, err
	}
	st := &Statistics{CenterID: id, ByStatus: byStatus, Capacity: c.DailyCapacity}
	for _, n := range byStatus {
		st.TotalSchedules += n
	}
	return st, nil
}
