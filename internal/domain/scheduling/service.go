package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/agendabi/agendabi/internal/platform/lock"
	"github.com/agendabi/agendabi/pkg/validate"
)

const defaultProtocolAttempts = 3

type Config struct {
	Location         *time.Location
	MinDaysAhead     int
	ProtocolAttempts int
}

// Service allocates appointment slots and keeps each schedule's protocol in
// step with it.
type Service struct {
	store     Store
	centers   CenterLookup
	locker    lock.Locker
	clock     Clock
	rules     CalendarRules
	protocols ProtocolGenerator
	attempts  int
	logger    zerolog.Logger
}

func NewService(store Store, centers CenterLookup, locker lock.Locker, clock Clock, cfg Config, logger zerolog.Logger) *Service {
	if locker == nil {
		locker = lock.Noop{}
	}
	if clock == nil {
		clock = SystemClock{}
	}
	attempts := cfg.ProtocolAttempts
	if attempts <= 0 {
		attempts = defaultProtocolAttempts
	}
	return &Service{
		store:     store,
		centers:   centers,
		locker:    locker,
		clock:     clock,
		rules:     CalendarRules{Location: cfg.Location, MinDaysAhead: cfg.MinDaysAhead},
		protocols: ProtocolGenerator{Location: cfg.Location},
		attempts:  attempts,
		logger:    logger,
	}
}

func (s *Service) log(ctx context.Context) *zerolog.Logger {
	if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
		return l
	}
	return &s.logger
}

// Rules exposes the calendar the service books against.
func (s *Service) Rules() CalendarRules { return s.rules }

func dayLockKey(centerID uuid.UUID, day time.Time) string {
	return "capacity:" + centerID.String() + ":" + day.Format(dayLayout)
}

func requesterLockKey(requesterID, centerID uuid.UUID) string {
	return "requester:" + requesterID.String() + ":" + centerID.String()
}

// Create books an appointment for requesterID. Bookings for the same center
// and day, and for the same requester and center, are serialized: first by the
// locker, then by transaction-scoped locks in the store.
func (s *Service) Create(ctx context.Context, requesterID uuid.UUID, req *CreateRequest) (*ScheduleWithProtocol, error) {
	if err := validate.Check(req.rules()...); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	day := s.rules.Day(req.ScheduledAt)
	keys := []string{dayLockKey(req.CenterID, day), requesterLockKey(requesterID, req.CenterID)}

	release, err := s.locker.Acquire(ctx, keys...)
	if err != nil {
		return nil, fmt.Errorf("acquire booking lock: %w", err)
	}
	defer release()

	var out *ScheduleWithProtocol
	err = s.store.WithinTx(ctx, func(ctx context.Context) error {
		for _, k := range keys {
			if err := s.store.LockKey(ctx, k); err != nil {
				return err
			}
		}

		c, err := s.loadCenter(ctx, req.CenterID)
		if err != nil {
			return err
		}
		if !c.Active {
			return invalid(ReasonCenterInactive)
		}
		if err := s.rules.Validate(now, req.ScheduledAt, c); err != nil {
			return err
		}

		if _, err := s.store.FindActiveByRequester(ctx, requesterID, c.ID); err == nil {
			return invalid(ReasonDuplicateSchedule)
		} else if !errors.Is(err, ErrNotFound) {
			return fmt.Errorf("check existing bookings: %w", err)
		}

		free, err := s.availableOn(ctx, c, day)
		if err != nil {
			return err
		}
		if free == 0 {
			return &InvalidScheduleError{Reason: ReasonNoAvailableSlots, Date: day.Format(dayLayout)}
		}

		slot, err := s.assignSlot(ctx, c.ID, day, req.SlotNumber, now)
		if err != nil {
			return err
		}

		sched := &Schedule{
			RequesterID:   requesterID,
			CenterID:      c.ID,
			ScheduledAt:   req.ScheduledAt,
			ScheduledDay:  day,
			BIRequestType: req.BIRequestType,
			SlotNumber:    slot,
			Description:   req.Description,
			Notes:         req.Notes,
			Status:        StatusPending,
			BIStatus:      BIScheduled,
		}
		if err := s.store.InsertSchedule(ctx, sched); err != nil {
			return err
		}

		p, err := s.issueProtocol(ctx, sched.ID, now)
		if err != nil {
			return err
		}
		if err := s.record(ctx, p.ID, nil, BIScheduled, now, requesterID.String()); err != nil {
			return err
		}

		out = &ScheduleWithProtocol{Schedule: *sched, Protocol: summarize(p)}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log(ctx).Info().
		Str("schedule_id", out.ID.String()).
		Str("center_id", out.CenterID.String()).
		Str("protocol", out.Protocol.Number).
		Int("slot", out.SlotNumber).
		Msg("appointment booked")
	return out, nil
}

// assignSlot honors a caller-supplied slot when it is free that day and
// otherwise continues the center's numbering from today.
func (s *Service) assignSlot(ctx context.Context, centerID uuid.UUID, day time.Time, requested *int, now time.Time) (int, error) {
	if requested != nil {
		taken, err := s.store.SlotInUse(ctx, centerID, day, *requested)
		if err != nil {
			return 0, fmt.Errorf("check slot: %w", err)
		}
		if taken {
			return 0, &InvalidScheduleError{Reason: ReasonSlotTaken, Slot: *requested, Date: day.Format(dayLayout)}
		}
		return *requested, nil
	}

	last, err := s.store.MaxSlotSince(ctx, centerID, s.rules.Day(now))
	if err != nil {
		return 0, fmt.Errorf("find last slot: %w", err)
	}
	if last < MaxSlotNumber {
		return last + 1, nil
	}

	// numbering ran past the limit; fall back to the day's own sequence
	last, err = s.store.MaxSlotOn(ctx, centerID, day)
	if err != nil {
		return 0, fmt.Errorf("find last slot of day: %w", err)
	}
	if last >= MaxSlotNumber {
		return 0, &InvalidScheduleError{Reason: ReasonNoAvailableSlots, Date: day.Format(dayLayout)}
	}
	return last + 1, nil
}

func (s *Service) issueProtocol(ctx context.Context, scheduleID uuid.UUID, now time.Time) (*Protocol, error) {
	for attempt := 1; attempt <= s.attempts; attempt++ {
		number, err := s.protocols.Generate(now)
		if err != nil {
			return nil, err
		}
		p := &Protocol{
			Number:         number,
			ScheduleID:     scheduleID,
			PreviousStatus: BIScheduled,
			CurrentStatus:  BIScheduled,
			RegisteredAt:   now,
		}
		err = s.store.InsertProtocol(ctx, p)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, ErrProtocolConflict) {
			return nil, err
		}
		s.log(ctx).Warn().Int("attempt", attempt).Str("protocol", number).Msg("protocol number collision")
	}
	return nil, ErrProtocolConflict
}

func (s *Service) record(ctx context.Context, protocolID uuid.UUID, from *BIStatus, to BIStatus, at time.Time, actor string) error {
	h := &HistoryEntry{ProtocolID: protocolID, FromStatus: from, ToStatus: to, ChangedAt: at}
	if actor != "" {
		h.ChangedBy = &actor
	}
	return s.store.AppendHistory(ctx, h)
}

// moveProtocol sets the protocol to status, remembering prev, and appends
// the change to its history.
func (s *Service) moveProtocol(ctx context.Context, scheduleID uuid.UUID, prev, status BIStatus, now time.Time, actor string) (*Protocol, error) {
	p, err := s.store.GetProtocolBySchedule(ctx, scheduleID)
	if err != nil {
		return nil, fmt.Errorf("load protocol: %w", err)
	}
	from := p.CurrentStatus
	p.PreviousStatus = prev
	p.CurrentStatus = status
	p.ProcessedAt = &now
	if err := s.store.UpdateProtocolStatus(ctx, p); err != nil {
		return nil, err
	}
	if err := s.record(ctx, p.ID, &from, status, now, actor); err != nil {
		return nil, err
	}
	return p, nil
}

// Update applies the fields present in req. A bi_status change moves the
// protocol in the same transaction.
func (s *Service) Update(ctx context.Context, id uuid.UUID, req *UpdateRequest, actor string) (*ScheduleWithProtocol, error) {
	if err := validate.Check(req.rules()...); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	var out *ScheduleWithProtocol
	err := s.store.WithinTx(ctx, func(ctx context.Context) error {
		sched, err := s.store.GetScheduleForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if req.Description != nil {
			sched.Description = req.Description
		}
		if req.Notes != nil {
			sched.Notes = req.Notes
		}

		var p *Protocol
		if req.BIStatus != nil && *req.BIStatus != sched.BIStatus {
			if sched.Status == StatusCancelled {
				return fmt.Errorf("%w: schedule is cancelled", ErrInvalidTransition)
			}
			old := sched.BIStatus
			sched.BIStatus = *req.BIStatus
			if p, err = s.moveProtocol(ctx, sched.ID, old, sched.BIStatus, now, actor); err != nil {
				return err
			}
		}

		if err := s.store.UpdateSchedule(ctx, sched); err != nil {
			return err
		}
		if p == nil {
			if p, err = s.store.GetProtocolBySchedule(ctx, sched.ID); err != nil {
				return fmt.Errorf("load protocol: %w", err)
			}
		}
		out = &ScheduleWithProtocol{Schedule: *sched, Protocol: summarize(p)}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Transition moves the appointment one step along
// PENDING, CONFIRMED, IN_PROGRESS, COMPLETED. CANCELLED goes through Cancel.
func (s *Service) Transition(ctx context.Context, id uuid.UUID, to Status, actor string) (*ScheduleWithProtocol, error) {
	if !validStatuses[to] {
		return nil, validate.Errors{{Field: "status", Message: "status is invalid"}}
	}
	if to == StatusCancelled {
		return s.Cancel(ctx, id, actor)
	}

	var out *ScheduleWithProtocol
	err := s.store.WithinTx(ctx, func(ctx context.Context) error {
		sched, err := s.store.GetScheduleForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if nextStatus[sched.Status] != to {
			return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, sched.Status, to)
		}
		sched.Status = to
		if err := s.store.UpdateSchedule(ctx, sched); err != nil {
			return err
		}
		p, err := s.store.GetProtocolBySchedule(ctx, sched.ID)
		if err != nil {
			return fmt.Errorf("load protocol: %w", err)
		}
		out = &ScheduleWithProtocol{Schedule: *sched, Protocol: summarize(p)}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log(ctx).Info().Str("schedule_id", id.String()).Str("status", string(to)).Msg("appointment status changed")
	return out, nil
}

// Cancel frees the slot and closes the protocol. The schedule keeps its
// bi_status; only the protocol records CANCELLED.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID, actor string) (*ScheduleWithProtocol, error) {
	now := s.clock.Now()
	var out *ScheduleWithProtocol
	err := s.store.WithinTx(ctx, func(ctx context.Context) error {
		sched, err := s.store.GetScheduleForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if sched.Status.Terminal() {
			return fmt.Errorf("%w: schedule is %s", ErrInvalidTransition, sched.Status)
		}
		sched.Status = StatusCancelled
		if err := s.store.UpdateSchedule(ctx, sched); err != nil {
			return err
		}
		p, err := s.moveProtocol(ctx, sched.ID, sched.BIStatus, BICancelled, now, actor)
		if err != nil {
			return err
		}
		out = &ScheduleWithProtocol{Schedule: *sched, Protocol: summarize(p)}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log(ctx).Info().Str("schedule_id", id.String()).Str("actor", actor).Msg("appointment cancelled")
	return out, nil
}

// Delete removes the schedule for good; its protocol and history go with it.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	if err := s.store.DeleteSchedule(ctx, id); err != nil {
		return err
	}
	s.log(ctx).Info().Str("schedule_id", id.String()).Msg("appointment deleted")
	return nil
}

// -- reads --

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*ScheduleWithProtocol, error) {
	return s.findOne(ctx, Filter{ID: &id})
}

func (s *Service) GetByProtocolNumber(ctx context.Context, number string) (*ScheduleWithProtocol, error) {
	if !ValidProtocolNumber(number) {
		return nil, ErrNotFound
	}
	return s.findOne(ctx, Filter{ProtocolNumber: &number})
}

func (s *Service) findOne(ctx context.Context, f Filter) (*ScheduleWithProtocol, error) {
	items, err := s.store.FindSchedules(ctx, f)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, ErrNotFound
	}
	return items[0], nil
}

func (s *Service) ListByUser(ctx context.Context, requesterID uuid.UUID) ([]*ScheduleWithProtocol, error) {
	return s.store.FindSchedules(ctx, Filter{RequesterID: &requesterID})
}

// ListByCenter lists a center's schedules, optionally only those in status.
func (s *Service) ListByCenter(ctx context.Context, centerID uuid.UUID, status *Status) ([]*ScheduleWithProtocol, error) {
	return s.store.FindSchedules(ctx, Filter{CenterID: &centerID, Status: status})
}

func (s *Service) ListByStatus(ctx context.Context, status Status) ([]*ScheduleWithProtocol, error) {
	if !validStatuses[status] {
		return nil, validate.Errors{{Field: "status", Message: "status is invalid"}}
	}
	return s.store.FindSchedules(ctx, Filter{Status: &status})
}

func (s *Service) ListAll(ctx context.Context) ([]*ScheduleWithProtocol, error) {
	return s.store.FindSchedules(ctx, Filter{})
}

func (s *Service) GetProtocol(ctx context.Context, number string) (*Protocol, error) {
	if !ValidProtocolNumber(number) {
		return nil, ErrNotFound
	}
	return s.store.GetProtocolByNumber(ctx, number)
}

func (s *Service) ListProtocolsByUser(ctx context.Context, requesterID uuid.UUID) ([]*Protocol, error) {
	return s.store.ListProtocolsByRequester(ctx, requesterID)
}

// ProtocolHistory returns the protocol with its status changes, oldest first.
func (s *Service) ProtocolHistory(ctx context.Context, number string) (*ProtocolWithHistory, error) {
	p, err := s.GetProtocol(ctx, number)
	if err != nil {
		return nil, err
	}
	history, err := s.store.ListHistory(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	return &ProtocolWithHistory{Protocol: *p, History: history}, nil
}
