package scheduling

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/agendabi/agendabi/internal/domain/center"
	"github.com/agendabi/agendabi/internal/platform/lock"
)

type fixture struct {
	svc     *Service
	store   *mockStore
	centers *mockCenters
	center  *center.Center
	clock   *fixedClock
}

func newFixture(t *testing.T, capacity int) *fixture {
	t.Helper()
	return newFixtureWithLocker(t, capacity, lock.NewMemory())
}

func newFixtureWithLocker(t *testing.T, capacity int, locker lock.Locker) *fixture {
	t.Helper()
	store := newMockStore()
	centers := newMockCenters()
	c := weekdayCenter()
	c.DailyCapacity = capacity
	c.ManagerID = uuid.New()
	centers.add(c)
	clock := &fixedClock{t: mondayMorning}
	svc := NewService(store, centers, locker, clock, Config{Location: wat, MinDaysAhead: 1}, zerolog.Nop())
	return &fixture{svc: svc, store: store, centers: centers, center: c, clock: clock}
}

func (f *fixture) book(requester uuid.UUID, when time.Time) (*ScheduleWithProtocol, error) {
	return f.svc.Create(context.Background(), requester, &CreateRequest{
		CenterID:      f.center.ID,
		ScheduledAt:   when,
		BIRequestType: RequestNew,
	})
}

func (f *fixture) mustBook(t *testing.T, requester uuid.UUID, when time.Time) *ScheduleWithProtocol {
	t.Helper()
	out, err := f.book(requester, when)
	if err != nil {
		t.Fatalf("book %s: %v", when, err)
	}
	return out
}

func expectReason(t *testing.T, err error, want Reason) {
	t.Helper()
	if got := ReasonOf(err); got != want {
		t.Fatalf("expected reason %q, got %q (err %v)", want, got, err)
	}
}

var wednesday10 = at(2024, time.June, 5, 10, 0)

func TestCreate_Success(t *testing.T) {
	f := newFixture(t, 20)
	requester := uuid.New()
	desc := "segunda via"

	out, err := f.svc.Create(context.Background(), requester, &CreateRequest{
		CenterID:      f.center.ID,
		ScheduledAt:   wednesday10,
		BIRequestType: RequestRenewal,
		Description:   &desc,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Status != StatusPending || out.BIStatus != BIScheduled {
		t.Errorf("expected PENDING/SCHEDULED, got %s/%s", out.Status, out.BIStatus)
	}
	if out.SlotNumber != 1 || out.RequesterID != requester || *out.Description != desc {
		t.Errorf("unexpected schedule: %+v", out.Schedule)
	}
	if !out.ScheduledDay.Equal(time.Date(2024, time.June, 5, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("unexpected scheduled day %s", out.ScheduledDay)
	}

	p := f.store.protocolOf(out.ID)
	if p == nil {
		t.Fatal("expected a protocol for the schedule")
	}
	if p.ScheduleID != out.ID || p.CurrentStatus != out.BIStatus || p.PreviousStatus != BIScheduled {
		t.Errorf("protocol out of step with schedule: %+v", p)
	}
	if !ValidProtocolNumber(p.Number) || p.Number[4:10] != "202406" {
		t.Errorf("bad protocol number %s", p.Number)
	}
	if out.Protocol == nil || out.Protocol.Number != p.Number || !out.Protocol.RegisteredAt.Equal(mondayMorning) {
		t.Errorf("summary does not match protocol: %+v", out.Protocol)
	}

	history, _ := f.store.ListHistory(context.Background(), p.ID)
	if len(history) != 1 || history[0].FromStatus != nil || history[0].ToStatus != BIScheduled {
		t.Errorf("expected one creation entry, got %+v", history)
	}

	wantKeys := map[string]bool{
		"capacity:" + f.center.ID.String() + ":2024-06-05":              true,
		"requester:" + requester.String() + ":" + f.center.ID.String(): true,
	}
	for _, k := range f.store.lockedKey {
		delete(wantKeys, k)
	}
	if len(wantKeys) != 0 {
		t.Errorf("missing transaction locks: %v", wantKeys)
	}
}

// Monday 2024-06-03 09:00, capacity 1, Monday to Friday 08:00-18:00.
func TestCreate_ConcreteScenario(t *testing.T) {
	f := newFixture(t, 1)
	u1, u2, u3 := uuid.New(), uuid.New(), uuid.New()

	f.mustBook(t, u1, at(2024, time.June, 5, 10, 0))

	_, err := f.book(u2, at(2024, time.June, 5, 10, 0))
	expectReason(t, err, ReasonNoAvailableSlots)
	if ise := err.(*InvalidScheduleError); ise.Date != "2024-06-05" {
		t.Errorf("expected date in error, got %q", ise.Date)
	}

	// tomorrow is accepted: the lead time boundary is inclusive
	f.mustBook(t, u3, at(2024, time.June, 4, 10, 0))

	_, err = f.book(u2, at(2024, time.June, 4, 0, 0))
	expectReason(t, err, ReasonOutsideOperatingHours)

	_, err = f.book(u2, at(2024, time.June, 3, 23, 59))
	expectReason(t, err, ReasonTooSoon)
}

func TestCreate_FailuresWriteNothing(t *testing.T) {
	f := newFixture(t, 5)
	cases := []struct {
		name string
		req  *CreateRequest
	}{
		{"too soon", &CreateRequest{CenterID: f.center.ID, ScheduledAt: at(2024, time.June, 3, 12, 0), BIRequestType: RequestNew}},
		{"weekend", &CreateRequest{CenterID: f.center.ID, ScheduledAt: at(2024, time.June, 8, 10, 0), BIRequestType: RequestNew}},
		{"missing center id", &CreateRequest{ScheduledAt: wednesday10, BIRequestType: RequestNew}},
		{"bad request type", &CreateRequest{CenterID: f.center.ID, ScheduledAt: wednesday10, BIRequestType: "PASSPORT"}},
	}
	for _, tc := range cases {
		if _, err := f.svc.Create(context.Background(), uuid.New(), tc.req); err == nil {
			t.Errorf("%s: expected error", tc.name)
		}
	}
	if s, p := f.store.count(); s != 0 || p != 0 {
		t.Errorf("expected no writes, got %d schedules %d protocols", s, p)
	}
}

func TestCreate_Validation(t *testing.T) {
	f := newFixture(t, 5)
	slot := 1000
	long := string(make([]byte, 1001))
	_, err := f.svc.Create(context.Background(), uuid.New(), &CreateRequest{
		BIRequestType: "PASSPORT",
		SlotNumber:    &slot,
		Notes:         &long,
	})
	var verr ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	fields := verr.Fields()
	for _, name := range []string{"center_id", "scheduled_at", "bi_request_type", "slot_number", "notes"} {
		if len(fields[name]) == 0 {
			t.Errorf("expected message for %s, got %v", name, fields)
		}
	}
}

func TestCreate_CenterNotFound(t *testing.T) {
	f := newFixture(t, 5)
	_, err := f.svc.Create(context.Background(), uuid.New(), &CreateRequest{
		CenterID: uuid.New(), ScheduledAt: wednesday10, BIRequestType: RequestNew,
	})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCreate_InactiveCenter(t *testing.T) {
	f := newFixture(t, 5)
	f.center.Active = false
	_, err := f.book(uuid.New(), wednesday10)
	expectReason(t, err, ReasonCenterInactive)
}

func TestCreate_DuplicateGuard(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()
	u := uuid.New()

	first := f.mustBook(t, u, wednesday10)
	_, err := f.book(u, at(2024, time.June, 6, 11, 0))
	expectReason(t, err, ReasonDuplicateSchedule)

	if _, err := f.svc.Transition(ctx, first.ID, StatusConfirmed, "staff"); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	_, err = f.book(u, at(2024, time.June, 6, 11, 0))
	expectReason(t, err, ReasonDuplicateSchedule)

	if _, err := f.svc.Cancel(ctx, first.ID, u.String()); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	second := f.mustBook(t, u, at(2024, time.June, 6, 11, 0))

	// IN_PROGRESS and COMPLETED no longer block rebooking
	for _, st := range []Status{StatusConfirmed, StatusInProgress} {
		if _, err := f.svc.Transition(ctx, second.ID, st, "staff"); err != nil {
			t.Fatalf("transition to %s: %v", st, err)
		}
	}
	third := f.mustBook(t, u, at(2024, time.June, 7, 9, 0))
	if third.ID == second.ID {
		t.Error("expected a new schedule")
	}
	// the same requester can book another center at any time
	other := weekdayCenter()
	other.DailyCapacity = 3
	f.centers.add(other)
	if _, err := f.svc.Create(ctx, u, &CreateRequest{CenterID: other.ID, ScheduledAt: wednesday10, BIRequestType: RequestLoss}); err != nil {
		t.Fatalf("booking another center: %v", err)
	}
}

func TestCapacity_CancelFreesExactlyOneSlot(t *testing.T) {
	f := newFixture(t, 3)
	ctx := context.Background()
	day := time.Date(2024, time.June, 5, 0, 0, 0, 0, time.UTC)

	var booked []*ScheduleWithProtocol
	for i := 0; i < 3; i++ {
		booked = append(booked, f.mustBook(t, uuid.New(), wednesday10.Add(time.Duration(i)*time.Hour)))
	}
	if n, _ := f.svc.AvailableSlots(ctx, f.center.ID, day); n != 0 {
		t.Fatalf("expected 0 available, got %d", n)
	}
	_, err := f.book(uuid.New(), wednesday10)
	expectReason(t, err, ReasonNoAvailableSlots)

	if _, err := f.svc.Cancel(ctx, booked[1].ID, "staff"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if n, _ := f.svc.AvailableSlots(ctx, f.center.ID, day); n != 1 {
		t.Fatalf("expected exactly 1 available after cancel, got %d", n)
	}
	f.mustBook(t, uuid.New(), wednesday10)
	if n, _ := f.svc.AvailableSlots(ctx, f.center.ID, day); n != 0 {
		t.Errorf("expected 0 available, got %d", n)
	}

	// other days are unaffected
	if n, _ := f.svc.AvailableSlots(ctx, f.center.ID, day.AddDate(0, 0, 1)); n != 3 {
		t.Errorf("expected 3 available on thursday, got %d", n)
	}
}

func TestCapacity_CompletedDoesNotConsume(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()
	s := f.mustBook(t, uuid.New(), wednesday10)
	for _, st := range []Status{StatusConfirmed, StatusInProgress} {
		if _, err := f.svc.Transition(ctx, s.ID, st, "staff"); err != nil {
			t.Fatalf("transition: %v", err)
		}
	}
	day := time.Date(2024, time.June, 5, 0, 0, 0, 0, time.UTC)
	if n, _ := f.svc.AvailableSlots(ctx, f.center.ID, day); n != 0 {
		t.Fatalf("IN_PROGRESS should hold the slot, got %d available", n)
	}
	if _, err := f.svc.Transition(ctx, s.ID, StatusCompleted, "staff"); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if n, _ := f.svc.AvailableSlots(ctx, f.center.ID, day); n != 1 {
		t.Errorf("COMPLETED should free the slot, got %d available", n)
	}
}

func TestAvailableSlots_CenterNotFound(t *testing.T) {
	f := newFixture(t, 1)
	if _, err := f.svc.AvailableSlots(context.Background(), uuid.New(), time.Now()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRemaining(t *testing.T) {
	for _, tc := range []struct{ capacity, active, want int }{
		{20, 0, 20}, {20, 19, 1}, {20, 20, 0}, {5, 8, 0},
	} {
		if got := remaining(tc.capacity, tc.active); got != tc.want {
			t.Errorf("remaining(%d, %d) = %d, want %d", tc.capacity, tc.active, got, tc.want)
		}
	}
}

func TestCreate_SlotNumbers(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()

	a := f.mustBook(t, uuid.New(), wednesday10)
	b := f.mustBook(t, uuid.New(), at(2024, time.June, 6, 10, 0))
	c := f.mustBook(t, uuid.New(), wednesday10)
	if a.SlotNumber != 1 || b.SlotNumber != 2 || c.SlotNumber != 3 {
		t.Fatalf("expected center-wide sequence 1,2,3; got %d,%d,%d", a.SlotNumber, b.SlotNumber, c.SlotNumber)
	}

	taken := 3
	_, err := f.svc.Create(ctx, uuid.New(), &CreateRequest{
		CenterID: f.center.ID, ScheduledAt: wednesday10, BIRequestType: RequestNew, SlotNumber: &taken,
	})
	expectReason(t, err, ReasonSlotTaken)

	// slot 3 is free on thursday
	out, err := f.svc.Create(ctx, uuid.New(), &CreateRequest{
		CenterID: f.center.ID, ScheduledAt: at(2024, time.June, 6, 11, 0), BIRequestType: RequestNew, SlotNumber: &taken,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.SlotNumber != 3 {
		t.Errorf("expected caller slot 3 honored, got %d", out.SlotNumber)
	}

	// a cancelled booking releases its slot number
	if _, err := f.svc.Cancel(ctx, c.ID, "staff"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, err := f.svc.Create(ctx, uuid.New(), &CreateRequest{
		CenterID: f.center.ID, ScheduledAt: wednesday10, BIRequestType: RequestNew, SlotNumber: &taken,
	}); err != nil {
		t.Fatalf("expected freed slot to be bookable: %v", err)
	}
}

func TestCreate_SlotNumberingWrapsToDay(t *testing.T) {
	f := newFixture(t, 10)
	last := MaxSlotNumber
	if _, err := f.svc.Create(context.Background(), uuid.New(), &CreateRequest{
		CenterID: f.center.ID, ScheduledAt: at(2024, time.June, 6, 10, 0), BIRequestType: RequestNew, SlotNumber: &last,
	}); err != nil {
		t.Fatalf("book slot 999: %v", err)
	}
	out := f.mustBook(t, uuid.New(), wednesday10)
	if out.SlotNumber != 1 {
		t.Errorf("expected the day's own sequence once 999 is used, got %d", out.SlotNumber)
	}
}

func TestCreate_ProtocolCollisionRetried(t *testing.T) {
	f := newFixture(t, 5)
	f.store.protocolCollisions = 2
	out := f.mustBook(t, uuid.New(), wednesday10)
	if out.Protocol == nil || !ValidProtocolNumber(out.Protocol.Number) {
		t.Errorf("expected protocol after retries, got %+v", out.Protocol)
	}
}

func TestCreate_ProtocolCollisionExhausted(t *testing.T) {
	f := newFixture(t, 5)
	f.store.protocolCollisions = 3
	_, err := f.book(uuid.New(), wednesday10)
	if !errors.Is(err, ErrProtocolConflict) {
		t.Fatalf("expected ErrProtocolConflict, got %v", err)
	}
	if s, p := f.store.count(); s != 0 || p != 0 {
		t.Errorf("schedule must not persist without its protocol: %d schedules %d protocols", s, p)
	}
}

func TestUpdate_DescriptionLeavesProtocolAlone(t *testing.T) {
	f := newFixture(t, 5)
	s := f.mustBook(t, uuid.New(), wednesday10)
	notes := "trazer certidão"

	out, err := f.svc.Update(context.Background(), s.ID, &UpdateRequest{Notes: &notes}, "staff")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if *out.Notes != notes || out.BIStatus != BIScheduled || out.Description != nil {
		t.Errorf("unexpected schedule after patch: %+v", out.Schedule)
	}
	p := f.store.protocolOf(s.ID)
	if p.PreviousStatus != BIScheduled || p.CurrentStatus != BIScheduled || p.ProcessedAt != nil {
		t.Errorf("protocol should be untouched, got %+v", p)
	}
}

func TestUpdate_BIStatusMovesProtocol(t *testing.T) {
	f := newFixture(t, 5)
	ctx := context.Background()
	s := f.mustBook(t, uuid.New(), wednesday10)

	steps := []BIStatus{BIConfirmed, BIBiometricsCollected, BIProcessing, BIReadyForPickup}
	prev := BIScheduled
	for i, st := range steps {
		f.clock.t = mondayMorning.Add(time.Duration(i+1) * time.Hour)
		st := st
		out, err := f.svc.Update(ctx, s.ID, &UpdateRequest{BIStatus: &st}, "staff")
		if err != nil {
			t.Fatalf("update to %s: %v", st, err)
		}
		p := f.store.protocolOf(s.ID)
		if p.PreviousStatus != prev || p.CurrentStatus != st || out.BIStatus != st {
			t.Fatalf("step %s: protocol %s->%s, schedule %s", st, p.PreviousStatus, p.CurrentStatus, out.BIStatus)
		}
		if p.ProcessedAt == nil || !p.ProcessedAt.Equal(f.clock.t) {
			t.Errorf("step %s: processed_at not stamped", st)
		}
		if out.Protocol.CurrentStatus != st {
			t.Errorf("summary not refreshed: %+v", out.Protocol)
		}
		prev = st
	}

	hist, err := f.svc.ProtocolHistory(ctx, f.store.protocolOf(s.ID).Number)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(hist.History) != 5 {
		t.Fatalf("expected 5 history entries, got %d", len(hist.History))
	}
	last := hist.History[4]
	if *last.FromStatus != BIProcessing || last.ToStatus != BIReadyForPickup || *last.ChangedBy != "staff" {
		t.Errorf("unexpected last entry %+v", last)
	}
}

func TestUpdate_SameBIStatusIsNoop(t *testing.T) {
	f := newFixture(t, 5)
	s := f.mustBook(t, uuid.New(), wednesday10)
	same := BIScheduled
	if _, err := f.svc.Update(context.Background(), s.ID, &UpdateRequest{BIStatus: &same}, "staff"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p := f.store.protocolOf(s.ID); p.ProcessedAt != nil {
		t.Error("protocol should not change when bi_status is unchanged")
	}
}

func TestUpdate_Rejections(t *testing.T) {
	f := newFixture(t, 5)
	ctx := context.Background()
	s := f.mustBook(t, uuid.New(), wednesday10)

	cancelled := BICancelled
	var verr ValidationError
	if _, err := f.svc.Update(ctx, s.ID, &UpdateRequest{BIStatus: &cancelled}, "staff"); !errors.As(err, &verr) {
		t.Errorf("expected validation error for CANCELLED via update, got %v", err)
	}
	bogus := BIStatus("LOST_IN_MAIL")
	if _, err := f.svc.Update(ctx, s.ID, &UpdateRequest{BIStatus: &bogus}, "staff"); !errors.As(err, &verr) {
		t.Errorf("expected validation error for unknown bi_status, got %v", err)
	}
	if _, err := f.svc.Update(ctx, uuid.New(), &UpdateRequest{}, "staff"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	if _, err := f.svc.Cancel(ctx, s.ID, "staff"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	processing := BIProcessing
	if _, err := f.svc.Update(ctx, s.ID, &UpdateRequest{BIStatus: &processing}, "staff"); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition on cancelled schedule, got %v", err)
	}
}

func TestCancel(t *testing.T) {
	f := newFixture(t, 5)
	ctx := context.Background()
	s := f.mustBook(t, uuid.New(), wednesday10)
	confirmed := BIConfirmed
	if _, err := f.svc.Update(ctx, s.ID, &UpdateRequest{BIStatus: &confirmed}, "staff"); err != nil {
		t.Fatalf("update: %v", err)
	}

	out, err := f.svc.Cancel(ctx, s.ID, "citizen")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Status != StatusCancelled {
		t.Errorf("expected CANCELLED, got %s", out.Status)
	}
	if out.BIStatus != BIConfirmed {
		t.Errorf("bi_status must be left as is, got %s", out.BIStatus)
	}
	p := f.store.protocolOf(s.ID)
	if p.PreviousStatus != BIConfirmed || p.CurrentStatus != BICancelled || p.ProcessedAt == nil {
		t.Errorf("unexpected protocol after cancel: %+v", p)
	}

	if _, err := f.svc.Cancel(ctx, s.ID, "citizen"); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition on second cancel, got %v", err)
	}
	if _, err := f.svc.Cancel(ctx, uuid.New(), "citizen"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestTransition(t *testing.T) {
	f := newFixture(t, 5)
	ctx := context.Background()
	s := f.mustBook(t, uuid.New(), wednesday10)

	if _, err := f.svc.Transition(ctx, s.ID, StatusInProgress, "staff"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected skipping CONFIRMED to fail, got %v", err)
	}
	for _, st := range []Status{StatusConfirmed, StatusInProgress, StatusCompleted} {
		out, err := f.svc.Transition(ctx, s.ID, st, "staff")
		if err != nil {
			t.Fatalf("transition to %s: %v", st, err)
		}
		if out.Status != st {
			t.Errorf("expected %s, got %s", st, out.Status)
		}
	}
	if _, err := f.svc.Transition(ctx, s.ID, StatusCancelled, "staff"); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected completed schedule not cancellable, got %v", err)
	}
	if _, err := f.svc.Transition(ctx, s.ID, "ARCHIVED", "staff"); err == nil {
		t.Error("expected error for unknown status")
	}

	other := f.mustBook(t, uuid.New(), wednesday10)
	out, err := f.svc.Transition(ctx, other.ID, StatusCancelled, "staff")
	if err != nil || out.Status != StatusCancelled {
		t.Fatalf("expected cancel through transition, got %v", err)
	}
	if p := f.store.protocolOf(other.ID); p.CurrentStatus != BICancelled {
		t.Errorf("expected protocol CANCELLED, got %s", p.CurrentStatus)
	}
}

func TestDelete(t *testing.T) {
	f := newFixture(t, 5)
	ctx := context.Background()
	s := f.mustBook(t, uuid.New(), wednesday10)

	if err := f.svc.Delete(ctx, s.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.store.schedule(s.ID) != nil || f.store.protocolOf(s.ID) != nil {
		t.Error("schedule and protocol should be gone")
	}
	if err := f.svc.Delete(ctx, s.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestReads(t *testing.T) {
	f := newFixture(t, 5)
	ctx := context.Background()
	u := uuid.New()
	mine := f.mustBook(t, u, wednesday10)
	theirs := f.mustBook(t, uuid.New(), at(2024, time.June, 6, 10, 0))
	if _, err := f.svc.Transition(ctx, theirs.ID, StatusConfirmed, "staff"); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	got, err := f.svc.Get(ctx, mine.ID)
	if err != nil || got.Protocol == nil || got.Protocol.Number != mine.Protocol.Number {
		t.Fatalf("Get: %+v, %v", got, err)
	}
	if _, err := f.svc.Get(ctx, uuid.New()); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	byNumber, err := f.svc.GetByProtocolNumber(ctx, mine.Protocol.Number)
	if err != nil || byNumber.ID != mine.ID {
		t.Errorf("GetByProtocolNumber: %+v, %v", byNumber, err)
	}
	if _, err := f.svc.GetByProtocolNumber(ctx, "not-a-protocol"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for malformed number, got %v", err)
	}

	if items, _ := f.svc.ListByUser(ctx, u); len(items) != 1 || items[0].ID != mine.ID {
		t.Errorf("ListByUser returned %d items", len(items))
	}
	if items, _ := f.svc.ListByCenter(ctx, f.center.ID, nil); len(items) != 2 {
		t.Errorf("ListByCenter returned %d items", len(items))
	}
	confirmed := StatusConfirmed
	if items, _ := f.svc.ListByCenter(ctx, f.center.ID, &confirmed); len(items) != 1 || items[0].ID != theirs.ID {
		t.Errorf("ListByCenter with status returned %d items", len(items))
	}
	if items, _ := f.svc.ListByStatus(ctx, StatusPending); len(items) != 1 {
		t.Errorf("ListByStatus returned %d items", len(items))
	}
	if _, err := f.svc.ListByStatus(ctx, "ARCHIVED"); err == nil {
		t.Error("expected error for unknown status")
	}
	if items, _ := f.svc.ListAll(ctx); len(items) != 2 {
		t.Errorf("ListAll returned %d items", len(items))
	}

	protocols, _ := f.svc.ListProtocolsByUser(ctx, u)
	if len(protocols) != 1 || protocols[0].ScheduleID != mine.ID {
		t.Errorf("ListProtocolsByUser: %+v", protocols)
	}
	p, err := f.svc.GetProtocol(ctx, mine.Protocol.Number)
	if err != nil || p.ScheduleID != mine.ID {
		t.Errorf("GetProtocol: %+v, %v", p, err)
	}
}

func TestCreate_ConcurrentBookingsNeverOverbook(t *testing.T) {
	lockers := map[string]func() lock.Locker{
		"memory locker":     func() lock.Locker { return lock.NewMemory() },
		"transaction locks": func() lock.Locker { return lock.Noop{} },
	}
	for name, newLocker := range lockers {
		t.Run(name, func(t *testing.T) {
			const capacity, callers = 5, 40
			f := newFixtureWithLocker(t, capacity, newLocker())

			var wg sync.WaitGroup
			results := make(chan error, callers)
			for i := 0; i < callers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, err := f.book(uuid.New(), wednesday10)
					results <- err
				}()
			}
			wg.Wait()
			close(results)

			ok, full := 0, 0
			for err := range results {
				switch {
				case err == nil:
					ok++
				case ReasonOf(err) == ReasonNoAvailableSlots:
					full++
				default:
					t.Errorf("unexpected error: %v", err)
				}
			}
			if ok != capacity || full != callers-capacity {
				t.Fatalf("expected %d booked and %d rejected, got %d and %d", capacity, callers-capacity, ok, full)
			}

			slots := map[int]bool{}
			items, _ := f.svc.ListByCenter(context.Background(), f.center.ID, nil)
			for _, s := range items {
				if slots[s.SlotNumber] {
					t.Errorf("slot %d assigned twice", s.SlotNumber)
				}
				slots[s.SlotNumber] = true
			}
		})
	}
}

func TestCreate_ConcurrentSameRequester(t *testing.T) {
	lockers := map[string]func() lock.Locker{
		"memory locker":     func() lock.Locker { return lock.NewMemory() },
		"transaction locks": func() lock.Locker { return lock.Noop{} },
	}
	for name, newLocker := range lockers {
		t.Run(name, func(t *testing.T) {
			const callers = 10
			f := newFixtureWithLocker(t, callers, newLocker())
			u := uuid.New()

			var wg sync.WaitGroup
			var mu sync.Mutex
			ok, dup := 0, 0
			for i := 0; i < callers; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					// different days so only the requester lock is shared
					_, err := f.book(u, at(2024, time.June, 4+i%4, 10, 0))
					mu.Lock()
					defer mu.Unlock()
					switch {
					case err == nil:
						ok++
					case ReasonOf(err) == ReasonDuplicateSchedule:
						dup++
					default:
						t.Errorf("unexpected error: %v", err)
					}
				}(i)
			}
			wg.Wait()
			if ok != 1 || dup != callers-1 {
				t.Fatalf("expected 1 booking and %d duplicates, got %d and %d", callers-1, ok, dup)
			}
		})
	}
}

func TestCreate_TransactionLocksReleasedOnFailure(t *testing.T) {
	f := newFixtureWithLocker(t, 1, lock.Noop{})
	f.mustBook(t, uuid.New(), wednesday10)

	// a rejected booking must not leave its keys held
	if _, err := f.book(uuid.New(), wednesday10); ReasonOf(err) != ReasonNoAvailableSlots {
		t.Fatalf("expected NoAvailableSlots, got %v", err)
	}
	done := make(chan error, 1)
	go func() {
		_, err := f.book(uuid.New(), at(2024, time.June, 6, 10, 0))
		done <- err
	}()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("booking blocked on a lock left by a failed transaction")
	}
	if f.store.xact.Len() != 0 {
		t.Errorf("expected no held transaction locks, got %d", f.store.xact.Len())
	}
}

type failingLocker struct{}

func (failingLocker) Acquire(context.Context, ...string) (func(), error) {
	return nil, lock.ErrNotAcquired
}

func TestCreate_LockUnavailable(t *testing.T) {
	f := newFixtureWithLocker(t, 5, failingLocker{})
	_, err := f.book(uuid.New(), wednesday10)
	if !errors.Is(err, lock.ErrNotAcquired) {
		t.Fatalf("expected ErrNotAcquired, got %v", err)
	}
	if s, _ := f.store.count(); s != 0 {
		t.Error("nothing should be written without the lock")
	}
}
