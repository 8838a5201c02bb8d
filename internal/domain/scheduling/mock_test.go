package scheduling

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agendabi/agendabi/internal/domain/center"
	"github.com/agendabi/agendabi/internal/platform/lock"
)

type fixedClock struct{ t time.Time }

func (c *fixedClock) Now() time.Time { return c.t }

type mockCenters struct {
	mu      sync.Mutex
	centers map[uuid.UUID]*center.Center
}

func newMockCenters() *mockCenters {
	return &mockCenters{centers: make(map[uuid.UUID]*center.Center)}
}

func (m *mockCenters) add(c *center.Center) *center.Center {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	m.centers[c.ID] = c
	return c
}

func (m *mockCenters) GetByID(_ context.Context, id uuid.UUID) (*center.Center, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.centers[id]
	if !ok {
		return nil, center.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *mockCenters) GetByManager(_ context.Context, managerID uuid.UUID) (*center.Center, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.centers {
		if c.ManagerID == managerID {
			cp := *c
			return &cp, nil
		}
	}
	return nil, center.ErrNotFound
}

type txKey struct{}

// mockTx buffers writes and applies them at commit, so a failed transaction
// leaves nothing behind. Keys locked through LockKey stay held until the
// transaction ends, like pg_advisory_xact_lock.
type mockTx struct {
	ops      []func()
	releases []func()
}

// mockStore is a map-backed Store. Reads see committed state only.
type mockStore struct {
	mu        sync.Mutex
	schedules map[uuid.UUID]*Schedule
	protocols map[uuid.UUID]*Protocol
	history   []*HistoryEntry
	lockedKey []string
	xact      *lock.Memory
	// protocolCollisions makes the next n InsertProtocol calls collide
	protocolCollisions int
	commits            int
}

func newMockStore() *mockStore {
	return &mockStore{
		schedules: make(map[uuid.UUID]*Schedule),
		protocols: make(map[uuid.UUID]*Protocol),
		xact:      lock.NewMemory(),
	}
}

func (m *mockStore) write(ctx context.Context, op func()) {
	if tx, ok := ctx.Value(txKey{}).(*mockTx); ok {
		tx.ops = append(tx.ops, op)
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	op()
}

func (m *mockStore) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*mockTx); ok {
		return fn(ctx)
	}
	tx := &mockTx{}
	defer func() {
		for i := len(tx.releases) - 1; i >= 0; i-- {
			tx.releases[i]()
		}
	}()
	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, op := range tx.ops {
		op()
	}
	m.commits++
	return nil
}

func (m *mockStore) LockKey(ctx context.Context, key string) error {
	m.mu.Lock()
	m.lockedKey = append(m.lockedKey, key)
	m.mu.Unlock()

	tx, ok := ctx.Value(txKey{}).(*mockTx)
	if !ok {
		return nil
	}
	release, err := m.xact.Acquire(ctx, key)
	if err != nil {
		return err
	}
	tx.releases = append(tx.releases, release)
	return nil
}

func hasStatus(s Status, set []Status) bool {
	for _, x := range set {
		if s == x {
			return true
		}
	}
	return false
}

func (m *mockStore) CountActive(_ context.Context, centerID uuid.UUID, day time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.schedules {
		if s.CenterID == centerID && s.ScheduledDay.Equal(day) && hasStatus(s.Status, consumesCapacity) {
			n++
		}
	}
	return n, nil
}

func (m *mockStore) FindActiveByRequester(_ context.Context, requesterID, centerID uuid.UUID) (*Schedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.schedules {
		if s.RequesterID == requesterID && s.CenterID == centerID && hasStatus(s.Status, blocksRebooking) {
			cp := *s
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *mockStore) SlotInUse(_ context.Context, centerID uuid.UUID, day time.Time, slot int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.schedules {
		if s.CenterID == centerID && s.ScheduledDay.Equal(day) && s.SlotNumber == slot && s.Status != StatusCancelled {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockStore) maxSlot(centerID uuid.UUID, match func(time.Time) bool) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	max := 0
	for _, s := range m.schedules {
		if s.CenterID == centerID && match(s.ScheduledDay) && s.SlotNumber > max {
			max = s.SlotNumber
		}
	}
	return max
}

func (m *mockStore) MaxSlotSince(_ context.Context, centerID uuid.UUID, day time.Time) (int, error) {
	return m.maxSlot(centerID, func(d time.Time) bool { return !d.Before(day) }), nil
}

func (m *mockStore) MaxSlotOn(_ context.Context, centerID uuid.UUID, day time.Time) (int, error) {
	return m.maxSlot(centerID, func(d time.Time) bool { return d.Equal(day) }), nil
}

func (m *mockStore) InsertSchedule(ctx context.Context, s *Schedule) error {
	s.ID = uuid.New()
	s.CreatedAt = time.Now()
	s.UpdatedAt = s.CreatedAt
	cp := *s
	m.write(ctx, func() { m.schedules[cp.ID] = &cp })
	return nil
}

func (m *mockStore) GetScheduleForUpdate(_ context.Context, id uuid.UUID) (*Schedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.schedules[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *mockStore) UpdateSchedule(ctx context.Context, s *Schedule) error {
	cp := *s
	m.write(ctx, func() { m.schedules[cp.ID] = &cp })
	return nil
}

func (m *mockStore) DeleteSchedule(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	_, ok := m.schedules[id]
	m.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	m.write(ctx, func() {
		delete(m.schedules, id)
		for pid, p := range m.protocols {
			if p.ScheduleID == id {
				delete(m.protocols, pid)
			}
		}
	})
	return nil
}

func (m *mockStore) protocolFor(scheduleID uuid.UUID) *Protocol {
	for _, p := range m.protocols {
		if p.ScheduleID == scheduleID {
			return p
		}
	}
	return nil
}

func (m *mockStore) FindSchedules(_ context.Context, f Filter) ([]*ScheduleWithProtocol, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*ScheduleWithProtocol
	for _, s := range m.schedules {
		p := m.protocolFor(s.ID)
		switch {
		case f.ID != nil && s.ID != *f.ID,
			f.RequesterID != nil && s.RequesterID != *f.RequesterID,
			f.CenterID != nil && s.CenterID != *f.CenterID,
			f.Status != nil && s.Status != *f.Status,
			f.ProtocolNumber != nil && (p == nil || p.Number != *f.ProtocolNumber):
			continue
		}
		out = append(out, &ScheduleWithProtocol{Schedule: *s, Protocol: summarize(p)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledAt.Before(out[j].ScheduledAt) })
	return out, nil
}

func (m *mockStore) InsertProtocol(ctx context.Context, p *Protocol) error {
	m.mu.Lock()
	if m.protocolCollisions > 0 {
		m.protocolCollisions--
		m.mu.Unlock()
		return ErrProtocolConflict
	}
	for _, existing := range m.protocols {
		if existing.Number == p.Number {
			m.mu.Unlock()
			return ErrProtocolConflict
		}
	}
	m.mu.Unlock()
	p.ID = uuid.New()
	cp := *p
	m.write(ctx, func() { m.protocols[cp.ID] = &cp })
	return nil
}

func (m *mockStore) GetProtocolBySchedule(_ context.Context, scheduleID uuid.UUID) (*Protocol, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p := m.protocolFor(scheduleID); p != nil {
		cp := *p
		return &cp, nil
	}
	return nil, ErrNotFound
}

func (m *mockStore) GetProtocolByNumber(_ context.Context, number string) (*Protocol, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.protocols {
		if p.Number == number {
			cp := *p
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *mockStore) UpdateProtocolStatus(ctx context.Context, p *Protocol) error {
	cp := *p
	m.write(ctx, func() { m.protocols[cp.ID] = &cp })
	return nil
}

func (m *mockStore) ListProtocolsByRequester(_ context.Context, requesterID uuid.UUID) ([]*Protocol, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Protocol
	for _, p := range m.protocols {
		if s, ok := m.schedules[p.ScheduleID]; ok && s.RequesterID == requesterID {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *mockStore) AppendHistory(ctx context.Context, h *HistoryEntry) error {
	h.ID = uuid.New()
	cp := *h
	m.write(ctx, func() { m.history = append(m.history, &cp) })
	return nil
}

func (m *mockStore) ListHistory(_ context.Context, protocolID uuid.UUID) ([]*HistoryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*HistoryEntry
	for _, h := range m.history {
		if h.ProtocolID == protocolID {
			out = append(out, h)
		}
	}
	return out, nil
}

func (m *mockStore) schedule(id uuid.UUID) *Schedule {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.schedules[id]
}

func (m *mockStore) protocolOf(scheduleID uuid.UUID) *Protocol {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.protocolFor(scheduleID)
}

func (m *mockStore) count() (schedules, protocols int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.schedules), len(m.protocols)
}
