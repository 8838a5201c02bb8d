package lock

import (
	"context"
	"fmt"
	"sync"
)

type memEntry struct {
	ch   chan struct{}
	refs int
}

// Memory is a process-local keyed mutex. It only serializes callers inside one
// server instance.
type Memory struct {
	mu    sync.Mutex
	slots map[string]*memEntry
}

func NewMemory() *Memory {
	return &Memory{slots: make(map[string]*memEntry)}
}

func (m *Memory) Acquire(ctx context.Context, keys ...string) (func(), error) {
	keys = normalize(keys)
	held := make([]string, 0, len(keys))
	for _, k := range keys {
		if err := m.lock(ctx, k); err != nil {
			m.unlockAll(held)
			return nil, fmt.Errorf("%w: %s: %v", ErrNotAcquired, k, err)
		}
		held = append(held, k)
	}

	var once sync.Once
	return func() { once.Do(func() { m.unlockAll(held) }) }, nil
}

func (m *Memory) lock(ctx context.Context, key string) error {
	m.mu.Lock()
	e, ok := m.slots[key]
	if !ok {
		e = &memEntry{ch: make(chan struct{}, 1)}
		m.slots[key] = e
	}
	e.refs++
	m.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		m.release(key, false)
		return ctx.Err()
	}
}

func (m *Memory) unlockAll(keys []string) {
	for i := len(keys) - 1; i >= 0; i-- {
		m.release(keys[i], true)
	}
}

func (m *Memory) release(key string, held bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.slots[key]
	if held {
		<-e.ch
	}
	e.refs--
	if e.refs == 0 {
		delete(m.slots, key)
	}
}

// Len reports how many keys are currently tracked.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.slots)
}
