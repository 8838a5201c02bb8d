// Package lock provides keyed mutual exclusion used to serialize bookings for
// the same center and day across requests.
package lock

import (
	"context"
	"errors"
	"sort"
)

// ErrNotAcquired is returned when a lock could not be obtained before the
// context ended.
var ErrNotAcquired = errors.New("lock not acquired")

// Locker acquires every key or none. The returned release func is safe to
// call once.
type Locker interface {
	Acquire(ctx context.Context, keys ...string) (release func(), err error)
}

// Noop is used when the database already serializes the critical section.
type Noop struct{}

func (Noop) Acquire(context.Context, ...string) (func(), error) { return func() {}, nil }

// normalize sorts and de-duplicates keys so concurrent callers always lock in
// the same order.
func normalize(keys []string) []string {
	out := make([]string, 0, len(keys))
	seen := make(map[string]bool, len(keys))
	for _, k := range keys {
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
