// Package lock declares the distributed lock contract used to serialize
// confirmation updates and counter writes across processes.
package lock

import (
	"context"
	"errors"
	"time"
)

// ErrNotAcquired is returned when the lock could not be obtained within the
// caller's wait budget.
var ErrNotAcquired = errors.New("lock: not acquired")

// Lock is a held distributed lock
type Lock interface {
	// Release frees the lock. Safe to call from a defer.
	Release(ctx context.Context) error
}

// Locker hands out per-key distributed locks with a bounded wait and a
// bounded hold time; acquisition never blocks indefinitely.
type Locker interface {
	Acquire(ctx context.Context, key string, wait, hold time.Duration) (Lock, error)
}
