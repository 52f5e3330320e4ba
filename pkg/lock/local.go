package lock

import (
	"context"
	"sync"
	"time"
)

// LocalLocker implements Locker with process-local semaphores. It pairs with
// the in-memory store for tests and single-process deployments; hold timeouts
// are not enforced because the process cannot outlive itself.
type LocalLocker struct {
	mu   sync.Mutex
	keys map[string]chan struct{}
}

var _ Locker = (*LocalLocker)(nil)

// NewLocalLocker creates an empty local locker
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{keys: make(map[string]chan struct{})}
}

// Acquire obtains the per-key semaphore, waiting at most wait
func (l *LocalLocker) Acquire(ctx context.Context, key string, wait, _ time.Duration) (Lock, error) {
	l.mu.Lock()
	sem, ok := l.keys[key]
	if !ok {
		sem = make(chan struct{}, 1)
		l.keys[key] = sem
	}
	l.mu.Unlock()

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case sem <- struct{}{}:
		return &localLock{sem: sem}, nil
	case <-timer.C:
		return nil, ErrNotAcquired
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type localLock struct {
	sem  chan struct{}
	once sync.Once
}

// Release frees the semaphore; releasing twice is a no-op
func (l *localLock) Release(context.Context) error {
	l.once.Do(func() { <-l.sem })
	return nil
}
