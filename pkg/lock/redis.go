package lock

import (
	"context"
	"errors"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

// retryInterval is the poll interval while waiting for a contended lock
const retryInterval = 100 * time.Millisecond

// RedisLocker implements Locker on top of redislock
type RedisLocker struct {
	client *redislock.Client
}

var _ Locker = (*RedisLocker)(nil)

// NewRedisLocker creates a Locker sharing an existing Redis connection
func NewRedisLocker(client *redis.Client) *RedisLocker {
	return &RedisLocker{client: redislock.New(client)}
}

// Acquire obtains the lock at key, retrying for at most wait and holding for
// at most hold before the lock expires on its own.
func (l *RedisLocker) Acquire(ctx context.Context, key string, wait, hold time.Duration) (Lock, error) {
	retries := int(wait / retryInterval)
	if retries < 1 {
		retries = 1
	}

	opts := &redislock.Options{
		RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(retryInterval), retries),
	}
	held, err := l.client.Obtain(ctx, key, hold, opts)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, ErrNotAcquired
	}
	if err != nil {
		return nil, err
	}
	return &redisLock{held: held}, nil
}

type redisLock struct {
	held *redislock.Lock
}

// Release frees the lock; an already-expired lock is not an error
func (l *redisLock) Release(ctx context.Context) error {
	err := l.held.Release(ctx)
	if errors.Is(err, redislock.ErrLockNotHeld) {
		return nil
	}
	return err
}
