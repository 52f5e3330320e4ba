package lock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalLocker(t *testing.T) {
	ctx := context.Background()

	t.Run("acquire and release", func(t *testing.T) {
		locker := NewLocalLocker()
		held, err := locker.Acquire(ctx, "k", 100*time.Millisecond, time.Second)
		require.NoError(t, err)
		require.NoError(t, held.Release(ctx))

		again, err := locker.Acquire(ctx, "k", 100*time.Millisecond, time.Second)
		require.NoError(t, err)
		_ = again.Release(ctx)
	})

	t.Run("contended key times out", func(t *testing.T) {
		locker := NewLocalLocker()
		held, err := locker.Acquire(ctx, "k", 100*time.Millisecond, time.Second)
		require.NoError(t, err)
		defer func() { _ = held.Release(ctx) }()

		_, err = locker.Acquire(ctx, "k", 50*time.Millisecond, time.Second)
		assert.Equal(t, ErrNotAcquired, err)
	})

	t.Run("different keys do not contend", func(t *testing.T) {
		locker := NewLocalLocker()
		a, err := locker.Acquire(ctx, "a", 50*time.Millisecond, time.Second)
		require.NoError(t, err)
		defer func() { _ = a.Release(ctx) }()

		b, err := locker.Acquire(ctx, "b", 50*time.Millisecond, time.Second)
		require.NoError(t, err)
		_ = b.Release(ctx)
	})

	t.Run("double release is safe", func(t *testing.T) {
		locker := NewLocalLocker()
		held, err := locker.Acquire(ctx, "k", 50*time.Millisecond, time.Second)
		require.NoError(t, err)
		require.NoError(t, held.Release(ctx))
		require.NoError(t, held.Release(ctx))

		again, err := locker.Acquire(ctx, "k", 50*time.Millisecond, time.Second)
		require.NoError(t, err)
		_ = again.Release(ctx)
	})
}
