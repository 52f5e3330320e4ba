package idgen

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/sendflow/storage/memstore"
)

var fixedNow = time.Date(2026, 8, 30, 15, 4, 5, 0, time.UTC)

func newTestGenerator() (*Generator, *memstore.Store) {
	store := memstore.NewWithClock(func() time.Time { return fixedNow })
	return NewWithClock(store, "test", func() time.Time { return fixedNow }), store
}

func TestMessageID(t *testing.T) {
	gen, _ := newTestGenerator()
	ctx := context.Background()

	t.Run("concatenates template id and daily ordinal", func(t *testing.T) {
		id, err := gen.MessageID(ctx, 5)
		require.NoError(t, err)
		assert.Equal(t, int64(51), id)

		id, err = gen.MessageID(ctx, 5)
		require.NoError(t, err)
		assert.Equal(t, int64(52), id)
	})

	t.Run("counters are per template", func(t *testing.T) {
		id, err := gen.MessageID(ctx, 7)
		require.NoError(t, err)
		assert.Equal(t, int64(71), id)
	})
}

func TestSendTaskID(t *testing.T) {
	gen, _ := newTestGenerator()
	ctx := context.Background()

	first, err := gen.SendTaskID(ctx)
	require.NoError(t, err)
	second, err := gen.SendTaskID(ctx)
	require.NoError(t, err)
	assert.Equal(t, first+1, second)
}

func TestDailyExpiry(t *testing.T) {
	gen, store := newTestGenerator()
	ctx := context.Background()

	_, err := gen.SendTaskID(ctx)
	require.NoError(t, err)

	at, ok := store.ExpiryOf("test:daily_task_id")
	require.True(t, ok, "first increment of the day must arm expiry")
	assert.Equal(t, time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC), at)

	// A second increment must not move the expiry
	_, err = gen.SendTaskID(ctx)
	require.NoError(t, err)
	again, _ := store.ExpiryOf("test:daily_task_id")
	assert.Equal(t, at, again)
}

func TestKeyFormats(t *testing.T) {
	gen, _ := newTestGenerator()

	assert.Equal(t, "test:message:9:20260830", gen.StorageKey(9))
	assert.Equal(t, "test:message:9:20260801", gen.StorageKeyForDay(9, "20260801"))
	assert.Equal(t, "test:userTotal:9", gen.UserTotalKey(9))
	assert.Equal(t, "test:template:9", gen.TemplateTotalKey(9))
	assert.Equal(t, "test:sendSuccess:9:20260830", gen.OutcomeKey(9, true))
	assert.Equal(t, "test:sendFail:9:20260830", gen.OutcomeKey(9, false))
	assert.Equal(t, "test:cronTaskStatus:9:5", gen.ScheduledStatusKey(9, 5))
	assert.Equal(t, "test:userTotalLock:9", gen.UserTotalLockKey(9))
	assert.Equal(t, "test:templateTotalLock:9", gen.TemplateTotalLockKey(9))
	assert.Equal(t, "test:msgLock:12", gen.TaskLockKey(12))
	assert.Equal(t, "test:token:push:3", gen.TokenKey("push", 3))
}
