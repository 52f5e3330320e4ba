package tracker

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/sendflow/core/message"
	"github.com/kart-io/sendflow/logger"
	"github.com/kart-io/sendflow/pkg/errors"
	"github.com/kart-io/sendflow/pkg/idgen"
	"github.com/kart-io/sendflow/pkg/lock"
	"github.com/kart-io/sendflow/storage/memstore"
)

type trackerFixture struct {
	store   *memstore.Store
	locker  *lock.LocalLocker
	ids     *idgen.Generator
	tracker *Tracker
}

func newTrackerFixture() *trackerFixture {
	store := memstore.New()
	locker := lock.NewLocalLocker()
	ids := idgen.New(store, "test")
	stats := NewStats(store, locker, ids, 100*time.Millisecond, time.Second, logger.Discard)
	return &trackerFixture{
		store:   store,
		locker:  locker,
		ids:     ids,
		tracker: New(store, locker, ids, stats, 100*time.Millisecond, time.Second, logger.Discard),
	}
}

// seedEnvelope stores one envelope with a single sending task and returns its
// storage key.
func (f *trackerFixture) seedEnvelope(t *testing.T, sendTaskID, messageID int64, pushType message.PushType) string {
	t.Helper()
	key := f.ids.StorageKey(9)
	envelope := &message.SendContent{
		SendCode:   message.SendCodeSend,
		Channel:    message.ChannelEmail,
		SendTaskID: sendTaskID,
		Sender:     9,
		SentAt:     time.Now(),
		Tasks: []*message.SendTaskInfo{{
			Receivers: []string{"a@x.com"},
			Template: &message.Template{
				ID:          5,
				Channel:     message.ChannelEmail,
				Status:      message.StatusSending,
				AuditStatus: message.AuditApproved,
				PushType:    pushType,
			},
			MessageID:  messageID,
			SendTaskID: sendTaskID,
			StorageKey: key,
			StartedAt:  time.Now().Add(-time.Second),
		}},
	}
	body, err := json.Marshal(envelope)
	require.NoError(t, err)
	require.NoError(t, f.store.ListAppend(context.Background(), key, string(body)))
	return key
}

func (f *trackerFixture) storedTask(t *testing.T, key string, index int) *message.SendTaskInfo {
	t.Helper()
	records, err := f.store.ListRange(context.Background(), key)
	require.NoError(t, err)
	require.Greater(t, len(records), index)

	var envelope message.SendContent
	require.NoError(t, json.Unmarshal([]byte(records[index]), &envelope))
	require.NotEmpty(t, envelope.Tasks)
	return envelope.Tasks[0]
}

func TestConfirmSuccess(t *testing.T) {
	f := newTrackerFixture()
	ctx := context.Background()
	key := f.seedEnvelope(t, 1, 51, message.PushRealTime)

	require.NoError(t, f.tracker.Confirm(ctx, 1, 51, key, nil))

	task := f.storedTask(t, key, 0)
	assert.Equal(t, message.StatusSuccess, task.Template.Status)
	assert.False(t, task.FinishedAt.IsZero())
	assert.GreaterOrEqual(t, task.ElapsedMS, int64(0))

	count, err := f.store.Get(ctx, f.ids.OutcomeKey(9, true))
	require.NoError(t, err)
	assert.Equal(t, "1", count)
}

func TestConfirmFailure(t *testing.T) {
	f := newTrackerFixture()
	ctx := context.Background()
	key := f.seedEnvelope(t, 1, 51, message.PushRealTime)

	cause := errors.New(errors.CodeProviderRejected, "provider said no")
	require.NoError(t, f.tracker.Confirm(ctx, 1, 51, key, cause))

	task := f.storedTask(t, key, 0)
	assert.Equal(t, message.StatusFailed, task.Template.Status)

	count, err := f.store.Get(ctx, f.ids.OutcomeKey(9, false))
	require.NoError(t, err)
	assert.Equal(t, "1", count)
}

func TestConfirmIdempotent(t *testing.T) {
	f := newTrackerFixture()
	ctx := context.Background()
	key := f.seedEnvelope(t, 1, 51, message.PushRealTime)

	cause := errors.New(errors.CodeProviderTimeout, "timed out")
	require.NoError(t, f.tracker.Confirm(ctx, 1, 51, key, cause))

	// A late success must not revert the terminal state
	require.NoError(t, f.tracker.Confirm(ctx, 1, 51, key, nil))

	task := f.storedTask(t, key, 0)
	assert.Equal(t, message.StatusFailed, task.Template.Status)

	count, err := f.store.Get(ctx, f.ids.OutcomeKey(9, false))
	require.NoError(t, err)
	assert.Equal(t, "1", count, "outcome counted once")
}

func TestConfirmUnknownMessageIsNoOp(t *testing.T) {
	f := newTrackerFixture()
	ctx := context.Background()
	key := f.seedEnvelope(t, 1, 51, message.PushRealTime)

	require.NoError(t, f.tracker.Confirm(ctx, 1, 999, key, nil))

	task := f.storedTask(t, key, 0)
	assert.Equal(t, message.StatusSending, task.Template.Status)
}

func TestConfirmHardErrors(t *testing.T) {
	f := newTrackerFixture()
	ctx := context.Background()

	t.Run("blank storage key", func(t *testing.T) {
		err := f.tracker.Confirm(ctx, 1, 51, "", nil)
		require.Error(t, err)
		assert.Equal(t, errors.CodeRecordMissing, errors.CodeOf(err))
	})

	t.Run("empty list", func(t *testing.T) {
		err := f.tracker.Confirm(ctx, 1, 51, "test:message:9:20990101", nil)
		require.Error(t, err)
		assert.Equal(t, errors.CodeRecordMissing, errors.CodeOf(err))
	})

	t.Run("send task not in list", func(t *testing.T) {
		key := f.seedEnvelope(t, 1, 51, message.PushRealTime)
		err := f.tracker.Confirm(ctx, 77, 51, key, nil)
		require.Error(t, err)
		assert.Equal(t, errors.CodeRecordMissing, errors.CodeOf(err))
	})
}

func TestConfirmDroppedOnLockTimeout(t *testing.T) {
	f := newTrackerFixture()
	ctx := context.Background()
	key := f.seedEnvelope(t, 1, 51, message.PushRealTime)

	held, err := f.locker.Acquire(ctx, f.ids.TaskLockKey(1), time.Second, time.Minute)
	require.NoError(t, err)
	defer func() { _ = held.Release(ctx) }()

	require.NoError(t, f.tracker.Confirm(ctx, 1, 51, key, nil), "dropped confirmation is not an error")

	task := f.storedTask(t, key, 0)
	assert.Equal(t, message.StatusSending, task.Template.Status)
}

func TestConfirmReverseScanPicksLatestEnvelope(t *testing.T) {
	f := newTrackerFixture()
	ctx := context.Background()

	key := f.seedEnvelope(t, 1, 51, message.PushRealTime)
	f.seedEnvelope(t, 2, 61, message.PushRealTime)
	f.seedEnvelope(t, 3, 71, message.PushRealTime)

	require.NoError(t, f.tracker.Confirm(ctx, 2, 61, key, nil))

	assert.Equal(t, message.StatusSending, f.storedTask(t, key, 0).Template.Status)
	assert.Equal(t, message.StatusSuccess, f.storedTask(t, key, 1).Template.Status)
	assert.Equal(t, message.StatusSending, f.storedTask(t, key, 2).Template.Status)
}

func TestConfirmScheduledStatusRecord(t *testing.T) {
	f := newTrackerFixture()
	ctx := context.Background()
	key := f.seedEnvelope(t, 1, 51, message.PushScheduled)

	require.NoError(t, f.tracker.Confirm(ctx, 1, 51, key, nil))

	status, err := f.store.Get(ctx, f.ids.ScheduledStatusKey(9, 5))
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("%d", int(message.StatusSuccess)), status)
}

func TestReconciler(t *testing.T) {
	f := newTrackerFixture()
	ctx := context.Background()
	reconciler := NewReconciler(f.tracker, logger.Discard)

	t.Run("still-sending task fails with timeout cause", func(t *testing.T) {
		key := f.seedEnvelope(t, 1, 51, message.PushRealTime)
		mirror, err := json.Marshal([]message.DelayTask{{SendTaskID: 1, MessageID: 51, StorageKey: key}})
		require.NoError(t, err)

		require.NoError(t, reconciler.HandleDelay(ctx, mirror))
		assert.Equal(t, message.StatusFailed, f.storedTask(t, key, 0).Template.Status)
	})

	t.Run("terminal task untouched", func(t *testing.T) {
		key := f.seedEnvelope(t, 2, 61, message.PushRealTime)
		require.NoError(t, f.tracker.Confirm(ctx, 2, 61, key, nil))

		mirror, err := json.Marshal([]message.DelayTask{{SendTaskID: 2, MessageID: 61, StorageKey: key}})
		require.NoError(t, err)
		require.NoError(t, reconciler.HandleDelay(ctx, mirror))

		assert.Equal(t, message.StatusSuccess, f.storedTask(t, key, 1).Template.Status)
	})

	t.Run("undecodable mirror is an error", func(t *testing.T) {
		assert.Error(t, reconciler.HandleDelay(ctx, []byte("{broken")))
	})
}
