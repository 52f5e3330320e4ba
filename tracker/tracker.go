package tracker

import (
	"context"
	"encoding/json"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/kart-io/sendflow/core/message"
	"github.com/kart-io/sendflow/logger"
	"github.com/kart-io/sendflow/pkg/errors"
	"github.com/kart-io/sendflow/pkg/idgen"
	"github.com/kart-io/sendflow/pkg/lock"
	"github.com/kart-io/sendflow/storage"
)

// Tracker settles per-task delivery outcomes in the stored envelope list.
// Confirmations for the same send task are serialized through a distributed
// lock; a confirmation that finds the task already terminal is a no-op, which
// makes channel handlers and the delay reconciler safe to race.
type Tracker struct {
	store  storage.Store
	locker lock.Locker
	keys   *idgen.Generator
	stats  *Stats
	wait   time.Duration
	hold   time.Duration
	logger logger.Interface
	tracer trace.Tracer
	now    func() time.Time
}

// New creates a Tracker sharing the dispatcher's store and locker
func New(store storage.Store, locker lock.Locker, keys *idgen.Generator, stats *Stats, wait, hold time.Duration, log logger.Interface) *Tracker {
	return &Tracker{
		store:  store,
		locker: locker,
		keys:   keys,
		stats:  stats,
		wait:   wait,
		hold:   hold,
		logger: log,
		tracer: otel.Tracer("sendflow/tracker"),
		now:    time.Now,
	}
}

// Confirm records the terminal outcome of one task. A nil cause marks it
// successful, any other cause failed. Losing the lock race drops the
// confirmation: the delay reconciler will settle the task later.
func (t *Tracker) Confirm(ctx context.Context, sendTaskID, messageID int64, storageKey string, cause error) error {
	ctx, span := t.tracer.Start(ctx, "tracker.Confirm",
		trace.WithAttributes(
			attribute.Int64("send_task_id", sendTaskID),
			attribute.Int64("message_id", messageID),
			attribute.Bool("success", cause == nil),
		))
	defer span.End()

	if storageKey == "" {
		return errors.New(errors.CodeRecordMissing, "confirmation for task %d carries no storage key", sendTaskID)
	}

	held, err := t.locker.Acquire(ctx, t.keys.TaskLockKey(sendTaskID), t.wait, t.hold)
	if err == lock.ErrNotAcquired {
		t.logger.Warn(ctx, "confirmation for task %d dropped: lock not acquired within %s", sendTaskID, t.wait)
		return nil
	}
	if err != nil {
		return errors.Wrap(errors.CodeLockTimeout, err, "acquire confirmation lock for task %d", sendTaskID)
	}
	defer func() {
		if err := held.Release(ctx); err != nil {
			t.logger.Warn(ctx, "release confirmation lock for task %d failed: %v", sendTaskID, err)
		}
	}()

	records, err := t.store.ListRange(ctx, storageKey)
	if err != nil {
		return errors.Wrap(errors.CodeStoreFailure, err, "read envelope list %s", storageKey)
	}
	if len(records) == 0 {
		return errors.New(errors.CodeRecordMissing, "no envelopes stored at %s", storageKey)
	}

	index, envelope := t.findEnvelope(ctx, records, sendTaskID)
	if envelope == nil {
		return errors.New(errors.CodeRecordMissing, "task %d not found at %s", sendTaskID, storageKey)
	}

	task := findTask(envelope, messageID)
	if task == nil {
		t.logger.Warn(ctx, "message %d not found in task %d envelope, confirmation ignored", messageID, sendTaskID)
		return nil
	}
	if task.Template.Status != message.StatusSending {
		t.logger.Debug(ctx, "message %d already %s, confirmation ignored", messageID, task.Template.Status)
		return nil
	}

	now := t.now()
	if cause == nil {
		task.Template.Status = message.StatusSuccess
	} else {
		task.Template.Status = message.StatusFailed
		t.logger.Info(ctx, "message %d failed: %v", messageID, cause)
	}
	task.FinishedAt = now
	task.ElapsedMS = now.Sub(task.StartedAt).Milliseconds()

	if err := t.stats.RecordOutcome(ctx, envelope.Sender, cause == nil); err != nil {
		t.logger.Warn(ctx, "record outcome for message %d failed: %v", messageID, err)
	}
	if task.Template.Scheduled() {
		if err := t.stats.RecordScheduledStatus(ctx, envelope.Sender, task.Template.ID, task.Template.Status); err != nil {
			t.logger.Warn(ctx, "record scheduled status for message %d failed: %v", messageID, err)
		}
	}

	updated, err := json.Marshal(envelope)
	if err != nil {
		return errors.Wrap(errors.CodeStoreFailure, err, "encode envelope for task %d", sendTaskID)
	}
	if err := t.store.ListSet(ctx, storageKey, int64(index), string(updated)); err != nil {
		return errors.Wrap(errors.CodeStoreFailure, err, "write envelope for task %d", sendTaskID)
	}
	return nil
}

// findEnvelope scans the list newest-first for the task's envelope. Records
// that fail to decode are skipped so one corrupt entry cannot wedge the list.
func (t *Tracker) findEnvelope(ctx context.Context, records []string, sendTaskID int64) (int, *message.SendContent) {
	for i := len(records) - 1; i >= 0; i-- {
		var envelope message.SendContent
		if err := json.Unmarshal([]byte(records[i]), &envelope); err != nil {
			t.logger.Warn(ctx, "skip undecodable envelope at index %d: %v", i, err)
			continue
		}
		if envelope.SendTaskID == sendTaskID {
			return i, &envelope
		}
	}
	return 0, nil
}

func findTask(envelope *message.SendContent, messageID int64) *message.SendTaskInfo {
	for _, task := range envelope.Tasks {
		if task.MessageID == messageID {
			return task
		}
	}
	return nil
}
