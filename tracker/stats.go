// Package tracker records delivery outcomes: it settles per-task status in
// the shared store and maintains the send counters behind distributed locks.
package tracker

import (
	"context"
	"strconv"
	"time"

	"github.com/kart-io/sendflow/core/message"
	"github.com/kart-io/sendflow/logger"
	"github.com/kart-io/sendflow/pkg/errors"
	"github.com/kart-io/sendflow/pkg/idgen"
	"github.com/kart-io/sendflow/pkg/lock"
	"github.com/kart-io/sendflow/storage"
)

// Stats maintains the send counters. Totals are guarded by per-sender
// distributed locks so concurrent dispatchers do not interleave their updates;
// the daily outcome counters rely on atomic increments alone.
type Stats struct {
	store  storage.Store
	locker lock.Locker
	keys   *idgen.Generator
	wait   time.Duration
	hold   time.Duration
	logger logger.Interface
}

// NewStats creates the counter recorder
func NewStats(store storage.Store, locker lock.Locker, keys *idgen.Generator, wait, hold time.Duration, log logger.Interface) *Stats {
	return &Stats{store: store, locker: locker, keys: keys, wait: wait, hold: hold, logger: log}
}

// AddSendCount adds the accepted receiver count to the sender's all-time
// total and to the sender's per-template total.
func (s *Stats) AddSendCount(ctx context.Context, sender, templateID int64, receivers int) error {
	if receivers == 0 {
		return nil
	}

	err := s.withLock(ctx, s.keys.UserTotalLockKey(sender), func() error {
		_, err := s.store.IncrBy(ctx, s.keys.UserTotalKey(sender), int64(receivers))
		return err
	})
	if err != nil {
		return errors.Wrap(errors.CodeStoreFailure, err, "update sender %d total", sender)
	}

	err = s.withLock(ctx, s.keys.TemplateTotalLockKey(sender), func() error {
		field := strconv.FormatInt(templateID, 10)
		_, err := s.store.HIncrBy(ctx, s.keys.TemplateTotalKey(sender), field, int64(receivers))
		return err
	})
	if err != nil {
		return errors.Wrap(errors.CodeStoreFailure, err, "update template %d total", templateID)
	}
	return nil
}

// RecordOutcome bumps today's success or failure counter for the sender. The
// first increment of the day arms expiry at the next midnight so the counters
// reset with the day.
func (s *Stats) RecordOutcome(ctx context.Context, sender int64, success bool) error {
	key := s.keys.OutcomeKey(sender, success)
	n, err := s.store.IncrBy(ctx, key, 1)
	if err != nil {
		return errors.Wrap(errors.CodeStoreFailure, err, "record outcome for sender %d", sender)
	}
	if n == 1 {
		if err := s.store.ExpireAt(ctx, key, s.keys.NextMidnight()); err != nil {
			return errors.Wrap(errors.CodeStoreFailure, err, "arm expiry on %s", key)
		}
	}
	return nil
}

// RecordScheduledStatus stores the latest delivery state of a scheduled
// template so the scheduler front-end can show it.
func (s *Stats) RecordScheduledStatus(ctx context.Context, sender, templateID int64, status message.Status) error {
	key := s.keys.ScheduledStatusKey(sender, templateID)
	if err := s.store.Set(ctx, key, strconv.Itoa(int(status)), 0); err != nil {
		return errors.Wrap(errors.CodeStoreFailure, err, "record scheduled status for template %d", templateID)
	}
	return nil
}

// SenderTotal reads the sender's all-time receiver total
func (s *Stats) SenderTotal(ctx context.Context, sender int64) (int64, error) {
	raw, err := s.store.Get(ctx, s.keys.UserTotalKey(sender))
	if err == storage.ErrNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(raw, 10, 64)
}

// TemplateTotals reads the sender's per-template receiver totals
func (s *Stats) TemplateTotals(ctx context.Context, sender int64) (map[int64]int64, error) {
	fields, err := s.store.HGetAll(ctx, s.keys.TemplateTotalKey(sender))
	if err != nil {
		return nil, err
	}
	totals := make(map[int64]int64, len(fields))
	for field, raw := range fields {
		id, err := strconv.ParseInt(field, 10, 64)
		if err != nil {
			continue
		}
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			continue
		}
		totals[id] = n
	}
	return totals, nil
}

func (s *Stats) withLock(ctx context.Context, key string, fn func() error) error {
	held, err := s.locker.Acquire(ctx, key, s.wait, s.hold)
	if err != nil {
		return err
	}
	defer func() {
		if err := held.Release(ctx); err != nil {
			s.logger.Warn(ctx, "release lock %s failed: %v", key, err)
		}
	}()
	return fn()
}
