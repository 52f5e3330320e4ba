// Package idgen produces day-scoped monotonic message and task ids plus the
// deterministic storage keys the dispatch subsystem shares.
package idgen

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/kart-io/sendflow/storage"
)

// DayFormat is the layout of the day component in storage keys
const DayFormat = "20060102"

// Generator allocates ids from counters in the Store. Both counters reset
// daily: the first increment of the day arms an expiry at the next local
// midnight (increment-then-check-for-one, no scheduler involved).
type Generator struct {
	store     storage.Store
	namespace string
	now       func() time.Time
}

// New creates a Generator rooted at namespace
func New(store storage.Store, namespace string) *Generator {
	return &Generator{
		store:     store,
		namespace: namespace,
		now:       time.Now,
	}
}

// NewWithClock creates a Generator with a fixed clock, for tests
func NewWithClock(store storage.Store, namespace string, now func() time.Time) *Generator {
	g := New(store, namespace)
	g.now = now
	return g
}

// MessageID allocates the next message id for templateID. The id is the
// template id concatenated with the template's daily send ordinal, so ids
// stay unique per day and readable in logs.
func (g *Generator) MessageID(ctx context.Context, templateID int64) (int64, error) {
	key := fmt.Sprintf("%s:daily_msg_id:%d", g.namespace, templateID)
	ordinal, err := g.bumpDaily(ctx, key)
	if err != nil {
		return 0, err
	}
	id, err := strconv.ParseInt(fmt.Sprintf("%d%d", templateID, ordinal), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("compose message id: %w", err)
	}
	return id, nil
}

// SendTaskID allocates the next global task id for the current day
func (g *Generator) SendTaskID(ctx context.Context) (int64, error) {
	return g.bumpDaily(ctx, g.namespace+":daily_task_id")
}

func (g *Generator) bumpDaily(ctx context.Context, key string) (int64, error) {
	n, err := g.store.IncrBy(ctx, key, 1)
	if err != nil {
		return 0, fmt.Errorf("increment %s: %w", key, err)
	}
	if n == 1 {
		if err := g.store.ExpireAt(ctx, key, g.NextMidnight()); err != nil {
			return 0, fmt.Errorf("arm expiry on %s: %w", key, err)
		}
	}
	return n, nil
}

// NextMidnight returns the next local midnight after now
func (g *Generator) NextMidnight() time.Time {
	now := g.now()
	year, month, day := now.Date()
	return time.Date(year, month, day, 0, 0, 0, 0, now.Location()).AddDate(0, 0, 1)
}

// Day returns today's day stamp in DayFormat
func (g *Generator) Day() string {
	return g.now().Format(DayFormat)
}

// StorageKey returns the per-sender-per-day envelope list key
func (g *Generator) StorageKey(sender int64) string {
	return fmt.Sprintf("%s:message:%d:%s", g.namespace, sender, g.Day())
}

// StorageKeyForDay returns the envelope list key for an explicit day stamp
func (g *Generator) StorageKeyForDay(sender int64, day string) string {
	return fmt.Sprintf("%s:message:%d:%s", g.namespace, sender, day)
}

// UserTotalKey returns the all-time per-sender receiver counter key
func (g *Generator) UserTotalKey(sender int64) string {
	return fmt.Sprintf("%s:userTotal:%d", g.namespace, sender)
}

// TemplateTotalKey returns the per-sender hash of per-template send counts
func (g *Generator) TemplateTotalKey(sender int64) string {
	return fmt.Sprintf("%s:template:%d", g.namespace, sender)
}

// OutcomeKey returns today's per-sender success or failure counter key
func (g *Generator) OutcomeKey(sender int64, success bool) string {
	name := "sendFail"
	if success {
		name = "sendSuccess"
	}
	return fmt.Sprintf("%s:%s:%d:%s", g.namespace, name, sender, g.Day())
}

// ScheduledStatusKey returns the scheduled-task status record key
func (g *Generator) ScheduledStatusKey(sender, templateID int64) string {
	return fmt.Sprintf("%s:cronTaskStatus:%d:%d", g.namespace, sender, templateID)
}

// UserTotalLockKey returns the lock key guarding the sender counter
func (g *Generator) UserTotalLockKey(sender int64) string {
	return fmt.Sprintf("%s:userTotalLock:%d", g.namespace, sender)
}

// TemplateTotalLockKey returns the lock key guarding the template counters
func (g *Generator) TemplateTotalLockKey(sender int64) string {
	return fmt.Sprintf("%s:templateTotalLock:%d", g.namespace, sender)
}

// TaskLockKey returns the lock key serializing confirmations per send task
func (g *Generator) TaskLockKey(sendTaskID int64) string {
	return fmt.Sprintf("%s:msgLock:%d", g.namespace, sendTaskID)
}

// TokenKey returns the provider token cache key for an account
func (g *Generator) TokenKey(provider string, account int64) string {
	return fmt.Sprintf("%s:token:%s:%d", g.namespace, provider, account)
}
