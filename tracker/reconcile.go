package tracker

import (
	"context"
	"encoding/json"

	"github.com/kart-io/sendflow/core/message"
	"github.com/kart-io/sendflow/logger"
	"github.com/kart-io/sendflow/pkg/errors"
)

// Reconciler settles tasks whose confirmation never arrived. It consumes the
// delay-queue mirror of every published envelope: by the time a mirror is
// redelivered the channel handler has had the full TTL to confirm, so any
// task still in the sending state is failed with a timeout cause.
type Reconciler struct {
	tracker *Tracker
	logger  logger.Interface
}

// NewReconciler creates the delay-queue reconciler
func NewReconciler(tracker *Tracker, log logger.Interface) *Reconciler {
	return &Reconciler{tracker: tracker, logger: log}
}

// HandleDelay processes one redelivered mirror. Terminal tasks are left
// untouched by the tracker's status guard; the returned error covers store
// and record failures so the transport can requeue the mirror once.
func (r *Reconciler) HandleDelay(ctx context.Context, body []byte) error {
	var tasks []message.DelayTask
	if err := json.Unmarshal(body, &tasks); err != nil {
		return errors.Wrap(errors.CodeStoreFailure, err, "decode delay mirror")
	}

	var last error
	for _, task := range tasks {
		cause := errors.New(errors.CodeProviderTimeout,
			"no confirmation for message %d within the delay window", task.MessageID)
		if err := r.tracker.Confirm(ctx, task.SendTaskID, task.MessageID, task.StorageKey, cause); err != nil {
			r.logger.Error(ctx, "reconcile task %d message %d failed: %v", task.SendTaskID, task.MessageID, err)
			last = err
		}
	}
	return last
}
