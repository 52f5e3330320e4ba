// Package platforms contains the channel handlers that deliver dispatched
// tasks to external providers and report the outcome back to the tracker.
package platforms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/kart-io/sendflow/core/message"
	"github.com/kart-io/sendflow/logger"
	"github.com/kart-io/sendflow/pkg/errors"
)

// Handler delivers the tasks of one channel. Handle never returns an error:
// every outcome, success or failure, is reported through the Confirmer so the
// stored record reaches a terminal state exactly once.
type Handler interface {
	Channel() message.Channel
	Handle(ctx context.Context, task *message.SendTaskInfo)
}

// AccountStore resolves a send account id to its raw provider configuration,
// a JSON document whose shape depends on the channel.
type AccountStore interface {
	Account(ctx context.Context, id int64) (string, error)
}

// Confirmer records the terminal outcome of one task. A nil cause marks the
// task successful, any other cause marks it failed.
type Confirmer interface {
	Confirm(ctx context.Context, sendTaskID, messageID int64, storageKey string, cause error) error
}

// Registry holds the handler for each channel
type Registry struct {
	mu       sync.RWMutex
	handlers map[message.Channel]Handler
}

// NewRegistry creates an empty Registry
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[message.Channel]Handler)}
}

// Register installs a handler, replacing any previous handler for the channel
func (r *Registry) Register(h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[h.Channel()] = h
}

// Handler returns the handler registered for ch
func (r *Registry) Handler(ch message.Channel) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[ch]
	return h, ok
}

// Channels lists the channels with a registered handler
func (r *Registry) Channels() []message.Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	chs := make([]message.Channel, 0, len(r.handlers))
	for ch := range r.handlers {
		chs = append(chs, ch)
	}
	return chs
}

// Dispatch fans the envelope's tasks out to the channel handler, one
// goroutine per task, and waits for all of them.
func (r *Registry) Dispatch(ctx context.Context, content *message.SendContent) error {
	h, ok := r.Handler(content.Channel)
	if !ok {
		return errors.New(errors.CodeUnknownChannel, "no handler for channel %d", content.Channel)
	}

	var wg sync.WaitGroup
	for _, task := range content.Tasks {
		wg.Add(1)
		go func(t *message.SendTaskInfo) {
			defer wg.Done()
			h.Handle(ctx, t)
		}(task)
	}
	wg.Wait()
	return nil
}

// loadAccount fetches and decodes the provider account config for a task
func loadAccount(ctx context.Context, accounts AccountStore, id int64, out interface{}) error {
	raw, err := accounts.Account(ctx, id)
	if err != nil {
		return errors.Wrap(errors.CodeAccountInvalid, err, "load account %d", id)
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return errors.Wrap(errors.CodeAccountInvalid, err, "decode account %d", id)
	}
	return nil
}

// confirmTask reports the task outcome and logs when the confirmation itself
// cannot be recorded.
func confirmTask(ctx context.Context, c Confirmer, log logger.Interface, task *message.SendTaskInfo, cause error) {
	if err := c.Confirm(ctx, task.SendTaskID, task.MessageID, task.StorageKey, cause); err != nil {
		log.Error(ctx, "confirm task %d message %d failed: %v", task.SendTaskID, task.MessageID, err)
	}
}

// newHTTPClient returns the bounded client shared by provider calls
func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &http.Client{Timeout: timeout}
}

// postJSON posts a JSON body and decodes the JSON response into out
func postJSON(ctx context.Context, client *http.Client, url string, body interface{}, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %v", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return errors.Wrap(errors.CodeProviderTimeout, err, "provider request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errors.New(errors.CodeProviderRejected, "provider returned status %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %v", err)
	}
	return nil
}
