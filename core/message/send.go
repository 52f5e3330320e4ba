package message

import "time"

// SendRequest is the inbound, request-scoped description of one send. The
// receivers field is a raw delimited string and variables is the raw JSON
// array (one object per receiver); both are parsed by the chain, not here.
type SendRequest struct {
	TemplateID    int64   `json:"template_id"`
	Receivers     string  `json:"receivers"`
	Variables     string  `json:"variables,omitempty"`
	VariableCount int     `json:"variable_count"`
	Channel       Channel `json:"channel"`
	Sender        int64   `json:"sender,omitempty"`
}

// HasVariables reports whether the template carries placeholders to fill
func (r *SendRequest) HasVariables() bool {
	return r.VariableCount > 0
}

// TaskParams groups de-duplicated receivers by their canonical placeholder
// payload. The key is the raw JSON object shared by the group, or the empty
// string when the template has no placeholders. It is the unit of batching
// before dispatch: receivers with byte-identical payloads share one task.
type TaskParams struct {
	Groups map[string][]string
}

// NewTaskParams creates an empty grouping
func NewTaskParams() *TaskParams {
	return &TaskParams{Groups: make(map[string][]string)}
}

// Add appends a receiver to its payload group, skipping exact duplicates
func (p *TaskParams) Add(payload, receiver string) {
	for _, r := range p.Groups[payload] {
		if r == receiver {
			return
		}
	}
	p.Groups[payload] = append(p.Groups[payload], receiver)
}

// SendTaskInfo is one dispatchable unit covering a single placeholder-value
// group. Template holds the resolved copy; its status is the task's delivery
// state and is mutated in place by the confirmation tracker.
type SendTaskInfo struct {
	Receivers  []string  `json:"receivers"`
	Template   *Template `json:"template"`
	MessageID  int64     `json:"message_id"`
	SendTaskID int64     `json:"send_task_id"`
	StorageKey string    `json:"storage_key"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
	ElapsedMS  int64     `json:"elapsed_ms,omitempty"`
}

// SendContent is the envelope published to the queue: every task produced by
// one accepted request, sharing a sendTaskId.
type SendContent struct {
	SendCode   string          `json:"send_code"`
	Tasks      []*SendTaskInfo `json:"tasks"`
	Channel    Channel         `json:"channel"`
	SendTaskID int64           `json:"send_task_id"`
	Sender     int64           `json:"sender"`
	SentAt     time.Time       `json:"sent_at"`
}

// ReceiverCount sums the receivers over all tasks in the envelope
func (c *SendContent) ReceiverCount() int {
	n := 0
	for _, t := range c.Tasks {
		n += len(t.Receivers)
	}
	return n
}

// DelayTask is the lightweight record mirrored onto the delay exchange so the
// reconciliation consumer can find the task again after the channel TTL.
type DelayTask struct {
	SendTaskID int64  `json:"send_task_id"`
	MessageID  int64  `json:"message_id"`
	StorageKey string `json:"storage_key"`
}
