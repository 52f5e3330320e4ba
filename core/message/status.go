package message

// Status tracks a template copy through its send lifecycle. The values are
// persisted inside stored envelopes and must stay stable.
type Status int

const (
	StatusNew     Status = 0
	StatusStopped Status = 20
	StatusStarted Status = 30
	StatusSending Status = 40
	StatusSuccess Status = 50
	StatusFailed  Status = 60
)

// String returns a human readable status name
func (s Status) String() string {
	switch s {
	case StatusNew:
		return "new"
	case StatusStopped:
		return "stopped"
	case StatusStarted:
		return "started"
	case StatusSending:
		return "sending"
	case StatusSuccess:
		return "success"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether the status can no longer change
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

// AuditStatus is the review state of a stored template
type AuditStatus int

const (
	AuditPending  AuditStatus = 10
	AuditApproved AuditStatus = 20
	AuditRejected AuditStatus = 30
)

// PushType distinguishes immediate sends from scheduled ones
type PushType int

const (
	PushRealTime  PushType = 10
	PushScheduled PushType = 20
)

// SendCode values route queue messages to the right consumer action
const (
	SendCodeSend   = "send"
	SendCodeRecall = "recall"
)
