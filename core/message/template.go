package message

// Template is an immutable-per-send snapshot of a stored message template.
// The chain clones it per recipient group before any mutation, so the stored
// definition is never touched during a send.
type Template struct {
	ID          int64       `json:"id"`
	Name        string      `json:"name,omitempty"`
	Content     string      `json:"content"`
	Channel     Channel     `json:"channel"`
	Status      Status      `json:"status"`
	AuditStatus AuditStatus `json:"audit_status"`
	SendAccount int64       `json:"send_account"`
	PushType    PushType    `json:"push_type"`
}

// Clone returns an independent copy of the template
func (t *Template) Clone() *Template {
	cp := *t
	return &cp
}

// Approved reports whether the template passed review
func (t *Template) Approved() bool {
	return t.AuditStatus == AuditApproved
}

// Scheduled reports whether the template belongs to a scheduled task
func (t *Template) Scheduled() bool {
	return t.PushType == PushScheduled
}
