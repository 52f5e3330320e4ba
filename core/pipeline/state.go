// Package pipeline runs a send request through the ordered validation and
// transform stages that turn it into a published envelope.
package pipeline

import (
	"context"
	"encoding/json"

	"github.com/kart-io/sendflow/core/message"
)

// State is the shared mutable context threaded through the stages. Each stage
// reads what earlier stages produced and adds its own output; a request-scoped
// State is never shared between requests.
type State struct {
	Request  *message.SendRequest
	Template *message.Template

	// VariableRows holds the raw JSON object per receiver, positionally
	// aligned with the split receiver list. Empty in non-placeholder mode.
	VariableRows []json.RawMessage

	// Receivers is the receiver list split from the raw request string,
	// in request order, before de-duplication.
	Receivers []string

	// Params groups de-duplicated receivers by identical variable payload
	Params *message.TaskParams

	// Content is the assembled envelope, set by the task-build stage
	Content *message.SendContent
}

// TemplateStore resolves template ids to stored template snapshots
type TemplateStore interface {
	Template(ctx context.Context, id int64) (*message.Template, error)
}
