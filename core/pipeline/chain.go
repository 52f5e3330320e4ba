package pipeline

import (
	"context"
	"encoding/json"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/kart-io/sendflow/config"
	"github.com/kart-io/sendflow/core/message"
	"github.com/kart-io/sendflow/logger"
	"github.com/kart-io/sendflow/pkg/errors"
	"github.com/kart-io/sendflow/pkg/idgen"
	"github.com/kart-io/sendflow/queue"
	"github.com/kart-io/sendflow/storage"
	"github.com/kart-io/sendflow/template"
	"github.com/kart-io/sendflow/tracker"
)

// receiverPatterns validates receiver format per channel. Channels without an
// entry accept any receiver.
var receiverPatterns = map[message.Channel]*regexp.Regexp{
	message.ChannelEmail: regexp.MustCompile(`^[\w.+-]+@[\w-]+(\.[\w-]+)+$`),
	message.ChannelSMS:   regexp.MustCompile(`^1[3456789]\d{9}$`),
}

// Chain owns the send stages and their collaborators. Build wires them into a
// Pipeline in their fixed order.
type Chain struct {
	templates TemplateStore
	store     storage.Store
	ids       *idgen.Generator
	publisher queue.Publisher
	stats     *tracker.Stats
	delay     config.DelayConfig
	logger    logger.Interface
	principal func(ctx context.Context) int64
	now       func() time.Time
}

// NewChain creates the send chain. principal supplies the fallback sender
// when the request leaves it unset; nil means no fallback.
func NewChain(
	templates TemplateStore,
	store storage.Store,
	ids *idgen.Generator,
	publisher queue.Publisher,
	stats *tracker.Stats,
	delay config.DelayConfig,
	log logger.Interface,
	principal func(ctx context.Context) int64,
) *Chain {
	if principal == nil {
		principal = func(context.Context) int64 { return 0 }
	}
	return &Chain{
		templates: templates,
		store:     store,
		ids:       ids,
		publisher: publisher,
		stats:     stats,
		delay:     delay,
		logger:    log,
		principal: principal,
		now:       time.Now,
	}
}

// Build assembles the stages into a runnable pipeline
func (c *Chain) Build() *Pipeline {
	return NewPipeline(c.logger).
		Append("pre-check", c.preCheck).
		Append("permission", c.permission).
		Append("classify", c.classify).
		Append("receiver-check", c.receiverCheck).
		Append("expand", c.expand).
		Append("type-map", c.typeMap).
		Append("publish", c.publish)
}

// preCheck validates request shape and defaults the sender to the caller
func (c *Chain) preCheck(ctx context.Context, st *State) (bool, error) {
	req := st.Request
	if req == nil {
		return false, errors.New(errors.CodeInvalidContext, "send request is nil")
	}
	if strings.TrimSpace(req.Receivers) == "" {
		return false, errors.New(errors.CodeReceiverEmpty, "receivers must not be blank")
	}
	if req.TemplateID <= 0 {
		return false, errors.New(errors.CodeTemplateIDMissing, "template id is required")
	}

	if req.HasVariables() {
		if strings.TrimSpace(req.Variables) == "" {
			return false, errors.New(errors.CodeVariablesMissing,
				"template declares %d placeholder(s) but no variables were given", req.VariableCount)
		}
		rows, err := decodeVariableRows(req.Variables)
		if err != nil {
			return false, errors.Wrap(errors.CodeVariablesMissing, err, "variables are not a JSON array of objects")
		}
		for i, row := range rows {
			if err := checkRowValues(row); err != nil {
				return false, errors.Wrap(errors.CodeVariableValueEmpty, err, "variable row %d", i)
			}
		}
		st.VariableRows = rows
	} else if strings.TrimSpace(req.Variables) != "" {
		return false, errors.New(errors.CodeVariablesUnwanted, "template declares no placeholders but variables were given")
	}

	if req.Sender == 0 {
		req.Sender = c.principal(ctx)
	}
	return false, nil
}

// permission loads the template and rejects unapproved ones
func (c *Chain) permission(ctx context.Context, st *State) (bool, error) {
	tpl, err := c.templates.Template(ctx, st.Request.TemplateID)
	if err != nil {
		return false, errors.Wrap(errors.CodeTemplateNotFound, err, "template %d", st.Request.TemplateID)
	}
	if tpl == nil {
		return false, errors.New(errors.CodeTemplateNotFound, "template %d does not exist", st.Request.TemplateID)
	}
	if !tpl.Approved() {
		return false, errors.New(errors.CodeNotApproved, "template %d has not passed review", tpl.ID)
	}

	if st.Request.Channel == 0 {
		st.Request.Channel = tpl.Channel
	}
	if !st.Request.Channel.Valid() {
		return false, errors.New(errors.CodeUnknownChannel, "channel %d is not supported", st.Request.Channel)
	}
	st.Template = tpl
	return false, nil
}

// classify splits and de-duplicates receivers, grouping them by identical
// variable payload. Positional pairing happens before de-duplication, so the
// count check runs against the split list.
func (c *Chain) classify(_ context.Context, st *State) (bool, error) {
	for _, r := range strings.Split(st.Request.Receivers, message.ReceiverDelimiter) {
		if r = strings.TrimSpace(r); r != "" {
			st.Receivers = append(st.Receivers, r)
		}
	}

	params := message.NewTaskParams()
	if st.Request.HasVariables() {
		if len(st.Receivers) != len(st.VariableRows) {
			return false, errors.New(errors.CodeCountMismatch,
				"%d receiver(s) but %d variable row(s)", len(st.Receivers), len(st.VariableRows))
		}
		for i, r := range st.Receivers {
			params.Add(string(st.VariableRows[i]), r)
		}
	} else {
		for _, r := range st.Receivers {
			params.Add("", r)
		}
	}

	total := 0
	for _, group := range params.Groups {
		total += len(group)
	}
	if total == 0 {
		return false, errors.New(errors.CodeReceiverEmpty, "no receivers remain after de-duplication")
	}
	st.Params = params
	return false, nil
}

// receiverCheck applies the channel's format pattern to every receiver
func (c *Chain) receiverCheck(_ context.Context, st *State) (bool, error) {
	pattern, ok := receiverPatterns[st.Request.Channel]
	if !ok {
		return false, nil
	}

	var illegal []string
	for _, group := range st.Params.Groups {
		for _, r := range group {
			if !pattern.MatchString(r) {
				illegal = append(illegal, r)
			}
		}
	}
	if len(illegal) > 0 {
		return false, errors.New(errors.CodeIllegalReceiver,
			"receiver(s) do not match the %s format: %s",
			st.Request.Channel, strings.Join(illegal, message.ReceiverDelimiter)).
			WithChannel(st.Request.Channel.String()).
			WithTarget(strings.Join(illegal, message.ReceiverDelimiter))
	}
	return false, nil
}

// expand clones the template per variable group, substitutes placeholders and
// assembles the envelope. Every task shares one send task id; each gets its
// own message id.
func (c *Chain) expand(ctx context.Context, st *State) (bool, error) {
	sendTaskID, err := c.ids.SendTaskID(ctx)
	if err != nil {
		return false, errors.Wrap(errors.CodeStoreFailure, err, "allocate send task id")
	}

	now := c.now()
	storageKey := c.ids.StorageKey(st.Request.Sender)
	tasks := make([]*message.SendTaskInfo, 0, len(st.Params.Groups))

	for _, payload := range sortedPayloads(st.Params) {
		receivers := st.Params.Groups[payload]

		clone := st.Template.Clone()
		if payload != "" {
			if err := resolveContent(clone, payload); err != nil {
				return false, err
			}
		}
		clone.Status = message.StatusSending

		messageID, err := c.ids.MessageID(ctx, clone.ID)
		if err != nil {
			return false, errors.Wrap(errors.CodeStoreFailure, err, "allocate message id")
		}

		tasks = append(tasks, &message.SendTaskInfo{
			Receivers:  receivers,
			Template:   clone,
			MessageID:  messageID,
			SendTaskID: sendTaskID,
			StorageKey: storageKey,
			StartedAt:  now,
		})
	}

	st.Content = &message.SendContent{
		SendCode:   message.SendCodeSend,
		Tasks:      tasks,
		Channel:    st.Request.Channel,
		SendTaskID: sendTaskID,
		Sender:     st.Request.Sender,
		SentAt:     now,
	}
	return false, nil
}

// typeMap rewrites internal send-type codes in robot payloads into the
// vocabulary the provider expects.
func (c *Chain) typeMap(_ context.Context, st *State) (bool, error) {
	switch st.Request.Channel {
	case message.ChannelDingTalkRobot, message.ChannelFeishuRobot, message.ChannelWeComRobot:
	default:
		return false, nil
	}

	for _, task := range st.Content.Tasks {
		var payload map[string]interface{}
		if err := json.Unmarshal([]byte(task.Template.Content), &payload); err != nil {
			return false, errors.Wrap(errors.CodeInvalidContext, err, "decode robot content for message %d", task.MessageID)
		}
		code, _ := payload["send_type"].(string)
		name, ok := message.DingTalkTypeNames[code]
		if !ok {
			continue
		}
		payload["send_type"] = name
		mapped, err := json.Marshal(payload)
		if err != nil {
			return false, errors.Wrap(errors.CodeInvalidContext, err, "encode robot content for message %d", task.MessageID)
		}
		task.Template.Content = string(mapped)
	}
	return false, nil
}

// publish serializes the envelope and hands it to the queue. The envelope is
// appended to the durable list and the counters are updated whether or not the
// publish succeeded; a publish failure is surfaced, never retried here.
func (c *Chain) publish(ctx context.Context, st *State) (bool, error) {
	body, err := json.Marshal(st.Content)
	if err != nil {
		return false, errors.Wrap(errors.CodeInvalidContext, err, "encode envelope")
	}

	pubErr := c.publisher.Publish(ctx, body, st.Content.SendCode)

	if c.delay.Enabled {
		mirror := make([]message.DelayTask, 0, len(st.Content.Tasks))
		for _, task := range st.Content.Tasks {
			mirror = append(mirror, message.DelayTask{
				SendTaskID: task.SendTaskID,
				MessageID:  task.MessageID,
				StorageKey: task.StorageKey,
			})
		}
		mirrorBody, err := json.Marshal(mirror)
		if err != nil {
			c.logger.Warn(ctx, "encode delay mirror for task %d failed: %v", st.Content.SendTaskID, err)
		} else if err := c.publisher.PublishDelay(ctx, mirrorBody, c.delay.TTL(st.Request.Channel)); err != nil {
			c.logger.Warn(ctx, "delay mirror publish for task %d failed: %v", st.Content.SendTaskID, err)
		}
	}

	storageKey := c.ids.StorageKey(st.Request.Sender)
	if err := c.store.ListAppend(ctx, storageKey, string(body)); err != nil {
		return false, errors.Wrap(errors.CodeStoreFailure, err, "append envelope to %s", storageKey)
	}

	if err := c.stats.AddSendCount(ctx, st.Request.Sender, st.Template.ID, st.Content.ReceiverCount()); err != nil {
		c.logger.Warn(ctx, "update send counters for task %d failed: %v", st.Content.SendTaskID, err)
	}
	if st.Template.Scheduled() {
		if err := c.stats.RecordScheduledStatus(ctx, st.Request.Sender, st.Template.ID, message.StatusSending); err != nil {
			c.logger.Warn(ctx, "record scheduled status for template %d failed: %v", st.Template.ID, err)
		}
	}

	if pubErr != nil {
		return false, errors.Wrap(errors.CodePublishFailed, pubErr, "publish envelope for task %d", st.Content.SendTaskID)
	}
	return false, nil
}

// decodeVariableRows parses the raw variables array, keeping each row's exact
// bytes so byte-identical payloads group together.
func decodeVariableRows(raw string) ([]json.RawMessage, error) {
	var rows []json.RawMessage
	if err := json.Unmarshal([]byte(raw), &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// checkRowValues rejects rows that are not objects or carry empty values. An
// empty placeholder value counts as missing.
func checkRowValues(row json.RawMessage) error {
	var decoded map[string]interface{}
	if err := json.Unmarshal(row, &decoded); err != nil {
		return err
	}
	for key, value := range decoded {
		if s, ok := value.(string); ok && strings.TrimSpace(s) == "" {
			return errors.New(errors.CodeVariableValueEmpty, "placeholder %q has an empty value", key)
		}
	}
	return nil
}

// resolveContent fills the clone's content from one variable payload. Free
// text channels substitute placeholders in place; structured channels carry
// the payload in their content field untouched for the provider to render.
func resolveContent(clone *message.Template, payload string) error {
	if clone.Channel.HasStructuredContent() {
		var structured map[string]interface{}
		if err := json.Unmarshal([]byte(clone.Content), &structured); err != nil {
			return errors.Wrap(errors.CodeInvalidContext, err, "decode structured content for template %d", clone.ID)
		}
		structured["content"] = payload
		updated, err := json.Marshal(structured)
		if err != nil {
			return errors.Wrap(errors.CodeInvalidContext, err, "encode structured content for template %d", clone.ID)
		}
		clone.Content = string(updated)
		return nil
	}

	values, err := template.ParseValues(payload)
	if err != nil {
		return errors.Wrap(errors.CodeInvalidContext, err, "parse variables for template %d", clone.ID)
	}
	clone.Content = template.Replace(clone.Content, values)
	return nil
}

// sortedPayloads returns the group keys in stable order so task layout does
// not depend on map iteration.
func sortedPayloads(params *message.TaskParams) []string {
	keys := make([]string, 0, len(params.Groups))
	for k := range params.Groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
