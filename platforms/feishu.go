package platforms

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/kart-io/sendflow/core/message"
	"github.com/kart-io/sendflow/logger"
	"github.com/kart-io/sendflow/pkg/errors"
)

type feishuAccount struct {
	WebhookURL string `json:"webhook_url"`
}

type feishuResponse struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// FeishuHandler delivers tasks to Feishu group robots via webhooks
type FeishuHandler struct {
	accounts AccountStore
	confirm  Confirmer
	client   *http.Client
	logger   logger.Interface
}

var _ Handler = (*FeishuHandler)(nil)

// NewFeishuHandler creates the Feishu robot channel handler
func NewFeishuHandler(accounts AccountStore, confirm Confirmer, timeout time.Duration, log logger.Interface) *FeishuHandler {
	return &FeishuHandler{
		accounts: accounts,
		confirm:  confirm,
		client:   newHTTPClient(timeout),
		logger:   log,
	}
}

// Channel returns the channel this handler serves
func (h *FeishuHandler) Channel() message.Channel {
	return message.ChannelFeishuRobot
}

// Handle delivers one task and confirms its outcome
func (h *FeishuHandler) Handle(ctx context.Context, task *message.SendTaskInfo) {
	confirmTask(ctx, h.confirm, h.logger, task, h.deliver(ctx, task))
}

func (h *FeishuHandler) deliver(ctx context.Context, task *message.SendTaskInfo) error {
	var account feishuAccount
	if err := loadAccount(ctx, h.accounts, task.Template.SendAccount, &account); err != nil {
		return err
	}

	var content message.FeishuContent
	if err := json.Unmarshal([]byte(task.Template.Content), &content); err != nil {
		return errors.Wrap(errors.CodeAccountInvalid, err, "decode feishu content")
	}

	body := map[string]interface{}{
		"msg_type": "text",
		"content":  map[string]string{"text": content.Content},
	}
	if content.SendType != "" && content.SendType != "text" {
		var structured map[string]interface{}
		if err := json.Unmarshal([]byte(content.Content), &structured); err != nil {
			return errors.Wrap(errors.CodeAccountInvalid, err, "decode feishu %s payload", content.SendType)
		}
		body["msg_type"] = content.SendType
		body["content"] = structured
	}

	var resp feishuResponse
	if err := postJSON(ctx, h.client, account.WebhookURL, body, &resp); err != nil {
		return err
	}
	if resp.Code != 0 {
		return errors.New(errors.CodeProviderRejected, "feishu rejected send: %s (%d)", resp.Msg, resp.Code).
			WithChannel("feishu")
	}
	return nil
}
