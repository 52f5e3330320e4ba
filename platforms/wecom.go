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

type weComAccount struct {
	WebhookURL string `json:"webhook_url"`
}

type weComResponse struct {
	ErrCode int    `json:"errcode"`
	ErrMsg  string `json:"errmsg"`
}

// WeComHandler delivers tasks to Enterprise WeChat group robots via webhooks
type WeComHandler struct {
	accounts AccountStore
	confirm  Confirmer
	client   *http.Client
	logger   logger.Interface
}

var _ Handler = (*WeComHandler)(nil)

// NewWeComHandler creates the Enterprise WeChat robot channel handler
func NewWeComHandler(accounts AccountStore, confirm Confirmer, timeout time.Duration, log logger.Interface) *WeComHandler {
	return &WeComHandler{
		accounts: accounts,
		confirm:  confirm,
		client:   newHTTPClient(timeout),
		logger:   log,
	}
}

// Channel returns the channel this handler serves
func (h *WeComHandler) Channel() message.Channel {
	return message.ChannelWeComRobot
}

// Handle delivers one task and confirms its outcome
func (h *WeComHandler) Handle(ctx context.Context, task *message.SendTaskInfo) {
	confirmTask(ctx, h.confirm, h.logger, task, h.deliver(ctx, task))
}

func (h *WeComHandler) deliver(ctx context.Context, task *message.SendTaskInfo) error {
	var account weComAccount
	if err := loadAccount(ctx, h.accounts, task.Template.SendAccount, &account); err != nil {
		return err
	}

	var content message.WeComContent
	if err := json.Unmarshal([]byte(task.Template.Content), &content); err != nil {
		return errors.Wrap(errors.CodeAccountInvalid, err, "decode wecom content")
	}

	msgType := content.SendType
	if msgType == "" {
		msgType = "text"
	}

	body := map[string]interface{}{"msgtype": msgType}
	if msgType == "text" || msgType == "markdown" {
		body[msgType] = map[string]string{"content": content.Content}
	} else {
		var structured map[string]interface{}
		if err := json.Unmarshal([]byte(content.Content), &structured); err != nil {
			return errors.Wrap(errors.CodeAccountInvalid, err, "decode wecom %s payload", msgType)
		}
		body[msgType] = structured
	}

	var resp weComResponse
	if err := postJSON(ctx, h.client, account.WebhookURL, body, &resp); err != nil {
		return err
	}
	if resp.ErrCode != 0 {
		return errors.New(errors.CodeProviderRejected, "wecom rejected send: %s (%d)", resp.ErrMsg, resp.ErrCode).
			WithChannel("wecom")
	}
	return nil
}
