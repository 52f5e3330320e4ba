package platforms

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"time"

	"github.com/kart-io/sendflow/core/message"
	"github.com/kart-io/sendflow/logger"
	"github.com/kart-io/sendflow/pkg/errors"
)

// mobilePattern matches mainland mobile numbers for at-list resolution
var mobilePattern = regexp.MustCompile(`^1[3456789]\d{9}$`)

// AtAllReceiver addresses every member of the robot's group
const AtAllReceiver = "@all"

var validDingTalkTypes = map[string]bool{
	"text": true, "link": true, "markdown": true, "actionCard": true, "feedCard": true,
}

type dingTalkAccount struct {
	WebhookURL string `json:"webhook_url"`
	Secret     string `json:"secret"`
}

type dingTalkAt struct {
	AtMobiles []string `json:"atMobiles,omitempty"`
	AtUserIDs []string `json:"atUserIds,omitempty"`
	IsAtAll   bool     `json:"isAtAll"`
}

type dingTalkResponse struct {
	ErrCode int    `json:"errcode"`
	ErrMsg  string `json:"errmsg"`
}

// DingTalkHandler delivers tasks to DingTalk group robots via signed webhooks
type DingTalkHandler struct {
	accounts AccountStore
	confirm  Confirmer
	client   *http.Client
	logger   logger.Interface
	now      func() time.Time
}

var _ Handler = (*DingTalkHandler)(nil)

// NewDingTalkHandler creates the DingTalk robot channel handler
func NewDingTalkHandler(accounts AccountStore, confirm Confirmer, timeout time.Duration, log logger.Interface) *DingTalkHandler {
	return &DingTalkHandler{
		accounts: accounts,
		confirm:  confirm,
		client:   newHTTPClient(timeout),
		logger:   log,
		now:      time.Now,
	}
}

// Channel returns the channel this handler serves
func (h *DingTalkHandler) Channel() message.Channel {
	return message.ChannelDingTalkRobot
}

// Handle delivers one task and confirms its outcome
func (h *DingTalkHandler) Handle(ctx context.Context, task *message.SendTaskInfo) {
	confirmTask(ctx, h.confirm, h.logger, task, h.deliver(ctx, task))
}

func (h *DingTalkHandler) deliver(ctx context.Context, task *message.SendTaskInfo) error {
	var account dingTalkAccount
	if err := loadAccount(ctx, h.accounts, task.Template.SendAccount, &account); err != nil {
		return err
	}

	var content message.DingTalkContent
	if err := json.Unmarshal([]byte(task.Template.Content), &content); err != nil {
		return errors.Wrap(errors.CodeAccountInvalid, err, "decode dingtalk content")
	}

	body, err := buildDingTalkBody(&content, resolveAtList(task.Receivers))
	if err != nil {
		return err
	}

	target := account.WebhookURL
	if account.Secret != "" {
		timestamp := h.now().UnixMilli()
		target = fmt.Sprintf("%s&timestamp=%d&sign=%s",
			account.WebhookURL, timestamp, SignDingTalk(timestamp, account.Secret))
	}

	var resp dingTalkResponse
	if err := postJSON(ctx, h.client, target, body, &resp); err != nil {
		return err
	}
	if resp.ErrCode != 0 {
		return errors.New(errors.CodeProviderRejected, "dingtalk rejected send: %s (%d)", resp.ErrMsg, resp.ErrCode).
			WithChannel("dingtalk")
	}
	return nil
}

// SignDingTalk computes the webhook signature over timestamp and secret
func SignDingTalk(timestamp int64, secret string) string {
	payload := fmt.Sprintf("%d\n%s", timestamp, secret)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return url.QueryEscape(base64.StdEncoding.EncodeToString(mac.Sum(nil)))
}

// resolveAtList splits receivers into the robot at-list: "@all" flips the
// broadcast flag, mobile numbers go to atMobiles, everything else to userIds.
func resolveAtList(receivers []string) dingTalkAt {
	at := dingTalkAt{}
	for _, r := range receivers {
		switch {
		case r == AtAllReceiver:
			at.IsAtAll = true
		case mobilePattern.MatchString(r):
			at.AtMobiles = append(at.AtMobiles, r)
		default:
			at.AtUserIDs = append(at.AtUserIDs, r)
		}
	}
	return at
}

// buildDingTalkBody shapes the webhook payload for the task's send type. Text
// and markdown wrap the rendered content; the card and link types carry the
// content as provider-shaped JSON already.
func buildDingTalkBody(content *message.DingTalkContent, at dingTalkAt) (map[string]interface{}, error) {
	msgType := content.SendType
	if name, ok := message.DingTalkTypeNames[msgType]; ok {
		msgType = name
	}
	if !validDingTalkTypes[msgType] {
		return nil, errors.New(errors.CodeAccountInvalid, "unknown dingtalk send type %q", content.SendType)
	}

	body := map[string]interface{}{
		"msgtype": msgType,
		"at":      at,
	}

	switch msgType {
	case "text":
		body["text"] = map[string]string{"content": content.Content}
	case "markdown":
		body["markdown"] = map[string]string{"title": "notification", "text": content.Content}
	default:
		var structured map[string]interface{}
		if err := json.Unmarshal([]byte(content.Content), &structured); err != nil {
			return nil, errors.Wrap(errors.CodeAccountInvalid, err, "decode %s payload", msgType)
		}
		body[msgType] = structured
	}
	return body, nil
}
