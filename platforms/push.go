package platforms

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/kart-io/sendflow/core/message"
	"github.com/kart-io/sendflow/logger"
	"github.com/kart-io/sendflow/pkg/errors"
)

const (
	pushProvider = "push"

	// pushCodeOK and pushCodeTokenExpired are the provider result codes the
	// handler acts on; an expired token is refreshed and the send retried once.
	pushCodeOK           = 0
	pushCodeTokenExpired = 10001
)

type pushAccount struct {
	BaseURL      string `json:"base_url"`
	AppID        string `json:"app_id"`
	AppKey       string `json:"app_key"`
	MasterSecret string `json:"master_secret"`
}

type pushAuthResponse struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data struct {
		Token      string `json:"token"`
		ExpireTime string `json:"expire_time"`
	} `json:"data"`
}

type pushSendResponse struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// PushHandler delivers app push tasks through a GeTui-style HTTP API. Auth
// tokens are cached per account; a token-expired result refreshes the token
// and retries the send once.
type PushHandler struct {
	accounts AccountStore
	confirm  Confirmer
	tokens   *TokenCache
	client   *http.Client
	logger   logger.Interface
	now      func() time.Time
}

var _ Handler = (*PushHandler)(nil)

// NewPushHandler creates the app push channel handler
func NewPushHandler(accounts AccountStore, confirm Confirmer, tokens *TokenCache, timeout time.Duration, log logger.Interface) *PushHandler {
	return &PushHandler{
		accounts: accounts,
		confirm:  confirm,
		tokens:   tokens,
		client:   newHTTPClient(timeout),
		logger:   log,
		now:      time.Now,
	}
}

// Channel returns the channel this handler serves
func (h *PushHandler) Channel() message.Channel {
	return message.ChannelPush
}

// Handle delivers one task and confirms its outcome
func (h *PushHandler) Handle(ctx context.Context, task *message.SendTaskInfo) {
	confirmTask(ctx, h.confirm, h.logger, task, h.deliver(ctx, task))
}

func (h *PushHandler) deliver(ctx context.Context, task *message.SendTaskInfo) error {
	var account pushAccount
	if err := loadAccount(ctx, h.accounts, task.Template.SendAccount, &account); err != nil {
		return err
	}

	var content message.PushContent
	if err := json.Unmarshal([]byte(task.Template.Content), &content); err != nil {
		return errors.Wrap(errors.CodeAccountInvalid, err, "decode push content")
	}

	token, err := h.authToken(ctx, task.Template.SendAccount, &account, false)
	if err != nil {
		return err
	}

	resp, err := h.push(ctx, &account, token, &content, task.Receivers)
	if err != nil {
		return err
	}
	if resp.Code == pushCodeTokenExpired {
		token, err = h.authToken(ctx, task.Template.SendAccount, &account, true)
		if err != nil {
			return err
		}
		resp, err = h.push(ctx, &account, token, &content, task.Receivers)
		if err != nil {
			return err
		}
	}
	if resp.Code != pushCodeOK {
		return errors.New(errors.CodeProviderRejected, "push rejected: %s (%d)", resp.Msg, resp.Code).WithChannel("push")
	}
	return nil
}

// push posts one send. A single receiver uses the single endpoint, more use
// the list endpoint.
func (h *PushHandler) push(ctx context.Context, account *pushAccount, token string, content *message.PushContent, receivers []string) (*pushSendResponse, error) {
	notification := map[string]interface{}{
		"title":      content.Title,
		"body":       content.Body,
		"click_type": content.ClickType,
	}
	switch content.ClickType {
	case "url":
		notification["url"] = content.URL
	case "intent":
		notification["intent"] = content.Intent
	case "payload":
		notification["payload"] = content.Payload
	}
	if content.ChannelLevel != "" {
		notification["channel_level"] = content.ChannelLevel
	}

	body := map[string]interface{}{
		"request_id":   uuid.NewString(),
		"push_message": map[string]interface{}{"notification": notification},
	}

	body["audience"] = map[string]interface{}{"cid": receivers}
	target := fmt.Sprintf("%s/v2/%s/push/list/cid", account.BaseURL, account.AppID)
	if len(receivers) == 1 {
		target = fmt.Sprintf("%s/v2/%s/push/single/cid", account.BaseURL, account.AppID)
	}

	req, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode push request: %v", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(req))
	if err != nil {
		return nil, fmt.Errorf("build push request: %v", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("token", token)

	httpResp, err := h.client.Do(httpReq)
	if err != nil {
		return nil, errors.Wrap(errors.CodeProviderTimeout, err, "push request failed")
	}
	defer httpResp.Body.Close()

	var resp pushSendResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("decode push response: %v", err)
	}
	return &resp, nil
}

// authToken returns a usable auth token, hitting the cache unless refresh is
// forced by an expired-token result.
func (h *PushHandler) authToken(ctx context.Context, accountID int64, account *pushAccount, refresh bool) (string, error) {
	if !refresh {
		token, err := h.tokens.Get(ctx, pushProvider, accountID)
		if err != nil {
			return "", fmt.Errorf("read cached token: %v", err)
		}
		if token != "" {
			return token, nil
		}
	}

	timestamp := fmt.Sprintf("%d", h.now().UnixMilli())
	sign := sha256.Sum256([]byte(account.AppKey + timestamp + account.MasterSecret))

	body := map[string]string{
		"sign":      hex.EncodeToString(sign[:]),
		"timestamp": timestamp,
		"appkey":    account.AppKey,
	}

	target := fmt.Sprintf("%s/v2/%s/auth", account.BaseURL, account.AppID)
	var resp pushAuthResponse
	if err := postJSON(ctx, h.client, target, body, &resp); err != nil {
		return "", err
	}
	if resp.Code != pushCodeOK || resp.Data.Token == "" {
		return "", errors.New(errors.CodeTokenInvalid, "push auth refused: %s (%d)", resp.Msg, resp.Code)
	}

	ttl := time.Hour
	if ms, err := parseMillis(resp.Data.ExpireTime); err == nil {
		if until := time.UnixMilli(ms).Sub(h.now()); until > 0 {
			ttl = until
		}
	}
	if err := h.tokens.Put(ctx, pushProvider, accountID, resp.Data.Token, ttl); err != nil {
		h.logger.Warn(ctx, "cache push token for account %d failed: %v", accountID, err)
	}
	return resp.Data.Token, nil
}

func parseMillis(s string) (int64, error) {
	var ms int64
	_, err := fmt.Sscanf(s, "%d", &ms)
	return ms, err
}
