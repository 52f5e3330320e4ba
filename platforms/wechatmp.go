package platforms

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/kart-io/sendflow/core/message"
	"github.com/kart-io/sendflow/logger"
	"github.com/kart-io/sendflow/pkg/errors"
)

const weChatMPProvider = "wechat_mp"

type weChatMPAccount struct {
	BaseURL   string `json:"base_url"`
	AppID     string `json:"app_id"`
	AppSecret string `json:"app_secret"`
}

type weChatMPTokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	ErrCode     int    `json:"errcode"`
	ErrMsg      string `json:"errmsg"`
}

type weChatMPSendResponse struct {
	ErrCode int    `json:"errcode"`
	ErrMsg  string `json:"errmsg"`
}

// WeChatMPHandler delivers template messages through a WeChat service
// account. Receivers are openids; the provider renders the template
// server-side from the payload carried in the task content.
type WeChatMPHandler struct {
	accounts AccountStore
	confirm  Confirmer
	tokens   *TokenCache
	client   *http.Client
	logger   logger.Interface
}

var _ Handler = (*WeChatMPHandler)(nil)

// NewWeChatMPHandler creates the WeChat service account channel handler
func NewWeChatMPHandler(accounts AccountStore, confirm Confirmer, tokens *TokenCache, timeout time.Duration, log logger.Interface) *WeChatMPHandler {
	return &WeChatMPHandler{
		accounts: accounts,
		confirm:  confirm,
		tokens:   tokens,
		client:   newHTTPClient(timeout),
		logger:   log,
	}
}

// Channel returns the channel this handler serves
func (h *WeChatMPHandler) Channel() message.Channel {
	return message.ChannelWeChatMP
}

// Handle delivers one task and confirms its outcome
func (h *WeChatMPHandler) Handle(ctx context.Context, task *message.SendTaskInfo) {
	confirmTask(ctx, h.confirm, h.logger, task, h.deliver(ctx, task))
}

func (h *WeChatMPHandler) deliver(ctx context.Context, task *message.SendTaskInfo) error {
	var account weChatMPAccount
	if err := loadAccount(ctx, h.accounts, task.Template.SendAccount, &account); err != nil {
		return err
	}

	var content message.WeChatMPContent
	if err := json.Unmarshal([]byte(task.Template.Content), &content); err != nil {
		return errors.Wrap(errors.CodeAccountInvalid, err, "decode wechat template content")
	}

	var data map[string]interface{}
	if content.Content != "" {
		if err := json.Unmarshal([]byte(content.Content), &data); err != nil {
			return errors.Wrap(errors.CodeAccountInvalid, err, "decode wechat template data")
		}
	}

	token, err := h.accessToken(ctx, task.Template.SendAccount, &account)
	if err != nil {
		return err
	}

	for _, openID := range task.Receivers {
		body := map[string]interface{}{
			"touser":      openID,
			"template_id": content.TemplateID,
			"data":        data,
		}
		if content.URL != "" {
			body["url"] = content.URL
		}

		target := fmt.Sprintf("%s/cgi-bin/message/template/send?access_token=%s", account.BaseURL, token)
		var resp weChatMPSendResponse
		if err := postJSON(ctx, h.client, target, body, &resp); err != nil {
			return err
		}
		if resp.ErrCode != 0 {
			return errors.New(errors.CodeProviderRejected, "wechat rejected send: %s (%d)", resp.ErrMsg, resp.ErrCode).
				WithChannel("wechat_mp").WithTarget(openID)
		}
	}
	return nil
}

// accessToken returns a cached token or fetches and caches a fresh one
func (h *WeChatMPHandler) accessToken(ctx context.Context, accountID int64, account *weChatMPAccount) (string, error) {
	token, err := h.tokens.Get(ctx, weChatMPProvider, accountID)
	if err != nil {
		return "", fmt.Errorf("read cached token: %v", err)
	}
	if token != "" {
		return token, nil
	}

	target := fmt.Sprintf("%s/cgi-bin/token?grant_type=client_credential&appid=%s&secret=%s",
		account.BaseURL, account.AppID, account.AppSecret)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", fmt.Errorf("build token request: %v", err)
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return "", errors.Wrap(errors.CodeProviderTimeout, err, "token request failed")
	}
	defer resp.Body.Close()

	var tokenResp weChatMPTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return "", fmt.Errorf("decode token response: %v", err)
	}
	if tokenResp.AccessToken == "" {
		return "", errors.New(errors.CodeTokenInvalid, "wechat token refused: %s (%d)", tokenResp.ErrMsg, tokenResp.ErrCode)
	}

	ttl := time.Duration(tokenResp.ExpiresIn) * time.Second
	if ttl <= 0 {
		ttl = time.Hour
	}
	if err := h.tokens.Put(ctx, weChatMPProvider, accountID, tokenResp.AccessToken, ttl); err != nil {
		h.logger.Warn(ctx, "cache wechat token for account %d failed: %v", accountID, err)
	}
	return tokenResp.AccessToken, nil
}
