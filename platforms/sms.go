package platforms

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/kart-io/sendflow/core/message"
	"github.com/kart-io/sendflow/logger"
	"github.com/kart-io/sendflow/pkg/errors"
)

// SMSProvider delivers SMS tasks through one upstream vendor. The raw account
// document is passed through so each provider can decode its own shape.
type SMSProvider interface {
	Name() string
	Send(ctx context.Context, rawAccount string, content *message.SMSContent, receivers []string) error
}

// SMSHandler routes SMS tasks to the vendor named in the send account. The
// account document carries a service_name field selecting the provider.
type SMSHandler struct {
	accounts AccountStore
	confirm  Confirmer
	logger   logger.Interface

	mu        sync.RWMutex
	providers map[string]SMSProvider
}

var _ Handler = (*SMSHandler)(nil)

// NewSMSHandler creates the SMS channel handler with no providers registered
func NewSMSHandler(accounts AccountStore, confirm Confirmer, log logger.Interface) *SMSHandler {
	return &SMSHandler{
		accounts:  accounts,
		confirm:   confirm,
		logger:    log,
		providers: make(map[string]SMSProvider),
	}
}

// RegisterProvider installs a vendor, replacing any previous one by that name
func (h *SMSHandler) RegisterProvider(p SMSProvider) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.providers[p.Name()] = p
}

// Provider returns the vendor registered under name
func (h *SMSHandler) Provider(name string) (SMSProvider, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	p, ok := h.providers[name]
	return p, ok
}

// Channel returns the channel this handler serves
func (h *SMSHandler) Channel() message.Channel {
	return message.ChannelSMS
}

// Handle delivers one task and confirms its outcome
func (h *SMSHandler) Handle(ctx context.Context, task *message.SendTaskInfo) {
	confirmTask(ctx, h.confirm, h.logger, task, h.deliver(ctx, task))
}

func (h *SMSHandler) deliver(ctx context.Context, task *message.SendTaskInfo) error {
	raw, err := h.accounts.Account(ctx, task.Template.SendAccount)
	if err != nil {
		return errors.Wrap(errors.CodeAccountInvalid, err, "load account %d", task.Template.SendAccount)
	}

	var selector struct {
		ServiceName string `json:"service_name"`
	}
	if err := json.Unmarshal([]byte(raw), &selector); err != nil {
		return errors.Wrap(errors.CodeAccountInvalid, err, "decode account %d", task.Template.SendAccount)
	}

	provider, ok := h.Provider(selector.ServiceName)
	if !ok {
		return errors.New(errors.CodeAccountInvalid, "no sms provider named %q", selector.ServiceName).WithChannel("sms")
	}

	var content message.SMSContent
	if err := json.Unmarshal([]byte(task.Template.Content), &content); err != nil {
		return errors.Wrap(errors.CodeAccountInvalid, err, "decode sms content")
	}

	if err := provider.Send(ctx, raw, &content, task.Receivers); err != nil {
		return err
	}
	return nil
}

// AliyunSMS sends through the Aliyun SMS HTTP API
type AliyunSMS struct {
	client *http.Client
}

// NewAliyunSMS creates the Aliyun provider with a bounded request timeout
func NewAliyunSMS(timeout time.Duration) *AliyunSMS {
	return &AliyunSMS{client: newHTTPClient(timeout)}
}

// Name returns the provider selector value
func (p *AliyunSMS) Name() string { return "aliyun" }

type aliyunAccount struct {
	Endpoint        string `json:"endpoint"`
	AccessKeyID     string `json:"access_key_id"`
	AccessKeySecret string `json:"access_key_secret"`
	SignName        string `json:"sign_name"`
}

type aliyunResponse struct {
	Code    string `json:"Code"`
	Message string `json:"Message"`
	BizID   string `json:"BizId"`
}

// Send delivers one batch of phone numbers through Aliyun
func (p *AliyunSMS) Send(ctx context.Context, rawAccount string, content *message.SMSContent, receivers []string) error {
	var account aliyunAccount
	if err := json.Unmarshal([]byte(rawAccount), &account); err != nil {
		return errors.Wrap(errors.CodeAccountInvalid, err, "decode aliyun account")
	}

	body := map[string]interface{}{
		"access_key_id":     account.AccessKeyID,
		"access_key_secret": account.AccessKeySecret,
		"sign_name":         account.SignName,
		"template_code":     content.TemplateCode,
		"template_param":    content.Content,
		"phone_numbers":     strings.Join(receivers, message.ReceiverDelimiter),
	}

	var resp aliyunResponse
	if err := postJSON(ctx, p.client, account.Endpoint, body, &resp); err != nil {
		return err
	}
	if resp.Code != "OK" {
		return errors.New(errors.CodeProviderRejected, "aliyun rejected send: %s (%s)", resp.Message, resp.Code).WithChannel("sms")
	}
	return nil
}

// TencentSMS sends through the Tencent Cloud SMS HTTP API
type TencentSMS struct {
	client *http.Client
}

// NewTencentSMS creates the Tencent provider with a bounded request timeout
func NewTencentSMS(timeout time.Duration) *TencentSMS {
	return &TencentSMS{client: newHTTPClient(timeout)}
}

// Name returns the provider selector value
func (p *TencentSMS) Name() string { return "tencent" }

type tencentAccount struct {
	Endpoint  string `json:"endpoint"`
	SecretID  string `json:"secret_id"`
	SecretKey string `json:"secret_key"`
	SDKAppID  string `json:"sdk_app_id"`
	SignName  string `json:"sign_name"`
}

type tencentResponse struct {
	Response struct {
		SendStatusSet []struct {
			Code    string `json:"Code"`
			Message string `json:"Message"`
			Phone   string `json:"PhoneNumber"`
		} `json:"SendStatusSet"`
	} `json:"Response"`
}

// Send delivers one batch of phone numbers through Tencent Cloud
func (p *TencentSMS) Send(ctx context.Context, rawAccount string, content *message.SMSContent, receivers []string) error {
	var account tencentAccount
	if err := json.Unmarshal([]byte(rawAccount), &account); err != nil {
		return errors.Wrap(errors.CodeAccountInvalid, err, "decode tencent account")
	}

	body := map[string]interface{}{
		"secret_id":      account.SecretID,
		"secret_key":     account.SecretKey,
		"sdk_app_id":     account.SDKAppID,
		"sign_name":      account.SignName,
		"template_id":    content.TemplateCode,
		"template_param": content.Content,
		"phone_numbers":  receivers,
	}

	var resp tencentResponse
	if err := postJSON(ctx, p.client, account.Endpoint, body, &resp); err != nil {
		return err
	}
	for _, status := range resp.Response.SendStatusSet {
		if status.Code != "Ok" {
			return errors.New(errors.CodeProviderRejected, "tencent rejected send: %s (%s)", status.Message, status.Code).
				WithChannel("sms").WithTarget(status.Phone)
		}
	}
	return nil
}
