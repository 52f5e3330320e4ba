package platforms

import (
	"context"
	"encoding/json"
	"fmt"
	"net/smtp"
	"strings"
	"time"

	"github.com/kart-io/sendflow/core/message"
	"github.com/kart-io/sendflow/logger"
	"github.com/kart-io/sendflow/pkg/errors"
)

// emailAccount is the provider configuration stored for email send accounts
type emailAccount struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	From     string `json:"from"`
}

// EmailHandler delivers email tasks over SMTP
type EmailHandler struct {
	accounts AccountStore
	confirm  Confirmer
	timeout  time.Duration
	logger   logger.Interface
}

var _ Handler = (*EmailHandler)(nil)

// NewEmailHandler creates the email channel handler
func NewEmailHandler(accounts AccountStore, confirm Confirmer, timeout time.Duration, log logger.Interface) *EmailHandler {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &EmailHandler{accounts: accounts, confirm: confirm, timeout: timeout, logger: log}
}

// Channel returns the channel this handler serves
func (h *EmailHandler) Channel() message.Channel {
	return message.ChannelEmail
}

// Handle delivers one task and confirms its outcome
func (h *EmailHandler) Handle(ctx context.Context, task *message.SendTaskInfo) {
	confirmTask(ctx, h.confirm, h.logger, task, h.deliver(ctx, task))
}

func (h *EmailHandler) deliver(ctx context.Context, task *message.SendTaskInfo) error {
	var account emailAccount
	if err := loadAccount(ctx, h.accounts, task.Template.SendAccount, &account); err != nil {
		return err
	}

	var content message.EmailContent
	if err := json.Unmarshal([]byte(task.Template.Content), &content); err != nil {
		return errors.Wrap(errors.CodeAccountInvalid, err, "decode email content")
	}

	body := buildEmailBody(account.From, task.Receivers, &content)

	var auth smtp.Auth
	if account.Username != "" {
		auth = smtp.PlainAuth("", account.Username, account.Password, account.Host)
	}
	addr := fmt.Sprintf("%s:%d", account.Host, account.Port)

	timeoutCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- smtp.SendMail(addr, auth, account.From, task.Receivers, body)
	}()

	select {
	case err := <-done:
		if err != nil {
			return errors.Wrap(errors.CodeProviderRejected, err, "smtp delivery failed").WithChannel("email")
		}
		return nil
	case <-timeoutCtx.Done():
		return errors.New(errors.CodeProviderTimeout, "smtp delivery timed out after %s", h.timeout).WithChannel("email")
	}
}

// buildEmailBody assembles the MIME message shared by all recipients of a task
func buildEmailBody(from string, to []string, content *message.EmailContent) []byte {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("From: %s\r\n", from))
	b.WriteString(fmt.Sprintf("To: %s\r\n", strings.Join(to, ", ")))
	b.WriteString(fmt.Sprintf("Subject: %s\r\n", content.Title))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(content.Content)
	if content.URL != "" {
		for _, u := range strings.Split(content.URL, message.ReceiverDelimiter) {
			b.WriteString(fmt.Sprintf("<br><a href=%q>%s</a>", u, u))
		}
	}
	return []byte(b.String())
}
