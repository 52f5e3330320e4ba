package sendflow

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/sendflow/config"
	"github.com/kart-io/sendflow/core/message"
	"github.com/kart-io/sendflow/logger"
	"github.com/kart-io/sendflow/pkg/lock"
	"github.com/kart-io/sendflow/queue"
	"github.com/kart-io/sendflow/storage/memstore"
)

type stubTemplates struct {
	templates map[int64]*message.Template
}

func (s *stubTemplates) Template(_ context.Context, id int64) (*message.Template, error) {
	tpl, ok := s.templates[id]
	if !ok {
		return nil, fmt.Errorf("template %d not found", id)
	}
	return tpl, nil
}

type stubAccounts struct {
	configs map[int64]string
}

func (s *stubAccounts) Account(_ context.Context, id int64) (string, error) {
	raw, ok := s.configs[id]
	if !ok {
		return "", fmt.Errorf("account %d not found", id)
	}
	return raw, nil
}

type capturePublisher struct {
	published [][]byte
	delayed   [][]byte
}

func (p *capturePublisher) Publish(_ context.Context, body []byte, _ string) error {
	p.published = append(p.published, body)
	return nil
}

func (p *capturePublisher) PublishDelay(_ context.Context, body []byte, _ time.Duration) error {
	p.delayed = append(p.delayed, body)
	return nil
}

// TestHubRoundTrip walks one send through the whole subsystem: chain, queue
// payload, channel handler, provider call and confirmation.
func TestHubRoundTrip(t *testing.T) {
	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"code": 0, "msg": "success"})
	}))
	defer provider.Close()

	content, err := json.Marshal(message.FeishuContent{SendType: "text", Content: "release ${version} is live"})
	require.NoError(t, err)

	templates := &stubTemplates{templates: map[int64]*message.Template{
		6: {
			ID:          6,
			Content:     string(content),
			Channel:     message.ChannelFeishuRobot,
			AuditStatus: message.AuditApproved,
			SendAccount: 1,
			PushType:    message.PushRealTime,
		},
	}}
	accounts := &stubAccounts{configs: map[int64]string{
		1: fmt.Sprintf(`{"webhook_url":%q}`, provider.URL),
	}}

	store := memstore.New()
	publisher := &capturePublisher{}
	hub, err := New(config.Default(), templates, accounts,
		WithStore(store, lock.NewLocalLocker()),
		WithPublisher(publisher),
		WithLogger(logger.Discard),
	)
	require.NoError(t, err)

	ctx := context.Background()
	envelope, err := hub.Send(ctx, &message.SendRequest{
		TemplateID:    6,
		Receivers:     "@all",
		Variables:     `[{"version":"2.4.0"}]`,
		VariableCount: 1,
		Channel:       message.ChannelFeishuRobot,
		Sender:        9,
	})
	require.NoError(t, err)
	require.Len(t, envelope.Tasks, 1)
	assert.Contains(t, envelope.Tasks[0].Template.Content, "2.4.0")

	require.Len(t, publisher.published, 1)
	require.NoError(t, hub.HandleEnvelope(ctx, queue.Delivery{
		Body:        publisher.published[0],
		MessageType: message.SendCodeSend,
	}))

	records, err := store.ListRange(ctx, envelope.Tasks[0].StorageKey)
	require.NoError(t, err)
	require.Len(t, records, 1)

	var stored message.SendContent
	require.NoError(t, json.Unmarshal([]byte(records[0]), &stored))
	assert.Equal(t, message.StatusSuccess, stored.Tasks[0].Template.Status)
	assert.False(t, stored.Tasks[0].FinishedAt.IsZero())
}

// TestHubDelayReconciliation checks the backstop path: a mirror redelivered
// before any confirmation fails the still-sending task.
func TestHubDelayReconciliation(t *testing.T) {
	content, err := json.Marshal(message.FeishuContent{SendType: "text", Content: "ping"})
	require.NoError(t, err)

	templates := &stubTemplates{templates: map[int64]*message.Template{
		6: {
			ID:          6,
			Content:     string(content),
			Channel:     message.ChannelFeishuRobot,
			AuditStatus: message.AuditApproved,
			SendAccount: 1,
		},
	}}

	store := memstore.New()
	publisher := &capturePublisher{}
	hub, err := New(config.Default(), templates, &stubAccounts{},
		WithStore(store, lock.NewLocalLocker()),
		WithPublisher(publisher),
		WithLogger(logger.Discard),
	)
	require.NoError(t, err)

	ctx := context.Background()
	envelope, err := hub.Send(ctx, &message.SendRequest{
		TemplateID: 6,
		Receivers:  "@all",
		Channel:    message.ChannelFeishuRobot,
		Sender:     9,
	})
	require.NoError(t, err)
	require.Len(t, publisher.delayed, 1)

	require.NoError(t, hub.HandleDelay(ctx, queue.Delivery{Body: publisher.delayed[0]}))

	records, err := store.ListRange(ctx, envelope.Tasks[0].StorageKey)
	require.NoError(t, err)
	var stored message.SendContent
	require.NoError(t, json.Unmarshal([]byte(records[0]), &stored))
	assert.Equal(t, message.StatusFailed, stored.Tasks[0].Template.Status)
}

func TestHubIgnoresForeignDeliveryTypes(t *testing.T) {
	store := memstore.New()
	hub, err := New(config.Default(), &stubTemplates{}, &stubAccounts{},
		WithStore(store, lock.NewLocalLocker()),
		WithPublisher(&capturePublisher{}),
		WithLogger(logger.Discard),
	)
	require.NoError(t, err)

	assert.NoError(t, hub.HandleEnvelope(context.Background(), queue.Delivery{
		Body:        []byte("irrelevant"),
		MessageType: message.SendCodeRecall,
	}))
}
