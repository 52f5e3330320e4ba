package platforms

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/sendflow/core/message"
	"github.com/kart-io/sendflow/logger"
	"github.com/kart-io/sendflow/pkg/idgen"
	"github.com/kart-io/sendflow/storage/memstore"
)

func pushTask(receivers ...string) *message.SendTaskInfo {
	content, _ := json.Marshal(message.PushContent{Title: "hi", Body: "there", ClickType: "url", URL: "https://x"})
	return &message.SendTaskInfo{
		Receivers: receivers,
		Template: &message.Template{
			ID:          8,
			Content:     string(content),
			Status:      message.StatusSending,
			SendAccount: 1,
		},
		MessageID:  81,
		SendTaskID: 3,
		StorageKey: "test:message:9:20260830",
		StartedAt:  time.Now(),
	}
}

func newPushFixture(serverURL string) (*PushHandler, *fakeConfirmer) {
	store := memstore.New()
	tokens := NewTokenCache(store, idgen.New(store, "test"))
	accounts := &fakeAccounts{configs: map[int64]string{
		1: fmt.Sprintf(`{"base_url":%q,"app_id":"app1","app_key":"key","master_secret":"sec"}`, serverURL),
	}}
	confirm := &fakeConfirmer{}
	return NewPushHandler(accounts, confirm, tokens, time.Second, logger.Discard), confirm
}

func TestPushHandler(t *testing.T) {
	t.Run("expired token refreshed and send retried once", func(t *testing.T) {
		var authCalls, pushCalls atomic.Int64

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch {
			case strings.HasSuffix(r.URL.Path, "/auth"):
				authCalls.Add(1)
				_ = json.NewEncoder(w).Encode(map[string]interface{}{
					"code": 0,
					"data": map[string]string{"token": fmt.Sprintf("tok-%d", authCalls.Load())},
				})
			case strings.HasSuffix(r.URL.Path, "/push/single/cid"):
				if pushCalls.Add(1) == 1 {
					_ = json.NewEncoder(w).Encode(map[string]interface{}{"code": 10001, "msg": "token expired"})
					return
				}
				assert.Equal(t, "tok-2", r.Header.Get("token"))
				_ = json.NewEncoder(w).Encode(map[string]interface{}{"code": 0, "msg": "ok"})
			default:
				t.Errorf("unexpected path %s", r.URL.Path)
			}
		}))
		defer server.Close()

		handler, confirm := newPushFixture(server.URL)
		handler.Handle(context.Background(), pushTask("cid-1"))

		calls := confirm.all()
		require.Len(t, calls, 1)
		assert.NoError(t, calls[0].cause)
		assert.Equal(t, int64(2), authCalls.Load())
		assert.Equal(t, int64(2), pushCalls.Load())
	})

	t.Run("multiple receivers use the list endpoint", func(t *testing.T) {
		var sawList atomic.Bool

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch {
			case strings.HasSuffix(r.URL.Path, "/auth"):
				_ = json.NewEncoder(w).Encode(map[string]interface{}{
					"code": 0,
					"data": map[string]string{"token": "tok"},
				})
			case strings.HasSuffix(r.URL.Path, "/push/list/cid"):
				sawList.Store(true)
				var body map[string]interface{}
				_ = json.NewDecoder(r.Body).Decode(&body)
				assert.NotEmpty(t, body["request_id"])
				_ = json.NewEncoder(w).Encode(map[string]interface{}{"code": 0})
			default:
				t.Errorf("unexpected path %s", r.URL.Path)
			}
		}))
		defer server.Close()

		handler, confirm := newPushFixture(server.URL)
		handler.Handle(context.Background(), pushTask("cid-1", "cid-2"))

		calls := confirm.all()
		require.Len(t, calls, 1)
		assert.NoError(t, calls[0].cause)
		assert.True(t, sawList.Load())
	})

	t.Run("persistent rejection fails the task", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.HasSuffix(r.URL.Path, "/auth") {
				_ = json.NewEncoder(w).Encode(map[string]interface{}{
					"code": 0,
					"data": map[string]string{"token": "tok"},
				})
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]interface{}{"code": 20001, "msg": "quota exceeded"})
		}))
		defer server.Close()

		handler, confirm := newPushFixture(server.URL)
		handler.Handle(context.Background(), pushTask("cid-1"))

		calls := confirm.all()
		require.Len(t, calls, 1)
		assert.Error(t, calls[0].cause)
	})
}
