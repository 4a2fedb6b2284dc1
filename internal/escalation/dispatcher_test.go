package escalation

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"propertychat/backend/internal/config"
	"propertychat/backend/internal/domain"
	"propertychat/backend/internal/storage/memory"
)

type stubPresence struct {
	online bool
	err    error
}

func (s *stubPresence) IsOnline(ctx context.Context) (bool, error) {
	return s.online, s.err
}

func visitorMessage() *domain.ChatMessage {
	return &domain.ChatMessage{
		ID:          "m1",
		SenderName:  "Jane",
		SenderEmail: "jane@example.com",
		Body:        "Apakah unit tipe 36 masih tersedia?",
		CreatedAt:   time.Now().UTC(),
	}
}

func newTestDispatcher(apiURL string, presence PresenceChecker) *Dispatcher {
	cfg := &config.EscalationConfig{
		APIURL:      apiURL,
		APIKey:      "test-api-key",
		AdminNumber: "6281234567890",
		Timeout:     2 * time.Second,
		Cooldown:    10 * time.Minute,
	}
	return NewDispatcher(cfg, presence, memory.NewStore(), nil)
}

func TestDispatcher_EscalatesWhenOffline(t *testing.T) {
	var calls atomic.Int64
	var gotAuth string
	var gotBody Notification

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		gotAuth = r.Header.Get("Authorization")
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	d := newTestDispatcher(server.URL, &stubPresence{online: false})

	assert.Equal(t, OutcomeSent, d.MaybeEscalate(context.Background(), visitorMessage()))
	assert.Equal(t, int64(1), calls.Load())
	assert.Equal(t, "Bearer test-api-key", gotAuth)
	assert.Equal(t, "Jane", gotBody.SenderName)
	assert.Equal(t, "jane@example.com", gotBody.SenderEmail)
	assert.Equal(t, "Apakah unit tipe 36 masih tersedia?", gotBody.Message)
}

func TestDispatcher_NoEscalationWhenOnline(t *testing.T) {
	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer server.Close()

	d := newTestDispatcher(server.URL, &stubPresence{online: true})

	assert.Equal(t, OutcomeSuppressed, d.MaybeEscalate(context.Background(), visitorMessage()))
	assert.Equal(t, int64(0), calls.Load())
}

func TestDispatcher_DisabledWithoutConfig(t *testing.T) {
	testCases := []struct {
		name string
		cfg  config.EscalationConfig
	}{
		{"缺少API地址", config.EscalationConfig{APIKey: "k", AdminNumber: "n"}},
		{"缺少API密钥", config.EscalationConfig{APIURL: "http://example.com", AdminNumber: "n"}},
		{"缺少管理员号码", config.EscalationConfig{APIURL: "http://example.com", APIKey: "k"}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			d := NewDispatcher(&tc.cfg, &stubPresence{online: false}, memory.NewStore(), nil)
			assert.False(t, d.Enabled())
			assert.Equal(t, OutcomeSuppressed, d.MaybeEscalate(context.Background(), visitorMessage()))
		})
	}
}

func TestDispatcher_OperatorRowsNeverEscalate(t *testing.T) {
	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer server.Close()

	d := newTestDispatcher(server.URL, &stubPresence{online: false})

	msg := visitorMessage()
	msg.IsAdminReply = true
	assert.Equal(t, OutcomeSuppressed, d.MaybeEscalate(context.Background(), msg))
	assert.Equal(t, int64(0), calls.Load())
}

func TestDispatcher_CooldownSuppressesDuplicates(t *testing.T) {
	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer server.Close()

	d := newTestDispatcher(server.URL, &stubPresence{online: false})
	ctx := context.Background()

	assert.Equal(t, OutcomeSent, d.MaybeEscalate(ctx, visitorMessage()))
	assert.Equal(t, OutcomeSuppressed, d.MaybeEscalate(ctx, visitorMessage()))
	assert.Equal(t, int64(1), calls.Load())

	// 其他访客不受这个冷却窗口影响
	other := visitorMessage()
	other.SenderEmail = "budi@example.com"
	assert.Equal(t, OutcomeSent, d.MaybeEscalate(ctx, other))
	assert.Equal(t, int64(2), calls.Load())
}

func TestDispatcher_DeliveryFailureIsContained(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	d := newTestDispatcher(server.URL, &stubPresence{online: false})

	// 该发但网关报错，结果是 failed 而不是 suppressed
	assert.Equal(t, OutcomeFailed, d.MaybeEscalate(context.Background(), visitorMessage()))
}

func TestDispatcher_UnreachableGatewayIsContained(t *testing.T) {
	d := newTestDispatcher("http://127.0.0.1:1", &stubPresence{online: false})

	assert.Equal(t, OutcomeFailed, d.MaybeEscalate(context.Background(), visitorMessage()))
}

func TestDispatcher_PresenceErrorTreatedAsOffline(t *testing.T) {
	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer server.Close()

	d := newTestDispatcher(server.URL, &stubPresence{err: errors.New("db down")})

	assert.Equal(t, OutcomeSent, d.MaybeEscalate(context.Background(), visitorMessage()))
	assert.Equal(t, int64(1), calls.Load())
}
