package citymatch

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Test Helpers
// ============================================================================

const testSecret = "test-webhook-secret-key"

func makeTestSignature(body, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(body))
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func makeTestPayloadString(event string, chatID ChatID) string {
	b, _ := json.Marshal(map[string]any{
		"source":    "citymatch",
		"event":     event,
		"timestamp": 1700000000,
		"chatId":    chatID,
		"sender":    "alice",
	})
	return string(b)
}

// ============================================================================
// VerifyWebhookSignature
// ============================================================================

func TestVerifyWebhookSignature(t *testing.T) {
	body := makeTestPayloadString(NotifyMessageNew, 7)
	sig := makeTestSignature(body, testSecret)

	tests := []struct {
		name   string
		body   string
		sig    string
		secret string
		want   bool
	}{
		{"valid with prefix", body, sig, testSecret, true},
		{"valid without prefix", body, strings.TrimPrefix(sig, "sha256="), testSecret, true},
		{"wrong secret", body, sig, "other-secret", false},
		{"tampered body", body + " ", sig, testSecret, false},
		{"truncated signature", body, sig[:20], testSecret, false},
		{"prefix only", body, "sha256=", testSecret, false},
		{"empty body", "", sig, testSecret, false},
		{"empty signature", body, "", testSecret, false},
		{"empty secret", body, sig, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, VerifyWebhookSignature(tt.body, tt.sig, tt.secret))
		})
	}
}

// ============================================================================
// ParseWebhookPayload
// ============================================================================

func TestParseWebhookPayload(t *testing.T) {
	p, err := ParseWebhookPayload(makeTestPayloadString(NotifyMessageNew, 7))
	require.NoError(t, err)
	assert.Equal(t, NotifyMessageNew, p.Event)
	assert.Equal(t, ChatID(7), p.ChatID)

	n := p.Notification()
	assert.Equal(t, UserID("alice"), n.Sender)
	assert.Equal(t, int64(1700000000), n.Timestamp)

	_, err = ParseWebhookPayload(`{"source":"citymatch","event":"plan.changed"}`)
	assert.NoError(t, err)

	bad := []struct {
		name string
		body string
		msg  string
	}{
		{"invalid json", `not json`, "invalid JSON"},
		{"wrong source", `{"source":"other","event":"chat.new"}`, "unknown webhook source"},
		{"missing event", `{"source":"citymatch"}`, "missing event"},
		{"message without chat", `{"source":"citymatch","event":"message.new"}`, "missing chatId"},
	}
	for _, tt := range bad {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseWebhookPayload(tt.body)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

// ============================================================================
// WebhookReceiver
// ============================================================================

func TestNewWebhookReceiverRequiresSecret(t *testing.T) {
	cache := NewCache()
	defer cache.Close()
	_, err := NewWebhookReceiver("", cache, zerolog.Nop())
	assert.Error(t, err)
}

func TestWebhookReceiverHandle(t *testing.T) {
	cache := NewCache()
	defer cache.Close()
	wh, err := NewWebhookReceiver(testSecret, cache, zerolog.Nop())
	require.NoError(t, err)

	body := makeTestPayloadString(NotifyChatNew, 0)

	status, data := wh.Handle(body, "sha256=bad")
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, map[string]string{"error": "Invalid signature"}, data)

	bad := `{"source":"citymatch"}`
	status, _ = wh.Handle(bad, makeTestSignature(bad, testSecret))
	assert.Equal(t, http.StatusBadRequest, status)

	status, data = wh.Handle(body, makeTestSignature(body, testSecret))
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, map[string]bool{"ok": true, "applied": true}, data)

	unknown := makeTestPayloadString("typing.start", 0)
	status, data = wh.Handle(unknown, makeTestSignature(unknown, testSecret))
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, map[string]bool{"ok": true, "applied": false}, data)
}

func TestWebhookHTTPHandlerInvalidatesCache(t *testing.T) {
	ctx := context.Background()
	sdk, fb, m := newTestSDK(t)
	id := fb.addChat("alice")

	_, err := sdk.Chats.History(ctx, id)
	require.NoError(t, err)
	_, err = sdk.Chats.ChatList(ctx)
	require.NoError(t, err)

	wh, err := NewWebhookReceiver(testSecret, sdk.Cache, zerolog.Nop())
	require.NoError(t, err)
	srv := httptest.NewServer(wh.HTTPHandler())
	defer srv.Close()

	body := makeTestPayloadString(NotifyMessageNew, id)
	req, err := http.NewRequest(http.MethodPost, srv.URL, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set(SignatureHeader, makeTestSignature(body, testSecret))

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var out map[string]bool
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.True(t, out["applied"])

	assert.Equal(t, 1, m.get(m.invalidates, KeyHistory))
	assert.Equal(t, 1, m.get(m.invalidates, KeyChatList))

	before := fb.count("GetChatHistory")
	_, err = sdk.Chats.History(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, before+1, fb.count("GetChatHistory"))

	get, err := http.Get(srv.URL)
	require.NoError(t, err)
	get.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, get.StatusCode)
}
