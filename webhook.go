package citymatch

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
)

// SignatureHeader carries the HMAC-SHA256 signature of a webhook body.
const SignatureHeader = "X-Citymatch-Signature"

// WebhookPayload is a backend change notification delivered over HTTP.
type WebhookPayload struct {
	Source    string `json:"source"`
	Event     string `json:"event"`
	Timestamp int64  `json:"timestamp"`
	ChatID    ChatID `json:"chatId,omitempty"`
	Sender    UserID `json:"sender,omitempty"`
}

// Notification converts the payload for the cache.
func (p *WebhookPayload) Notification() Notification {
	return Notification{Type: p.Event, ChatID: p.ChatID, Sender: p.Sender, Timestamp: p.Timestamp}
}

// VerifyWebhookSignature checks an HMAC-SHA256 hex signature, with or
// without the "sha256=" prefix, in constant time.
func VerifyWebhookSignature(body, signature, secret string) bool {
	if body == "" || signature == "" || secret == "" {
		return false
	}

	sig := strings.TrimPrefix(signature, "sha256=")
	if sig == "" {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(body))
	expected := hex.EncodeToString(mac.Sum(nil))

	if len(sig) != len(expected) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(sig), []byte(expected)) == 1
}

// ParseWebhookPayload decodes and validates a webhook body.
func ParseWebhookPayload(body string) (*WebhookPayload, error) {
	var payload WebhookPayload
	if err := json.Unmarshal([]byte(body), &payload); err != nil {
		return nil, fmt.Errorf("invalid JSON in webhook body: %w", err)
	}

	if payload.Source != "citymatch" {
		return nil, fmt.Errorf("unknown webhook source: %s", payload.Source)
	}
	if payload.Event == "" {
		return nil, fmt.Errorf("missing event field in webhook payload")
	}
	if payload.Event == NotifyMessageNew && payload.ChatID == 0 {
		return nil, fmt.Errorf("missing chatId in %s webhook payload", payload.Event)
	}
	return &payload, nil
}

// ============================================================================
// WebhookReceiver
// ============================================================================

// WebhookReceiver verifies signed backend notifications and invalidates the
// affected cache keys.
type WebhookReceiver struct {
	secret string
	cache  *Cache
	logger zerolog.Logger
}

// NewWebhookReceiver creates a receiver that applies notifications to cache.
func NewWebhookReceiver(secret string, cache *Cache, logger zerolog.Logger) (*WebhookReceiver, error) {
	if secret == "" {
		return nil, fmt.Errorf("webhook secret is required")
	}
	return &WebhookReceiver{secret: secret, cache: cache, logger: logger}, nil
}

// Handle verifies, parses and applies a webhook. It returns the status code
// and response body for the caller to write.
func (w *WebhookReceiver) Handle(body, signature string) (int, any) {
	if !VerifyWebhookSignature(body, signature, w.secret) {
		return http.StatusUnauthorized, map[string]string{"error": "Invalid signature"}
	}

	payload, err := ParseWebhookPayload(body)
	if err != nil {
		return http.StatusBadRequest, map[string]string{"error": err.Error()}
	}

	applied := w.cache.ApplyNotification(payload.Notification())
	w.logger.Debug().Str("event", payload.Event).Bool("applied", applied).Msg("webhook received")
	return http.StatusOK, map[string]bool{"ok": true, "applied": applied}
}

// HTTPHandler returns an http.Handler that processes webhook requests.
//
// Example:
//
//	wh, _ := citymatch.NewWebhookReceiver("secret", sdk.Cache, logger)
//	http.Handle("/webhook", wh.HTTPHandler())
func (w *WebhookReceiver) HTTPHandler() http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "application/json")
		if r.Method != http.MethodPost {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			json.NewEncoder(rw).Encode(map[string]string{"error": "Method not allowed"})
			return
		}

		bodyBytes, err := io.ReadAll(r.Body)
		defer r.Body.Close()
		if err != nil {
			rw.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(rw).Encode(map[string]string{"error": "Failed to read body"})
			return
		}

		statusCode, data := w.Handle(string(bodyBytes), r.Header.Get(SignatureHeader))
		rw.WriteHeader(statusCode)
		json.NewEncoder(rw).Encode(data)
	})
}
