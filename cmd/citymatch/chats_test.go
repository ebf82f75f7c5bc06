package main

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	citymatch "github.com/citymatch/citymatch-go"
)

type backendCall struct {
	Method string
	Path   string
	Body   map[string]string
}

// threadBackend serves one chat and rejects sends until a plan is active.
type threadBackend struct {
	mu      sync.Mutex
	calls   []backendCall
	plan    string
	history []map[string]any
}

func (b *threadBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	call := backendCall{Method: r.Method, Path: r.URL.Path}
	if raw, _ := io.ReadAll(r.Body); len(raw) > 0 {
		json.Unmarshal(raw, &call.Body)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, call)

	w.Header().Set("Content-Type", "application/json")
	ok := func(data any) {
		json.NewEncoder(w).Encode(map[string]any{"ok": true, "data": data})
	}

	switch {
	case r.Method == "GET" && r.URL.Path == "/api/chats/7/messages":
		ok(b.history)
	case r.Method == "POST" && r.URL.Path == "/api/chats/7/messages":
		if b.plan == "" {
			w.WriteHeader(http.StatusForbidden)
			json.NewEncoder(w).Encode(map[string]any{
				"ok":    false,
				"error": map[string]string{"code": "INTERNAL", "message": "Chat limit reached for your current plan"},
			})
			return
		}
		b.history = append(b.history, map[string]any{
			"content": call.Body["content"], "sender": "me", "timestamp": time.Now().UnixNano(),
		})
		ok(nil)
	case r.Method == "GET" && r.URL.Path == "/api/subscription/plan":
		ok(map[string]string{"plan": b.plan})
	case r.Method == "POST" && r.URL.Path == "/api/subscription/plan":
		b.plan = call.Body["plan"]
		ok(nil)
	case r.Method == "GET" && r.URL.Path == "/api/chats":
		ok([]any{})
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (b *threadBackend) sends() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []string
	for _, c := range b.calls {
		switch {
		case c.Method == "POST" && c.Path == "/api/chats/7/messages":
			out = append(out, "send:"+c.Body["content"])
		case c.Method == "POST" && c.Path == "/api/subscription/plan":
			out = append(out, "plan:"+c.Body["plan"])
		}
	}
	return out
}

func newTestSession(t *testing.T, h http.Handler) *session {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	client := citymatch.NewClient("tok", citymatch.WithBaseURL(srv.URL))
	sess := &session{
		SDK:      citymatch.NewSDK(client, "me"),
		client:   client,
		settings: &settings{BaseURL: srv.URL, Token: "tok", UserID: "me", Timeout: 5 * time.Second},
		logger:   zerolog.Nop(),
	}
	t.Cleanup(sess.Close)
	return sess
}

func TestRunThreadUpgradesAndRetries(t *testing.T) {
	backend := &threadBackend{}
	sess := newTestSession(t, backend)

	input := strings.Join([]string{
		"  hello  ",
		"/upgrade plan199",
		"/retry",
		"   ",
		"/quit",
		"never sent",
	}, "\n")

	err := runThread(context.Background(), sess, 7, bufio.NewScanner(strings.NewReader(input)))
	require.NoError(t, err)

	assert.Equal(t, []string{"send:hello", "plan:plan199", "send:hello"}, backend.sends())
	assert.Nil(t, sess.Chats.Active())
}

func TestRunThreadEndsWithInput(t *testing.T) {
	backend := &threadBackend{plan: "plan98"}
	sess := newTestSession(t, backend)

	err := runThread(context.Background(), sess, 7, bufio.NewScanner(strings.NewReader("hi there\n")))
	require.NoError(t, err)
	assert.Equal(t, []string{"send:hi there"}, backend.sends())
}

func TestRunThreadUpgradeWithoutPrompt(t *testing.T) {
	backend := &threadBackend{}
	sess := newTestSession(t, backend)

	input := "/upgrade gold\n/upgrade plan399\n/quit\n"
	require.NoError(t, runThread(context.Background(), sess, 7, bufio.NewScanner(strings.NewReader(input))))
	assert.Equal(t, []string{"plan:plan399"}, backend.sends())
}

func TestPreview(t *testing.T) {
	assert.Equal(t, "short", preview("short", 10))
	assert.Equal(t, "abcd…", preview("abcdefgh", 5))
}
