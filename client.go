// Package citymatch is the Go client SDK for the citymatch backend.
//
// It covers the remote access layer (Client), a keyed query cache with
// polling, the chat session manager and the subscription gate.
//
// Example:
//
//	client := citymatch.NewClient("token", citymatch.WithBaseURL("https://api.citymatch.app"))
//	sdk := citymatch.NewSDK(client, "user-123")
//	defer sdk.Close()
//
//	chatID, err := sdk.Chats.StartChat(ctx, "user-456")
//	if citymatch.IsChatLimit(err) {
//		flow := sdk.Plans.Upgrade()
//		flow.OpenFor(err)
//	}
//	_ = sdk.Chats.SendMessage(ctx, chatID, "Hello!")
package citymatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	DefaultBaseURL = "https://api.citymatch.app"
	DefaultTimeout = 30 * time.Second
)

// Backend is the remote access layer consumed by the core. Retries and
// timeouts are the implementation's responsibility.
type Backend interface {
	StartChat(ctx context.Context, counterpart UserID) (ChatID, error)
	SendMessage(ctx context.Context, chatID ChatID, content string) error
	GetUserChats(ctx context.Context) ([]Chat, error)
	GetChatHistory(ctx context.Context, chatID ChatID) ([]ChatMessage, error)
	GetSubscription(ctx context.Context) (*Subscription, error)
	ActivatePlan(ctx context.Context, plan Plan) error
	BlockUser(ctx context.Context, user UserID) error
	ReportUser(ctx context.Context, user UserID) error

	GetCallerUserProfile(ctx context.Context) (*Profile, error)
	SaveCallerUserProfile(ctx context.Context, update *ProfileUpdate) error
	GetUserProfile(ctx context.Context, user UserID) (*Profile, error)
	GetProfilesByCity(ctx context.Context, city string) ([]Profile, error)
}

// ============================================================================
// Client
// ============================================================================

// Client is the HTTP implementation of Backend.
type Client struct {
	token      string
	baseURL    string
	httpClient *http.Client
	logger     zerolog.Logger
}

type ClientOption func(*Client)

func WithBaseURL(url string) ClientOption {
	return func(c *Client) { c.baseURL = strings.TrimRight(url, "/") }
}

func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) { c.httpClient.Timeout = timeout }
}

func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = client }
}

func WithClientLogger(logger zerolog.Logger) ClientOption {
	return func(c *Client) { c.logger = logger }
}

// NewClient creates a new backend client authenticated with token.
func NewClient(token string, opts ...ClientOption) *Client {
	c := &Client{
		token:   token,
		baseURL: DefaultBaseURL,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		logger: zerolog.Nop(),
	}

	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetToken replaces the bearer token used for subsequent calls.
func (c *Client) SetToken(token string) {
	c.token = token
}

// BaseURL returns the configured backend URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// ============================================================================
// Internal request helper
// ============================================================================

func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}, query map[string]string) ([]byte, int, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		params := url.Values{}
		for k, v := range query {
			params.Set(k, v)
		}
		u += "?" + params.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create request: %w", err)
	}

	requestID := uuid.NewString()
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("X-Request-ID", requestID)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug().Str("method", method).Str("path", path).Str("request_id", requestID).Err(err).Msg("request failed")
		return nil, 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	c.logger.Debug().
		Str("method", method).
		Str("path", path).
		Str("request_id", requestID).
		Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(start)).
		Msg("request done")
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("failed to read response: %w", err)
	}
	return data, resp.StatusCode, nil
}

func decodeJSON[T any](data []byte) (*T, error) {
	var result T
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return &result, nil
}

// do performs the request and unwraps the envelope. A failed envelope or a
// non-2xx status is returned as *APIError.
func (c *Client) do(ctx context.Context, method, path string, body interface{}, query map[string]string) (*Result, error) {
	data, status, err := c.doRequest(ctx, method, path, body, query)
	if err != nil {
		return nil, err
	}

	result, decodeErr := decodeJSON[Result](data)
	if status >= 300 {
		if decodeErr == nil && result.Error != nil {
			return nil, result.Error
		}
		return nil, &APIError{
			Code:    fmt.Sprintf("HTTP_%d", status),
			Message: strings.TrimSpace(string(data)),
		}
	}
	if decodeErr != nil {
		return nil, decodeErr
	}
	if !result.OK {
		if result.Error != nil {
			return nil, result.Error
		}
		return nil, &APIError{Code: "UNKNOWN", Message: "request failed"}
	}
	return result, nil
}

func doDecode[T any](c *Client, ctx context.Context, method, path string, body interface{}, query map[string]string) (T, error) {
	var out T
	result, err := c.do(ctx, method, path, body, query)
	if err != nil {
		return out, err
	}
	if err := result.Decode(&out); err != nil {
		return out, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return out, nil
}

// ============================================================================
// Chat Methods
// ============================================================================

func (c *Client) StartChat(ctx context.Context, counterpart UserID) (ChatID, error) {
	data, err := doDecode[struct {
		ChatID ChatID `json:"chatId"`
	}](c, ctx, "POST", "/api/chats", map[string]string{"participant": string(counterpart)}, nil)
	if err != nil {
		return 0, err
	}
	return data.ChatID, nil
}

func (c *Client) SendMessage(ctx context.Context, chatID ChatID, content string) error {
	_, err := c.do(ctx, "POST", "/api/chats/"+chatID.String()+"/messages", map[string]string{"content": content}, nil)
	return err
}

func (c *Client) GetUserChats(ctx context.Context) ([]Chat, error) {
	return doDecode[[]Chat](c, ctx, "GET", "/api/chats", nil, nil)
}

func (c *Client) GetChatHistory(ctx context.Context, chatID ChatID) ([]ChatMessage, error) {
	return doDecode[[]ChatMessage](c, ctx, "GET", "/api/chats/"+chatID.String()+"/messages", nil, nil)
}

// ============================================================================
// Subscription Methods
// ============================================================================

// GetSubscription returns the caller's subscription. A caller who never
// activated a plan gets PlanNone.
func (c *Client) GetSubscription(ctx context.Context) (*Subscription, error) {
	sub, err := doDecode[Subscription](c, ctx, "GET", "/api/subscription/plan", nil, nil)
	if err != nil {
		return nil, err
	}
	if sub.Plan == "" {
		sub.Plan = PlanNone
	}
	return &sub, nil
}

func (c *Client) ActivatePlan(ctx context.Context, plan Plan) error {
	_, err := c.do(ctx, "POST", "/api/subscription/plan", map[string]string{"plan": string(plan)}, nil)
	return err
}

// ============================================================================
// Moderation Methods
// ============================================================================

func (c *Client) BlockUser(ctx context.Context, user UserID) error {
	_, err := c.do(ctx, "POST", "/api/users/"+url.PathEscape(string(user))+"/block", nil, nil)
	return err
}

func (c *Client) ReportUser(ctx context.Context, user UserID) error {
	_, err := c.do(ctx, "POST", "/api/users/"+url.PathEscape(string(user))+"/report", nil, nil)
	return err
}

// ============================================================================
// Profile Methods
// ============================================================================

// GetCallerUserProfile returns nil without error when no profile was saved yet.
func (c *Client) GetCallerUserProfile(ctx context.Context) (*Profile, error) {
	return doDecode[*Profile](c, ctx, "GET", "/api/profile", nil, nil)
}

func (c *Client) SaveCallerUserProfile(ctx context.Context, update *ProfileUpdate) error {
	_, err := c.do(ctx, "PUT", "/api/profile", update, nil)
	return err
}

func (c *Client) GetUserProfile(ctx context.Context, user UserID) (*Profile, error) {
	return doDecode[*Profile](c, ctx, "GET", "/api/users/"+url.PathEscape(string(user))+"/profile", nil, nil)
}

func (c *Client) GetProfilesByCity(ctx context.Context, city string) ([]Profile, error) {
	return doDecode[[]Profile](c, ctx, "GET", "/api/profiles", nil, map[string]string{"city": city})
}
