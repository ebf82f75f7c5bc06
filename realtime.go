package citymatch

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
)

// ============================================================================
// Configuration
// ============================================================================

// RealtimeConfig configures the realtime push client.
type RealtimeConfig struct {
	Token                string
	AutoReconnect        bool
	// MaxReconnectAttempts caps consecutive redials. Zero uses the default
	// of 10; a negative value retries forever.
	MaxReconnectAttempts int
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	HeartbeatInterval    time.Duration
	Logger               zerolog.Logger
}

func (c *RealtimeConfig) defaults() {
	if c.ReconnectBaseDelay == 0 {
		c.ReconnectBaseDelay = 1 * time.Second
	}
	if c.ReconnectMaxDelay == 0 {
		c.ReconnectMaxDelay = 30 * time.Second
	}
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = 10
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = 25 * time.Second
	}
}

// RealtimeState represents the connection state.
type RealtimeState string

const (
	StateDisconnected RealtimeState = "disconnected"
	StateConnecting   RealtimeState = "connecting"
	StateConnected    RealtimeState = "connected"
	StateReconnecting RealtimeState = "reconnecting"
)

// realtimeEnvelope is the wire format of every pushed event.
type realtimeEnvelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// ============================================================================
// Reconnector
// ============================================================================

type reconnector struct {
	baseDelay   time.Duration
	maxDelay    time.Duration
	maxAttempts int
	attempt     int
	connectedAt time.Time
}

func newReconnector(config *RealtimeConfig) *reconnector {
	return &reconnector{
		baseDelay:   config.ReconnectBaseDelay,
		maxDelay:    config.ReconnectMaxDelay,
		maxAttempts: config.MaxReconnectAttempts,
	}
}

func (r *reconnector) shouldReconnect() bool {
	return r.maxAttempts < 0 || r.attempt < r.maxAttempts
}

func (r *reconnector) markConnected() {
	r.connectedAt = time.Now()
}

// nextDelay grows exponentially with jitter. A connection that stayed up
// for a minute resets the attempt count.
func (r *reconnector) nextDelay() time.Duration {
	if !r.connectedAt.IsZero() && time.Since(r.connectedAt) > 60*time.Second {
		r.attempt = 0
	}
	jitter := time.Duration(rand.Float64() * float64(r.baseDelay) * 0.5)
	delay := time.Duration(math.Min(
		float64(r.baseDelay)*math.Pow(2, float64(r.attempt))+float64(jitter),
		float64(r.maxDelay),
	))
	r.attempt++
	return delay
}

// ============================================================================
// RealtimeClient
// ============================================================================

// RealtimeClient receives backend push notifications over a WebSocket and
// invalidates the affected cache keys. It complements polling and never
// writes cached values.
type RealtimeClient struct {
	baseURL string
	config  RealtimeConfig
	cache   *Cache
	logger  zerolog.Logger
	recon   *reconnector

	mu               sync.Mutex
	conn             *websocket.Conn
	state            RealtimeState
	intentionalClose bool
	cancelFn         context.CancelFunc

	handlersMu     sync.RWMutex
	onNotification []func(Notification)
	onConnected    []func()
	onDisconnected []func(reason string)
	onReconnecting []func(attempt int, delay time.Duration)
}

// NewRealtimeClient creates a client for the backend at baseURL.
func NewRealtimeClient(baseURL string, cache *Cache, config RealtimeConfig) *RealtimeClient {
	config.defaults()
	return &RealtimeClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		config:  config,
		cache:   cache,
		logger:  config.Logger,
		recon:   newReconnector(&config),
		state:   StateDisconnected,
	}
}

// OnNotification registers a handler called after a notification was
// applied to the cache.
func (rt *RealtimeClient) OnNotification(h func(Notification)) {
	rt.handlersMu.Lock()
	rt.onNotification = append(rt.onNotification, h)
	rt.handlersMu.Unlock()
}

func (rt *RealtimeClient) OnConnected(h func()) {
	rt.handlersMu.Lock()
	rt.onConnected = append(rt.onConnected, h)
	rt.handlersMu.Unlock()
}

func (rt *RealtimeClient) OnDisconnected(h func(reason string)) {
	rt.handlersMu.Lock()
	rt.onDisconnected = append(rt.onDisconnected, h)
	rt.handlersMu.Unlock()
}

func (rt *RealtimeClient) OnReconnecting(h func(attempt int, delay time.Duration)) {
	rt.handlersMu.Lock()
	rt.onReconnecting = append(rt.onReconnecting, h)
	rt.handlersMu.Unlock()
}

// State returns the current connection state.
func (rt *RealtimeClient) State() RealtimeState {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.state
}

func (rt *RealtimeClient) setState(s RealtimeState) {
	rt.mu.Lock()
	rt.state = s
	rt.mu.Unlock()
}

func (rt *RealtimeClient) socketURL() string {
	u := strings.Replace(rt.baseURL, "https://", "wss://", 1)
	u = strings.Replace(u, "http://", "ws://", 1)
	return u + "/ws?token=" + url.QueryEscape(rt.config.Token)
}

// Connect dials the socket and waits for the "authenticated" greeting.
func (rt *RealtimeClient) Connect(ctx context.Context) error {
	rt.mu.Lock()
	if rt.state == StateConnected || rt.state == StateConnecting {
		rt.mu.Unlock()
		return nil
	}
	rt.state = StateConnecting
	rt.intentionalClose = false
	rt.mu.Unlock()

	conn, _, err := websocket.Dial(ctx, rt.socketURL(), nil)
	if err != nil {
		rt.setState(StateDisconnected)
		return fmt.Errorf("websocket dial: %w", err)
	}

	_, data, err := conn.Read(ctx)
	if err != nil {
		conn.Close(websocket.StatusNormalClosure, "")
		rt.setState(StateDisconnected)
		return fmt.Errorf("read auth message: %w", err)
	}
	var env realtimeEnvelope
	if err := json.Unmarshal(data, &env); err != nil || env.Type != "authenticated" {
		conn.Close(websocket.StatusNormalClosure, "")
		rt.setState(StateDisconnected)
		return fmt.Errorf("expected 'authenticated', got '%s'", env.Type)
	}

	connCtx, cancel := context.WithCancel(context.Background())
	rt.mu.Lock()
	rt.conn = conn
	rt.state = StateConnected
	rt.cancelFn = cancel
	rt.mu.Unlock()
	rt.recon.markConnected()
	rt.logger.Info().Str("url", rt.baseURL).Msg("realtime connected")

	rt.handlersMu.RLock()
	for _, h := range rt.onConnected {
		go h()
	}
	rt.handlersMu.RUnlock()

	go rt.readLoop(connCtx, conn)
	go rt.heartbeatLoop(connCtx, conn)
	return nil
}

// Disconnect closes the connection and disables reconnects.
func (rt *RealtimeClient) Disconnect() error {
	rt.mu.Lock()
	rt.intentionalClose = true
	if rt.cancelFn != nil {
		rt.cancelFn()
		rt.cancelFn = nil
	}
	conn := rt.conn
	rt.conn = nil
	rt.state = StateDisconnected
	rt.mu.Unlock()

	if conn != nil {
		return conn.Close(websocket.StatusNormalClosure, "client disconnect")
	}
	return nil
}

func (rt *RealtimeClient) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			rt.mu.Lock()
			intentional := rt.intentionalClose
			if !intentional {
				rt.state = StateDisconnected
				rt.conn = nil
				if rt.cancelFn != nil {
					rt.cancelFn()
					rt.cancelFn = nil
				}
			}
			rt.mu.Unlock()
			if intentional {
				return
			}

			rt.logger.Warn().Err(err).Msg("realtime connection lost")
			rt.handlersMu.RLock()
			for _, h := range rt.onDisconnected {
				go h(err.Error())
			}
			rt.handlersMu.RUnlock()

			if rt.config.AutoReconnect && rt.recon.shouldReconnect() {
				rt.scheduleReconnect()
			}
			return
		}

		var env realtimeEnvelope
		if json.Unmarshal(data, &env) != nil {
			continue
		}
		rt.handle(env)
	}
}

func (rt *RealtimeClient) handle(env realtimeEnvelope) {
	var n Notification
	if len(env.Payload) > 0 {
		if err := json.Unmarshal(env.Payload, &n); err != nil {
			rt.logger.Debug().Str("type", env.Type).Err(err).Msg("bad realtime payload")
			return
		}
	}
	n.Type = env.Type
	if !rt.cache.ApplyNotification(n) {
		return
	}

	rt.handlersMu.RLock()
	for _, h := range rt.onNotification {
		go h(n)
	}
	rt.handlersMu.RUnlock()
}

func (rt *RealtimeClient) heartbeatLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(rt.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil && ctx.Err() == nil {
				conn.Close(websocket.StatusGoingAway, "heartbeat timeout")
				return
			}
		}
	}
}

func (rt *RealtimeClient) scheduleReconnect() {
	delay := rt.recon.nextDelay()
	rt.setState(StateReconnecting)

	rt.handlersMu.RLock()
	for _, h := range rt.onReconnecting {
		go h(rt.recon.attempt, delay)
	}
	rt.handlersMu.RUnlock()

	time.Sleep(delay)

	rt.mu.Lock()
	intentional := rt.intentionalClose
	if !intentional {
		rt.state = StateDisconnected
	}
	rt.mu.Unlock()
	if intentional {
		return
	}

	if err := rt.Connect(context.Background()); err != nil {
		rt.logger.Debug().Err(err).Msg("realtime reconnect failed")
		if rt.config.AutoReconnect && rt.recon.shouldReconnect() {
			rt.scheduleReconnect()
		} else {
			rt.setState(StateDisconnected)
		}
	}
}
