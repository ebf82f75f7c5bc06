package citymatch

import (
	"context"
	"strings"
	"sync"
)

// SendState is the state of one composer send cycle.
type SendState int

const (
	Composing SendState = iota
	Sending
	Sent
	LimitBlocked
	SendFailed
)

func (s SendState) String() string {
	switch s {
	case Sending:
		return "sending"
	case Sent:
		return "sent"
	case LimitBlocked:
		return "limit_blocked"
	case SendFailed:
		return "failed"
	default:
		return "composing"
	}
}

type ComposerOption func(*Composer)

// WithUpgradePrompt sets the callback invoked when a send hits the chat
// limit. It typically opens an UpgradeFlow.
func WithUpgradePrompt(fn func(err error)) ComposerOption {
	return func(c *Composer) { c.onLimit = fn }
}

// WithErrorNotifier sets the callback invoked for any other failed send.
func WithErrorNotifier(fn func(err error)) ComposerOption {
	return func(c *Composer) { c.onError = fn }
}

// Composer holds the draft for one chat and runs the send state machine:
// Composing -> Sending -> Sent | LimitBlocked | SendFailed. The draft is
// cleared only on Sent. Failed sends are never retried automatically.
type Composer struct {
	chats   *ChatManager
	chatID  ChatID
	onLimit func(error)
	onError func(error)

	mu    sync.Mutex
	text  string
	state SendState
}

// SetText replaces the draft. Edits are ignored while a send is in flight.
func (c *Composer) SetText(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Sending {
		return
	}
	c.text = text
	c.state = Composing
}

func (c *Composer) Text() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.text
}

func (c *Composer) State() SendState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Submit sends the trimmed draft. A whitespace-only draft is a no-op and
// returns nil. A second Submit while one is in flight is rejected.
func (c *Composer) Submit(ctx context.Context) error {
	c.mu.Lock()
	if c.state == Sending {
		c.mu.Unlock()
		return validationError("send_message", "send already in progress")
	}
	content := strings.TrimSpace(c.text)
	if content == "" {
		c.mu.Unlock()
		return nil
	}
	c.state = Sending
	c.mu.Unlock()

	err := c.chats.SendMessage(ctx, c.chatID, content)

	c.mu.Lock()
	switch {
	case err == nil:
		c.text = ""
		c.state = Sent
	case IsChatLimit(err):
		c.state = LimitBlocked
	default:
		c.state = SendFailed
	}
	state := c.state
	c.mu.Unlock()

	c.chats.metrics.SendOutcome(state)
	switch state {
	case LimitBlocked:
		if c.onLimit != nil {
			c.onLimit(err)
		}
	case SendFailed:
		if c.onError != nil {
			c.onError(err)
		}
	}
	return err
}
