package citymatch

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Poll intervals for observed chat data.
const (
	ChatListPollInterval = 5 * time.Second
	HistoryPollInterval  = 3 * time.Second
)

// ============================================================================
// ChatManager
// ============================================================================

// ChatManager starts chats, sends messages and serves cached chat reads.
// Every failure it returns is an *OperationError.
type ChatManager struct {
	backend Backend
	cache   *Cache
	self    UserID
	logger  zerolog.Logger
	metrics Metrics

	listEvery    time.Duration
	historyEvery time.Duration

	mu     sync.Mutex
	active *ActiveChat
}

func newChatManager(backend Backend, cache *Cache, self UserID, logger zerolog.Logger, metrics Metrics) *ChatManager {
	m := &ChatManager{
		backend:      backend,
		cache:        cache,
		self:         self,
		logger:       logger,
		metrics:      metrics,
		listEvery:    ChatListPollInterval,
		historyEvery: HistoryPollInterval,
	}

	cache.Register(KeyChatList, func(ctx context.Context, _ Key) (any, error) {
		return backend.GetUserChats(ctx)
	})
	cache.Register(KeyHistory, func(ctx context.Context, key Key) (any, error) {
		id, err := ParseChatID(key.ID)
		if err != nil {
			return nil, err
		}
		msgs, err := backend.GetChatHistory(ctx, id)
		if err != nil {
			return nil, err
		}
		SortMessages(msgs)
		return msgs, nil
	})
	return m
}

// Self returns the caller's identity.
func (m *ChatManager) Self() UserID { return m.self }

// StartChat opens a chat with counterpart and returns its ID. The chat list
// is invalidated before StartChat returns.
func (m *ChatManager) StartChat(ctx context.Context, counterpart UserID) (ChatID, error) {
	const op = "start_chat"
	if counterpart == "" {
		return 0, validationError(op, "counterpart is required")
	}
	if counterpart == m.self {
		return 0, validationError(op, "cannot start a chat with yourself")
	}

	id, err := m.backend.StartChat(ctx, counterpart)
	if err != nil {
		return 0, m.fail(op, err)
	}
	m.cache.AfterMutation(MutationStartChat, id)
	m.logger.Debug().Str("counterpart", counterpart.String()).Stringer("chat_id", id).Msg("chat started")
	return id, nil
}

// SendMessage appends content to the chat. Whitespace-only content is
// rejected without a round trip. On success the chat's history and the chat
// list are invalidated before SendMessage returns.
func (m *ChatManager) SendMessage(ctx context.Context, chatID ChatID, content string) error {
	const op = "send_message"
	content = strings.TrimSpace(content)
	if content == "" {
		return validationError(op, "message is empty")
	}

	if err := m.backend.SendMessage(ctx, chatID, content); err != nil {
		return m.fail(op, err)
	}
	m.cache.AfterMutation(MutationSendMessage, chatID)
	return nil
}

func (m *ChatManager) fail(op string, err error) *OperationError {
	oe := classify(op, err)
	if oe.Kind == KindLimitExceeded {
		m.logger.Info().Str("op", op).Msg("chat limit reached")
	} else {
		m.logger.Warn().Str("op", op).Err(err).Msg("chat operation failed")
	}
	return oe
}

// History returns the chat's messages ordered by timestamp.
func (m *ChatManager) History(ctx context.Context, chatID ChatID) ([]ChatMessage, error) {
	msgs, err := getAs[[]ChatMessage](ctx, m.cache, HistoryKey(chatID))
	if err != nil {
		return nil, classify("history", err)
	}
	return msgs, nil
}

// ChatList returns the caller's chats in backend order.
func (m *ChatManager) ChatList(ctx context.Context) ([]Chat, error) {
	chats, err := getAs[[]Chat](ctx, m.cache, ChatListKey())
	if err != nil {
		return nil, classify("chat_list", err)
	}
	return chats, nil
}

// WatchChatList observes the chat list, polling it while fn stays
// subscribed.
func (m *ChatManager) WatchChatList(fn Observer) *Watch {
	key := ChatListKey()
	m.cache.SetPollInterval(key, m.listEvery)
	return m.cache.Subscribe(key, fn)
}

// Composer returns a message composer bound to chatID.
func (m *ChatManager) Composer(chatID ChatID, opts ...ComposerOption) *Composer {
	c := &Composer{chats: m, chatID: chatID}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ============================================================================
// ActiveChat
// ============================================================================

// ActiveChat is the open conversation whose history is polled. At most one
// chat is active per manager.
type ActiveChat struct {
	ID ChatID

	mgr   *ChatManager
	watch *Watch
	once  sync.Once
}

// OpenChat makes chatID the active chat, closing the previously active one,
// and delivers history snapshots to fn until Close.
func (m *ChatManager) OpenChat(chatID ChatID, fn Observer) *ActiveChat {
	key := HistoryKey(chatID)
	m.cache.SetPollInterval(key, m.historyEvery)
	ac := &ActiveChat{ID: chatID, mgr: m}
	ac.watch = m.cache.Subscribe(key, fn)

	m.mu.Lock()
	prev := m.active
	m.active = ac
	m.mu.Unlock()

	if prev != nil {
		prev.Close()
	}
	return ac
}

// Active returns the active chat, or nil.
func (m *ChatManager) Active() *ActiveChat {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// Messages returns the currently cached history without blocking.
func (a *ActiveChat) Messages() Snapshot {
	return a.mgr.cache.Peek(HistoryKey(a.ID))
}

// Send sends content to the active chat.
func (a *ActiveChat) Send(ctx context.Context, content string) error {
	return a.mgr.SendMessage(ctx, a.ID, content)
}

// Close stops observing and polling the chat. Safe to call more than once.
func (a *ActiveChat) Close() {
	a.once.Do(func() {
		a.watch.Unsubscribe()
		a.mgr.mu.Lock()
		if a.mgr.active == a {
			a.mgr.active = nil
		}
		a.mgr.mu.Unlock()
	})
}
