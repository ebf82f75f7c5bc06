package citymatch

// Push notification types sent by the backend over the realtime socket or a
// webhook.
const (
	NotifyMessageNew  = "message.new"
	NotifyChatNew     = "chat.new"
	NotifyPlanChanged = "plan.changed"
)

// Notification tells the client that server-side data changed.
type Notification struct {
	Type      string `json:"type"`
	ChatID    ChatID `json:"chatId,omitempty"`
	Sender    UserID `json:"sender,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

// notificationKeys returns the cache keys made stale by n.
func notificationKeys(n Notification) []Key {
	switch n.Type {
	case NotifyMessageNew:
		return []Key{HistoryKey(n.ChatID), ChatListKey()}
	case NotifyChatNew:
		return []Key{ChatListKey()}
	case NotifyPlanChanged:
		return []Key{PlanKey(), ChatListKey()}
	}
	return nil
}

// ApplyNotification invalidates the keys n affects. It reports false for
// notification types the cache does not know.
func (c *Cache) ApplyNotification(n Notification) bool {
	keys := notificationKeys(n)
	if keys == nil {
		return false
	}
	c.Invalidate(keys...)
	return true
}
