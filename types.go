package citymatch

import (
	"encoding/json"
	"sort"
	"strconv"
	"time"
)

// ============================================================================
// Shared Types
// ============================================================================

// APIError represents a backend error.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return e.Message
	}
	return e.Code + ": " + e.Message
}

// Result is the generic backend response envelope.
type Result struct {
	OK    bool            `json:"ok"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error *APIError       `json:"error,omitempty"`
}

// Decode unmarshals the Data field into the provided type.
func (r *Result) Decode(v interface{}) error {
	if r.Data == nil {
		return nil
	}
	return json.Unmarshal(r.Data, v)
}

// ============================================================================
// Identity & Profiles
// ============================================================================

// UserID is the opaque identity issued by the authentication service.
type UserID string

func (u UserID) String() string { return string(u) }

type Gender string

const (
	Female Gender = "female"
	Male   Gender = "male"
)

// Valid reports whether g is one of the known genders.
func (g Gender) Valid() bool {
	return g == Female || g == Male
}

// ImageRef points at a profile photo held by the backend's blob store.
type ImageRef struct {
	Name     string `json:"name"`
	FileType string `json:"fileType"`
	URL      string `json:"url"`
}

type Profile struct {
	Owner       UserID    `json:"owner"`
	Name        string    `json:"name"`
	Bio         string    `json:"bio"`
	City        string    `json:"city"`
	Interests   []string  `json:"interests"`
	Photo       *ImageRef `json:"profilePhoto,omitempty"`
	Gender      *Gender   `json:"gender,omitempty"`
	ConnectWith *Gender   `json:"connectWith,omitempty"`
}

// Incomplete reports whether the profile lacks the fields discovery needs.
func (p *Profile) Incomplete() bool {
	return p.Gender == nil || p.ConnectWith == nil
}

// ProfileUpdate is the payload saved by the profile owner.
type ProfileUpdate struct {
	Name        string    `json:"name"`
	Bio         string    `json:"bio"`
	City        string    `json:"city"`
	Interests   []string  `json:"interests"`
	Photo       *ImageRef `json:"profilePhoto,omitempty"`
	Gender      Gender    `json:"gender"`
	ConnectWith Gender    `json:"connectWith"`
}

// ============================================================================
// Chats
// ============================================================================

// ChatID is the backend-assigned, monotonic chat identifier.
type ChatID uint64

func (id ChatID) String() string { return strconv.FormatUint(uint64(id), 10) }

// ParseChatID parses the decimal form produced by ChatID.String.
func ParseChatID(s string) (ChatID, error) {
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, err
	}
	return ChatID(n), nil
}

// ChatMessage is immutable once created. Timestamp is in nanoseconds.
type ChatMessage struct {
	Content   string `json:"content"`
	Sender    UserID `json:"sender"`
	Timestamp int64  `json:"timestamp"`
}

// Time converts the nanosecond timestamp.
func (m ChatMessage) Time() time.Time {
	return time.Unix(0, m.Timestamp)
}

type Chat struct {
	ID           ChatID        `json:"id"`
	Participant1 UserID        `json:"participant1"`
	Participant2 UserID        `json:"participant2"`
	Messages     []ChatMessage `json:"messages"`
}

// Counterpart returns the participant that is not self.
func (c *Chat) Counterpart(self UserID) UserID {
	if c.Participant1 == self {
		return c.Participant2
	}
	return c.Participant1
}

// LastMessage returns the most recent message, or nil for an empty chat.
func (c *Chat) LastMessage() *ChatMessage {
	if len(c.Messages) == 0 {
		return nil
	}
	return &c.Messages[len(c.Messages)-1]
}

// Pair returns the canonical participant pair of the chat.
func (c *Chat) Pair() Pair {
	return NewPair(c.Participant1, c.Participant2)
}

// Pair is an unordered participant pair in canonical (sorted) order, so
// NewPair(a, b) == NewPair(b, a).
type Pair struct {
	Low  UserID
	High UserID
}

func NewPair(a, b UserID) Pair {
	if b < a {
		a, b = b, a
	}
	return Pair{Low: a, High: b}
}

// Has reports whether u is one of the pair.
func (p Pair) Has(u UserID) bool {
	return p.Low == u || p.High == u
}

// SortMessages orders messages by timestamp, keeping arrival order for ties.
func SortMessages(msgs []ChatMessage) {
	sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].Timestamp < msgs[j].Timestamp })
}

// SortByActivity orders chats by their last message timestamp, most recent
// first. Chats without messages sort after active ones, by ChatID.
func SortByActivity(chats []Chat) {
	sort.SliceStable(chats, func(i, j int) bool {
		li, lj := chats[i].LastMessage(), chats[j].LastMessage()
		switch {
		case li != nil && lj != nil:
			if li.Timestamp != lj.Timestamp {
				return li.Timestamp > lj.Timestamp
			}
			return chats[i].ID < chats[j].ID
		case li != nil:
			return true
		case lj != nil:
			return false
		default:
			return chats[i].ID < chats[j].ID
		}
	})
}

// DistinctCounterparts counts the distinct users self holds chats with.
func DistinctCounterparts(chats []Chat, self UserID) int {
	seen := make(map[Pair]struct{}, len(chats))
	for i := range chats {
		p := chats[i].Pair()
		if !p.Has(self) || p.Low == p.High {
			continue
		}
		seen[p] = struct{}{}
	}
	return len(seen)
}

// ============================================================================
// Subscription Types
// ============================================================================

type Plan string

const (
	PlanNone Plan = "none"
	Plan98   Plan = "plan98"
	Plan199  Plan = "plan199"
	Plan399  Plan = "plan399"
)

// Valid reports whether p is a known tier.
func (p Plan) Valid() bool {
	switch p {
	case PlanNone, Plan98, Plan199, Plan399:
		return true
	}
	return false
}

// Subscription is the user's current plan. Times are in nanoseconds.
type Subscription struct {
	Plan       Plan   `json:"plan"`
	StartTime  int64  `json:"startTime"`
	ExpiryTime *int64 `json:"expiryTime,omitempty"`
}

// Expired reports whether the subscription has an expiry before now.
func (s *Subscription) Expired(now time.Time) bool {
	if s.ExpiryTime == nil {
		return false
	}
	return now.UnixNano() >= *s.ExpiryTime
}
