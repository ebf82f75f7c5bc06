package citymatch

import (
	"context"
	"errors"
	"sync"
	"time"
)

// fakeBackend is an in-memory Backend that enforces the chat-partner limit
// the way the real backend does. Calls are counted by method name; a gate
// registered for a name blocks that call until the gate is closed or fed.
type fakeBackend struct {
	mu       sync.Mutex
	self     UserID
	calls    map[string]int
	gates    map[string]chan struct{}
	entered  chan string
	chats    []Chat
	plan     Plan
	started  int64
	nextID   ChatID
	clock    int64
	profile  *Profile
	users    map[UserID]*Profile
	byCity   map[string][]Profile
	blocked  map[UserID]bool
	reported map[UserID]int

	failures map[string]error
}

func newFakeBackend(self UserID) *fakeBackend {
	return &fakeBackend{
		self:     self,
		calls:    make(map[string]int),
		gates:    make(map[string]chan struct{}),
		entered:  make(chan string, 256),
		plan:     PlanNone,
		nextID:   1,
		users:    make(map[UserID]*Profile),
		byCity:   make(map[string][]Profile),
		blocked:  make(map[UserID]bool),
		reported: make(map[UserID]int),
		failures: make(map[string]error),
	}
}

func (f *fakeBackend) enter(name string) error {
	f.mu.Lock()
	f.calls[name]++
	g := f.gates[name]
	err := f.failures[name]
	f.mu.Unlock()

	select {
	case f.entered <- name:
	default:
	}
	if g != nil {
		<-g
	}
	return err
}

func (f *fakeBackend) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeBackend) gate(name string) chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	g := make(chan struct{})
	f.gates[name] = g
	return g
}

func (f *fakeBackend) ungate(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.gates, name)
}

func (f *fakeBackend) fail(name string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.failures, name)
		return
	}
	f.failures[name] = err
}

// waitEntered blocks until a call named name has started.
func (f *fakeBackend) waitEntered(name string, timeout time.Duration) bool {
	deadline := time.After(timeout)
	for {
		select {
		case got := <-f.entered:
			if got == name {
				return true
			}
		case <-deadline:
			return false
		}
	}
}

func (f *fakeBackend) setPlan(p Plan) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.plan = p
	f.started = f.tick()
}

func (f *fakeBackend) tick() int64 {
	now := time.Now().UnixNano()
	if now <= f.clock {
		now = f.clock + 1
	}
	f.clock = now
	return now
}

func (f *fakeBackend) StartChat(ctx context.Context, counterpart UserID) (ChatID, error) {
	if err := f.enter("StartChat"); err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	want := NewPair(f.self, counterpart)
	for _, c := range f.chats {
		if c.Pair() == want {
			return c.ID, nil
		}
	}
	if DistinctCounterparts(f.chats, f.self) >= ChatLimit(f.plan) {
		return 0, &APIError{Code: "INTERNAL", Message: "Chat limit reached for your current plan"}
	}
	id := f.nextID
	f.nextID++
	f.chats = append(f.chats, Chat{ID: id, Participant1: f.self, Participant2: counterpart})
	return id, nil
}

func (f *fakeBackend) SendMessage(ctx context.Context, chatID ChatID, content string) error {
	if err := f.enter("SendMessage"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.chats {
		if f.chats[i].ID == chatID {
			f.chats[i].Messages = append(f.chats[i].Messages, ChatMessage{
				Content:   content,
				Sender:    f.self,
				Timestamp: f.tick(),
			})
			return nil
		}
	}
	return &APIError{Code: "NOT_FOUND", Message: "chat not found"}
}

func (f *fakeBackend) GetUserChats(ctx context.Context) ([]Chat, error) {
	// snapshot before entering so a gated call returns what it started with
	f.mu.Lock()
	out := make([]Chat, len(f.chats))
	for i, c := range f.chats {
		c.Messages = append([]ChatMessage(nil), c.Messages...)
		out[i] = c
	}
	f.mu.Unlock()

	if err := f.enter("GetUserChats"); err != nil {
		return nil, err
	}
	return out, nil
}

func (f *fakeBackend) GetChatHistory(ctx context.Context, chatID ChatID) ([]ChatMessage, error) {
	if err := f.enter("GetChatHistory"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.chats {
		if c.ID == chatID {
			return append([]ChatMessage(nil), c.Messages...), nil
		}
	}
	return nil, &APIError{Code: "NOT_FOUND", Message: "chat not found"}
}

func (f *fakeBackend) GetSubscription(ctx context.Context) (*Subscription, error) {
	// read before entering so a gated call returns the plan it started with
	f.mu.Lock()
	s := &Subscription{Plan: f.plan, StartTime: f.started}
	f.mu.Unlock()
	if err := f.enter("GetSubscription"); err != nil {
		return nil, err
	}
	return s, nil
}

func (f *fakeBackend) ActivatePlan(ctx context.Context, plan Plan) error {
	if err := f.enter("ActivatePlan"); err != nil {
		return err
	}
	f.setPlan(plan)
	return nil
}

func (f *fakeBackend) BlockUser(ctx context.Context, user UserID) error {
	if err := f.enter("BlockUser"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blocked[user] = true
	return nil
}

func (f *fakeBackend) ReportUser(ctx context.Context, user UserID) error {
	if err := f.enter("ReportUser"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reported[user]++
	return nil
}

func (f *fakeBackend) GetCallerUserProfile(ctx context.Context) (*Profile, error) {
	if err := f.enter("GetCallerUserProfile"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.profile, nil
}

func (f *fakeBackend) SaveCallerUserProfile(ctx context.Context, update *ProfileUpdate) error {
	if err := f.enter("SaveCallerUserProfile"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	g, cw := update.Gender, update.ConnectWith
	f.profile = &Profile{
		Owner:       f.self,
		Name:        update.Name,
		Bio:         update.Bio,
		City:        update.City,
		Interests:   update.Interests,
		Photo:       update.Photo,
		Gender:      &g,
		ConnectWith: &cw,
	}
	return nil
}

func (f *fakeBackend) GetUserProfile(ctx context.Context, user UserID) (*Profile, error) {
	if err := f.enter("GetUserProfile"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.users[user]
	if !ok {
		return nil, &APIError{Code: "NOT_FOUND", Message: "profile not found"}
	}
	return p, nil
}

func (f *fakeBackend) GetProfilesByCity(ctx context.Context, city string) ([]Profile, error) {
	if err := f.enter("GetProfilesByCity"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Profile
	for _, p := range f.byCity[city] {
		if !f.blocked[p.Owner] {
			out = append(out, p)
		}
	}
	return out, nil
}

// addChat inserts a chat without going through StartChat.
func (f *fakeBackend) addChat(counterpart UserID) ChatID {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextID
	f.nextID++
	f.chats = append(f.chats, Chat{ID: id, Participant1: counterpart, Participant2: f.self})
	return id
}

// recordingMetrics counts Metrics calls.
type recordingMetrics struct {
	mu          sync.Mutex
	hits        map[KeyKind]int
	fetches     map[KeyKind]int
	discards    map[KeyKind]int
	invalidates map[KeyKind]int
	outcomes    map[SendState]int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{
		hits:        make(map[KeyKind]int),
		fetches:     make(map[KeyKind]int),
		discards:    make(map[KeyKind]int),
		invalidates: make(map[KeyKind]int),
		outcomes:    make(map[SendState]int),
	}
}

func (m *recordingMetrics) CacheHit(k KeyKind)        { m.inc(m.hits, k) }
func (m *recordingMetrics) CacheFetch(k KeyKind)      { m.inc(m.fetches, k) }
func (m *recordingMetrics) CacheDiscard(k KeyKind)    { m.inc(m.discards, k) }
func (m *recordingMetrics) CacheInvalidate(k KeyKind) { m.inc(m.invalidates, k) }

func (m *recordingMetrics) SendOutcome(s SendState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes[s]++
}

func (m *recordingMetrics) inc(counts map[KeyKind]int, k KeyKind) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts[k]++
}

func (m *recordingMetrics) get(counts map[KeyKind]int, k KeyKind) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return counts[k]
}

var errNetwork = errors.New("dial tcp: connection refused")

var _ Backend = (*fakeBackend)(nil)
