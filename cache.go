package citymatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ============================================================================
// Keys
// ============================================================================

// KeyKind identifies the resource a cache key addresses.
type KeyKind int

const (
	KeyProfile KeyKind = iota + 1
	KeyUserProfile
	KeyProfilesByCity
	KeyChatList
	KeyHistory
	KeyPlan
)

func (k KeyKind) String() string {
	switch k {
	case KeyProfile:
		return "profile"
	case KeyUserProfile:
		return "user_profile"
	case KeyProfilesByCity:
		return "profiles_by_city"
	case KeyChatList:
		return "chat_list"
	case KeyHistory:
		return "history"
	case KeyPlan:
		return "plan"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Key addresses one cached query result.
type Key struct {
	Kind KeyKind
	ID   string
}

func (k Key) String() string {
	if k.ID == "" {
		return k.Kind.String()
	}
	return k.Kind.String() + "/" + k.ID
}

func ProfileKey() Key                { return Key{Kind: KeyProfile} }
func UserProfileKey(u UserID) Key    { return Key{Kind: KeyUserProfile, ID: string(u)} }
func ProfilesByCityKey(c string) Key { return Key{Kind: KeyProfilesByCity, ID: c} }
func ChatListKey() Key               { return Key{Kind: KeyChatList} }
func HistoryKey(id ChatID) Key       { return Key{Kind: KeyHistory, ID: id.String()} }
func PlanKey() Key                   { return Key{Kind: KeyPlan} }

// ============================================================================
// Snapshots & Observers
// ============================================================================

// State is the observable state of a cache key.
type State int

const (
	Absent State = iota
	Pending
	Ready
	Failed
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Ready:
		return "ready"
	case Failed:
		return "failed"
	default:
		return "absent"
	}
}

// Snapshot is the value of a key at one point in time. Value is shared with
// other readers and must be treated as read-only.
type Snapshot struct {
	State State
	Value any
	Err   error
}

// Event is delivered to observers whenever a key's snapshot changes.
type Event struct {
	Key      Key
	Snapshot Snapshot
}

type Observer func(Event)

// Fetcher loads the value for a key from the backend.
type Fetcher func(ctx context.Context, key Key) (any, error)

// Watch is an observer registration.
type Watch struct {
	cache *Cache
	key   Key
	id    uint64
	once  sync.Once
}

// Key returns the observed key.
func (s *Watch) Key() Key { return s.key }

// Unsubscribe removes the observer. Polling for the key stops when the last
// observer leaves.
func (s *Watch) Unsubscribe() {
	s.once.Do(func() { s.cache.unsubscribe(s.key, s.id) })
}

// ============================================================================
// Cache
// ============================================================================

type call struct {
	gen        uint64
	done       chan struct{}
	val        any
	err        error
	background bool
	waiters    int
	stale      bool
}

type entry struct {
	key       Key
	gen       uint64
	state     State
	value     any
	err       error
	call      *call
	observers map[uint64]*observer
	version   uint64
	pollEvery time.Duration
}

// observer serializes calls to one callback and drops events older than the
// last one it accepted. Events queue in a mailbox drained by whichever
// goroutine finds the observer idle; the lock is never held across fn, so a
// callback may mutate the cache it observes.
type observer struct {
	fn      Observer
	mu      sync.Mutex
	last    uint64
	pending []Event
	running bool
}

func (o *observer) deliver(version uint64, ev Event) {
	o.mu.Lock()
	if version <= o.last {
		o.mu.Unlock()
		return
	}
	o.last = version
	o.pending = append(o.pending, ev)
	if o.running {
		o.mu.Unlock()
		return
	}
	o.running = true
	for len(o.pending) > 0 {
		next := o.pending[0]
		o.pending = o.pending[1:]
		o.mu.Unlock()
		o.call(next)
		o.mu.Lock()
	}
	o.pending = nil
	o.running = false
	o.mu.Unlock()
}

func (o *observer) call(ev Event) {
	defer func() { recover() }() // swallow panics in user callbacks
	o.fn(ev)
}

func (e *entry) snapshot() Snapshot {
	return Snapshot{State: e.state, Value: e.value, Err: e.err}
}

type dispatch struct {
	version   uint64
	event     Event
	observers []*observer
}

// Cache holds the latest known value for each key. It is the single owner of
// cached entries: values change only through fetch completion or Invalidate.
// Concurrent reads of one key share a single in-flight fetch, and a fetch
// that resolves after its key was invalidated is discarded.
type Cache struct {
	mu       sync.Mutex
	entries  map[Key]*entry
	fetchers map[KeyKind]Fetcher
	genSeq   uint64
	obsSeq   uint64

	poller  *Poller
	logger  zerolog.Logger
	metrics Metrics

	ctx    context.Context
	cancel context.CancelFunc
}

// CacheOption configures a Cache.
type CacheOption func(*Cache)

func WithCacheLogger(logger zerolog.Logger) CacheOption {
	return func(c *Cache) { c.logger = logger }
}

func WithCacheMetrics(m Metrics) CacheOption {
	return func(c *Cache) { c.metrics = m }
}

// NewCache creates a cache and starts its poller.
func NewCache(opts ...CacheOption) *Cache {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Cache{
		entries:  make(map[Key]*entry),
		fetchers: make(map[KeyKind]Fetcher),
		logger:   zerolog.Nop(),
		metrics:  nopMetrics{},
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.poller = NewPoller(c.Refresh)
	c.poller.Start()
	return c
}

// Close stops polling and cancels in-flight fetches.
func (c *Cache) Close() {
	c.poller.Stop()
	c.cancel()
}

// Register sets the fetcher used for every key of kind.
func (c *Cache) Register(kind KeyKind, f Fetcher) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fetchers[kind] = f
}

func (c *Cache) entryLocked(key Key) *entry {
	e, ok := c.entries[key]
	if !ok {
		c.genSeq++
		e = &entry{key: key, gen: c.genSeq, observers: make(map[uint64]*observer)}
		c.entries[key] = e
	}
	return e
}

// Peek returns the current snapshot without blocking. A key with no value
// and no fetch in flight starts one, so the returned state is Pending.
func (c *Cache) Peek(key Key) Snapshot {
	c.mu.Lock()
	e := c.entryLocked(key)
	var d *dispatch
	if e.state == Absent && e.call == nil {
		d = c.startFetchLocked(e, false)
	}
	snap := e.snapshot()
	c.mu.Unlock()

	c.deliver(d)
	return snap
}

// Get returns the cached value for key, fetching it if needed. Concurrent
// callers share one in-flight fetch.
func (c *Cache) Get(ctx context.Context, key Key) (any, error) {
	for {
		c.mu.Lock()
		e := c.entryLocked(key)
		if e.state == Ready {
			v := e.value
			c.mu.Unlock()
			c.metrics.CacheHit(key.Kind)
			return v, nil
		}
		var d *dispatch
		cl := e.call
		if cl == nil {
			d = c.startFetchLocked(e, false)
			cl = e.call
		}
		cl.waiters++
		c.mu.Unlock()
		c.deliver(d)

		select {
		case <-cl.done:
		case <-ctx.Done():
			c.mu.Lock()
			cl.waiters--
			c.mu.Unlock()
			return nil, ctx.Err()
		}

		if cl.stale {
			// invalidated while in flight; read the fresh value
			continue
		}
		return cl.val, cl.err
	}
}

// Refresh refetches key in the background while keeping its current value
// visible. It is a no-op when a fetch is already in flight or when nobody
// observes the key.
func (c *Cache) Refresh(key Key) {
	c.mu.Lock()
	e, ok := c.entries[key]
	if !ok || e.call != nil || len(e.observers) == 0 {
		c.mu.Unlock()
		return
	}
	d := c.startFetchLocked(e, true)
	c.mu.Unlock()
	c.deliver(d)
}

// Invalidate discards the cached values of keys so the next read refetches.
// Observed keys are refetched immediately; results of fetches issued before
// the invalidation are dropped.
func (c *Cache) Invalidate(keys ...Key) {
	var ds []*dispatch
	c.mu.Lock()
	for _, key := range keys {
		e, ok := c.entries[key]
		if !ok {
			continue
		}
		ds = append(ds, c.invalidateLocked(e)...)
	}
	c.mu.Unlock()
	c.deliver(ds...)
}

// InvalidateKind invalidates every cached key of kind.
func (c *Cache) InvalidateKind(kind KeyKind) {
	var ds []*dispatch
	c.mu.Lock()
	for key, e := range c.entries {
		if key.Kind == kind {
			ds = append(ds, c.invalidateLocked(e)...)
		}
	}
	c.mu.Unlock()
	c.deliver(ds...)
}

func (c *Cache) invalidateLocked(e *entry) []*dispatch {
	c.genSeq++
	e.gen = c.genSeq
	e.call = nil
	e.value = nil
	e.err = nil
	e.state = Absent
	c.metrics.CacheInvalidate(e.key.Kind)
	c.logger.Debug().Str("key", e.key.String()).Msg("cache key invalidated")

	if len(e.observers) > 0 {
		return []*dispatch{c.startFetchLocked(e, true)}
	}
	return nil
}

// Subscribe registers fn for snapshot changes of key. The first observer of
// an absent key triggers a fetch and resumes polling if an interval is set.
func (c *Cache) Subscribe(key Key, fn Observer) *Watch {
	c.mu.Lock()
	e := c.entryLocked(key)
	c.obsSeq++
	id := c.obsSeq
	e.observers[id] = &observer{fn: fn}
	if len(e.observers) == 1 && e.pollEvery > 0 {
		c.poller.Schedule(key, e.pollEvery)
	}
	var d *dispatch
	if e.state == Absent && e.call == nil {
		d = c.startFetchLocked(e, true)
	}
	c.mu.Unlock()
	c.deliver(d)

	return &Watch{cache: c, key: key, id: id}
}

func (c *Cache) unsubscribe(key Key, id uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return
	}
	delete(e.observers, id)
	if len(e.observers) == 0 {
		c.poller.Unschedule(key)
	}
}

// SetPollInterval registers key for periodic background refresh. Polling
// only runs while the key has observers.
func (c *Cache) SetPollInterval(key Key, every time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.entryLocked(key)
	e.pollEvery = every
	if len(e.observers) > 0 {
		c.poller.Schedule(key, every)
	}
}

// Observers returns the number of observers of key.
func (c *Cache) Observers(key Key) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		return len(e.observers)
	}
	return 0
}

// ============================================================================
// Fetch lifecycle
// ============================================================================

func (c *Cache) startFetchLocked(e *entry, background bool) *dispatch {
	cl := &call{gen: e.gen, done: make(chan struct{}), background: background}
	e.call = cl

	var d *dispatch
	if e.state != Ready && e.state != Pending {
		e.state = Pending
		e.err = nil
		d = c.dispatchLocked(e)
	}

	fetch := c.fetchers[e.key.Kind]
	c.metrics.CacheFetch(e.key.Kind)
	c.logger.Debug().Str("key", e.key.String()).Bool("background", background).Msg("cache fetch started")

	go c.runFetch(e.key, cl, fetch)
	return d
}

func (c *Cache) runFetch(key Key, cl *call, fetch Fetcher) {
	var (
		val any
		err error
	)
	if fetch == nil {
		err = fmt.Errorf("no fetcher registered for %s", key.Kind)
	} else {
		val, err = fetch(c.ctx, key)
	}

	c.mu.Lock()
	cl.val, cl.err = val, err
	e := c.entries[key]
	var d *dispatch
	switch {
	case e == nil || e.gen != cl.gen || e.call != cl:
		cl.stale = true
		c.metrics.CacheDiscard(key.Kind)
		c.logger.Debug().Str("key", key.String()).Msg("discarded result of invalidated fetch")

	case cl.background && len(e.observers) == 0 && cl.waiters == 0:
		e.call = nil
		if e.state == Pending {
			e.state = Absent
		}
		c.metrics.CacheDiscard(key.Kind)
		c.logger.Debug().Str("key", key.String()).Msg("discarded result for unobserved key")

	case err != nil:
		e.call = nil
		c.logger.Warn().Str("key", key.String()).Err(err).Msg("cache fetch failed")
		if e.state == Ready && cl.background {
			// keep showing the last good value; the next poll tries again
			e.err = err
		} else {
			e.state = Failed
			e.value = nil
			e.err = err
			d = c.dispatchLocked(e)
		}

	default:
		e.call = nil
		e.state = Ready
		e.value = val
		e.err = nil
		d = c.dispatchLocked(e)
	}
	close(cl.done)
	c.mu.Unlock()

	c.deliver(d)
}

func (c *Cache) dispatchLocked(e *entry) *dispatch {
	if len(e.observers) == 0 {
		return nil
	}
	e.version++
	obs := make([]*observer, 0, len(e.observers))
	for _, o := range e.observers {
		obs = append(obs, o)
	}
	return &dispatch{version: e.version, event: Event{Key: e.key, Snapshot: e.snapshot()}, observers: obs}
}

func (c *Cache) deliver(ds ...*dispatch) {
	for _, d := range ds {
		if d == nil {
			continue
		}
		for _, o := range d.observers {
			o.deliver(d.version, d.event)
		}
	}
}

// getAs reads key and asserts the cached value to T.
func getAs[T any](ctx context.Context, c *Cache, key Key) (T, error) {
	var zero T
	v, err := c.Get(ctx, key)
	if err != nil {
		return zero, err
	}
	if v == nil {
		return zero, nil
	}
	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("cache value for %s has type %T", key, v)
	}
	return t, nil
}
