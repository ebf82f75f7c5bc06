package citymatch

import (
	"github.com/rs/zerolog"
)

// SDK wires the cache and the components that share it.
type SDK struct {
	Cache      *Cache
	Chats      *ChatManager
	Plans      *SubscriptionGate
	Moderation *Moderation
	Discovery  *Discovery

	logger zerolog.Logger
}

type sdkOptions struct {
	logger  zerolog.Logger
	metrics Metrics
}

type Option func(*sdkOptions)

// WithLogger sets the logger shared by every component.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *sdkOptions) { o.logger = logger }
}

// WithMetrics sets the metrics sink, for example a *Collector.
func WithMetrics(m Metrics) Option {
	return func(o *sdkOptions) { o.metrics = m }
}

// NewSDK builds the client core for self on top of backend.
func NewSDK(backend Backend, self UserID, opts ...Option) *SDK {
	o := sdkOptions{logger: zerolog.Nop(), metrics: nopMetrics{}}
	for _, opt := range opts {
		opt(&o)
	}

	cache := NewCache(
		WithCacheLogger(o.logger.With().Str("module", "cache").Logger()),
		WithCacheMetrics(o.metrics),
	)
	chats := newChatManager(backend, cache, self, o.logger.With().Str("module", "chat").Logger(), o.metrics)
	plans := newSubscriptionGate(backend, cache, chats, o.logger.With().Str("module", "subscription").Logger())

	return &SDK{
		Cache: cache,
		Chats: chats,
		Plans: plans,
		Moderation: &Moderation{
			backend: backend,
			cache:   cache,
			self:    self,
			logger:  o.logger.With().Str("module", "moderation").Logger(),
		},
		Discovery: newDiscovery(backend, cache, self, o.logger.With().Str("module", "discovery").Logger()),
		logger:    o.logger,
	}
}

// Close stops polling and cancels in-flight fetches.
func (s *SDK) Close() {
	if active := s.Chats.Active(); active != nil {
		active.Close()
	}
	s.Cache.Close()
}
