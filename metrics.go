package citymatch

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics receives cache and chat events. Implementations must be safe for
// concurrent use.
type Metrics interface {
	CacheHit(kind KeyKind)
	CacheFetch(kind KeyKind)
	CacheDiscard(kind KeyKind)
	CacheInvalidate(kind KeyKind)
	SendOutcome(outcome SendState)
}

type nopMetrics struct{}

func (nopMetrics) CacheHit(KeyKind)        {}
func (nopMetrics) CacheFetch(KeyKind)      {}
func (nopMetrics) CacheDiscard(KeyKind)    {}
func (nopMetrics) CacheInvalidate(KeyKind) {}
func (nopMetrics) SendOutcome(SendState)   {}

// Collector is the Prometheus implementation of Metrics.
type Collector struct {
	cacheHits          *prometheus.CounterVec
	cacheFetches       *prometheus.CounterVec
	cacheDiscards      *prometheus.CounterVec
	cacheInvalidations *prometheus.CounterVec
	sendOutcomes       *prometheus.CounterVec
}

// NewCollector creates a Collector and registers it on reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		cacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "citymatch_cache_hits_total",
			Help: "Reads served from a cached value.",
		}, []string{"kind"}),
		cacheFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "citymatch_cache_fetches_total",
			Help: "Backend fetches issued by the cache.",
		}, []string{"kind"}),
		cacheDiscards: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "citymatch_cache_discards_total",
			Help: "Fetch results dropped because the key was invalidated or unobserved.",
		}, []string{"kind"}),
		cacheInvalidations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "citymatch_cache_invalidations_total",
			Help: "Cache keys invalidated by mutations.",
		}, []string{"kind"}),
		sendOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "citymatch_send_outcomes_total",
			Help: "Message send attempts by final state.",
		}, []string{"outcome"}),
	}

	reg.MustRegister(
		c.cacheHits,
		c.cacheFetches,
		c.cacheDiscards,
		c.cacheInvalidations,
		c.sendOutcomes,
	)
	return c
}

func (c *Collector) CacheHit(kind KeyKind) {
	c.cacheHits.WithLabelValues(kind.String()).Inc()
}

func (c *Collector) CacheFetch(kind KeyKind) {
	c.cacheFetches.WithLabelValues(kind.String()).Inc()
}

func (c *Collector) CacheDiscard(kind KeyKind) {
	c.cacheDiscards.WithLabelValues(kind.String()).Inc()
}

func (c *Collector) CacheInvalidate(kind KeyKind) {
	c.cacheInvalidations.WithLabelValues(kind.String()).Inc()
}

func (c *Collector) SendOutcome(outcome SendState) {
	c.sendOutcomes.WithLabelValues(outcome.String()).Inc()
}
