package feed

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/bazaarlive/storyrank/internal/ranking"
)

// Metric names as constants for consistency.
const (
	MetricRankRequests      = "rank_requests_total"
	MetricRankCacheHits     = "rank_cache_hits_total"
	MetricRankCacheMisses   = "rank_cache_misses_total"
	MetricRankFailOpen      = "rank_fail_open_total"
	MetricRankDuration      = "rank_duration_seconds"
	MetricRankPoolSize      = "rank_candidate_pool_size"
)

// Metrics contains Prometheus metrics for the ranking service.
// All operations are thread-safe.
type Metrics struct {
	requests   *prometheus.CounterVec
	cacheHits  *prometheus.CounterVec
	cacheMiss  *prometheus.CounterVec
	failOpen   *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	poolSize   prometheus.Histogram
}

// NewMetrics creates a Metrics instance with all collectors initialized.
// The metrics are not registered; call Register to register them with a
// registry.
func NewMetrics() *Metrics {
	return &Metrics{
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricRankRequests,
				Help: "Total number of rank requests by serving algorithm",
			},
			[]string{"algorithm"},
		),
		cacheHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricRankCacheHits,
				Help: "Total number of rank result cache hits by algorithm",
			},
			[]string{"algorithm"},
		),
		cacheMiss: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricRankCacheMisses,
				Help: "Total number of rank result cache misses by algorithm",
			},
			[]string{"algorithm"},
		),
		failOpen: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricRankFailOpen,
				Help: "Total number of degraded responses served after a candidate source failure",
			},
			[]string{"fallback"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    MetricRankDuration,
				Help:    "Rank request duration in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 2.0},
			},
			[]string{"algorithm", "cached"},
		),
		poolSize: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    MetricRankPoolSize,
				Help:    "Number of candidates fetched per scoring pass",
				Buckets: []float64{0, 10, 50, 100, 200, 300, 500},
			},
		),
	}
}

// Register registers all collectors with the given registry.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		m.requests,
		m.cacheHits,
		m.cacheMiss,
		m.failOpen,
		m.duration,
		m.poolSize,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// ObserveRequest records a completed rank request.
func (m *Metrics) ObserveRequest(alg ranking.Algorithm, cached bool, seconds float64) {
	m.requests.WithLabelValues(string(alg)).Inc()
	cachedLabel := "false"
	if cached {
		cachedLabel = "true"
	}
	m.duration.WithLabelValues(string(alg), cachedLabel).Observe(seconds)
}

// ObserveCacheHit increments the cache hit counter.
func (m *Metrics) ObserveCacheHit(alg ranking.Algorithm) {
	m.cacheHits.WithLabelValues(string(alg)).Inc()
}

// ObserveCacheMiss increments the cache miss counter.
func (m *Metrics) ObserveCacheMiss(alg ranking.Algorithm) {
	m.cacheMiss.WithLabelValues(string(alg)).Inc()
}

// ObserveFailOpen records a degraded response. fallback is "stale_cache"
// when an expired entry was served, "empty" when nothing was available.
func (m *Metrics) ObserveFailOpen(fallback string) {
	m.failOpen.WithLabelValues(fallback).Inc()
}

// ObservePoolSize records how many candidates a scoring pass consumed.
func (m *Metrics) ObservePoolSize(n int) {
	m.poolSize.Observe(float64(n))
}
