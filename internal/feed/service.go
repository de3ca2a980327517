// Package feed orchestrates story ranking requests: canary routing,
// result caching, candidate fetching, scoring, and exposure balancing.
package feed

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/bazaarlive/storyrank/internal/candidate"
	"github.com/bazaarlive/storyrank/internal/ranking"
	"github.com/bazaarlive/storyrank/internal/rankcache"
	"github.com/bazaarlive/storyrank/internal/tracing"
)

// Validation errors surfaced to the caller as client errors.
var (
	ErrEmptyUserID  = errors.New("user_id is required")
	ErrInvalidLimit = errors.New("limit must be a positive integer")
)

// Config holds the request-time knobs of the ranking service. It is
// constructed once at startup from the application configuration and
// never read from the environment mid-request.
type Config struct {
	MaxCandidates       int
	CacheTTL            time.Duration
	FetchTimeout        time.Duration
	RankerEnabled       bool
	CanaryFraction      float64
	MinExposureFraction float64
}

// Request is a single ranking request. Region and currency are accepted
// from the caller but intentionally excluded from both the cache key and
// the score until per-market calibration lands.
type Request struct {
	UserID   string
	Limit    int
	Region   string
	Currency string
}

// Validate checks the request, returning a client error for malformed input.
func (r Request) Validate() error {
	if r.UserID == "" {
		return ErrEmptyUserID
	}
	if r.Limit <= 0 {
		return ErrInvalidLimit
	}
	return nil
}

// Response is an ordered ranking plus the metadata a client needs to
// reason about freshness.
type Response struct {
	Algorithm    ranking.Algorithm
	Items        []ranking.RankedItem
	RemainingTTL time.Duration
}

// Service coordinates one ranking request end to end. The cache store is
// the only shared mutable state; everything else is pure computation over
// a fresh snapshot.
type Service struct {
	source  candidate.Source
	cache   rankcache.Store
	params  *ranking.Params
	cfg     Config
	logger  *slog.Logger
	metrics *Metrics
	now     func() time.Time
}

// NewService creates a ranking Service. metrics may be nil when metric
// collection is not wanted (tests).
func NewService(source candidate.Source, cache rankcache.Store, params *ranking.Params, cfg Config, logger *slog.Logger, metrics *Metrics) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if params == nil {
		params = ranking.DefaultParams()
	}
	return &Service{
		source:  source,
		cache:   cache,
		params:  params,
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
		now:     time.Now,
	}
}

// SetClock overrides the time source. Intended for tests.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Rank serves one ranking request. Collaborator failures never propagate:
// on a candidate source error the most recent still-present cache entry is
// served even if logically expired, and an empty baseline ranking is the
// fallback of last resort. Only malformed requests return an error.
func (s *Service) Rank(ctx context.Context, req Request) (*Response, error) {
	start := s.now()

	if err := req.Validate(); err != nil {
		return nil, err
	}

	alg := ranking.SelectAlgorithm(req.UserID, s.cfg.RankerEnabled, s.cfg.CanaryFraction)
	key := rankcache.Key{Algorithm: alg, UserID: req.UserID, Limit: req.Limit}

	if entry, ok := s.cache.Get(ctx, key); ok {
		if s.metrics != nil {
			s.metrics.ObserveCacheHit(alg)
			s.metrics.ObserveRequest(alg, true, s.now().Sub(start).Seconds())
		}
		return &Response{
			Algorithm:    alg,
			Items:        entry.Items,
			RemainingTTL: entry.RemainingTTL(s.now(), s.cfg.CacheTTL),
		}, nil
	}
	if s.metrics != nil {
		s.metrics.ObserveCacheMiss(alg)
	}

	fetchCtx, cancel := context.WithTimeout(ctx, s.cfg.FetchTimeout)
	defer cancel()

	stats, err := s.source.Fetch(fetchCtx, s.cfg.MaxCandidates)
	if err != nil {
		return s.failOpen(ctx, req, alg, key, err), nil
	}
	if s.metrics != nil {
		s.metrics.ObservePoolSize(len(stats))
	}

	_, endSpan := tracing.StartSpan(ctx, "score_candidates")
	items := s.score(alg, stats)
	items = ranking.BalanceExposure(items, s.cfg.MinExposureFraction)
	endSpan(nil)
	if req.Limit < len(items) {
		items = items[:req.Limit]
	}

	s.cache.Put(ctx, key, items)

	if s.metrics != nil {
		s.metrics.ObserveRequest(alg, false, s.now().Sub(start).Seconds())
	}
	return &Response{
		Algorithm:    alg,
		Items:        items,
		RemainingTTL: s.cfg.CacheTTL,
	}, nil
}

// score runs the selected algorithm over a fresh candidate snapshot.
func (s *Service) score(alg ranking.Algorithm, stats []candidate.Stat) []ranking.RankedItem {
	if alg == ranking.AlgorithmExperimental {
		return ranking.ScoreBandit(stats, s.params, s.now())
	}
	return ranking.ScoreBaseline(stats)
}

// failOpen degrades a request after a candidate source failure. A stale
// cache entry for the same key wins over an empty response.
func (s *Service) failOpen(ctx context.Context, req Request, alg ranking.Algorithm, key rankcache.Key, cause error) *Response {
	s.logger.Warn("candidate source unavailable, serving degraded response",
		slog.String("user_id", req.UserID),
		slog.String("algorithm", string(alg)),
		slog.String("error", cause.Error()))

	if entry, ok := s.cache.GetStale(ctx, key); ok {
		if s.metrics != nil {
			s.metrics.ObserveFailOpen("stale_cache")
			s.metrics.ObserveRequest(alg, true, 0)
		}
		return &Response{
			Algorithm:    alg,
			Items:        entry.Items,
			RemainingTTL: entry.RemainingTTL(s.now(), s.cfg.CacheTTL),
		}
	}

	if s.metrics != nil {
		s.metrics.ObserveFailOpen("empty")
		s.metrics.ObserveRequest(ranking.AlgorithmBaseline, false, 0)
	}
	return &Response{
		Algorithm:    ranking.AlgorithmBaseline,
		Items:        []ranking.RankedItem{},
		RemainingTTL: 0,
	}
}
