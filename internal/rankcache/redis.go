package rankcache

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bazaarlive/storyrank/internal/ranking"
)

// RedisStore is a Store backed by Redis, for deployments running several
// API replicas that should share ranking results. The logical TTL is
// checked on read; the Redis key expiry is set to the stale-retention
// window so expired entries remain available for fail-open serving.
//
// Redis errors degrade to cache misses. The ranking service already
// tolerates misses, so an unavailable Redis only costs recomputation.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time
}

// NewRedisStore creates a RedisStore with the given logical TTL.
func NewRedisStore(client *redis.Client, ttl time.Duration, logger *slog.Logger) *RedisStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisStore{
		client: client,
		ttl:    ttl,
		logger: logger,
		now:    time.Now,
	}
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, key Key) (*Entry, bool) {
	entry, ok := s.fetch(ctx, key)
	if !ok {
		return nil, false
	}
	if entry.Age(s.now()) >= s.ttl {
		return nil, false
	}
	return entry, true
}

// GetStale implements Store.
func (s *RedisStore) GetStale(ctx context.Context, key Key) (*Entry, bool) {
	return s.fetch(ctx, key)
}

func (s *RedisStore) fetch(ctx context.Context, key Key) (*Entry, bool) {
	data, err := s.client.Get(ctx, key.String()).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.logger.Warn("redis cache read failed, treating as miss",
				slog.String("key", key.String()),
				slog.String("error", err.Error()))
		}
		return nil, false
	}

	entry, err := decodeEntry(data)
	if err != nil {
		s.logger.Warn("corrupt cache entry dropped",
			slog.String("key", key.String()),
			slog.String("error", err.Error()))
		s.client.Del(ctx, key.String())
		return nil, false
	}
	return entry, true
}

// Put implements Store.
func (s *RedisStore) Put(ctx context.Context, key Key, items []ranking.RankedItem) {
	entry := Entry{Items: items, CreatedAt: s.now()}
	data, err := encodeEntry(&entry)
	if err != nil {
		s.logger.Error("failed to encode cache entry",
			slog.String("key", key.String()),
			slog.String("error", err.Error()))
		return
	}

	retention := s.ttl * staleRetentionFactor
	if err := s.client.Set(ctx, key.String(), data, retention).Err(); err != nil {
		s.logger.Warn("redis cache write failed",
			slog.String("key", key.String()),
			slog.String("error", err.Error()))
	}
}
