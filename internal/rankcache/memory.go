package rankcache

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/bazaarlive/storyrank/internal/ranking"
)

// shardCount splits the key space so concurrent requests for different
// users rarely contend on the same lock. Must be a power of two.
const shardCount = 32

// staleRetentionFactor controls how long logically expired entries are
// kept around for fail-open serving, as a multiple of the TTL.
const staleRetentionFactor = 10

// MemoryStore is a sharded in-process Store. Reads take a shard read
// lock; writes take the shard write lock. There is no global lock.
type MemoryStore struct {
	ttl    time.Duration
	now    func() time.Time
	shards [shardCount]*memoryShard
}

type memoryShard struct {
	mu      sync.RWMutex
	entries map[Key]*Entry
}

// NewMemoryStore creates a MemoryStore with the given logical TTL.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	s := &MemoryStore{
		ttl: ttl,
		now: time.Now,
	}
	for i := range s.shards {
		s.shards[i] = &memoryShard{entries: make(map[Key]*Entry)}
	}
	return s
}

// SetClock overrides the time source. Intended for tests.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.now = now
}

func (s *MemoryStore) shard(key Key) *memoryShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key.String()))
	return s.shards[h.Sum32()&(shardCount-1)]
}

// Get implements Store. Expiry is lazy: an entry older than the TTL is a
// miss, but it is not removed here so GetStale can still serve it.
func (s *MemoryStore) Get(ctx context.Context, key Key) (*Entry, bool) {
	entry, ok := s.lookup(key)
	if !ok {
		return nil, false
	}
	if entry.Age(s.now()) >= s.ttl {
		return nil, false
	}
	return entry, true
}

// GetStale implements Store. It returns expired entries that have not yet
// been discarded by Cleanup or superseded by a Put.
func (s *MemoryStore) GetStale(ctx context.Context, key Key) (*Entry, bool) {
	return s.lookup(key)
}

func (s *MemoryStore) lookup(key Key) (*Entry, bool) {
	sh := s.shard(key)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	entry, ok := sh.entries[key]
	return entry, ok
}

// Put implements Store. Concurrent Puts for the same key race benignly;
// the last write wins.
func (s *MemoryStore) Put(ctx context.Context, key Key, items []ranking.RankedItem) {
	cp := make([]ranking.RankedItem, len(items))
	copy(cp, items)
	entry := &Entry{Items: cp, CreatedAt: s.now()}

	sh := s.shard(key)
	sh.mu.Lock()
	sh.entries[key] = entry
	sh.mu.Unlock()
}

// Cleanup discards entries that are too stale even for fail-open serving.
// This should be called periodically in production to bound memory; the
// recommended interval is a few multiples of the TTL.
func (s *MemoryStore) Cleanup() int {
	cutoff := s.ttl * staleRetentionFactor
	now := s.now()

	removed := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		for key, entry := range sh.entries {
			if entry.Age(now) >= cutoff {
				delete(sh.entries, key)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	return removed
}

// Len returns the number of cached entries across all shards.
func (s *MemoryStore) Len() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.RLock()
		n += len(sh.entries)
		sh.mu.RUnlock()
	}
	return n
}
