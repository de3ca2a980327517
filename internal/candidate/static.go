package candidate

import (
	"context"
	"sort"
	"sync"
)

// StaticSource is an in-memory Source for development and tests. Snapshots
// are returned ordered by recency regardless of insertion order.
type StaticSource struct {
	mu    sync.RWMutex
	stats []Stat
}

// NewStaticSource creates a StaticSource seeded with the given snapshots.
func NewStaticSource(stats []Stat) *StaticSource {
	s := &StaticSource{}
	s.Replace(stats)
	return s
}

// Replace swaps the full snapshot set.
func (s *StaticSource) Replace(stats []Stat) {
	cp := make([]Stat, len(stats))
	copy(cp, stats)
	sort.Slice(cp, func(i, j int) bool {
		if cp[i].UpdatedAt.Equal(cp[j].UpdatedAt) {
			return cp[i].ContentID < cp[j].ContentID
		}
		return cp[i].UpdatedAt.After(cp[j].UpdatedAt)
	})

	s.mu.Lock()
	s.stats = cp
	s.mu.Unlock()
}

// Fetch implements Source.
func (s *StaticSource) Fetch(ctx context.Context, max int) ([]Stat, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if max <= 0 {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	n := len(s.stats)
	if max < n {
		n = max
	}
	out := make([]Stat, n)
	copy(out, s.stats[:n])
	return out, nil
}
