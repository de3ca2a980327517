// Package rankcache provides the short-lived result cache for story
// rankings. Entries are memoized per (algorithm, user, limit) and expire
// lazily: expiry is checked on lookup, never swept proactively, and
// logically expired entries are retained for a short grace window so the
// service can fail open when the candidate source is down.
package rankcache

import (
	"context"
	"fmt"
	"time"

	"github.com/bazaarlive/storyrank/internal/ranking"
)

// Key identifies a cached ranking. Region and currency from the request
// are deliberately excluded; the score does not vary by them.
type Key struct {
	Algorithm ranking.Algorithm
	UserID    string
	Limit     int
}

// String renders the key for use in external stores (Redis) and logs.
func (k Key) String() string {
	return fmt.Sprintf("rank:%s:%s:%d", k.Algorithm, k.UserID, k.Limit)
}

// Entry is an immutable cached ranking. Entries are superseded, never
// mutated: a recompute for the same key stores a fresh Entry.
type Entry struct {
	Items     []ranking.RankedItem `json:"items" cbor:"items"`
	CreatedAt time.Time            `json:"created_at" cbor:"created_at"`
}

// Age returns how long ago the entry was stored.
func (e *Entry) Age(now time.Time) time.Duration {
	return now.Sub(e.CreatedAt)
}

// RemainingTTL returns how much of ttl is left, floored at zero.
func (e *Entry) RemainingTTL(now time.Time, ttl time.Duration) time.Duration {
	remaining := ttl - e.Age(now)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Store is the result cache contract. Implementations must be safe for
// concurrent use by arbitrary numbers of in-flight requests. Concurrent
// misses for the same key may both recompute and Put; last write wins,
// which is an accepted trade-off rather than a bug.
type Store interface {
	// Get returns the entry for key if it exists and is younger than the
	// configured TTL.
	Get(ctx context.Context, key Key) (*Entry, bool)

	// GetStale returns the entry for key even if it is logically expired,
	// as long as it has not been discarded. Used for fail-open responses.
	GetStale(ctx context.Context, key Key) (*Entry, bool)

	// Put stores a fresh entry for key, superseding any previous one.
	Put(ctx context.Context, key Key, items []ranking.RankedItem)
}
