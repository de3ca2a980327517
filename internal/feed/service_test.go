package feed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bazaarlive/storyrank/internal/candidate"
	"github.com/bazaarlive/storyrank/internal/ranking"
	"github.com/bazaarlive/storyrank/internal/rankcache"
)

// flakySource wraps a StaticSource and fails on demand.
type flakySource struct {
	mu      sync.Mutex
	inner   candidate.Source
	failing bool
	fetches int
}

func (f *flakySource) Fetch(ctx context.Context, max int) ([]candidate.Stat, error) {
	f.mu.Lock()
	f.fetches++
	failing := f.failing
	f.mu.Unlock()

	if failing {
		return nil, candidate.ErrSourceUnavailable
	}
	return f.inner.Fetch(ctx, max)
}

func (f *flakySource) setFailing(v bool) {
	f.mu.Lock()
	f.failing = v
	f.mu.Unlock()
}

func (f *flakySource) fetchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches
}

func testConfig() Config {
	return Config{
		MaxCandidates:       300,
		CacheTTL:            time.Minute,
		FetchTimeout:        2 * time.Second,
		RankerEnabled:       true,
		CanaryFraction:      0.05,
		MinExposureFraction: 0.02,
	}
}

func testStats(now time.Time) []candidate.Stat {
	return []candidate.Stat{
		{ContentID: "s1", OwnerID: "o1", Views: 80, Clicks: 8, UpdatedAt: now.Add(-time.Hour)},
		{ContentID: "s2", OwnerID: "o2", Views: 20, Clicks: 1, UpdatedAt: now.Add(-2 * time.Hour)},
		{ContentID: "s3", OwnerID: "o3", Views: 0, Clicks: 0, UpdatedAt: now.Add(-3 * time.Hour)},
	}
}

func newTestService(t *testing.T, src candidate.Source, cfg Config) (*Service, *rankcache.MemoryStore, func(time.Duration)) {
	t.Helper()

	cache := rankcache.NewMemoryStore(cfg.CacheTTL)
	svc := NewService(src, cache, ranking.DefaultParams(), cfg, nil, nil)

	now := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	advance := func(d time.Duration) {
		mu.Lock()
		now = now.Add(d)
		mu.Unlock()
	}
	svc.SetClock(clock)
	cache.SetClock(clock)
	return svc, cache, advance
}

// TestRankValidation tests client error surfacing for malformed requests.
func TestRankValidation(t *testing.T) {
	svc, _, _ := newTestService(t, candidate.NewStaticSource(nil), testConfig())

	tests := []struct {
		name    string
		req     Request
		wantErr error
	}{
		{
			name:    "empty user id",
			req:     Request{UserID: "", Limit: 10},
			wantErr: ErrEmptyUserID,
		},
		{
			name:    "zero limit",
			req:     Request{UserID: "u", Limit: 0},
			wantErr: ErrInvalidLimit,
		},
		{
			name:    "negative limit",
			req:     Request{UserID: "u", Limit: -5},
			wantErr: ErrInvalidLimit,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Rank(context.Background(), tt.req)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

// TestRankEmptyPool tests that an empty candidate pool yields an empty
// ranking under either algorithm, never an error.
func TestRankEmptyPool(t *testing.T) {
	svc, _, _ := newTestService(t, candidate.NewStaticSource(nil), testConfig())

	resp, err := svc.Rank(context.Background(), Request{UserID: "user-1", Limit: 10})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.Items) != 0 {
		t.Errorf("expected empty ranking, got %d items", len(resp.Items))
	}
}

// TestRankCacheHitIdempotence tests that two calls within the TTL return
// identical items with a strictly decreasing remaining TTL, without
// refetching candidates.
func TestRankCacheHitIdempotence(t *testing.T) {
	now := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	src := &flakySource{inner: candidate.NewStaticSource(testStats(now))}
	svc, _, advance := newTestService(t, src, testConfig())

	req := Request{UserID: "user-1", Limit: 10}

	first, err := svc.Rank(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.RemainingTTL != time.Minute {
		t.Errorf("fresh response: expected full TTL, got %s", first.RemainingTTL)
	}

	advance(10 * time.Second)

	second, err := svc.Rank(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(second.Items) != len(first.Items) {
		t.Fatalf("item count changed: %d vs %d", len(first.Items), len(second.Items))
	}
	for i := range first.Items {
		if first.Items[i] != second.Items[i] {
			t.Errorf("position %d differs: %+v vs %+v", i, first.Items[i], second.Items[i])
		}
	}
	if second.RemainingTTL >= first.RemainingTTL {
		t.Errorf("remaining TTL should strictly decrease: %s then %s",
			first.RemainingTTL, second.RemainingTTL)
	}
	if src.fetchCount() != 1 {
		t.Errorf("expected a single candidate fetch, got %d", src.fetchCount())
	}
}

// TestRankCacheExpiry tests that the entry is recomputed after the TTL.
func TestRankCacheExpiry(t *testing.T) {
	now := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	src := &flakySource{inner: candidate.NewStaticSource(testStats(now))}
	svc, _, advance := newTestService(t, src, testConfig())

	req := Request{UserID: "user-1", Limit: 10}

	if _, err := svc.Rank(context.Background(), req); err != nil {
		t.Fatal(err)
	}
	advance(2 * time.Minute)
	if _, err := svc.Rank(context.Background(), req); err != nil {
		t.Fatal(err)
	}

	if src.fetchCount() != 2 {
		t.Errorf("expected recompute after expiry, fetches=%d", src.fetchCount())
	}
}

// TestRankLimitTruncation tests that the response never exceeds the
// requested limit.
func TestRankLimitTruncation(t *testing.T) {
	now := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	svc, _, _ := newTestService(t, candidate.NewStaticSource(testStats(now)), testConfig())

	resp, err := svc.Rank(context.Background(), Request{UserID: "user-1", Limit: 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.Items) != 2 {
		t.Errorf("expected 2 items, got %d", len(resp.Items))
	}
}

// TestRankAlgorithmRouting tests that the response names the algorithm the
// canary router selected, and that routing respects the master switch.
func TestRankAlgorithmRouting(t *testing.T) {
	now := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)

	// Full rollout routes everyone to the experimental path.
	cfg := testConfig()
	cfg.CanaryFraction = 1.0
	svc, _, _ := newTestService(t, candidate.NewStaticSource(testStats(now)), cfg)

	resp, err := svc.Rank(context.Background(), Request{UserID: "user-1", Limit: 10})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Algorithm != ranking.AlgorithmExperimental {
		t.Errorf("expected experimental, got %s", resp.Algorithm)
	}

	// Disabled ranker forces baseline regardless of fraction.
	cfg.RankerEnabled = false
	svc, _, _ = newTestService(t, candidate.NewStaticSource(testStats(now)), cfg)

	resp, err = svc.Rank(context.Background(), Request{UserID: "user-1", Limit: 10})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Algorithm != ranking.AlgorithmBaseline {
		t.Errorf("expected baseline, got %s", resp.Algorithm)
	}
}

// TestRankFailOpenStaleCache tests that a source failure serves the most
// recent still-present entry even when logically expired.
func TestRankFailOpenStaleCache(t *testing.T) {
	now := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	src := &flakySource{inner: candidate.NewStaticSource(testStats(now))}
	svc, _, advance := newTestService(t, src, testConfig())

	req := Request{UserID: "user-1", Limit: 10}

	first, err := svc.Rank(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}

	// Expire the entry, then break the source.
	advance(5 * time.Minute)
	src.setFailing(true)

	resp, err := svc.Rank(context.Background(), req)
	if err != nil {
		t.Fatalf("fail-open must not surface an error, got %v", err)
	}
	if len(resp.Items) != len(first.Items) {
		t.Fatalf("expected stale items served, got %d items", len(resp.Items))
	}
	for i := range first.Items {
		if resp.Items[i] != first.Items[i] {
			t.Errorf("position %d differs from cached ranking", i)
		}
	}
	if resp.RemainingTTL != 0 {
		t.Errorf("stale response should report zero remaining TTL, got %s", resp.RemainingTTL)
	}
}

// TestRankFailOpenEmpty tests the fallback of last resort: no cache entry
// and a dead source yields an empty baseline ranking, not an error.
func TestRankFailOpenEmpty(t *testing.T) {
	src := &flakySource{inner: candidate.NewStaticSource(nil)}
	src.setFailing(true)
	svc, _, _ := newTestService(t, src, testConfig())

	resp, err := svc.Rank(context.Background(), Request{UserID: "user-1", Limit: 10})
	if err != nil {
		t.Fatalf("fail-open must not surface an error, got %v", err)
	}
	if resp.Algorithm != ranking.AlgorithmBaseline {
		t.Errorf("expected baseline fallback, got %s", resp.Algorithm)
	}
	if len(resp.Items) != 0 {
		t.Errorf("expected empty ranking, got %d items", len(resp.Items))
	}
}

// TestRankFetchTimeout tests that a hanging source is cut off by the fetch
// timeout and degraded rather than propagated.
func TestRankFetchTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.FetchTimeout = 20 * time.Millisecond

	hang := sourceFunc(func(ctx context.Context, max int) ([]candidate.Stat, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	cache := rankcache.NewMemoryStore(cfg.CacheTTL)
	svc := NewService(hang, cache, nil, cfg, nil, nil)

	resp, err := svc.Rank(context.Background(), Request{UserID: "user-1", Limit: 10})
	if err != nil {
		t.Fatalf("timeout must degrade, not error: %v", err)
	}
	if len(resp.Items) != 0 {
		t.Errorf("expected empty fallback ranking, got %d items", len(resp.Items))
	}
}

// sourceFunc adapts a function to the candidate.Source interface.
type sourceFunc func(ctx context.Context, max int) ([]candidate.Stat, error)

func (f sourceFunc) Fetch(ctx context.Context, max int) ([]candidate.Stat, error) {
	return f(ctx, max)
}

// TestRankExposureFloorApplied tests end to end that a dominant creator
// cannot monopolize the head of the feed.
func TestRankExposureFloorApplied(t *testing.T) {
	now := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)

	stats := make([]candidate.Stat, 0, 20)
	for i := 0; i < 19; i++ {
		stats = append(stats, candidate.Stat{
			ContentID: fmt.Sprintf("a-%02d", i),
			OwnerID:   "owner-a",
			Views:     1000,
			Clicks:    900 - int64(i), // high, slightly varied CTRs
			UpdatedAt: now,
		})
	}
	stats = append(stats, candidate.Stat{
		ContentID: "b-0",
		OwnerID:   "owner-b",
		Views:     1000,
		Clicks:    1,
		UpdatedAt: now,
	})

	cfg := testConfig()
	cfg.CanaryFraction = 1.0
	cfg.MinExposureFraction = 0.10
	svc, _, _ := newTestService(t, candidate.NewStaticSource(stats), cfg)

	resp, err := svc.Rank(context.Background(), Request{UserID: "user-1", Limit: 20})
	if err != nil {
		t.Fatal(err)
	}

	bPos := -1
	for i, item := range resp.Items {
		if item.OwnerID == "owner-b" {
			bPos = i
			break
		}
	}
	if bPos < 0 || bPos > 2 {
		t.Errorf("expected owner-b within the first head positions, got %d", bPos)
	}
}

// TestRankConcurrentRequests exercises the shared cache under concurrent
// load. Duplicate recomputation for the same key is tolerated; corruption
// and panics are not. Run with -race.
func TestRankConcurrentRequests(t *testing.T) {
	now := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	svc, _, _ := newTestService(t, candidate.NewStaticSource(testStats(now)), testConfig())

	var wg sync.WaitGroup
	for w := 0; w < 16; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				req := Request{UserID: fmt.Sprintf("user-%d", i%5), Limit: 10}
				resp, err := svc.Rank(context.Background(), req)
				if err != nil {
					t.Errorf("worker %d: unexpected error %v", worker, err)
					return
				}
				if len(resp.Items) == 0 {
					t.Errorf("worker %d: empty ranking", worker)
					return
				}
			}
		}(w)
	}
	wg.Wait()
}
