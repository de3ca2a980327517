// Package stats provides utilities for tracking candidate fetch statistics.
package stats

import (
	"fmt"
	"log/slog"
	"sync/atomic"
)

// FetchStats tracks cumulative statistics for candidate fetches.
// All operations are thread-safe using atomic counters.
type FetchStats struct {
	fetched int64 // Total rows successfully read
	skipped int64 // Total unreadable rows dropped
}

// NewFetchStats creates a new FetchStats instance.
func NewFetchStats() *FetchStats {
	return &FetchStats{}
}

// RecordFetched adds n to the fetched counter.
func (s *FetchStats) RecordFetched(n int64) {
	atomic.AddInt64(&s.fetched, n)
}

// RecordSkipped increments the skipped counter.
func (s *FetchStats) RecordSkipped() {
	atomic.AddInt64(&s.skipped, 1)
}

// Fetched returns the total number of rows read.
func (s *FetchStats) Fetched() int64 {
	return atomic.LoadInt64(&s.fetched)
}

// Skipped returns the total number of rows dropped.
func (s *FetchStats) Skipped() int64 {
	return atomic.LoadInt64(&s.skipped)
}

// Reset resets all counters to zero.
func (s *FetchStats) Reset() {
	atomic.StoreInt64(&s.fetched, 0)
	atomic.StoreInt64(&s.skipped, 0)
}

// String returns a human-readable summary of the statistics.
func (s *FetchStats) String() string {
	return fmt.Sprintf("fetched=%d skipped=%d", s.Fetched(), s.Skipped())
}

// LogSummary logs a summary of fetch statistics at INFO level.
// A persistently growing skipped count points at schema drift upstream.
func (s *FetchStats) LogSummary(logger *slog.Logger, source string) {
	logger.Info("candidate fetch statistics",
		slog.String("source", source),
		slog.Int64("fetched", s.Fetched()),
		slog.Int64("skipped", s.Skipped()))
}
