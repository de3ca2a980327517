package candidate

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/bazaarlive/storyrank/internal/stats"
	"github.com/bazaarlive/storyrank/internal/tracing"
)

// PostgresSource reads engagement snapshots from the marketplace's
// story_stats table. The table is maintained by the ingestion pipeline;
// this source is strictly read-only.
type PostgresSource struct {
	db     *sql.DB
	logger *slog.Logger
	stats  *stats.FetchStats
}

// NewPostgresSource creates a PostgresSource backed by the given database.
func NewPostgresSource(db *sql.DB, logger *slog.Logger) *PostgresSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresSource{
		db:     db,
		logger: logger,
		stats:  stats.NewFetchStats(),
	}
}

// Stats exposes the cumulative fetch counters, for periodic reporting.
func (s *PostgresSource) Stats() *stats.FetchStats {
	return s.stats
}

// Fetch returns up to max snapshots ordered by recency. No transactional
// consistency is assumed across calls; counters may move between fetches.
func (s *PostgresSource) Fetch(ctx context.Context, max int) ([]Stat, error) {
	if max <= 0 {
		return nil, nil
	}

	const query = `
		SELECT content_id, owner_id, views, clicks, COALESCE(commission_bonus, 0), updated_at
		FROM story_stats
		ORDER BY updated_at DESC
		LIMIT $1`

	ctx, endSpan := tracing.StartDBSpan(ctx, "story_stats", tracing.DBOperationQuery)
	rows, err := s.db.QueryContext(ctx, query, max)
	endSpan(err)
	if err != nil {
		s.logger.Error("failed to query story stats",
			slog.Int("max", max),
			slog.String("error", err.Error()))
		return nil, fmt.Errorf("query story stats: %w", ErrSourceUnavailable)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			s.logger.Warn("failed to close story stats rows", slog.String("error", err.Error()))
		}
	}()

	batch := make([]Stat, 0, max)
	for rows.Next() {
		var st Stat
		var updatedAt time.Time
		if err := rows.Scan(&st.ContentID, &st.OwnerID, &st.Views, &st.Clicks, &st.CommissionBonus, &updatedAt); err != nil {
			// A single unreadable row must not fail the batch.
			s.logger.Warn("skipping unreadable story stat row", slog.String("error", err.Error()))
			s.stats.RecordSkipped()
			continue
		}
		st.UpdatedAt = updatedAt
		batch = append(batch, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate story stats: %w", ErrSourceUnavailable)
	}

	s.stats.RecordFetched(int64(len(batch)))
	return batch, nil
}
