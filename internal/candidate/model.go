// Package candidate defines the engagement snapshot consumed by the story
// ranker and the source interface that supplies it.
package candidate

import (
	"context"
	"errors"
	"time"
)

// ErrSourceUnavailable is returned when the candidate source cannot be reached.
var ErrSourceUnavailable = errors.New("candidate source unavailable")

// Stat is a read-only engagement snapshot for a single story. Instances are
// fetched fresh per cache miss and never mutated by the ranking core.
type Stat struct {
	ContentID string `json:"content_id"`
	OwnerID   string `json:"owner_id"`

	// Engagement counters. The collaborator does not guarantee
	// clicks <= views; Normalize enforces it.
	Views  int64 `json:"views"`
	Clicks int64 `json:"clicks"`

	// CommissionBonus is an external per-item business signal in [0, 1].
	// Zero when absent.
	CommissionBonus float64 `json:"commission_bonus"`

	UpdatedAt time.Time `json:"updated_at"`
}

// Normalize clamps malformed counters into valid ranges. Negative counters
// are floored at zero and clicks are capped at views, so a single bad
// record degrades to a neutral one instead of failing the batch.
func (s Stat) Normalize() Stat {
	if s.Views < 0 {
		s.Views = 0
	}
	if s.Clicks < 0 {
		s.Clicks = 0
	}
	if s.Clicks > s.Views {
		s.Clicks = s.Views
	}
	if s.CommissionBonus < 0 {
		s.CommissionBonus = 0
	} else if s.CommissionBonus > 1 {
		s.CommissionBonus = 1
	}
	return s
}

// Source supplies engagement snapshots for recently active stories.
// Implementations return at most max records ordered by recency (most
// recently updated first). Fetch is the only blocking I/O step in a
// ranking request and must honor ctx cancellation.
type Source interface {
	Fetch(ctx context.Context, max int) ([]Stat, error)
}
