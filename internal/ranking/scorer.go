package ranking

import (
	"math"
	"sort"
	"time"

	"github.com/bazaarlive/storyrank/internal/candidate"
)

// RankedItem is a single story in a ranking, carrying the score it was
// ordered by.
type RankedItem struct {
	ContentID string  `json:"content_id" cbor:"content_id"`
	OwnerID   string  `json:"owner_id" cbor:"owner_id"`
	Score     float64 `json:"score" cbor:"score"`
}

// FreshnessWeight computes a normalized recency score in [0, 1].
// A just-updated story scores 1.0, decaying linearly to 0.0 at horizon.
// Stories updated in the future (clock skew between collaborators) are
// treated as just-updated.
func FreshnessWeight(updatedAt time.Time, now time.Time, horizon time.Duration) float64 {
	if horizon <= 0 {
		return 1.0
	}

	age := now.Sub(updatedAt)
	if age <= 0 {
		return 1.0
	}

	weight := 1.0 - (float64(age) / float64(horizon))
	if weight < 0 {
		return 0.0
	}
	return weight
}

// ExplorationBonus computes the UCB1 confidence term for a single item.
// totalViews is the summed views across the candidate pool; views is the
// item's own count. Both are floored at 1 so the bonus stays finite for
// unobserved items. The bonus shrinks as an item accumulates views,
// implementing the explore/exploit trade-off.
func ExplorationBonus(c float64, views, totalViews int64) float64 {
	if totalViews < 1 {
		totalViews = 1
	}
	if views < 1 {
		views = 1
	}

	lnT := math.Log(float64(totalViews))
	if lnT < 0 {
		lnT = 0
	}
	return c * math.Sqrt(lnT/float64(views))
}

// BanditScore computes the experimental score for one story.
// Callers are expected to Normalize the stat first.
func BanditScore(st candidate.Stat, totalViews int64, params *Params, now time.Time) float64 {
	if params == nil {
		params = DefaultParams()
	}

	var ctr float64
	if st.Views > 0 {
		ctr = float64(st.Clicks) / float64(st.Views)
	} else {
		ctr = params.PriorCTR
	}

	bonus := ExplorationBonus(params.ExplorationConstant, st.Views, totalViews)

	business := params.CommissionWeight*st.CommissionBonus +
		params.FreshnessWeight*FreshnessWeight(st.UpdatedAt, now, params.FreshnessHorizon)

	return ctr + bonus + business
}

// ScoreBandit ranks a candidate pool with the UCB1 bandit scorer.
// Malformed counters are clamped per stat, the pool's total view count
// feeds the exploration term, and the result is sorted by score descending
// with content ID as a deterministic tie-break. An empty pool yields an
// empty ranking.
func ScoreBandit(stats []candidate.Stat, params *Params, now time.Time) []RankedItem {
	if len(stats) == 0 {
		return []RankedItem{}
	}
	if params == nil {
		params = DefaultParams()
	}

	normalized := make([]candidate.Stat, len(stats))
	var totalViews int64
	for i, st := range stats {
		normalized[i] = st.Normalize()
		totalViews += normalized[i].Views
	}
	if totalViews < 1 {
		totalViews = 1
	}

	items := make([]RankedItem, len(normalized))
	for i, st := range normalized {
		items[i] = RankedItem{
			ContentID: st.ContentID,
			OwnerID:   st.OwnerID,
			Score:     BanditScore(st, totalViews, params, now),
		}
	}

	sortByScore(items)
	return items
}

// ScoreBaseline ranks a candidate pool by pure recency: the score is the
// update timestamp as epoch seconds, sorted descending. This is the legacy
// ordering served to users outside the canary cohort.
func ScoreBaseline(stats []candidate.Stat) []RankedItem {
	if len(stats) == 0 {
		return []RankedItem{}
	}

	items := make([]RankedItem, len(stats))
	for i, st := range stats {
		st = st.Normalize()
		items[i] = RankedItem{
			ContentID: st.ContentID,
			OwnerID:   st.OwnerID,
			Score:     float64(st.UpdatedAt.Unix()),
		}
	}

	sortByScore(items)
	return items
}

// sortByScore orders items by score descending, breaking ties by content
// ID ascending. Floating-point score ties are expected and must not
// produce a nondeterministic order.
func sortByScore(items []RankedItem) {
	sort.Slice(items, func(i, j int) bool {
		if items[i].Score == items[j].Score {
			return items[i].ContentID < items[j].ContentID
		}
		return items[i].Score > items[j].Score
	})
}
