package ranking

import "math"

// BalanceExposure rewrites a score-ordered ranking so a handful of
// high-scoring creators cannot monopolize the head of the list. With
// N items and floor fraction p, each owner keeps at most
// max(1, floor(N*p)) of their items in the head segment; overflow moves
// to the tail. Both segments preserve the incoming score order, so owners
// with fewer items than the floor are never penalized.
//
// Single deterministic O(N) pass, no backtracking. The input slice is not
// modified.
func BalanceExposure(items []RankedItem, fraction float64) []RankedItem {
	if len(items) == 0 {
		return []RankedItem{}
	}
	if fraction < 0 {
		fraction = 0
	}

	perOwnerFloor := int(math.Floor(float64(len(items)) * fraction))
	if perOwnerFloor < 1 {
		perOwnerFloor = 1
	}

	head := make([]RankedItem, 0, len(items))
	tail := make([]RankedItem, 0)
	ownerCounts := make(map[string]int, len(items))

	for _, item := range items {
		if ownerCounts[item.OwnerID] < perOwnerFloor {
			head = append(head, item)
			ownerCounts[item.OwnerID]++
		} else {
			tail = append(tail, item)
		}
	}

	return append(head, tail...)
}
