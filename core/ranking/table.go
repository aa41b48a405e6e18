// Package ranking evaluates ranked recommendation lists against held-out
// ground truth using standard top-K metrics: precision@K, recall@K, mean
// average precision@K, and NDCG@K.
//
// Both inputs are flat typed tables keyed by external (user, item) id pairs.
// Every metric joins the two tables explicitly on (user, item) and aggregates
// over the users common to both: a user missing from the truth table has no
// relevant items and is excluded from the mean (undefined, not zero), and a
// user missing from the recommendation table has nothing to score.
package ranking

import "sort"

// Rating is one held-out ground-truth interaction. Rating carries the graded
// relevance used as NDCG gain; the remaining metrics only test membership.
type Rating struct {
	User   string
	Item   string
	Rating float64
}

// RankedItem is one row of a ranked recommendation table. Rank is 1-based,
// dense and unique within a user, ordered by descending score.
type RankedItem struct {
	User  string
	Item  string
	Score float64
	Rank  int
}

// userTruth indexes a user's ground truth by item id.
type userTruth map[string]float64

// joined holds the per-user views both tables share, ready for metric loops.
type joined struct {
	users []string                // common users, sorted for deterministic iteration
	recs  map[string][]RankedItem // per-user recommendations, ascending rank
	truth map[string]userTruth
}

// join groups both tables by user and intersects the user sets. Duplicate
// (user, item) truth rows collapse last-write-wins, mirroring the affinity
// builder's convention.
func join(recs []RankedItem, truth []Rating) joined {
	byUser := make(map[string][]RankedItem)
	for _, r := range recs {
		byUser[r.User] = append(byUser[r.User], r)
	}
	truthByUser := make(map[string]userTruth)
	for _, t := range truth {
		ut, ok := truthByUser[t.User]
		if !ok {
			ut = make(userTruth)
			truthByUser[t.User] = ut
		}
		ut[t.Item] = t.Rating
	}

	common := make([]string, 0, len(byUser))
	for user := range byUser {
		if _, ok := truthByUser[user]; ok {
			common = append(common, user)
		}
	}
	sort.Strings(common)

	for _, items := range byUser {
		sort.Slice(items, func(i, j int) bool { return items[i].Rank < items[j].Rank })
	}

	return joined{users: common, recs: byUser, truth: truthByUser}
}

// topK returns the user's recommendations with rank at most k. The slice is
// already rank-ascending, so the cut is the first rank beyond k.
func (j joined) topK(user string, k int) []RankedItem {
	items := j.recs[user]
	cut := sort.Search(len(items), func(i int) bool { return items[i].Rank > k })
	return items[:cut]
}
