package ranking

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// ErrInvalidK indicates a non-positive cutoff was requested.
var ErrInvalidK = errors.New("ranking: k must be positive")

// PrecisionAtK returns the mean over common users of
// |top-k ∩ relevant| / k. Empty tables yield 0.
func PrecisionAtK(recs []RankedItem, truth []Rating, k int) (float64, error) {
	if k <= 0 {
		return 0, fmt.Errorf("%w: got %d", ErrInvalidK, k)
	}
	j := join(recs, truth)
	if len(j.users) == 0 {
		return 0, nil
	}
	var sum float64
	for _, user := range j.users {
		hits := 0
		relevant := j.truth[user]
		for _, item := range j.topK(user, k) {
			if _, ok := relevant[item.Item]; ok {
				hits++
			}
		}
		sum += float64(hits) / float64(k)
	}
	return sum / float64(len(j.users)), nil
}

// RecallAtK returns the mean over common users of
// |top-k ∩ relevant| / |relevant|. Users with no relevant items never reach
// the aggregate: they are absent from the truth table and therefore from the
// common-user set.
func RecallAtK(recs []RankedItem, truth []Rating, k int) (float64, error) {
	if k <= 0 {
		return 0, fmt.Errorf("%w: got %d", ErrInvalidK, k)
	}
	j := join(recs, truth)
	if len(j.users) == 0 {
		return 0, nil
	}
	var sum float64
	for _, user := range j.users {
		relevant := j.truth[user]
		hits := 0
		for _, item := range j.topK(user, k) {
			if _, ok := relevant[item.Item]; ok {
				hits++
			}
		}
		sum += float64(hits) / float64(len(relevant))
	}
	return sum / float64(len(j.users)), nil
}

// MeanAveragePrecisionAtK returns the mean over common users of average
// precision at k: the precision at each rank where a relevant item occurs,
// summed and divided by min(k, |relevant|).
func MeanAveragePrecisionAtK(recs []RankedItem, truth []Rating, k int) (float64, error) {
	if k <= 0 {
		return 0, fmt.Errorf("%w: got %d", ErrInvalidK, k)
	}
	j := join(recs, truth)
	if len(j.users) == 0 {
		return 0, nil
	}
	var sum float64
	for _, user := range j.users {
		relevant := j.truth[user]
		hits := 0
		var ap float64
		for _, item := range j.topK(user, k) {
			if _, ok := relevant[item.Item]; ok {
				hits++
				ap += float64(hits) / float64(item.Rank)
			}
		}
		denom := len(relevant)
		if k < denom {
			denom = k
		}
		sum += ap / float64(denom)
	}
	return sum / float64(len(j.users)), nil
}

// NDCGAtK returns the mean over common users of DCG@k / IDCG@k, where the
// gain of a recommended item is its ground-truth rating (0 when the item is
// not relevant) and the discount at rank r is log2(r+1). IDCG ranks the
// user's truth by descending rating, ties broken by item id, truncated to k.
// A common user whose top-k contains no relevant item contributes 0.
func NDCGAtK(recs []RankedItem, truth []Rating, k int) (float64, error) {
	if k <= 0 {
		return 0, fmt.Errorf("%w: got %d", ErrInvalidK, k)
	}
	j := join(recs, truth)
	if len(j.users) == 0 {
		return 0, nil
	}
	var sum float64
	for _, user := range j.users {
		relevant := j.truth[user]

		var dcg float64
		for _, item := range j.topK(user, k) {
			gain, ok := relevant[item.Item]
			if !ok {
				continue
			}
			dcg += gain / math.Log2(float64(item.Rank)+1)
		}

		idcg := idealDCG(relevant, k)
		if idcg > 0 {
			sum += dcg / idcg
		}
	}
	return sum / float64(len(j.users)), nil
}

// idealDCG computes the DCG of the user's truth in its best possible order.
func idealDCG(relevant userTruth, k int) float64 {
	type graded struct {
		item   string
		rating float64
	}
	ideal := make([]graded, 0, len(relevant))
	for item, rating := range relevant {
		ideal = append(ideal, graded{item: item, rating: rating})
	}
	sort.Slice(ideal, func(i, j int) bool {
		if ideal[i].rating != ideal[j].rating {
			return ideal[i].rating > ideal[j].rating
		}
		return ideal[i].item < ideal[j].item
	})
	if len(ideal) > k {
		ideal = ideal[:k]
	}
	var idcg float64
	for rank, g := range ideal {
		idcg += g.rating / math.Log2(float64(rank)+2)
	}
	return idcg
}
