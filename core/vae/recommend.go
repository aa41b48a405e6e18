package vae

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/nathann3/better-than-netflix-movie-recommender/core/affinity"
	"github.com/nathann3/better-than-netflix-movie-recommender/core/ranking"
)

// =============================================================================
// Inference
// =============================================================================

// ScoredItem is one recommended catalog column and its model score.
type ScoredItem struct {
	Col   int
	Score float64
}

// RecommendKItems scores each row of x against the full catalog and returns
// its k highest-scoring columns, descending, ties broken by lower column
// index. With removeSeen, columns non-zero in the input row leave the
// candidate set entirely, so a user is never recommended an item from their
// own context. Rows with fewer than k eligible columns return what remains,
// possibly nothing; that is not an error.
//
// Scores are softmax probabilities from a deterministic forward pass with
// dropout off and the latent fixed at its mean. Calling before Fit fails
// with ErrNotTrained.
func (m *Model) RecommendKItems(x *mat.Dense, k int, removeSeen bool) ([][]ScoredItem, error) {
	if !m.trained {
		return nil, ErrNotTrained
	}
	if k <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidK, k)
	}
	if err := m.checkWidth(x); err != nil {
		return nil, err
	}
	if x == nil {
		return nil, nil
	}

	rows, _ := x.Dims()
	maxRows := m.cfg.BatchSize
	if rows < maxRows {
		maxRows = rows
	}
	return m.recommend(x, k, removeSeen, m.newScratch(maxRows)), nil
}

// RecommendTable recommends for every row of x and maps the result back to
// external ids via the row/column maps, yielding a table ready for the
// ranking metrics.
func (m *Model) RecommendTable(x *mat.Dense, users, items *affinity.IndexMap, k int, removeSeen bool) ([]ranking.RankedItem, error) {
	recs, err := m.RecommendKItems(x, k, removeSeen)
	if err != nil {
		return nil, err
	}
	return rankedTable(recs, users, items), nil
}

// recommend is the batched scoring loop. Width checks are the caller's job.
func (m *Model) recommend(x *mat.Dense, k int, removeSeen bool, sc *scratch) [][]ScoredItem {
	rows, _ := x.Dims()
	V := m.cfg.CatalogSize
	out := make([][]ScoredItem, rows)

	for start := 0; start < rows; start += sc.maxRows {
		end := start + sc.maxRows
		if end > rows {
			end = rows
		}
		b := end - start
		for r := 0; r < b; r++ {
			copy(sc.x[r*V:(r+1)*V], x.RawRowView(start+r))
		}
		m.forward(sc, b, false)
		for r := 0; r < b; r++ {
			out[start+r] = topKRow(sc.x[r*V:(r+1)*V], sc.logp[r*V:(r+1)*V], k, removeSeen)
		}
	}
	return out
}

// topKRow selects the k best candidate columns of one scored row.
func topKRow(x, logp []float64, k int, removeSeen bool) []ScoredItem {
	cand := make([]ScoredItem, 0, len(logp))
	for j, lp := range logp {
		if removeSeen && x[j] != 0 {
			continue
		}
		cand = append(cand, ScoredItem{Col: j, Score: math.Exp(lp)})
	}
	sort.Slice(cand, func(a, b int) bool {
		if cand[a].Score != cand[b].Score {
			return cand[a].Score > cand[b].Score
		}
		return cand[a].Col < cand[b].Col
	})
	if len(cand) > k {
		top := make([]ScoredItem, k)
		copy(top, cand[:k])
		return top
	}
	return cand
}

// rankedTable converts per-row recommendations into an external-id table
// with dense 1-based ranks.
func rankedTable(recs [][]ScoredItem, users, items *affinity.IndexMap) []ranking.RankedItem {
	out := make([]ranking.RankedItem, 0, len(recs))
	for i, row := range recs {
		userID, ok := users.ID(i)
		if !ok {
			continue
		}
		for p, s := range row {
			itemID, ok := items.ID(s.Col)
			if !ok {
				continue
			}
			out = append(out, ranking.RankedItem{User: userID, Item: itemID, Score: s.Score, Rank: p + 1})
		}
	}
	return out
}
