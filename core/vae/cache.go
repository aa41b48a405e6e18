package vae

import (
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"math"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"gonum.org/v1/gonum/mat"
)

// =============================================================================
// Cached inference
// =============================================================================

// CachingRecommender wraps a trained model with an LRU cache over per-user
// recommendation lists. Requests are keyed by the interaction row content,
// the cutoff, and the mask flag, so identical queries are served without a
// forward pass; the remaining rows batch through the model once. Safe for
// concurrent use.
type CachingRecommender struct {
	model *Model
	cache *lru.Cache[string, []ScoredItem]

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
}

// NewCachingRecommender builds a cache of the given entry capacity around a
// trained model.
func NewCachingRecommender(m *Model, size int) (*CachingRecommender, error) {
	if m == nil || !m.trained {
		return nil, ErrNotTrained
	}
	c := &CachingRecommender{model: m}
	cache, err := lru.NewWithEvict[string, []ScoredItem](size, c.handleEviction)
	if err != nil {
		return nil, fmt.Errorf("vae: recommendation cache: %w", err)
	}
	c.cache = cache
	return c, nil
}

func (c *CachingRecommender) handleEviction(string, []ScoredItem) {
	c.evictions.Add(1)
}

// RecommendKItems mirrors Model.RecommendKItems through the cache. Returned
// slices are copies; callers may mutate them freely.
func (c *CachingRecommender) RecommendKItems(x *mat.Dense, k int, removeSeen bool) ([][]ScoredItem, error) {
	if k <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidK, k)
	}
	if err := c.model.checkWidth(x); err != nil {
		return nil, err
	}
	if x == nil {
		return nil, nil
	}

	rows, cols := x.Dims()
	out := make([][]ScoredItem, rows)
	keys := make([]string, rows)
	var missRows []int

	for i := 0; i < rows; i++ {
		keys[i] = rowKey(x.RawRowView(i), k, removeSeen)
		if cached, ok := c.cache.Get(keys[i]); ok {
			c.hits.Add(1)
			out[i] = copyScored(cached)
			continue
		}
		c.misses.Add(1)
		missRows = append(missRows, i)
	}
	if len(missRows) == 0 {
		return out, nil
	}

	miss := mat.NewDense(len(missRows), cols, nil)
	for p, i := range missRows {
		miss.SetRow(p, x.RawRowView(i))
	}
	recs, err := c.model.RecommendKItems(miss, k, removeSeen)
	if err != nil {
		return nil, err
	}
	for p, i := range missRows {
		c.cache.Add(keys[i], recs[p])
		out[i] = copyScored(recs[p])
	}
	return out, nil
}

// Stats reports cache hit, miss, and eviction counts.
func (c *CachingRecommender) Stats() (hits, misses, evictions int64) {
	return c.hits.Load(), c.misses.Load(), c.evictions.Load()
}

// rowKey hashes one interaction row together with the query parameters.
func rowKey(row []float64, k int, removeSeen bool) string {
	h := fnv.New64a()
	var buf [8]byte
	for _, v := range row {
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v))
		h.Write(buf[:])
	}
	return fmt.Sprintf("%016x:%d:%t", h.Sum64(), k, removeSeen)
}

func copyScored(s []ScoredItem) []ScoredItem {
	out := make([]ScoredItem, len(s))
	copy(out, s)
	return out
}
