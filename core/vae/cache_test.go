package vae

import (
	"errors"
	"testing"
)

func TestCachingRecommenderRequiresTrainedModel(t *testing.T) {
	m, _ := New(tinyConfig(10))
	if _, err := NewCachingRecommender(m, 8); !errors.Is(err, ErrNotTrained) {
		t.Errorf("got %v, want ErrNotTrained", err)
	}
	if _, err := NewCachingRecommender(nil, 8); !errors.Is(err, ErrNotTrained) {
		t.Errorf("nil model: got %v, want ErrNotTrained", err)
	}
}

func TestCachingRecommenderRejectsZeroSize(t *testing.T) {
	m := trainedModel(t, 10)
	if _, err := NewCachingRecommender(m, 0); err == nil {
		t.Error("zero capacity should fail")
	}
}

func TestCachingRecommenderMatchesModel(t *testing.T) {
	m := trainedModel(t, 10)
	c, err := NewCachingRecommender(m, 32)
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}

	x := blockMatrix(8, 10)
	want, err := m.RecommendKItems(x, 4, true)
	if err != nil {
		t.Fatalf("model recommend: %v", err)
	}
	got, err := c.RecommendKItems(x, 4, true)
	if err != nil {
		t.Fatalf("cached recommend: %v", err)
	}
	for i := range want {
		if len(got[i]) != len(want[i]) {
			t.Fatalf("row %d: %d items vs %d", i, len(got[i]), len(want[i]))
		}
		for p := range want[i] {
			if got[i][p] != want[i][p] {
				t.Fatalf("row %d pos %d: %+v vs %+v", i, p, got[i][p], want[i][p])
			}
		}
	}
}

func TestCachingRecommenderHitCounting(t *testing.T) {
	m := trainedModel(t, 10)
	c, err := NewCachingRecommender(m, 32)
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}

	x := blockMatrix(6, 10)
	if _, err := c.RecommendKItems(x, 4, true); err != nil {
		t.Fatalf("first pass: %v", err)
	}
	hits, misses, _ := c.Stats()
	if hits != 0 {
		t.Errorf("cold cache hits = %d, want 0", hits)
	}
	if misses == 0 {
		t.Error("cold cache should record misses")
	}

	if _, err := c.RecommendKItems(x, 4, true); err != nil {
		t.Fatalf("second pass: %v", err)
	}
	hits, misses2, _ := c.Stats()
	if hits != 6 {
		t.Errorf("warm cache hits = %d, want 6", hits)
	}
	if misses2 != misses {
		t.Errorf("warm cache added misses: %d vs %d", misses2, misses)
	}
}

func TestCachingRecommenderKeyIncludesParameters(t *testing.T) {
	m := trainedModel(t, 10)
	c, err := NewCachingRecommender(m, 32)
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}

	x := blockMatrix(2, 10)
	a, err := c.RecommendKItems(x, 3, true)
	if err != nil {
		t.Fatalf("recommend: %v", err)
	}
	b, err := c.RecommendKItems(x, 5, true)
	if err != nil {
		t.Fatalf("recommend: %v", err)
	}
	if len(a[0]) == len(b[0]) {
		t.Error("different k should not share cache entries")
	}

	hits, _, _ := c.Stats()
	if hits != 0 {
		t.Errorf("distinct parameters produced %d hits, want 0", hits)
	}
}

func TestCachingRecommenderReturnsCopies(t *testing.T) {
	m := trainedModel(t, 10)
	c, err := NewCachingRecommender(m, 32)
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}

	x := blockMatrix(1, 10)
	first, err := c.RecommendKItems(x, 3, true)
	if err != nil {
		t.Fatalf("recommend: %v", err)
	}
	first[0][0].Score = -1
	first[0][0].Col = -1

	second, err := c.RecommendKItems(x, 3, true)
	if err != nil {
		t.Fatalf("recommend: %v", err)
	}
	if second[0][0].Col == -1 || second[0][0].Score == -1 {
		t.Error("cache entry was mutated through a returned slice")
	}
}

func TestCachingRecommenderNilInput(t *testing.T) {
	m := trainedModel(t, 10)
	c, err := NewCachingRecommender(m, 8)
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	recs, err := c.RecommendKItems(nil, 3, true)
	if err != nil {
		t.Fatalf("nil input: %v", err)
	}
	if recs != nil {
		t.Error("nil input should yield nil output")
	}
}
