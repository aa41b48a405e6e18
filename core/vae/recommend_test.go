package vae

import (
	"errors"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/nathann3/better-than-netflix-movie-recommender/core/affinity"
)

func trainedModel(t *testing.T, catalog int) *Model {
	t.Helper()
	m, err := New(tinyConfig(catalog))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := m.Fit(blockMatrix(16, catalog), nil, nil, nil, nil, nil); err != nil {
		t.Fatalf("fit: %v", err)
	}
	return m
}

func TestRecommendBeforeFit(t *testing.T) {
	m, _ := New(tinyConfig(10))
	if _, err := m.RecommendKItems(blockMatrix(2, 10), 3, true); !errors.Is(err, ErrNotTrained) {
		t.Errorf("got %v, want ErrNotTrained", err)
	}
}

func TestRecommendInvalidK(t *testing.T) {
	m := trainedModel(t, 10)
	for _, k := range []int{0, -2} {
		if _, err := m.RecommendKItems(blockMatrix(2, 10), k, true); !errors.Is(err, ErrInvalidK) {
			t.Errorf("k=%d: got %v, want ErrInvalidK", k, err)
		}
	}
}

func TestRecommendWidthMismatch(t *testing.T) {
	m := trainedModel(t, 10)
	if _, err := m.RecommendKItems(blockMatrix(2, 6), 3, true); !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("got %v, want ErrDimensionMismatch", err)
	}
}

func TestRecommendNeverReturnsSeenItems(t *testing.T) {
	m := trainedModel(t, 10)
	x := blockMatrix(16, 10)

	recs, err := m.RecommendKItems(x, 4, true)
	if err != nil {
		t.Fatalf("recommend: %v", err)
	}
	if len(recs) != 16 {
		t.Fatalf("got %d rows, want 16", len(recs))
	}
	for i, row := range recs {
		for _, s := range row {
			if x.At(i, s.Col) != 0 {
				t.Errorf("row %d: recommended seen item %d", i, s.Col)
			}
		}
	}
}

func TestRecommendExactlyKWhenUnmasked(t *testing.T) {
	m := trainedModel(t, 10)
	recs, err := m.RecommendKItems(blockMatrix(4, 10), 5, false)
	if err != nil {
		t.Fatalf("recommend: %v", err)
	}
	for i, row := range recs {
		if len(row) != 5 {
			t.Errorf("row %d: got %d items, want 5", i, len(row))
		}
	}
}

func TestRecommendFewerThanKEligible(t *testing.T) {
	m := trainedModel(t, 10)

	// Row with 6 of 10 columns seen leaves only 4 candidates.
	x := mat.NewDense(1, 10, []float64{1, 1, 1, 0, 1, 1, 1, 0, 0, 0})
	recs, err := m.RecommendKItems(x, 100, true)
	if err != nil {
		t.Fatalf("recommend: %v", err)
	}
	if len(recs[0]) != 4 {
		t.Fatalf("got %d items, want the 4 unseen columns", len(recs[0]))
	}
	want := map[int]bool{3: true, 7: true, 8: true, 9: true}
	for _, s := range recs[0] {
		if !want[s.Col] {
			t.Errorf("unexpected column %d", s.Col)
		}
	}
}

func TestRecommendFullySeenRowIsEmpty(t *testing.T) {
	m := trainedModel(t, 10)
	x := mat.NewDense(1, 10, []float64{1, 1, 1, 1, 1, 1, 1, 1, 1, 1})
	recs, err := m.RecommendKItems(x, 3, true)
	if err != nil {
		t.Fatalf("recommend: %v", err)
	}
	if len(recs[0]) != 0 {
		t.Errorf("fully seen row returned %d items, want none", len(recs[0]))
	}
}

func TestRecommendScoresDescend(t *testing.T) {
	m := trainedModel(t, 10)
	recs, err := m.RecommendKItems(blockMatrix(8, 10), 6, true)
	if err != nil {
		t.Fatalf("recommend: %v", err)
	}
	for i, row := range recs {
		for p := 1; p < len(row); p++ {
			if row[p].Score > row[p-1].Score {
				t.Errorf("row %d: scores not descending at position %d", i, p)
			}
		}
	}
}

func TestTopKRowTieBreaksOnLowerColumn(t *testing.T) {
	x := []float64{0, 0, 0, 0}
	logp := []float64{-1.0, -0.5, -0.5, -2.0}

	got := topKRow(x, logp, 3, false)
	if len(got) != 3 {
		t.Fatalf("got %d items, want 3", len(got))
	}
	if got[0].Col != 1 || got[1].Col != 2 {
		t.Errorf("tied scores should order by column: got %d then %d", got[0].Col, got[1].Col)
	}
	if got[2].Col != 0 {
		t.Errorf("third item = column %d, want 0", got[2].Col)
	}
}

func TestTopKRowMasksSeen(t *testing.T) {
	x := []float64{1, 0, 1, 0}
	logp := []float64{-0.1, -0.5, -0.2, -2.0}

	got := topKRow(x, logp, 4, true)
	if len(got) != 2 {
		t.Fatalf("got %d items, want 2", len(got))
	}
	if got[0].Col != 1 || got[1].Col != 3 {
		t.Errorf("got columns %d, %d, want 1, 3", got[0].Col, got[1].Col)
	}
}

func TestRecommendTableMapsIDs(t *testing.T) {
	m := trainedModel(t, 10)
	users := affinity.NewIndexMap([]string{"alice", "bob"})
	items := affinity.NewIndexMap([]string{"i0", "i1", "i2", "i3", "i4", "i5", "i6", "i7", "i8", "i9"})
	x := blockMatrix(2, 10)

	table, err := m.RecommendTable(x, users, items, 3, true)
	if err != nil {
		t.Fatalf("recommend table: %v", err)
	}

	perUser := map[string]int{}
	for _, r := range table {
		perUser[r.User]++
		if _, ok := items.Index(r.Item); !ok {
			t.Errorf("unknown item id %q", r.Item)
		}
		if r.Rank < 1 || r.Rank > 3 {
			t.Errorf("rank %d outside 1..3", r.Rank)
		}
	}
	if perUser["alice"] != 3 || perUser["bob"] != 3 {
		t.Errorf("per-user counts = %v, want 3 each", perUser)
	}
}

func TestRecommendTableBeforeFit(t *testing.T) {
	m, _ := New(tinyConfig(10))
	users := affinity.NewIndexMap([]string{"u"})
	items := affinity.NewIndexMap([]string{"a"})
	if _, err := m.RecommendTable(blockMatrix(2, 10), users, items, 3, true); !errors.Is(err, ErrNotTrained) {
		t.Errorf("got %v, want ErrNotTrained", err)
	}
}
