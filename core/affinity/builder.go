package affinity

import (
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/nathann3/better-than-netflix-movie-recommender/core/ranking"
)

// Builder constructs affinity matrices from interaction records.
//
// A Builder created with a nil catalog derives the item map from the records
// it sees (the training call). A Builder pinned to an existing catalog keeps
// the column space fixed to it and silently drops records whose item is not
// in the catalog, which is how validation and test matrices stay aligned to
// the training columns.
type Builder struct {
	catalog *IndexMap
}

// NewBuilder returns a Builder. Pass the training item map as catalog for
// validation/test matrices, or nil to derive the catalog from the records.
func NewBuilder(catalog *IndexMap) *Builder {
	return &Builder{catalog: catalog}
}

// Build converts records into a dense user×item matrix plus the two id maps
// that interpret it. Rows cover exactly the distinct users present in
// records, in sorted-id order. A (user, item) pair observed more than once
// keeps the last observed rating. Empty input yields a nil matrix and empty
// maps; this is not an error.
func (b *Builder) Build(records []Record) (*mat.Dense, *IndexMap, *IndexMap) {
	itemMap := b.catalog
	if itemMap == nil {
		itemIDs := make([]string, 0, len(records))
		for _, r := range records {
			itemIDs = append(itemIDs, r.ItemID)
		}
		itemMap = NewIndexMap(itemIDs)
	}

	userIDs := make([]string, 0, len(records))
	for _, r := range records {
		userIDs = append(userIDs, r.UserID)
	}
	userMap := NewIndexMap(userIDs)

	if userMap.Len() == 0 || itemMap.Len() == 0 {
		return nil, userMap, itemMap
	}

	m := mat.NewDense(userMap.Len(), itemMap.Len(), nil)
	for _, r := range records {
		col, ok := itemMap.Index(r.ItemID)
		if !ok {
			// Item outside the pinned catalog: dropped by convention.
			continue
		}
		row, _ := userMap.Index(r.UserID)
		m.Set(row, col, r.Rating)
	}
	return m, userMap, itemMap
}

// MapBackPredictions converts a dense score matrix into a ranked
// recommendation table with external ids. Only non-zero scores are emitted,
// ordered by (user, descending score), with dense 1-based ranks per user.
// Score ties keep the lower item index first.
func MapBackPredictions(m *mat.Dense, users, items *IndexMap) []ranking.RankedItem {
	if m == nil {
		return nil
	}
	rows, cols := m.Dims()

	out := make([]ranking.RankedItem, 0, rows)
	for i := 0; i < rows; i++ {
		userID, ok := users.ID(i)
		if !ok {
			continue
		}
		row := m.RawRowView(i)

		start := len(out)
		for j := 0; j < cols; j++ {
			if row[j] == 0 {
				continue
			}
			itemID, ok := items.ID(j)
			if !ok {
				continue
			}
			out = append(out, ranking.RankedItem{User: userID, Item: itemID, Score: row[j]})
		}

		userRows := out[start:]
		sort.SliceStable(userRows, func(a, b int) bool {
			return userRows[a].Score > userRows[b].Score
		})
		for r := range userRows {
			userRows[r].Rank = r + 1
		}
	}
	return out
}

// MapBackRatings converts a dense ratings matrix into a flat table of its
// non-zero entries with external ids, ordered by (user, item index).
func MapBackRatings(m *mat.Dense, users, items *IndexMap) []ranking.Rating {
	if m == nil {
		return nil
	}
	rows, cols := m.Dims()

	out := make([]ranking.Rating, 0, rows)
	for i := 0; i < rows; i++ {
		userID, ok := users.ID(i)
		if !ok {
			continue
		}
		row := m.RawRowView(i)
		for j := 0; j < cols; j++ {
			if row[j] == 0 {
				continue
			}
			itemID, ok := items.ID(j)
			if !ok {
				continue
			}
			out = append(out, ranking.Rating{User: userID, Item: itemID, Rating: row[j]})
		}
	}
	return out
}

// RecordsFromRatings rebuilds interaction records from a ratings table,
// closing the Build → MapBackRatings → Build round trip.
func RecordsFromRatings(ratings []ranking.Rating) []Record {
	out := make([]Record, 0, len(ratings))
	for _, r := range ratings {
		out = append(out, Record{UserID: r.User, ItemID: r.Item, Rating: r.Rating})
	}
	return out
}
