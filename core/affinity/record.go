// Package affinity turns raw user–item interaction records into dense
// numeric matrices indexed by contiguous internal indices, and maps model
// output back to external ids.
//
// The package owns the id-remapping convention the whole pipeline shares:
// every matrix travels with the pair of immutable IndexMaps that interpret
// its rows and columns. Validation and test matrices are always built against
// the training item catalog, so their column space is identical to the
// training matrix and model scores stay aligned across splits.
package affinity

// Record is one observed user–item interaction. Ids are opaque external
// keys; Timestamp is carried through untouched.
type Record struct {
	UserID    string
	ItemID    string
	Rating    float64
	Timestamp int64
}
