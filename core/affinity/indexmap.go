package affinity

import "sort"

// IndexMap is an immutable bijection between external ids and dense internal
// indices 0..N-1. It is built once from the ids present in a record
// collection and passed alongside every matrix derived from it; both lookup
// directions are O(1).
type IndexMap struct {
	toIndex map[string]int
	toID    []string
}

// NewIndexMap builds a map over the distinct ids in the given order after
// de-duplication and sorting, so identical id sets always produce identical
// index assignments.
func NewIndexMap(ids []string) *IndexMap {
	seen := make(map[string]struct{}, len(ids))
	unique := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		unique = append(unique, id)
	}
	sort.Strings(unique)

	toIndex := make(map[string]int, len(unique))
	for i, id := range unique {
		toIndex[id] = i
	}
	return &IndexMap{toIndex: toIndex, toID: unique}
}

// Index returns the internal index for an external id.
func (m *IndexMap) Index(id string) (int, bool) {
	idx, ok := m.toIndex[id]
	return idx, ok
}

// ID returns the external id for an internal index.
func (m *IndexMap) ID(idx int) (string, bool) {
	if idx < 0 || idx >= len(m.toID) {
		return "", false
	}
	return m.toID[idx], true
}

// Len returns the number of mapped ids.
func (m *IndexMap) Len() int {
	return len(m.toID)
}

// IDs returns a copy of the external ids in index order.
func (m *IndexMap) IDs() []string {
	out := make([]string, len(m.toID))
	copy(out, m.toID)
	return out
}
