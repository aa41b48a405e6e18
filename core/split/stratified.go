// Package split partitions interaction matrices for train/validation
// protocols. All partitioning is per user row and deterministic under a
// caller-supplied seed.
package split

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// ErrInvalidRatio reports a split ratio outside [0, 1].
var ErrInvalidRatio = errors.New("split: ratio must be within [0, 1]")

// Stratified partitions each user's non-zero entries into a train-context
// half and a held-out half. For a row with n non-zero columns,
// round(ratio*n) of them are drawn without replacement into the train
// output and the remainder into the held-out output; zero columns stay zero
// on both sides, so the two outputs sum back to the input entrywise. Rows
// with few or no entries degenerate to an empty half, which is legal.
//
// The draw comes from a dedicated generator seeded with seed; the same
// matrix and seed always reproduce the identical partition.
func Stratified(m *mat.Dense, ratio float64, seed int64) (train, heldOut *mat.Dense, err error) {
	if ratio < 0 || ratio > 1 {
		return nil, nil, fmt.Errorf("%w: got %v", ErrInvalidRatio, ratio)
	}
	if m == nil {
		return nil, nil, nil
	}

	rows, cols := m.Dims()
	train = mat.NewDense(rows, cols, nil)
	heldOut = mat.NewDense(rows, cols, nil)

	rng := rand.New(rand.NewSource(seed))
	idx := make([]int, 0, cols)
	for i := 0; i < rows; i++ {
		src := m.RawRowView(i)
		idx = idx[:0]
		for j, v := range src {
			if v != 0 {
				idx = append(idx, j)
			}
		}
		if len(idx) == 0 {
			continue
		}
		rng.Shuffle(len(idx), func(a, b int) { idx[a], idx[b] = idx[b], idx[a] })

		take := int(math.Round(ratio * float64(len(idx))))
		trainRow := train.RawRowView(i)
		heldRow := heldOut.RawRowView(i)
		for p, j := range idx {
			if p < take {
				trainRow[j] = src[j]
			} else {
				heldRow[j] = src[j]
			}
		}
	}
	return train, heldOut, nil
}
