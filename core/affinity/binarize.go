package affinity

import "gonum.org/v1/gonum/mat"

// ImplicitThreshold is the conventional rating cutoff separating positive
// implicit feedback from noise: ratings strictly above it become 1.
const ImplicitThreshold = 3.5

// Binarize returns a copy of m with every value strictly above threshold set
// to 1 and everything else to 0, converting graded ratings into implicit
// feedback. A nil matrix passes through unchanged.
func Binarize(m *mat.Dense, threshold float64) *mat.Dense {
	if m == nil {
		return nil
	}
	rows, cols := m.Dims()
	out := mat.NewDense(rows, cols, nil)
	for i := 0; i < rows; i++ {
		src := m.RawRowView(i)
		dst := out.RawRowView(i)
		for j := 0; j < cols; j++ {
			if src[j] > threshold {
				dst[j] = 1
			}
		}
	}
	return out
}
