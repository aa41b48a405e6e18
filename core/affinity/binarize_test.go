package affinity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestBinarizeGradedToImplicit(t *testing.T) {
	records := []Record{
		{UserID: "u1", ItemID: "m1", Rating: 5},
		{UserID: "u1", ItemID: "m2", Rating: 4},
		{UserID: "u2", ItemID: "m1", Rating: 5},
	}
	m, _, items := NewBuilder(NewIndexMap([]string{"m1", "m2", "m3"})).Build(records)
	require.NotNil(t, m)
	require.Equal(t, 3, items.Len())

	got := Binarize(m, ImplicitThreshold)
	want := mat.NewDense(2, 3, []float64{
		1, 1, 0,
		1, 0, 0,
	})
	assert.True(t, mat.Equal(want, got))

	// Source matrix keeps its graded values.
	assert.Equal(t, 5.0, m.At(0, 0))
	assert.Equal(t, 4.0, m.At(0, 1))
}

func TestBinarizeThresholdIsStrict(t *testing.T) {
	m := mat.NewDense(1, 3, []float64{3.5, 3.6, 1})
	got := Binarize(m, 3.5)

	assert.Equal(t, 0.0, got.At(0, 0))
	assert.Equal(t, 1.0, got.At(0, 1))
	assert.Equal(t, 0.0, got.At(0, 2))
}

func TestBinarizeNil(t *testing.T) {
	assert.Nil(t, Binarize(nil, ImplicitThreshold))
}
