package utils

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scaleOp struct{ d []float64 }

func (s scaleOp) Height() int { return len(s.d) }
func (s scaleOp) Width() int  { return len(s.d) }
func (s scaleOp) Apply(x, y []float64) error {
	for i := range x {
		y[i] = s.d[i] * x[i]
	}
	return nil
}

func TestDenseFromOperator(t *testing.T) {
	op := scaleOp{[]float64{2, -3, 0.5}}
	d, err := DenseFromOperator(op)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			want := 0.0
			if i == j {
				want = op.d[i]
			}
			assert.Equal(t, want, d.At(i, j), "d[%d][%d]", i, j)
		}
	}
}

func TestVectorHelpers(t *testing.T) {
	a := []float64{1, 2, 3}
	b := []float64{4, -5, 6}
	assert.Equal(t, 12.0, Dot(a, b))
	assert.InDelta(t, math.Sqrt(14), Norm2(a), 1e-15)

	y := []float64{1, 1, 1}
	Axpy(2, a, y)
	assert.Equal(t, []float64{3, 5, 7}, y)
	Scale(0.5, y)
	assert.Equal(t, []float64{1.5, 2.5, 3.5}, y)
}
