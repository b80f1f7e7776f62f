package utils

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// LinearOperator is the capability contract shared by every implicit operator
// in the solver stack: subdomain local solves, the domain-decomposition
// interface operator, and Krylov-facing wrappers. Dispatch is always through
// this interface, never through concrete-type assertions.
type LinearOperator interface {
	Height() int
	Width() int

	// Apply computes y = A*x. Implementations must not retain x or y.
	Apply(x, y []float64) error
}

// DenseFromOperator materializes an operator column by column, by probing it
// with unit vectors. Intended for debugging and small-operator tests only.
func DenseFromOperator(op LinearOperator) (*mat.Dense, error) {
	h, w := op.Height(), op.Width()
	d := mat.NewDense(h, w, nil)
	ej := make([]float64, w)
	col := make([]float64, h)
	for j := 0; j < w; j++ {
		for i := range ej {
			ej[i] = 0
		}
		ej[j] = 1
		if err := op.Apply(ej, col); err != nil {
			return nil, fmt.Errorf("probing column %d: %w", j, err)
		}
		d.SetCol(j, col)
	}
	return d, nil
}

// Dot returns the euclidean inner product of two equal-length vectors.
func Dot(a, b []float64) float64 {
	var s float64
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}

// Norm2 returns the euclidean norm of v.
func Norm2(v []float64) float64 {
	return math.Sqrt(Dot(v, v))
}

// Axpy computes y += alpha*x in place.
func Axpy(alpha float64, x, y []float64) {
	for i := range x {
		y[i] += alpha * x[i]
	}
}

// Scale multiplies v by alpha in place.
func Scale(alpha float64, v []float64) {
	for i := range v {
		v[i] *= alpha
	}
}
