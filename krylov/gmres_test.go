package krylov

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/notargets/DDKernel/comm"
	"github.com/notargets/DDKernel/utils"
)

type denseOp struct{ a *mat.Dense }

func (d denseOp) Height() int { r, _ := d.a.Dims(); return r }
func (d denseOp) Width() int  { _, c := d.a.Dims(); return c }
func (d denseOp) Apply(x, y []float64) error {
	var v mat.VecDense
	v.MulVec(d.a, mat.NewVecDense(len(x), x))
	copy(y, v.RawVector().Data)
	return nil
}

func testSystem() (*mat.Dense, []float64) {
	// Diagonally dominant, nonsymmetric.
	a := mat.NewDense(5, 5, []float64{
		10, 1, 0, 2, 0,
		-1, 8, 1, 0, 0,
		0, 2, 9, 1, 1,
		1, 0, -1, 7, 2,
		0, 1, 0, 1, 6,
	})
	b := []float64{1, -2, 3, 0.5, 4}
	return a, b
}

func TestGMRESMatchesDirectSolve(t *testing.T) {
	a, b := testSystem()
	g := &GMRES{Op: denseOp{a}, Opts: Options{RelTol: 1e-12}}

	x := make([]float64, 5)
	res, err := g.Solve(b, x)
	require.NoError(t, err)
	assert.True(t, res.Converged)
	assert.Less(t, res.Residual, 1e-12)

	var want mat.VecDense
	require.NoError(t, want.SolveVec(a, mat.NewVecDense(5, b)))
	for i := 0; i < 5; i++ {
		assert.InDelta(t, want.AtVec(i), x[i], 1e-9, "x[%d]", i)
	}
}

func TestGMRESRestart(t *testing.T) {
	a, b := testSystem()
	g := &GMRES{Op: denseOp{a}, Opts: Options{RelTol: 1e-10, KDim: 2, MaxIter: 200}}

	x := make([]float64, 5)
	res, err := g.Solve(b, x)
	require.NoError(t, err)
	assert.True(t, res.Converged, "residual %g after %d iterations", res.Residual, res.Iterations)
}

func TestGMRESReportsNonConvergence(t *testing.T) {
	a, b := testSystem()
	g := &GMRES{Op: denseOp{a}, Opts: Options{RelTol: 1e-14, MaxIter: 2}}

	x := make([]float64, 5)
	res, err := g.Solve(b, x)
	require.NoError(t, err)
	assert.False(t, res.Converged)
	assert.Equal(t, 2, res.Iterations)

	// The partial iterate still reduces the residual below the initial one.
	y := make([]float64, 5)
	require.NoError(t, g.Op.Apply(x, y))
	for i := range y {
		y[i] = b[i] - y[i]
	}
	assert.Less(t, utils.Norm2(y), utils.Norm2(b))
}

func TestGMRESZeroRHS(t *testing.T) {
	a, _ := testSystem()
	g := &GMRES{Op: denseOp{a}}
	x := []float64{1, 1, 1, 1, 1}
	res, err := g.Solve(make([]float64, 5), x)
	require.NoError(t, err)
	assert.True(t, res.Converged)
	assert.Equal(t, make([]float64, 5), x)
}

type distDiagOp struct{ d []float64 }

func (o distDiagOp) Height() int { return len(o.d) }
func (o distDiagOp) Width() int  { return len(o.d) }
func (o distDiagOp) Apply(x, y []float64) error {
	for i := range x {
		y[i] = o.d[i] * x[i]
	}
	return nil
}

func TestGMRESDistributed(t *testing.T) {
	// Each rank owns half of a diagonal system; dots are the only coupling.
	diag := [][]float64{{2, 3, 4}, {5, 6}}
	rhs := [][]float64{{2, 6, 12}, {20, 30}}
	err := comm.Run(2, func(c *comm.Comm) error {
		g := &GMRES{
			Op:   distDiagOp{diag[c.Rank()]},
			C:    c,
			Opts: Options{RelTol: 1e-12, KDim: 5},
		}
		x := make([]float64, len(diag[c.Rank()]))
		res, err := g.Solve(rhs[c.Rank()], x)
		if err != nil {
			return err
		}
		if !res.Converged {
			return fmt.Errorf("rank %d: residual %g after %d iterations", c.Rank(), res.Residual, res.Iterations)
		}
		for i := range x {
			assert.InDelta(t, float64(i+1)+float64(c.Rank())*3, x[i], 1e-10)
		}
		return nil
	})
	require.NoError(t, err)
}
