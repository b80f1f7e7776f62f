// Package krylov provides the restarted GMRES iteration driving the
// interface equation. The operator is matrix-free and its vectors may be
// distributed across a communicator; inner products are global reductions,
// so every rank runs the identical iteration in lockstep.
package krylov

import (
	"fmt"
	"math"

	"github.com/notargets/DDKernel/comm"
	"github.com/notargets/DDKernel/utils"
)

// Options controls the iteration. Zero values fall back to the defaults used
// by the solver driver.
type Options struct {
	RelTol  float64 // relative residual target, default 1e-8
	MaxIter int     // total iteration cap, default 100
	KDim    int     // restart dimension, default 50
}

func (o Options) withDefaults() Options {
	if o.RelTol <= 0 {
		o.RelTol = 1e-8
	}
	if o.MaxIter <= 0 {
		o.MaxIter = 100
	}
	if o.KDim <= 0 {
		o.KDim = 50
	}
	return o
}

// Result reports the outcome. A non-converged run still leaves the best
// available iterate in x; the caller decides whether to accept it.
type Result struct {
	Converged  bool
	Iterations int
	Residual   float64 // final relative residual
}

// GMRES is a restarted GMRES solver over a linear operator. C may be nil for
// serial operators; otherwise all ranks of the communicator must call Solve
// together.
type GMRES struct {
	Op   utils.LinearOperator
	C    *comm.Comm
	Opts Options
}

func (g *GMRES) dot(a, b []float64) (float64, error) {
	s := utils.Dot(a, b)
	if g.C == nil || g.C.Size() == 1 {
		return s, nil
	}
	return g.C.AllReduceFloat(s, comm.OpSum)
}

func (g *GMRES) norm(v []float64) (float64, error) {
	s, err := g.dot(v, v)
	if err != nil {
		return 0, err
	}
	return math.Sqrt(s), nil
}

// Solve iterates on A x = b, updating x in place. x's starting content is
// the initial guess.
func (g *GMRES) Solve(b, x []float64) (Result, error) {
	opts := g.Opts.withDefaults()
	n := g.Op.Height()
	if len(b) != n || len(x) != n {
		return Result{}, fmt.Errorf("gmres: vector length %d/%d, want %d", len(b), len(x), n)
	}

	bnorm, err := g.norm(b)
	if err != nil {
		return Result{}, err
	}
	if bnorm == 0 {
		for i := range x {
			x[i] = 0
		}
		return Result{Converged: true}, nil
	}

	r := make([]float64, n)
	w := make([]float64, n)
	if err := g.Op.Apply(x, r); err != nil {
		return Result{}, err
	}
	for i := range r {
		r[i] = b[i] - r[i]
	}

	res := Result{}
	v := make([][]float64, opts.KDim+1)
	h := make([][]float64, opts.KDim+1)
	for i := range v {
		v[i] = make([]float64, n)
		h[i] = make([]float64, opts.KDim)
	}
	cs := make([]float64, opts.KDim)
	sn := make([]float64, opts.KDim)
	gv := make([]float64, opts.KDim+1)

	for res.Iterations < opts.MaxIter {
		beta, err := g.norm(r)
		if err != nil {
			return res, err
		}
		res.Residual = beta / bnorm
		if res.Residual <= opts.RelTol {
			res.Converged = true
			return res, nil
		}

		copy(v[0], r)
		utils.Scale(1/beta, v[0])
		for i := range gv {
			gv[i] = 0
		}
		gv[0] = beta

		j := 0
		for ; j < opts.KDim && res.Iterations < opts.MaxIter; j++ {
			if err := g.Op.Apply(v[j], w); err != nil {
				return res, err
			}
			for i := 0; i <= j; i++ {
				hij, err := g.dot(w, v[i])
				if err != nil {
					return res, err
				}
				h[i][j] = hij
				utils.Axpy(-hij, v[i], w)
			}
			hj1, err := g.norm(w)
			if err != nil {
				return res, err
			}
			h[j+1][j] = hj1

			// Apply accumulated rotations, then a new one to kill the
			// subdiagonal.
			for i := 0; i < j; i++ {
				h[i][j], h[i+1][j] = cs[i]*h[i][j]+sn[i]*h[i+1][j], -sn[i]*h[i][j]+cs[i]*h[i+1][j]
			}
			d := math.Hypot(h[j][j], h[j+1][j])
			if d == 0 {
				cs[j], sn[j] = 1, 0
			} else {
				cs[j], sn[j] = h[j][j]/d, h[j+1][j]/d
			}
			h[j][j] = cs[j]*h[j][j] + sn[j]*h[j+1][j]
			h[j+1][j] = 0
			gv[j], gv[j+1] = cs[j]*gv[j], -sn[j]*gv[j]

			res.Iterations++
			res.Residual = math.Abs(gv[j+1]) / bnorm

			if hj1 == 0 || res.Residual <= opts.RelTol {
				j++
				break
			}
			copy(v[j+1], w)
			utils.Scale(1/hj1, v[j+1])
		}

		// Back substitution and update.
		y := make([]float64, j)
		for i := j - 1; i >= 0; i-- {
			y[i] = gv[i]
			for k := i + 1; k < j; k++ {
				y[i] -= h[i][k] * y[k]
			}
			if h[i][i] == 0 {
				return res, fmt.Errorf("gmres: singular projected system at step %d", i)
			}
			y[i] /= h[i][i]
		}
		for i := 0; i < j; i++ {
			utils.Axpy(y[i], v[i], x)
		}

		if err := g.Op.Apply(x, r); err != nil {
			return res, err
		}
		for i := range r {
			r[i] = b[i] - r[i]
		}
	}

	beta, err := g.norm(r)
	if err != nil {
		return res, err
	}
	res.Residual = beta / bnorm
	res.Converged = res.Residual <= opts.RelTol
	return res, nil
}
