package fespace

import (
	"github.com/james-bowman/sparse"
	"gonum.org/v1/gonum/mat"
)

// DofMap splits a dof range into free and essential (Dirichlet) dofs and
// numbers the free ones compactly.
type DofMap struct {
	Free  []int // free dof ids in ascending order
	Index []int // dof id -> free index, or -1 for essential dofs
}

// NewDofMap builds the split for n dofs with the given essential set.
func NewDofMap(n int, essential map[int]bool) *DofMap {
	dm := &DofMap{Index: make([]int, n)}
	for i := 0; i < n; i++ {
		if essential[i] {
			dm.Index[i] = -1
			continue
		}
		dm.Index[i] = len(dm.Free)
		dm.Free = append(dm.Free, i)
	}
	return dm
}

// NumFree returns the free dof count.
func (dm *DofMap) NumFree() int { return len(dm.Free) }

// Restrict copies the free entries of a full vector.
func (dm *DofMap) Restrict(full []float64) []float64 {
	out := make([]float64, len(dm.Free))
	for i, d := range dm.Free {
		out[i] = full[d]
	}
	return out
}

// Prolong scatters free values back into a full vector, filling essential
// entries from lift (nil means zero).
func (dm *DofMap) Prolong(free, lift []float64) []float64 {
	out := make([]float64, len(dm.Index))
	if lift != nil {
		copy(out, lift)
	}
	for i, d := range dm.Free {
		out[d] = free[i]
	}
	return out
}

// RestrictToFree extracts the free-free block of a sparse matrix into a dense
// matrix ready for factorization, and accumulates the essential-column
// contribution A[free, ess] * lift that must be subtracted from the right
// hand side. lift may be nil when all essential values are zero.
func RestrictToFree(a *sparse.CSR, dm *DofMap, lift []float64) (*mat.Dense, []float64) {
	nf := dm.NumFree()
	corr := make([]float64, nf)
	if nf == 0 {
		return &mat.Dense{}, corr
	}
	aff := mat.NewDense(nf, nf, nil)
	a.DoNonZero(func(i, j int, v float64) {
		fi := dm.Index[i]
		if fi < 0 {
			return
		}
		fj := dm.Index[j]
		if fj >= 0 {
			aff.Set(fi, fj, v)
			return
		}
		if lift != nil {
			corr[fi] += v * lift[j]
		}
	})
	return aff, corr
}

// MulVec computes y = A x for a sparse matrix.
func MulVec(a *sparse.CSR, x []float64) []float64 {
	r, _ := a.Dims()
	y := make([]float64, r)
	a.DoNonZero(func(i, j int, v float64) {
		y[i] += v * x[j]
	})
	return y
}
