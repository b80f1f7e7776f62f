package ddoper

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/notargets/DDKernel/ddmesh"
	"github.com/notargets/DDKernel/fespace"
)

// Backend selects the factorization of the per-subdomain Robin matrix. The
// matrix is symmetric positive definite for nonnegative reaction
// coefficients, so Cholesky is the default; LU stays available for
// experiments with indefinite variants.
type Backend int

const (
	DenseCholesky Backend = iota
	DenseLU
)

func (b Backend) String() string {
	switch b {
	case DenseCholesky:
		return "cholesky"
	case DenseLU:
		return "lu"
	}
	return "unknown"
}

// ParseBackend resolves a command-line backend name.
func ParseBackend(s string) (Backend, error) {
	switch s {
	case "cholesky":
		return DenseCholesky, nil
	case "lu":
		return DenseLU, nil
	}
	return 0, fmt.Errorf("unknown backend %q (want cholesky or lu)", s)
}

// Config collects the discretization parameters shared by every subdomain
// solver.
type Config struct {
	// Sigma is the reaction coefficient of -div(grad u) + sigma u.
	Sigma float64

	// Penalty is the interface impedance p. Zero means derive 1/h_min from
	// the global mesh, which all ranks must agree on.
	Penalty float64

	Backend Backend

	// BoundaryValue prescribes the Dirichlet data; nil means homogeneous.
	BoundaryValue func(x []float64) float64
}

// SubdomainSolver owns one subdomain's Robin problem: the Neumann matrix of
// the bulk form plus the impedance p on every trace dof, factored once and
// reused for every application of the interface operator.
type SubdomainSolver struct {
	SD int

	sp     *fespace.Space
	sm     *ddmesh.SubdomainMesh
	dofmap *fespace.DofMap
	p      float64

	// ifaceIdxs are the compact interface indices touching SD with a
	// nonempty trace; pick maps each of their trace positions to a free
	// dof index.
	ifaceIdxs []int
	pick      map[int][]int

	chol *mat.Cholesky
	lu   *mat.LU

	lift []float64 // full-length Dirichlet values
	corr []float64 // essential-column correction, free-indexed
	load []float64 // free-restricted source vector, set by SetLoad
}

// NewSubdomainSolver assembles and factors the Robin matrix of one gathered
// subdomain. p is the already-resolved impedance.
func NewSubdomainSolver(sm *ddmesh.SubdomainMesh, topo *ddmesh.Topology, ts *TraceSpace, cfg Config, p float64) (*SubdomainSolver, error) {
	sp, err := fespace.NewSpace(sm.Mesh)
	if err != nil {
		return nil, fmt.Errorf("subdomain %d: %w", sm.SD, err)
	}

	essential := make(map[int]bool)
	var lift []float64
	if cfg.BoundaryValue != nil {
		lift = make([]float64, sp.NumDofs())
	}
	for local, g := range sm.VertexGlobalIDs {
		if topo.BoundaryVertices[g] {
			essential[local] = true
			if lift != nil {
				lift[local] = cfg.BoundaryValue(sm.Mesh.Vertices[local])
			}
		}
	}

	a, err := sp.AssembleDiffusionReaction(cfg.Sigma)
	if err != nil {
		return nil, fmt.Errorf("subdomain %d: %w", sm.SD, err)
	}
	dofmap := fespace.NewDofMap(sp.NumDofs(), essential)
	aff, corr := fespace.RestrictToFree(a, dofmap, lift)

	s := &SubdomainSolver{
		SD:     sm.SD,
		sp:     sp,
		sm:     sm,
		dofmap: dofmap,
		p:      p,
		pick:   make(map[int][]int),
		lift:   lift,
		corr:   corr,
	}

	for idx, ifc := range topo.Interfaces {
		if !ifc.Touches(sm.SD) || ts.Len(idx) == 0 {
			continue
		}
		pm, err := ts.pickMap(idx, sm.VertexGlobalIDs)
		if err != nil {
			return nil, fmt.Errorf("subdomain %d: %w", sm.SD, err)
		}
		free := make([]int, len(pm))
		for t, local := range pm {
			fi := dofmap.Index[local]
			if fi < 0 {
				return nil, fmt.Errorf("subdomain %d: trace dof %d of interface %d is essential", sm.SD, local, idx)
			}
			free[t] = fi
			aff.Set(fi, fi, aff.At(fi, fi)+p)
		}
		s.ifaceIdxs = append(s.ifaceIdxs, idx)
		s.pick[idx] = free
	}

	if dofmap.NumFree() > 0 {
		switch cfg.Backend {
		case DenseCholesky:
			sym := denseToSym(aff)
			s.chol = new(mat.Cholesky)
			if !s.chol.Factorize(sym) {
				return nil, fmt.Errorf("subdomain %d: robin matrix is not positive definite", sm.SD)
			}
		case DenseLU:
			s.lu = new(mat.LU)
			s.lu.Factorize(aff)
			if s.lu.Cond() > 1e15 {
				return nil, fmt.Errorf("subdomain %d: robin matrix is numerically singular", sm.SD)
			}
		default:
			return nil, fmt.Errorf("subdomain %d: unknown backend %v", sm.SD, cfg.Backend)
		}
	}
	return s, nil
}

// denseToSym folds a structurally symmetric dense matrix into the symmetric
// storage the Cholesky factorization wants. Assembly roundoff can leave the
// two triangles apart at machine precision, so they are averaged.
func denseToSym(a *mat.Dense) *mat.SymDense {
	n, _ := a.Dims()
	sym := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			sym.SetSym(i, j, (a.At(i, j)+a.At(j, i))/2)
		}
	}
	return sym
}

// SetLoad assembles and caches the source term restricted to free dofs.
func (s *SubdomainSolver) SetLoad(f func(x []float64) float64) error {
	full, err := s.sp.AssembleLoad(f)
	if err != nil {
		return fmt.Errorf("subdomain %d: %w", s.SD, err)
	}
	s.load = s.dofmap.Restrict(full)
	return nil
}

// Solve runs one Robin solve. lambda carries the incoming trace data per
// interface index; withSource adds the cached load and the Dirichlet lift
// correction (the affine part, excluded when the operator needs its pure
// linear action).
func (s *SubdomainSolver) Solve(lambda map[int][]float64, withSource bool) ([]float64, error) {
	nf := s.dofmap.NumFree()
	if nf == 0 {
		return nil, nil
	}
	rhs := make([]float64, nf)
	if withSource {
		for i := range rhs {
			rhs[i] = -s.corr[i]
		}
		if s.load != nil {
			for i := range rhs {
				rhs[i] += s.load[i]
			}
		}
	}
	for idx, vals := range lambda {
		free, ok := s.pick[idx]
		if !ok {
			return nil, fmt.Errorf("subdomain %d: no trace map for interface %d", s.SD, idx)
		}
		if len(vals) != len(free) {
			return nil, fmt.Errorf("subdomain %d: interface %d trace has %d values, want %d", s.SD, idx, len(vals), len(free))
		}
		for t, fi := range free {
			rhs[fi] += vals[t]
		}
	}

	var u mat.VecDense
	b := mat.NewVecDense(nf, rhs)
	var err error
	if s.chol != nil {
		err = s.chol.SolveVecTo(&u, b)
	} else {
		err = s.lu.SolveVecTo(&u, false, b)
	}
	if err != nil {
		return nil, fmt.Errorf("subdomain %d: local solve failed: %w", s.SD, err)
	}
	out := make([]float64, nf)
	copy(out, u.RawVector().Data)
	return out, nil
}

// Trace reads the solve result at interface idx's trace dofs.
func (s *SubdomainSolver) Trace(ufree []float64, idx int) []float64 {
	free := s.pick[idx]
	out := make([]float64, len(free))
	for t, fi := range free {
		out[t] = ufree[fi]
	}
	return out
}

// FullField expands a free-dof solution to all local dofs, boundary values
// included.
func (s *SubdomainSolver) FullField(ufree []float64) []float64 {
	return s.dofmap.Prolong(ufree, s.lift)
}

// Interfaces returns the compact indices of the interfaces this subdomain
// touches with a nonempty trace.
func (s *SubdomainSolver) Interfaces() []int { return s.ifaceIdxs }

// Penalty returns the impedance baked into the factored matrix.
func (s *SubdomainSolver) Penalty() float64 { return s.p }

// Space exposes the subdomain's finite element space.
func (s *SubdomainSolver) Space() *fespace.Space { return s.sp }
