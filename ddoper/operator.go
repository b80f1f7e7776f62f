package ddoper

import (
	"fmt"
	"math"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/notargets/DDKernel/comm"
	"github.com/notargets/DDKernel/ddmesh"
	"github.com/notargets/DDKernel/mesh"
	"github.com/notargets/DDKernel/utils"
)

// Message tags of the operator's exchange phases.
const (
	tagScatter = 1 << 22
	tagGather  = 1 << 23
)

// InterfaceOperator is the matrix-free reduced operator I - G acting on
// directed interface traces. Vectors are distributed: each rank stores, for
// every interface it owns, two contiguous blocks (toward SD0, then toward
// SD1) in compact interface order. The owner of an interface is the lead
// rank of its lower-numbered subdomain.
type InterfaceOperator struct {
	c    *comm.Comm
	topo *ddmesh.Topology
	ts   *TraceSpace

	leads []int // per subdomain
	owner []int // per compact interface index

	// solvers holds the Robin solvers of the subdomains this rank leads.
	solvers map[int]*SubdomainSolver
	ledSDs  []int

	ownedIdx []int
	offset   map[int]int
	height   int

	// mult counts, per global vertex, the subdomains whose gathered mesh
	// contains it; recovery averages duplicated interface values with it.
	mult              map[int]int
	numGlobalVertices int

	p float64
}

var _ utils.LinearOperator = (*InterfaceOperator)(nil)

// NewInterfaceOperator builds the solvers for the subdomains this rank leads
// and lays out the distributed trace vector. The impedance of cfg is
// resolved here (globally, when derived from the mesh scale) so every
// subdomain bakes the same p into its matrix.
func NewInterfaceOperator(c *comm.Comm, topo *ddmesh.Topology, ts *TraceSpace, sms []*ddmesh.SubdomainMesh, cfg Config, numGlobalVertices int) (*InterfaceOperator, error) {
	if err := ts.VerifyDisjoint(topo); err != nil {
		return nil, err
	}

	o := &InterfaceOperator{
		c:                 c,
		topo:              topo,
		ts:                ts,
		leads:             make([]int, topo.NumSubdomains),
		owner:             make([]int, topo.NumInterfaces),
		solvers:           make(map[int]*SubdomainSolver),
		offset:            make(map[int]int),
		mult:              make(map[int]int),
		numGlobalVertices: numGlobalVertices,
	}
	for s, sm := range sms {
		o.leads[s] = sm.Lead
	}
	for idx, ifc := range topo.Interfaces {
		o.owner[idx] = o.leads[ifc.SD0]
	}

	p, err := o.resolvePenalty(sms, cfg)
	if err != nil {
		return nil, err
	}
	o.p = p

	for s, sm := range sms {
		if sm.Lead != c.Rank() || sm.Mesh.NumElements() == 0 {
			continue
		}
		sv, err := NewSubdomainSolver(sm, topo, ts, cfg, p)
		if err != nil {
			return nil, err
		}
		o.solvers[s] = sv
		o.ledSDs = append(o.ledSDs, s)
	}
	sort.Ints(o.ledSDs)

	for idx := range topo.Interfaces {
		if o.owner[idx] != c.Rank() {
			continue
		}
		o.ownedIdx = append(o.ownedIdx, idx)
		o.offset[idx] = o.height
		o.height += 2 * ts.Len(idx)
	}

	if err := o.countMultiplicity(sms); err != nil {
		return nil, err
	}
	return o, nil
}

// resolvePenalty returns cfg.Penalty, or 1/h_min over the whole mesh when
// unset. The reduction is collective.
func (o *InterfaceOperator) resolvePenalty(sms []*ddmesh.SubdomainMesh, cfg Config) (float64, error) {
	if cfg.Penalty > 0 {
		return cfg.Penalty, nil
	}
	local := math.Inf(1)
	for _, sm := range sms {
		if sm.Lead != o.c.Rank() {
			continue
		}
		if h := minEdgeLength(sm.Mesh); h > 0 && h < local {
			local = h
		}
	}
	hmin, err := o.c.AllReduceFloat(local, comm.OpMin)
	if err != nil {
		return 0, err
	}
	if math.IsInf(hmin, 1) {
		return 0, fmt.Errorf("cannot derive impedance: no elements anywhere")
	}
	return 1 / hmin, nil
}

func minEdgeLength(m *mesh.Mesh) float64 {
	h := math.Inf(1)
	for k := range m.EToV {
		for f := 0; f < mesh.NumFaces(m.Types[k]); f++ {
			fv := m.FaceVertices(k, f)
			a, b := m.Vertices[fv[0]], m.Vertices[fv[1]]
			var d2 float64
			for d := 0; d < m.Dim; d++ {
				d2 += (a[d] - b[d]) * (a[d] - b[d])
			}
			if d := math.Sqrt(d2); d < h {
				h = d
			}
		}
	}
	if math.IsInf(h, 1) {
		return 0
	}
	return h
}

// countMultiplicity gathers, from every lead, the vertex lists of its
// subdomains and counts how many subdomains contain each global vertex.
func (o *InterfaceOperator) countMultiplicity(sms []*ddmesh.SubdomainMesh) error {
	var payload []int
	for _, s := range o.ledSDs {
		verts := sms[s].VertexGlobalIDs
		payload = append(payload, s, len(verts))
		payload = append(payload, verts...)
	}
	all, err := o.c.AllGatherInts(payload)
	if err != nil {
		return fmt.Errorf("gathering subdomain vertex lists: %w", err)
	}
	for r, p := range all {
		i := 0
		for i < len(p) {
			if i+2 > len(p) {
				return fmt.Errorf("malformed vertex list from rank %d", r)
			}
			n := p[i+1]
			i += 2
			if i+n > len(p) {
				return fmt.Errorf("malformed vertex list from rank %d", r)
			}
			for _, v := range p[i : i+n] {
				o.mult[v]++
			}
			i += n
		}
	}
	return nil
}

// Height returns this rank's share of the trace vector length.
func (o *InterfaceOperator) Height() int { return o.height }

// Width equals Height; the operator is square.
func (o *InterfaceOperator) Width() int { return o.height }

// Penalty returns the resolved impedance.
func (o *InterfaceOperator) Penalty() float64 { return o.p }

// Comm exposes the communicator for the outer Krylov solver's reductions.
func (o *InterfaceOperator) Comm() *comm.Comm { return o.c }

// SetSource assembles the volume source on every led subdomain.
func (o *InterfaceOperator) SetSource(f func(x []float64) float64) error {
	for _, s := range o.ledSDs {
		if err := o.solvers[s].SetLoad(f); err != nil {
			return err
		}
	}
	return nil
}

// scatter delivers the directed blocks of x to the leads of their target
// subdomains. A nil x scatters zeros (no messages at all; solvers treat a
// missing interface entry as zero).
func (o *InterfaceOperator) scatter(x []float64) (map[int]map[int][]float64, error) {
	incoming := make(map[int]map[int][]float64, len(o.ledSDs))
	for _, s := range o.ledSDs {
		incoming[s] = make(map[int][]float64)
	}
	if x == nil {
		return incoming, nil
	}

	for _, idx := range o.ownedIdx {
		ifc := o.topo.Interfaces[idx]
		n := o.ts.Len(idx)
		if n == 0 {
			continue
		}
		off := o.offset[idx]
		b0 := append([]float64(nil), x[off:off+n]...)
		b1 := append([]float64(nil), x[off+n:off+2*n]...)

		// The owner leads SD0, so the SD0-bound block never travels.
		incoming[ifc.SD0][idx] = b0
		if o.leads[ifc.SD1] == o.c.Rank() {
			incoming[ifc.SD1][idx] = b1
		} else if err := o.c.SendFloats(o.leads[ifc.SD1], tagScatter+idx, b1); err != nil {
			return nil, err
		}
	}

	for idx, ifc := range o.topo.Interfaces {
		if o.owner[idx] == o.c.Rank() || o.ts.Len(idx) == 0 {
			continue
		}
		if o.leads[ifc.SD1] != o.c.Rank() {
			continue
		}
		vals, err := o.c.RecvFloats(o.owner[idx], tagScatter+idx)
		if err != nil {
			return nil, err
		}
		incoming[ifc.SD1][idx] = vals
	}
	return incoming, nil
}

// sweep runs the three-phase pass: scatter x, solve every led subdomain
// concurrently, then gather per-interface responses 2p*u|trace - lambda back
// to the interface owners. The returned vector holds the response in the
// local layout.
func (o *InterfaceOperator) sweep(x []float64, withSource bool) ([]float64, error) {
	incoming, err := o.scatter(x)
	if err != nil {
		return nil, err
	}

	fields := make([][]float64, len(o.ledSDs))
	var g errgroup.Group
	for i, s := range o.ledSDs {
		g.Go(func() error {
			ufree, err := o.solvers[s].Solve(incoming[s], withSource)
			if err != nil {
				return err
			}
			fields[i] = ufree
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Responses keyed by (interface, sending side), combined locally or
	// sent to the owner in (idx, side) order so per-pair FIFO holds.
	type dirKey struct{ idx, side int }
	local := make(map[dirKey][]float64)
	var remote []dirKey
	remoteVals := make(map[dirKey][]float64)

	for i, s := range o.ledSDs {
		sv := o.solvers[s]
		for _, idx := range sv.Interfaces() {
			tr := sv.Trace(fields[i], idx)
			lam := incoming[s][idx]
			gv := make([]float64, len(tr))
			for t := range gv {
				gv[t] = 2 * o.p * tr[t]
				if lam != nil {
					gv[t] -= lam[t]
				}
			}
			side := 0
			if s == o.topo.Interfaces[idx].SD1 {
				side = 1
			}
			k := dirKey{idx, side}
			if o.owner[idx] == o.c.Rank() {
				local[k] = gv
			} else {
				remote = append(remote, k)
				remoteVals[k] = gv
			}
		}
	}
	sort.Slice(remote, func(i, j int) bool {
		if remote[i].idx != remote[j].idx {
			return remote[i].idx < remote[j].idx
		}
		return remote[i].side < remote[j].side
	})
	for _, k := range remote {
		if err := o.c.SendFloats(o.owner[k.idx], tagGather+2*k.idx+k.side, remoteVals[k]); err != nil {
			return nil, err
		}
	}

	gx := make([]float64, o.height)
	for _, idx := range o.ownedIdx {
		ifc := o.topo.Interfaces[idx]
		n := o.ts.Len(idx)
		if n == 0 {
			continue
		}
		off := o.offset[idx]
		for side, sd := range [2]int{ifc.SD0, ifc.SD1} {
			var gv []float64
			if o.leads[sd] == o.c.Rank() {
				gv = local[dirKey{idx, side}]
			} else {
				gv, err = o.c.RecvFloats(o.leads[sd], tagGather+2*idx+side)
				if err != nil {
					return nil, err
				}
			}
			if len(gv) != n {
				return nil, fmt.Errorf("interface %d: response from side %d has %d entries, want %d", idx, side, len(gv), n)
			}
			// Side 0's response updates the SD1-bound block and vice
			// versa.
			dst := gx[off : off+n]
			if side == 0 {
				dst = gx[off+n : off+2*n]
			}
			copy(dst, gv)
		}
	}
	return gx, nil
}

// Apply computes y = (I - G) x, one round of subdomain solves per call.
func (o *InterfaceOperator) Apply(x, y []float64) error {
	if len(x) != o.height || len(y) != o.height {
		return fmt.Errorf("interface operator: vector length %d/%d, want %d", len(x), len(y), o.height)
	}
	gx, err := o.sweep(x, false)
	if err != nil {
		return err
	}
	for i := range y {
		y[i] = x[i] - gx[i]
	}
	return nil
}

// GetReducedSource computes the right hand side of the interface equation:
// the directed responses of source-only solves. SetSource must have been
// called.
func (o *InterfaceOperator) GetReducedSource() ([]float64, error) {
	c, err := o.sweep(nil, true)
	return c, err
}

// RecoverDomainSolution runs one final set of subdomain solves with the
// converged traces and the source, then assembles the global nodal field on
// every rank. Values duplicated across subdomains (the interface vertices)
// are averaged; dofs no subdomain covers keep their value from prior (zero
// when prior is nil).
func (o *InterfaceOperator) RecoverDomainSolution(x []float64, sms []*ddmesh.SubdomainMesh, prior []float64) ([]float64, error) {
	if len(x) != o.height {
		return nil, fmt.Errorf("interface operator: vector length %d, want %d", len(x), o.height)
	}
	if prior != nil && len(prior) != o.numGlobalVertices {
		return nil, fmt.Errorf("interface operator: prior guess has %d entries, want %d", len(prior), o.numGlobalVertices)
	}
	incoming, err := o.scatter(x)
	if err != nil {
		return nil, err
	}

	var verts []int
	var vals []float64
	for _, s := range o.ledSDs {
		ufree, err := o.solvers[s].Solve(incoming[s], true)
		if err != nil {
			return nil, err
		}
		full := o.solvers[s].FullField(ufree)
		for local, g := range sms[s].VertexGlobalIDs {
			verts = append(verts, g)
			vals = append(vals, full[local]/float64(o.mult[g]))
		}
	}

	allVerts, err := o.c.AllGatherInts(verts)
	if err != nil {
		return nil, err
	}
	allVals, err := o.c.AllGatherFloats(vals)
	if err != nil {
		return nil, err
	}
	out := make([]float64, o.numGlobalVertices)
	for v := range out {
		if o.mult[v] == 0 && prior != nil {
			out[v] = prior[v]
		}
	}
	for r := range allVerts {
		if len(allVerts[r]) != len(allVals[r]) {
			return nil, fmt.Errorf("recovery: rank %d sent %d vertices and %d values", r, len(allVerts[r]), len(allVals[r]))
		}
		for i, v := range allVerts[r] {
			out[v] += allVals[r][i]
		}
	}
	return out, nil
}
