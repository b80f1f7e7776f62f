// Package ddoper implements the matrix-free interface operator of the
// non-overlapping decomposition: per-subdomain Robin solvers, directed
// interface trace blocks, and the reduction of the volume problem to an
// interface equation solvable by an outer Krylov iteration.
package ddoper

import (
	"fmt"
	"sort"

	"github.com/notargets/DDKernel/ddmesh"
)

// TraceSpace lays out the unknowns of the interface equation. Each interface
// carries one trace dof per shared vertex that is not on the physical
// boundary; boundary vertices stay pinned by the Dirichlet condition and
// never enter the trace.
type TraceSpace struct {
	// Dofs[idx] lists the global vertex ids of interface idx's trace, in
	// ascending order. Identical on every rank.
	Dofs [][]int
}

// NewTraceSpace derives the trace layout from the agreed topology.
func NewTraceSpace(topo *ddmesh.Topology) *TraceSpace {
	ts := &TraceSpace{Dofs: make([][]int, topo.NumInterfaces)}
	for idx, ifc := range topo.Interfaces {
		for _, v := range ifc.SharedVertices {
			if !topo.BoundaryVertices[v] {
				ts.Dofs[idx] = append(ts.Dofs[idx], v)
			}
		}
	}
	return ts
}

// Len returns the trace length of interface idx.
func (ts *TraceSpace) Len(idx int) int { return len(ts.Dofs[idx]) }

// Total returns the summed trace length over a set of interface indices.
func (ts *TraceSpace) Total(idxs []int) int {
	n := 0
	for _, idx := range idxs {
		n += ts.Len(idx)
	}
	return n
}

// pickMap resolves each trace dof of interface idx to a position in a sorted
// global vertex id list (a subdomain mesh's vertex numbering). Every trace
// vertex must be present; the interface's faces belong to the subdomain.
func (ts *TraceSpace) pickMap(idx int, vertexGlobalIDs []int) ([]int, error) {
	out := make([]int, ts.Len(idx))
	for t, v := range ts.Dofs[idx] {
		i := sort.SearchInts(vertexGlobalIDs, v)
		if i >= len(vertexGlobalIDs) || vertexGlobalIDs[i] != v {
			return nil, fmt.Errorf("trace vertex %d of interface %d missing from subdomain mesh", v, idx)
		}
		out[t] = i
	}
	return out, nil
}

// VerifyDisjoint checks that no trace dof doubles as a Dirichlet dof, the
// layout invariant the solvers rely on.
func (ts *TraceSpace) VerifyDisjoint(topo *ddmesh.Topology) error {
	for idx, dofs := range ts.Dofs {
		for _, v := range dofs {
			if topo.BoundaryVertices[v] {
				return fmt.Errorf("interface %d: trace vertex %d is on the physical boundary", idx, v)
			}
		}
	}
	return nil
}
