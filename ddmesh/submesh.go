package ddmesh

import (
	"fmt"
	"sort"

	"github.com/notargets/DDKernel/mesh"
)

// SubdomainMesh is one rank's piece of a subdomain's independent mesh. The
// subdomain's elements, scattered over the ranks, are gathered
// to a single lead rank where the local boundary-value problem is set up and
// solved; every other rank holds a structurally valid zero-size mesh.
type SubdomainMesh struct {
	SD   int
	Lead int

	Mesh *mesh.Mesh

	// ElemGlobalIDs and VertexGlobalIDs map the local numbering of Mesh
	// back to the global mesh. Empty on non-lead ranks.
	ElemGlobalIDs   []int
	VertexGlobalIDs []int
}

// IsLocal reports whether this rank assembles and solves the subdomain.
func (sm *SubdomainMesh) IsLocal(rank int) bool { return sm.Lead == rank }

// Tag bases for the gather exchange. Each subdomain uses its own pair so
// distinct phases cannot be confused.
const (
	tagSubmeshInts = 1 << 20
	tagSubmeshCrds = 1 << 21
)

// SubdomainLeads derives, from the per-rank element counts, the lead rank of
// every subdomain: the smallest rank owning any of its elements. Subdomains
// with no elements anywhere are parked round-robin so they still have a
// well-defined (trivially idle) lead.
func SubdomainLeads(counts [][]int, numSubdomains int) []int {
	leads := make([]int, numSubdomains)
	for s := 0; s < numSubdomains; s++ {
		leads[s] = -1
		for r := range counts {
			if counts[r][s] > 0 {
				leads[s] = r
				break
			}
		}
		if leads[s] < 0 {
			leads[s] = s % len(counts)
		}
	}
	return leads
}

// BuildSubdomainMeshes extracts, for every subdomain id, an independent mesh
// of exactly that subdomain's elements. Connectivity and coordinates are
// redistributed point-to-point to the lead rank; the result preserves
// element adjacency (global vertex ids are kept), has no element overlap,
// and is a valid zero-size mesh wherever a rank holds nothing.
func BuildSubdomainMeshes(dm *mesh.DistMesh, numSubdomains int) ([]*SubdomainMesh, error) {
	c := dm.C

	myCounts := make([]int, numSubdomains)
	for _, s := range dm.EToS {
		myCounts[s]++
	}
	counts, err := c.AllGatherInts(myCounts)
	if err != nil {
		return nil, fmt.Errorf("gathering subdomain element counts: %w", err)
	}
	leads := SubdomainLeads(counts, numSubdomains)

	out := make([]*SubdomainMesh, numSubdomains)
	for s := 0; s < numSubdomains; s++ {
		lead := leads[s]
		switch {
		case c.Rank() != lead && myCounts[s] > 0:
			ints, crds := serializeShard(dm, s)
			if err := c.SendInts(lead, tagSubmeshInts+s, ints); err != nil {
				return nil, err
			}
			if err := c.SendFloats(lead, tagSubmeshCrds+s, crds); err != nil {
				return nil, err
			}
			out[s] = emptySubdomainMesh(s, lead, dm.Dim)

		case c.Rank() == lead:
			shards := [][2]interface{}{}
			for r := 0; r < c.Size(); r++ {
				if r == c.Rank() || counts[r][s] == 0 {
					continue
				}
				ints, err := c.RecvInts(r, tagSubmeshInts+s)
				if err != nil {
					return nil, err
				}
				crds, err := c.RecvFloats(r, tagSubmeshCrds+s)
				if err != nil {
					return nil, err
				}
				shards = append(shards, [2]interface{}{ints, crds})
			}
			sm, err := assembleSubdomainMesh(dm, s, lead, shards)
			if err != nil {
				return nil, fmt.Errorf("subdomain %d: %w", s, err)
			}
			expected := 0
			for r := range counts {
				expected += counts[r][s]
			}
			if len(sm.ElemGlobalIDs) != expected {
				return nil, fmt.Errorf("subdomain %d: assembled %d elements, want %d", s, len(sm.ElemGlobalIDs), expected)
			}
			out[s] = sm

		default:
			out[s] = emptySubdomainMesh(s, lead, dm.Dim)
		}
	}
	return out, nil
}

func emptySubdomainMesh(s, lead, dim int) *SubdomainMesh {
	return &SubdomainMesh{SD: s, Lead: lead, Mesh: &mesh.Mesh{Dim: dim}}
}

// serializeShard flattens this rank's elements of subdomain s. The integer
// payload is [nElems, {globalID, type, nv, verts...}..., nVerts, vids...];
// the float payload carries the coordinates of the listed vertices in order.
func serializeShard(dm *mesh.DistMesh, s int) ([]int, []float64) {
	var elems []int
	for k, sd := range dm.EToS {
		if sd == s {
			elems = append(elems, k)
		}
	}
	vset := make(map[int]bool)
	ints := []int{len(elems)}
	for _, k := range elems {
		ints = append(ints, dm.ElemIDs[k], int(dm.Types[k]), len(dm.EToV[k]))
		ints = append(ints, dm.EToV[k]...)
		for _, v := range dm.EToV[k] {
			vset[v] = true
		}
	}
	vids := make([]int, 0, len(vset))
	for v := range vset {
		vids = append(vids, v)
	}
	sort.Ints(vids)
	ints = append(ints, len(vids))
	ints = append(ints, vids...)

	crds := make([]float64, 0, len(vids)*dm.Dim)
	for _, v := range vids {
		crds = append(crds, dm.Coords[v][:dm.Dim]...)
	}
	return ints, crds
}

type shardElem struct {
	globalID int
	geom     mesh.GeomType
	verts    []int
}

// assembleSubdomainMesh merges the lead rank's own shard with the received
// ones into one mesh with a fresh local vertex numbering.
func assembleSubdomainMesh(dm *mesh.DistMesh, s, lead int, shards [][2]interface{}) (*SubdomainMesh, error) {
	var elems []shardElem
	coords := make(map[int][]float64)

	for k, sd := range dm.EToS {
		if sd != s {
			continue
		}
		elems = append(elems, shardElem{
			globalID: dm.ElemIDs[k],
			geom:     dm.Types[k],
			verts:    append([]int(nil), dm.EToV[k]...),
		})
		for _, v := range dm.EToV[k] {
			coords[v] = dm.Coords[v]
		}
	}

	for _, shard := range shards {
		ints := shard[0].([]int)
		crds := shard[1].([]float64)
		i := 0
		ne := ints[i]
		i++
		for e := 0; e < ne; e++ {
			gid, geom, nv := ints[i], mesh.GeomType(ints[i+1]), ints[i+2]
			i += 3
			elems = append(elems, shardElem{gid, geom, append([]int(nil), ints[i:i+nv]...)})
			i += nv
		}
		nverts := ints[i]
		i++
		for j := 0; j < nverts; j++ {
			v := ints[i+j]
			coords[v] = crds[j*dm.Dim : (j+1)*dm.Dim]
		}
	}

	sort.Slice(elems, func(i, j int) bool { return elems[i].globalID < elems[j].globalID })
	for i := 1; i < len(elems); i++ {
		if elems[i].globalID == elems[i-1].globalID {
			return nil, fmt.Errorf("element %d appears twice; subdomain meshes must not overlap", elems[i].globalID)
		}
	}

	vids := make([]int, 0, len(coords))
	for v := range coords {
		vids = append(vids, v)
	}
	sort.Ints(vids)
	local := make(map[int]int, len(vids))
	for i, v := range vids {
		local[v] = i
	}

	m := &mesh.Mesh{Dim: dm.Dim}
	sm := &SubdomainMesh{SD: s, Lead: lead, Mesh: m, VertexGlobalIDs: vids}
	for _, v := range vids {
		m.Vertices = append(m.Vertices, append([]float64(nil), coords[v][:dm.Dim]...))
	}
	for _, e := range elems {
		ev := make([]int, len(e.verts))
		for i, v := range e.verts {
			ev[i] = local[v]
		}
		m.EToV = append(m.EToV, ev)
		m.Types = append(m.Types, e.geom)
		sm.ElemGlobalIDs = append(sm.ElemGlobalIDs, e.globalID)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return sm, nil
}
