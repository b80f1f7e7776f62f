package mesh

import (
	"fmt"

	"github.com/notargets/DDKernel/comm"
)

// DistMesh is one rank's shard of a partitioned mesh. Element and vertex ids
// stay in the global numbering of the source mesh; a rank stores coordinates
// only for vertices its own elements reference. A rank may legally hold zero
// elements.
type DistMesh struct {
	C   *comm.Comm
	Dim int

	ElemIDs []int // global ids of the elements on this rank
	Types   []GeomType
	EToV    [][]int // global vertex ids, aligned with ElemIDs
	EToS    []int   // subdomain tag per local element

	Coords map[int][]float64 // coordinates of referenced vertices
}

// Distribute builds a rank's shard from a serial mesh, an element-to-rank
// map, and an element-to-subdomain map. Every rank of the communicator holds
// the same serial mesh (the driver reads it everywhere), so no data exchange
// is needed here; distribution is pure selection.
func Distribute(m *Mesh, eToR, eToS []int, c *comm.Comm) (*DistMesh, error) {
	if len(eToR) != m.NumElements() {
		return nil, fmt.Errorf("element-to-rank map covers %d of %d elements", len(eToR), m.NumElements())
	}
	if len(eToS) != m.NumElements() {
		return nil, fmt.Errorf("element-to-subdomain map covers %d of %d elements", len(eToS), m.NumElements())
	}

	dm := &DistMesh{C: c, Dim: m.Dim, Coords: make(map[int][]float64)}
	for k := range m.EToV {
		if eToR[k] < 0 || eToR[k] >= c.Size() {
			return nil, fmt.Errorf("element %d assigned to rank %d of %d", k, eToR[k], c.Size())
		}
		if eToR[k] != c.Rank() {
			continue
		}
		dm.ElemIDs = append(dm.ElemIDs, k)
		dm.Types = append(dm.Types, m.Types[k])
		dm.EToV = append(dm.EToV, append([]int(nil), m.EToV[k]...))
		dm.EToS = append(dm.EToS, eToS[k])
		for _, v := range m.EToV[k] {
			if _, ok := dm.Coords[v]; !ok {
				dm.Coords[v] = append([]float64(nil), m.Vertices[v][:m.Dim]...)
			}
		}
	}
	return dm, nil
}

// NumElements returns the local element count (zero is legal).
func (dm *DistMesh) NumElements() int { return len(dm.ElemIDs) }

// FaceVertices returns the global vertex ids of face f of local element k.
func (dm *DistMesh) FaceVertices(k, f int) []int {
	local := faceTables[dm.Types[k]][f]
	out := make([]int, len(local))
	for i, lv := range local {
		out[i] = dm.EToV[k][lv]
	}
	return out
}
