package ddmesh

import (
	"sort"

	"github.com/notargets/DDKernel/mesh"
)

// InterfaceMesh is a rank-local mesh of one interface's faces, one dimension
// below the volume mesh. Interfaces the rank holds no faces of yield a valid
// zero-face mesh; a face straddling a rank boundary is present on both ranks.
type InterfaceMesh struct {
	Iface *Interface
	Mesh  *mesh.Mesh

	// VertexGlobalIDs maps the face mesh's local vertex numbering back to
	// the global mesh.
	VertexGlobalIDs []int
}

// BuildInterfaceMeshes materializes a face mesh for every interface in the
// topology, in compact index order. The construction is purely local; no
// communication happens here.
func BuildInterfaceMeshes(dm *mesh.DistMesh, topo *Topology) ([]*InterfaceMesh, error) {
	out := make([]*InterfaceMesh, topo.NumInterfaces)
	for idx, ifc := range topo.Interfaces {
		im, err := buildInterfaceMesh(dm, ifc)
		if err != nil {
			return nil, err
		}
		out[idx] = im
	}
	return out, nil
}

func buildInterfaceMesh(dm *mesh.DistMesh, ifc *Interface) (*InterfaceMesh, error) {
	im := &InterfaceMesh{Iface: ifc, Mesh: &mesh.Mesh{Dim: dm.Dim}}
	if ifc.IsEmpty() {
		return im, nil
	}

	vset := make(map[int]bool)
	for _, fr := range ifc.Faces {
		for _, v := range dm.FaceVertices(fr.Elem, fr.Face) {
			vset[v] = true
		}
	}
	vids := make([]int, 0, len(vset))
	for v := range vset {
		vids = append(vids, v)
	}
	sort.Ints(vids)
	local := make(map[int]int, len(vids))
	for i, v := range vids {
		local[v] = i
	}

	im.VertexGlobalIDs = vids
	for _, v := range vids {
		im.Mesh.Vertices = append(im.Mesh.Vertices, append([]float64(nil), dm.Coords[v][:dm.Dim]...))
	}
	for _, fr := range ifc.Faces {
		gv := dm.FaceVertices(fr.Elem, fr.Face)
		ev := make([]int, len(gv))
		for i, v := range gv {
			ev[i] = local[v]
		}
		im.Mesh.EToV = append(im.Mesh.EToV, ev)
		im.Mesh.Types = append(im.Mesh.Types, mesh.FaceGeom(dm.Types[fr.Elem]))
	}
	if err := im.Mesh.Validate(); err != nil {
		return nil, err
	}
	return im, nil
}
