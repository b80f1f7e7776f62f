package mesh

import (
	"fmt"

	dg3dmesh "github.com/notargets/gocfd/DG3D/mesh"
	"github.com/notargets/gocfd/DG3D/mesh/readers"
)

// ReadFile reads a mesh file (.neu, .msh, or .su2) through the gocfd readers
// and converts it to the local representation. Three-dimensional volume
// meshes come through with their global vertex numbering intact. The gocfd
// mesh is returned alongside for callers that feed its partitioner.
func ReadFile(path string) (*Mesh, *dg3dmesh.Mesh, error) {
	gm, err := readers.ReadMeshFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("reading mesh %s: %w", path, err)
	}
	m, err := FromGocfd(gm)
	if err != nil {
		return nil, nil, err
	}
	return m, gm, nil
}

// FromGocfd converts a gocfd mesh into the local representation. Element
// geometries are matched by name so only the types this solver supports get
// through.
func FromGocfd(gm *dg3dmesh.Mesh) (*Mesh, error) {
	m := &Mesh{Dim: 3}
	m.Vertices = make([][]float64, len(gm.Vertices))
	for i, v := range gm.Vertices {
		m.Vertices[i] = []float64{v[0], v[1], v[2]}
	}
	for k, ev := range gm.EtoV {
		var t GeomType
		switch name := gm.ElementTypes[k].String(); name {
		case "Tet", "Tetrahedron":
			t = Tet
		case "Hex", "Hexahedron":
			t = Hex
		default:
			return nil, fmt.Errorf("unsupported element type %s (element %d)", name, k)
		}
		m.EToV = append(m.EToV, append([]int(nil), ev...))
		m.Types = append(m.Types, t)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}
