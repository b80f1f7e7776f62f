// Package mesh holds the unstructured mesh representation shared by the
// partitioning, topology, and discretization layers: element-to-vertex
// connectivity over a global vertex numbering, face tables per element
// geometry, and derived element-to-element adjacency.
package mesh

import (
	"fmt"
	"sort"
)

// GeomType identifies the shape of an element.
type GeomType uint8

const (
	Quad GeomType = iota
	Tri
	Hex
	Tet
	Segment
)

func (t GeomType) String() string {
	switch t {
	case Quad:
		return "Quad"
	case Tri:
		return "Tri"
	case Hex:
		return "Hex"
	case Tet:
		return "Tet"
	case Segment:
		return "Segment"
	}
	return "Unknown"
}

// faceTables lists, per geometry, the local vertex indices of each face in a
// fixed orientation. Boundary classification and face-key matching only need
// the vertex set, not the orientation.
var faceTables = map[GeomType][][]int{
	Quad:    {{0, 1}, {1, 2}, {2, 3}, {3, 0}},
	Tri:     {{0, 1}, {1, 2}, {2, 0}},
	Tet:     {{0, 1, 2}, {0, 1, 3}, {1, 2, 3}, {0, 2, 3}},
	Hex:     {{0, 1, 2, 3}, {4, 5, 6, 7}, {0, 1, 5, 4}, {1, 2, 6, 5}, {2, 3, 7, 6}, {3, 0, 4, 7}},
	Segment: {{0}, {1}},
}

// faceGeoms gives the geometry of a face of each element type.
var faceGeoms = map[GeomType]GeomType{
	Quad: Segment,
	Tri:  Segment,
	Tet:  Tri,
	Hex:  Quad,
}

// NumFaces returns the number of faces of an element geometry.
func NumFaces(t GeomType) int { return len(faceTables[t]) }

// FaceGeom returns the geometry of the faces of an element geometry.
func FaceGeom(t GeomType) GeomType { return faceGeoms[t] }

// FaceLocalVertices returns the local vertex indices of face f of geometry t.
func FaceLocalVertices(t GeomType, f int) []int { return faceTables[t][f] }

// FaceKey is the canonical identity of a mesh face: its sorted global vertex
// ids, padded with -1. Two elements share a face exactly when their keys match.
type FaceKey [4]int

// MakeFaceKey builds the canonical key for a set of global vertex ids.
func MakeFaceKey(verts []int) FaceKey {
	var k FaceKey
	for i := range k {
		k[i] = -1
	}
	s := append([]int(nil), verts...)
	sort.Ints(s)
	copy(k[:], s)
	return k
}

// Mesh is a serial mesh: vertex coordinates plus element-to-vertex
// connectivity. Vertex and element indices are zero-based.
type Mesh struct {
	Dim      int
	Vertices [][]float64
	EToV     [][]int
	Types    []GeomType
}

// NumElements returns the element count.
func (m *Mesh) NumElements() int { return len(m.EToV) }

// NumVertices returns the vertex count.
func (m *Mesh) NumVertices() int { return len(m.Vertices) }

// Validate checks structural consistency of the connectivity arrays.
func (m *Mesh) Validate() error {
	if len(m.Types) != len(m.EToV) {
		return fmt.Errorf("mesh: %d element types for %d elements", len(m.Types), len(m.EToV))
	}
	for k, ev := range m.EToV {
		for _, v := range ev {
			if v < 0 || v >= len(m.Vertices) {
				return fmt.Errorf("mesh: element %d references vertex %d of %d", k, v, len(m.Vertices))
			}
		}
	}
	return nil
}

// FaceVertices returns the global vertex ids of face f of element k.
func (m *Mesh) FaceVertices(k, f int) []int {
	local := faceTables[m.Types[k]][f]
	out := make([]int, len(local))
	for i, lv := range local {
		out[i] = m.EToV[k][lv]
	}
	return out
}

// ElementCentroid returns the arithmetic mean of element k's vertices.
func (m *Mesh) ElementCentroid(k int) []float64 {
	c := make([]float64, m.Dim)
	for _, v := range m.EToV[k] {
		for d := 0; d < m.Dim; d++ {
			c[d] += m.Vertices[v][d]
		}
	}
	n := float64(len(m.EToV[k]))
	for d := range c {
		c[d] /= n
	}
	return c
}

// Connectivity is element-to-element adjacency through shared faces. A
// boundary face references its own element (EToE[k][f] == k), following the
// self-reference convention used throughout the solver.
type Connectivity struct {
	EToE [][]int
	EToF [][]int
}

// BuildConnectivity derives EToE and EToF by face-key matching. A face key
// appearing more than twice means the mesh is not a manifold and is reported
// as an error.
func (m *Mesh) BuildConnectivity() (*Connectivity, error) {
	type half struct{ elem, face int }
	seen := make(map[FaceKey]half)

	conn := &Connectivity{
		EToE: make([][]int, m.NumElements()),
		EToF: make([][]int, m.NumElements()),
	}
	for k := range m.EToV {
		nf := NumFaces(m.Types[k])
		conn.EToE[k] = make([]int, nf)
		conn.EToF[k] = make([]int, nf)
		for f := 0; f < nf; f++ {
			conn.EToE[k][f] = k
			conn.EToF[k][f] = f
		}
	}

	for k := range m.EToV {
		for f := 0; f < NumFaces(m.Types[k]); f++ {
			key := MakeFaceKey(m.FaceVertices(k, f))
			other, ok := seen[key]
			if !ok {
				seen[key] = half{k, f}
				continue
			}
			if conn.EToE[other.elem][other.face] != other.elem {
				return nil, fmt.Errorf("face of element %d matched more than twice", k)
			}
			conn.EToE[k][f] = other.elem
			conn.EToF[k][f] = other.face
			conn.EToE[other.elem][other.face] = k
			conn.EToF[other.elem][other.face] = f
		}
	}
	return conn, nil
}

// BoundaryVertexSet returns the global ids of vertices lying on boundary
// faces (faces with the self-reference convention in conn).
func (m *Mesh) BoundaryVertexSet(conn *Connectivity) map[int]bool {
	out := make(map[int]bool)
	for k := range m.EToV {
		for f := 0; f < NumFaces(m.Types[k]); f++ {
			if conn.EToE[k][f] == k {
				for _, v := range m.FaceVertices(k, f) {
					out[v] = true
				}
			}
		}
	}
	return out
}
