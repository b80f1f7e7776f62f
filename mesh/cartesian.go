package mesh

import (
	"fmt"
	"math"
)

// NewCartesian2D builds a structured quadrilateral mesh of nx by ny elements
// covering [0,lx] x [0,ly]. Vertex (i,j) has index j*(nx+1)+i; element
// vertices are listed counterclockwise starting at the lower-left corner.
func NewCartesian2D(nx, ny int, lx, ly float64) (*Mesh, error) {
	if nx < 1 || ny < 1 {
		return nil, fmt.Errorf("cartesian mesh needs at least 1 element per direction, got %dx%d", nx, ny)
	}
	if lx <= 0 || ly <= 0 {
		return nil, fmt.Errorf("cartesian mesh needs positive extents, got %g x %g", lx, ly)
	}

	m := &Mesh{Dim: 2}
	for j := 0; j <= ny; j++ {
		for i := 0; i <= nx; i++ {
			m.Vertices = append(m.Vertices, []float64{
				lx * float64(i) / float64(nx),
				ly * float64(j) / float64(ny),
			})
		}
	}
	vid := func(i, j int) int { return j*(nx+1) + i }
	for j := 0; j < ny; j++ {
		for i := 0; i < nx; i++ {
			m.EToV = append(m.EToV, []int{vid(i, j), vid(i+1, j), vid(i+1, j+1), vid(i, j+1)})
			m.Types = append(m.Types, Quad)
		}
	}
	return m, nil
}

// CartesianPartition assigns every element to a cell of an nxyz grid laid
// over the mesh bounding box, by element centroid. The cell index runs
// fastest in x, matching the layout produced by structured mesh generators.
// Unused trailing directions take count 1.
func (m *Mesh) CartesianPartition(nxyz []int) ([]int, error) {
	n := [3]int{1, 1, 1}
	for d := 0; d < len(nxyz) && d < 3; d++ {
		if nxyz[d] < 1 {
			return nil, fmt.Errorf("cartesian partition counts must be positive, got %v", nxyz)
		}
		n[d] = nxyz[d]
	}
	for d := m.Dim; d < 3; d++ {
		if n[d] != 1 {
			return nil, fmt.Errorf("cartesian partition direction %d exceeds mesh dimension %d", d, m.Dim)
		}
	}
	if m.NumElements() == 0 {
		return nil, fmt.Errorf("cartesian partition of empty mesh")
	}

	lo := make([]float64, m.Dim)
	hi := make([]float64, m.Dim)
	for d := 0; d < m.Dim; d++ {
		lo[d] = math.Inf(1)
		hi[d] = math.Inf(-1)
	}
	for _, v := range m.Vertices {
		for d := 0; d < m.Dim; d++ {
			lo[d] = math.Min(lo[d], v[d])
			hi[d] = math.Max(hi[d], v[d])
		}
	}

	eToP := make([]int, m.NumElements())
	for k := range m.EToV {
		c := m.ElementCentroid(k)
		var idx [3]int
		for d := 0; d < m.Dim; d++ {
			if hi[d] > lo[d] {
				idx[d] = int(float64(n[d]) * (c[d] - lo[d]) / (hi[d] - lo[d]))
			}
			if idx[d] >= n[d] {
				idx[d] = n[d] - 1
			}
		}
		eToP[k] = idx[0] + n[0]*(idx[1]+n[1]*idx[2])
	}
	return eToP, nil
}
