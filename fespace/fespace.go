// Package fespace implements a bilinear nodal finite element space on
// quadrilateral meshes: one degree of freedom per mesh vertex, isoparametric
// elements, and sparse assembly of the diffusion-reaction bilinear form used
// by the subdomain solvers.
package fespace

import (
	"fmt"
	"math"

	"github.com/james-bowman/sparse"

	"github.com/notargets/DDKernel/mesh"
)

// Space is a continuous bilinear space over a quad mesh. Degrees of freedom
// coincide with mesh vertices.
type Space struct {
	Mesh *mesh.Mesh
}

// NewSpace wraps a mesh after checking every element is a quadrilateral. A
// zero-element mesh is accepted; it yields a zero-dof space.
func NewSpace(m *mesh.Mesh) (*Space, error) {
	if m.Dim != 2 && m.NumElements() > 0 {
		return nil, fmt.Errorf("fespace: mesh dimension %d, want 2", m.Dim)
	}
	for k, t := range m.Types {
		if t != mesh.Quad {
			return nil, fmt.Errorf("fespace: element %d is %s, want Quad", k, t)
		}
	}
	return &Space{Mesh: m}, nil
}

// NumDofs returns the dof count (one per vertex).
func (sp *Space) NumDofs() int { return sp.Mesh.NumVertices() }

// gaussPts are the 2x2 tensor Gauss points on [-1,1]^2, all with unit weight.
var gaussPts = [4][2]float64{
	{-1 / math.Sqrt(3), -1 / math.Sqrt(3)},
	{1 / math.Sqrt(3), -1 / math.Sqrt(3)},
	{1 / math.Sqrt(3), 1 / math.Sqrt(3)},
	{-1 / math.Sqrt(3), 1 / math.Sqrt(3)},
}

// shape evaluates the four bilinear shape functions and their reference
// gradients at (xi, eta). Node order follows the counterclockwise element
// connectivity.
func shape(xi, eta float64) (n [4]float64, dxi, deta [4]float64) {
	n = [4]float64{
		(1 - xi) * (1 - eta) / 4,
		(1 + xi) * (1 - eta) / 4,
		(1 + xi) * (1 + eta) / 4,
		(1 - xi) * (1 + eta) / 4,
	}
	dxi = [4]float64{-(1 - eta) / 4, (1 - eta) / 4, (1 + eta) / 4, -(1 + eta) / 4}
	deta = [4]float64{-(1 - xi) / 4, -(1 + xi) / 4, (1 + xi) / 4, (1 - xi) / 4}
	return
}

// quadPoint holds everything one quadrature point contributes: shape values,
// physical gradients, the physical location, and the measure w*|J|.
type quadPoint struct {
	n    [4]float64
	gx   [4]float64
	gy   [4]float64
	x    [2]float64
	wdet float64
}

func (sp *Space) elementQuad(k int) ([4]quadPoint, error) {
	var pts [4]quadPoint
	ev := sp.Mesh.EToV[k]
	for q, gp := range gaussPts {
		n, dxi, deta := shape(gp[0], gp[1])
		var j [2][2]float64
		var x [2]float64
		for i := 0; i < 4; i++ {
			v := sp.Mesh.Vertices[ev[i]]
			j[0][0] += dxi[i] * v[0]
			j[0][1] += dxi[i] * v[1]
			j[1][0] += deta[i] * v[0]
			j[1][1] += deta[i] * v[1]
			x[0] += n[i] * v[0]
			x[1] += n[i] * v[1]
		}
		det := j[0][0]*j[1][1] - j[0][1]*j[1][0]
		if det <= 0 {
			return pts, fmt.Errorf("element %d: non-positive jacobian %g", k, det)
		}
		pts[q].n = n
		pts[q].x = x
		pts[q].wdet = det
		for i := 0; i < 4; i++ {
			pts[q].gx[i] = (j[1][1]*dxi[i] - j[1][0]*deta[i]) / det
			pts[q].gy[i] = (-j[0][1]*dxi[i] + j[0][0]*deta[i]) / det
		}
	}
	return pts, nil
}

// AssembleDiffusionReaction assembles (grad u, grad v) + sigma (u, v) into a
// compressed sparse row matrix.
func (sp *Space) AssembleDiffusionReaction(sigma float64) (*sparse.CSR, error) {
	n := sp.NumDofs()
	dok := sparse.NewDOK(n, n)
	for k := range sp.Mesh.EToV {
		pts, err := sp.elementQuad(k)
		if err != nil {
			return nil, err
		}
		ev := sp.Mesh.EToV[k]
		for _, p := range pts {
			for a := 0; a < 4; a++ {
				for b := 0; b < 4; b++ {
					val := p.wdet * (p.gx[a]*p.gx[b] + p.gy[a]*p.gy[b] + sigma*p.n[a]*p.n[b])
					dok.Set(ev[a], ev[b], dok.At(ev[a], ev[b])+val)
				}
			}
		}
	}
	return dok.ToCSR(), nil
}

// AssembleLoad assembles the linear form (f, v).
func (sp *Space) AssembleLoad(f func(x []float64) float64) ([]float64, error) {
	out := make([]float64, sp.NumDofs())
	for k := range sp.Mesh.EToV {
		pts, err := sp.elementQuad(k)
		if err != nil {
			return nil, err
		}
		ev := sp.Mesh.EToV[k]
		for _, p := range pts {
			fv := f(p.x[:])
			for a := 0; a < 4; a++ {
				out[ev[a]] += p.wdet * fv * p.n[a]
			}
		}
	}
	return out, nil
}

// Project interpolates f at the dof locations.
func (sp *Space) Project(f func(x []float64) float64) []float64 {
	out := make([]float64, sp.NumDofs())
	for i, v := range sp.Mesh.Vertices {
		out[i] = f(v)
	}
	return out
}

// L2Error computes ||u_h - exact|| over the mesh by element quadrature.
func (sp *Space) L2Error(u []float64, exact func(x []float64) float64) (float64, error) {
	if len(u) != sp.NumDofs() {
		return 0, fmt.Errorf("fespace: coefficient vector has %d entries, want %d", len(u), sp.NumDofs())
	}
	var sum float64
	for k := range sp.Mesh.EToV {
		pts, err := sp.elementQuad(k)
		if err != nil {
			return 0, err
		}
		ev := sp.Mesh.EToV[k]
		for _, p := range pts {
			var uh float64
			for a := 0; a < 4; a++ {
				uh += p.n[a] * u[ev[a]]
			}
			d := uh - exact(p.x[:])
			sum += p.wdet * d * d
		}
	}
	return math.Sqrt(sum), nil
}

// MinEdgeLength returns the shortest element edge, the mesh scale used to
// size the interface impedance. Zero-element meshes report 0.
func (sp *Space) MinEdgeLength() float64 {
	h := math.Inf(1)
	found := false
	for k := range sp.Mesh.EToV {
		for f := 0; f < mesh.NumFaces(sp.Mesh.Types[k]); f++ {
			fv := sp.Mesh.FaceVertices(k, f)
			a, b := sp.Mesh.Vertices[fv[0]], sp.Mesh.Vertices[fv[1]]
			d := math.Hypot(a[0]-b[0], a[1]-b[1])
			if d < h {
				h = d
				found = true
			}
		}
	}
	if !found {
		return 0
	}
	return h
}
