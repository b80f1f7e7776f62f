// Package vis streams a mesh plus nodal field to a running GLVis server.
// Visualization is best effort: the driver reports a failed connection and
// moves on, it never aborts a solve over it.
package vis

import (
	"bufio"
	"fmt"
	"net"
	"time"

	"github.com/notargets/DDKernel/mesh"
)

// Options addresses the visualization server.
type Options struct {
	Addr    string // host:port, conventionally localhost:19916
	Timeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.Addr == "" {
		o.Addr = "localhost:19916"
	}
	if o.Timeout <= 0 {
		o.Timeout = 2 * time.Second
	}
	return o
}

// geometry codes of the wire format.
var geomCodes = map[mesh.GeomType]int{
	mesh.Segment: 1,
	mesh.Tri:     2,
	mesh.Quad:    3,
	mesh.Tet:     4,
	mesh.Hex:     5,
}

// SendSolution connects to the server and streams the mesh with one nodal
// scalar field.
func SendSolution(opt Options, m *mesh.Mesh, u []float64) error {
	opt = opt.withDefaults()
	if len(u) != m.NumVertices() {
		return fmt.Errorf("vis: %d field values for %d vertices", len(u), m.NumVertices())
	}

	conn, err := net.DialTimeout("tcp", opt.Addr, opt.Timeout)
	if err != nil {
		return fmt.Errorf("vis: connecting %s: %w", opt.Addr, err)
	}
	defer conn.Close()
	if err := conn.SetWriteDeadline(time.Now().Add(opt.Timeout)); err != nil {
		return err
	}

	w := bufio.NewWriter(conn)
	fmt.Fprintf(w, "solution\n")
	if err := writeMesh(w, m); err != nil {
		return err
	}
	writeField(w, u)
	if err := w.Flush(); err != nil {
		return fmt.Errorf("vis: streaming to %s: %w", opt.Addr, err)
	}
	return nil
}

func writeMesh(w *bufio.Writer, m *mesh.Mesh) error {
	fmt.Fprintf(w, "MFEM mesh v1.0\n\ndimension\n%d\n\n", m.Dim)
	fmt.Fprintf(w, "elements\n%d\n", m.NumElements())
	for k, ev := range m.EToV {
		code, ok := geomCodes[m.Types[k]]
		if !ok {
			return fmt.Errorf("vis: element %d has unsupported geometry %s", k, m.Types[k])
		}
		fmt.Fprintf(w, "1 %d", code)
		for _, v := range ev {
			fmt.Fprintf(w, " %d", v)
		}
		fmt.Fprintln(w)
	}
	fmt.Fprintf(w, "\nboundary\n0\n\nvertices\n%d\n%d\n", m.NumVertices(), m.Dim)
	for _, v := range m.Vertices {
		for d := 0; d < m.Dim; d++ {
			if d > 0 {
				fmt.Fprint(w, " ")
			}
			fmt.Fprintf(w, "%.16g", v[d])
		}
		fmt.Fprintln(w)
	}
	return nil
}

func writeField(w *bufio.Writer, u []float64) {
	fmt.Fprintf(w, "\nFiniteElementSpace\nFiniteElementCollection: H1_2D_P1\nVDim: 1\nOrdering: 0\n\n")
	for _, v := range u {
		fmt.Fprintf(w, "%.16g\n", v)
	}
}
