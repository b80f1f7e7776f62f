// Package ddmesh discovers subdomain-to-subdomain interface topology on a
// distributed mesh partition and materializes independent local meshes for
// each subdomain and each interface, including the degenerate locally-empty
// cases every rank must still represent.
package ddmesh

import "fmt"

// State tags an interface instance as locally realized (this rank holds
// faces of it) or locally empty (identity only). Empty instances keep
// collective operations rank-symmetric.
type State uint8

const (
	Empty State = iota
	Realized
)

// FaceRef addresses one face of a local element of the distributed mesh.
type FaceRef struct {
	Elem int // local element index
	Face int // face index within the element
}

// Interface is the shared boundary between two subdomains as seen by one
// rank. SD0 < SD1 always holds; GlobalIdx is the raw pair index
// sd0*numSubdomains + sd1 from which every rank independently derives the
// same identity.
type Interface struct {
	SD0, SD1  int
	GlobalIdx int
	State     State

	// Faces lists this rank's faces of the interface. A face straddling a
	// rank boundary appears on both ranks; duplication is legal here,
	// loss is not.
	Faces []FaceRef

	// LocalVertices are the global vertex ids incident to Faces, sorted.
	LocalVertices []int

	// SharedVertices is the union of LocalVertices over all ranks,
	// sorted. Identical on every rank; the interface trace space is laid
	// out over this list.
	SharedVertices []int
}

// NewEmptyInterface builds the identity-only variant for a rank holding no
// faces of the given pair.
func NewEmptyInterface(sd0, sd1, numSubdomains int) (*Interface, error) {
	if sd0 >= sd1 {
		return nil, fmt.Errorf("interface pair must satisfy sd0 < sd1, got (%d, %d)", sd0, sd1)
	}
	return &Interface{
		SD0:       sd0,
		SD1:       sd1,
		GlobalIdx: sd0*numSubdomains + sd1,
		State:     Empty,
	}, nil
}

// IsEmpty reports whether this rank holds no faces of the interface.
func (ifc *Interface) IsEmpty() bool { return ifc.State == Empty }

// Touches reports whether subdomain sd is one of the two sides.
func (ifc *Interface) Touches(sd int) bool { return ifc.SD0 == sd || ifc.SD1 == sd }

// Other returns the subdomain across the interface from sd.
func (ifc *Interface) Other(sd int) int {
	if sd == ifc.SD0 {
		return ifc.SD1
	}
	return ifc.SD0
}

// DecodeGlobalIndex recovers the canonical pair from a raw global index.
func DecodeGlobalIndex(g, numSubdomains int) (sd0, sd1 int, err error) {
	sd0 = g / numSubdomains
	sd1 = g % numSubdomains
	if sd0 < 0 || sd1 >= numSubdomains || sd0 >= sd1 {
		return 0, 0, fmt.Errorf("global interface index %d does not decode to an ordered pair", g)
	}
	return sd0, sd1, nil
}
