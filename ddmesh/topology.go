package ddmesh

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/katalvlaran/lvlath/core"

	"github.com/notargets/DDKernel/comm"
	"github.com/notargets/DDKernel/mesh"
)

// Topology is the globally consistent interface enumeration plus this rank's
// local interface instances. Every rank holds one Interface per global
// index; ranks without faces of an interface hold the Empty variant.
type Topology struct {
	NumSubdomains int
	NumInterfaces int

	// Interfaces is indexed by the compact global interface index agreed
	// across all ranks.
	Interfaces []*Interface

	// GlobalToLocal maps the compact index to this rank's ordinal among
	// its realized interfaces, or -1.
	GlobalToLocal []int

	// BoundaryVertices is the set of global vertex ids on the physical
	// boundary of the whole mesh, agreed across ranks.
	BoundaryVertices map[int]bool

	// Adjacency is the subdomain adjacency graph; edge weights count the
	// interface's faces summed over ranks (straddling faces counted per
	// holding rank).
	Adjacency *core.Graph
}

// InterfacesOf returns the interfaces touching subdomain sd, in compact
// index order.
func (t *Topology) InterfacesOf(sd int) []*Interface {
	var out []*Interface
	for _, ifc := range t.Interfaces {
		if ifc.Touches(sd) {
			out = append(out, ifc)
		}
	}
	return out
}

// NeighborSubdomains queries the adjacency graph for the subdomains sharing
// an interface with sd.
func (t *Topology) NeighborSubdomains(sd int) ([]int, error) {
	id := strconv.Itoa(sd)
	edges, err := t.Adjacency.Neighbors(id)
	if err != nil {
		return nil, fmt.Errorf("subdomain %d not in adjacency graph: %w", sd, err)
	}
	var out []int
	for _, e := range edges {
		otherID := e.To
		if otherID == id {
			otherID = e.From
		}
		other, err := strconv.Atoi(otherID)
		if err != nil {
			return nil, fmt.Errorf("bad vertex id %q in adjacency graph: %w", otherID, err)
		}
		out = append(out, other)
	}
	sort.Ints(out)
	return out, nil
}

// TopologyBuilder derives interface topology from a distributed mesh whose
// elements already carry subdomain tags.
type TopologyBuilder struct {
	DM            *mesh.DistMesh
	NumSubdomains int
}

type faceHalf struct {
	elem, face, sd int
}

// Build classifies every local face as subdomain-interior, physical
// boundary, or inter-subdomain, resolves rank-boundary faces by a collective
// key exchange, and produces the agreed global interface enumeration.
// Enumeration mismatches across ranks are invariant violations and abort the
// build.
func (b *TopologyBuilder) Build() (*Topology, error) {
	dm := b.DM
	c := dm.C

	for k, s := range dm.EToS {
		if s < 0 || s >= b.NumSubdomains {
			return nil, fmt.Errorf("local element %d tagged with subdomain %d of %d", k, s, b.NumSubdomains)
		}
	}

	// Local face matching.
	halves := make(map[mesh.FaceKey][]faceHalf)
	for k := range dm.EToV {
		for f := 0; f < mesh.NumFaces(dm.Types[k]); f++ {
			key := mesh.MakeFaceKey(dm.FaceVertices(k, f))
			halves[key] = append(halves[key], faceHalf{k, f, dm.EToS[k]})
		}
	}

	pairFaces := make(map[[2]int][]FaceRef)
	var unmatched []mesh.FaceKey
	unmatchedHalf := make(map[mesh.FaceKey]faceHalf)
	for key, hs := range halves {
		switch len(hs) {
		case 1:
			unmatched = append(unmatched, key)
			unmatchedHalf[key] = hs[0]
		case 2:
			if hs[0].sd != hs[1].sd {
				lo := hs[0]
				if hs[1].sd < hs[0].sd {
					lo = hs[1]
				}
				pair := [2]int{min(hs[0].sd, hs[1].sd), max(hs[0].sd, hs[1].sd)}
				pairFaces[pair] = append(pairFaces[pair], FaceRef{lo.elem, lo.face})
			}
		default:
			return nil, fmt.Errorf("face shared by %d local elements; mesh is not a manifold", len(hs))
		}
	}
	// Deterministic order regardless of map iteration.
	sort.Slice(unmatched, func(i, j int) bool { return lessKey(unmatched[i], unmatched[j]) })

	// Exchange unmatched faces: 5 ints per face (4 key vertices + subdomain).
	payload := make([]int, 0, 5*len(unmatched))
	for _, key := range unmatched {
		payload = append(payload, key[0], key[1], key[2], key[3], unmatchedHalf[key].sd)
	}
	allPayloads, err := c.AllGatherInts(payload)
	if err != nil {
		return nil, fmt.Errorf("exchanging rank-boundary faces: %w", err)
	}

	type remoteEntry struct{ rank, sd int }
	remote := make(map[mesh.FaceKey][]remoteEntry)
	for r, p := range allPayloads {
		if len(p)%5 != 0 {
			return nil, fmt.Errorf("malformed face exchange payload from rank %d", r)
		}
		for i := 0; i < len(p); i += 5 {
			key := mesh.FaceKey{p[i], p[i+1], p[i+2], p[i+3]}
			remote[key] = append(remote[key], remoteEntry{r, p[i+4]})
		}
	}

	boundaryLocal := make(map[int]bool)
	for _, key := range unmatched {
		entries := remote[key]
		if len(entries) > 2 {
			return nil, fmt.Errorf("face %v claimed by %d element halves globally", key, len(entries))
		}
		h := unmatchedHalf[key]
		var other *remoteEntry
		for i := range entries {
			if entries[i].rank != c.Rank() {
				other = &entries[i]
			}
		}
		if other == nil {
			// No partner anywhere: physical boundary.
			for _, v := range dm.FaceVertices(h.elem, h.face) {
				boundaryLocal[v] = true
			}
			continue
		}
		if other.sd == h.sd {
			continue // subdomain-interior face crossing a rank boundary
		}
		pair := [2]int{min(h.sd, other.sd), max(h.sd, other.sd)}
		pairFaces[pair] = append(pairFaces[pair], FaceRef{h.elem, h.face})
	}

	// Agree on the boundary vertex set.
	blist := make([]int, 0, len(boundaryLocal))
	for v := range boundaryLocal {
		blist = append(blist, v)
	}
	sort.Ints(blist)
	allBoundary, err := c.AllGatherInts(blist)
	if err != nil {
		return nil, fmt.Errorf("exchanging boundary vertices: %w", err)
	}
	boundary := make(map[int]bool)
	for _, lst := range allBoundary {
		for _, v := range lst {
			boundary[v] = true
		}
	}

	// Global enumeration: every rank reports (globalIdx, faceCount, vertex
	// ids...) per realized pair; the agreed enumeration is the sorted
	// union, derived identically everywhere from the same gathered data.
	localPairs := make([][2]int, 0, len(pairFaces))
	for pair := range pairFaces {
		localPairs = append(localPairs, pair)
	}
	sort.Slice(localPairs, func(i, j int) bool {
		return localPairs[i][0]*b.NumSubdomains+localPairs[i][1] <
			localPairs[j][0]*b.NumSubdomains+localPairs[j][1]
	})

	report := []int{}
	for _, pair := range localPairs {
		g := pair[0]*b.NumSubdomains + pair[1]
		verts := vertexUnion(dm, pairFaces[pair])
		report = append(report, g, len(pairFaces[pair]), len(verts))
		report = append(report, verts...)
	}
	allReports, err := c.AllGatherInts(report)
	if err != nil {
		return nil, fmt.Errorf("exchanging interface reports: %w", err)
	}

	faceCount := make(map[int]int)
	sharedVerts := make(map[int]map[int]bool)
	for r, rep := range allReports {
		i := 0
		for i < len(rep) {
			if i+3 > len(rep) {
				return nil, fmt.Errorf("malformed interface report from rank %d", r)
			}
			g, nf, nv := rep[i], rep[i+1], rep[i+2]
			i += 3
			if i+nv > len(rep) {
				return nil, fmt.Errorf("malformed interface report from rank %d", r)
			}
			faceCount[g] += nf
			if sharedVerts[g] == nil {
				sharedVerts[g] = make(map[int]bool)
			}
			for _, v := range rep[i : i+nv] {
				sharedVerts[g][v] = true
			}
			i += nv
		}
	}

	gs := make([]int, 0, len(faceCount))
	for g := range faceCount {
		gs = append(gs, g)
	}
	sort.Ints(gs)

	// Reconciliation: all ranks must have derived the same enumeration.
	// Disagreement would silently corrupt the operator layout, so verify
	// count and checksum collectively and abort on mismatch.
	sum := 0
	for _, g := range gs {
		sum += g
	}
	for _, probe := range [][2]int{{len(gs), 0}, {sum, 1}} {
		lo, err := c.AllReduceInt(probe[0], comm.OpMin)
		if err != nil {
			return nil, err
		}
		hi, err := c.AllReduceInt(probe[0], comm.OpMax)
		if err != nil {
			return nil, err
		}
		if lo != hi {
			return nil, fmt.Errorf("interface enumeration mismatch across ranks (probe %d: min %d, max %d)", probe[1], lo, hi)
		}
	}

	topo := &Topology{
		NumSubdomains:    b.NumSubdomains,
		NumInterfaces:    len(gs),
		Interfaces:       make([]*Interface, len(gs)),
		GlobalToLocal:    make([]int, len(gs)),
		BoundaryVertices: boundary,
		Adjacency:        core.NewGraph(core.WithWeighted()),
	}

	for sd := 0; sd < b.NumSubdomains; sd++ {
		if err := topo.Adjacency.AddVertex(strconv.Itoa(sd)); err != nil {
			return nil, fmt.Errorf("adjacency vertex %d: %w", sd, err)
		}
	}

	localOrdinal := 0
	for idx, g := range gs {
		sd0, sd1, err := DecodeGlobalIndex(g, b.NumSubdomains)
		if err != nil {
			return nil, err
		}
		shared := make([]int, 0, len(sharedVerts[g]))
		for v := range sharedVerts[g] {
			shared = append(shared, v)
		}
		sort.Ints(shared)

		pair := [2]int{sd0, sd1}
		if faces, ok := pairFaces[pair]; ok {
			sortFaceRefs(faces)
			topo.Interfaces[idx] = &Interface{
				SD0:            sd0,
				SD1:            sd1,
				GlobalIdx:      g,
				State:          Realized,
				Faces:          faces,
				LocalVertices:  vertexUnion(dm, faces),
				SharedVertices: shared,
			}
			topo.GlobalToLocal[idx] = localOrdinal
			localOrdinal++
		} else {
			ifc, err := NewEmptyInterface(sd0, sd1, b.NumSubdomains)
			if err != nil {
				return nil, err
			}
			ifc.SharedVertices = shared
			topo.Interfaces[idx] = ifc
			topo.GlobalToLocal[idx] = -1
		}

		if _, err := topo.Adjacency.AddEdge(strconv.Itoa(sd0), strconv.Itoa(sd1), int64(faceCount[g])); err != nil {
			return nil, fmt.Errorf("adjacency edge (%d,%d): %w", sd0, sd1, err)
		}
	}

	return topo, nil
}

func vertexUnion(dm *mesh.DistMesh, faces []FaceRef) []int {
	set := make(map[int]bool)
	for _, fr := range faces {
		for _, v := range dm.FaceVertices(fr.Elem, fr.Face) {
			set[v] = true
		}
	}
	out := make([]int, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	sort.Ints(out)
	return out
}

func sortFaceRefs(faces []FaceRef) {
	sort.Slice(faces, func(i, j int) bool {
		if faces[i].Elem != faces[j].Elem {
			return faces[i].Elem < faces[j].Elem
		}
		return faces[i].Face < faces[j].Face
	})
}

func lessKey(a, b mesh.FaceKey) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
