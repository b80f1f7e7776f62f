package partitions

import (
	"fmt"

	"github.com/notargets/DDKernel/mesh"
)

// Strategy selects how elements are grouped into subdomains. The choice is
// made at construction; no compile-time or global switches.
type Strategy int

const (
	// Cartesian bins elements by centroid over a structured grid laid on
	// the mesh bounding box; slab subdomains come from counts like {n,1}.
	Cartesian Strategy = iota

	// Block assigns consecutive element ranges.
	Block

	// RoundRobin distributes elements cyclically.
	RoundRobin

	// Metis delegates to the METIS-backed graph partitioner (file meshes
	// read through gocfd; see MetisPartition).
	Metis
)

func (s Strategy) String() string {
	switch s {
	case Cartesian:
		return "cartesian"
	case Block:
		return "block"
	case RoundRobin:
		return "round-robin"
	case Metis:
		return "metis"
	}
	return "unknown"
}

// Builder constructs a subdomain layout from a mesh.
type Builder struct {
	Mesh     *mesh.Mesh
	Strategy Strategy

	// Nxyz gives the per-direction cell counts for the Cartesian
	// strategy; the product is the subdomain count.
	Nxyz []int

	// NumSubdomains is the target count for Block and RoundRobin.
	NumSubdomains int
}

// Build partitions the mesh elements and validates coverage.
func (b *Builder) Build() (*SubdomainLayout, error) {
	var (
		eToS []int
		nsd  int
		err  error
	)
	switch b.Strategy {
	case Cartesian:
		if len(b.Nxyz) == 0 {
			return nil, fmt.Errorf("cartesian strategy needs Nxyz cell counts")
		}
		nsd = 1
		for _, n := range b.Nxyz {
			nsd *= n
		}
		eToS, err = b.Mesh.CartesianPartition(b.Nxyz)
		if err != nil {
			return nil, fmt.Errorf("cartesian partition: %w", err)
		}
	case Block:
		nsd = b.NumSubdomains
		eToS, err = blockPartition(b.Mesh.NumElements(), nsd)
		if err != nil {
			return nil, err
		}
	case RoundRobin:
		nsd = b.NumSubdomains
		if nsd < 1 {
			return nil, fmt.Errorf("round-robin needs at least 1 subdomain, got %d", nsd)
		}
		eToS = make([]int, b.Mesh.NumElements())
		for k := range eToS {
			eToS[k] = k % nsd
		}
	case Metis:
		return nil, fmt.Errorf("metis strategy requires a gocfd mesh; use MetisPartition and NewLayoutFromMap")
	default:
		return nil, fmt.Errorf("unknown partition strategy %d", b.Strategy)
	}

	layout, err := NewLayoutFromMap(eToS, nsd)
	if err != nil {
		return nil, err
	}
	if err := layout.ValidateCoverage(b.Mesh.NumElements()); err != nil {
		return nil, fmt.Errorf("invalid subdomain layout: %w", err)
	}
	return layout, nil
}

func blockPartition(numElements, nsd int) ([]int, error) {
	if nsd < 1 {
		return nil, fmt.Errorf("block partition needs at least 1 subdomain, got %d", nsd)
	}
	eToS := make([]int, numElements)
	per := (numElements + nsd - 1) / nsd
	if per < 1 {
		per = 1
	}
	for k := range eToS {
		s := k / per
		if s >= nsd {
			s = nsd - 1
		}
		eToS[k] = s
	}
	return eToS, nil
}

// RankAssignment distributes elements over ranks with the Block strategy.
// Ranks, unlike subdomains, have no geometric meaning, so contiguous ranges
// are good enough and keep subdomains spread over few ranks each.
func RankAssignment(numElements, numRanks int) ([]int, error) {
	return blockPartition(numElements, numRanks)
}
