// Package partitions assigns mesh elements to subdomains and to ranks. A
// subdomain layout is the input contract of the domain-decomposition
// builders: a total element-to-subdomain map whose cells partition the
// global element set with no gaps and no overlaps.
package partitions

import (
	"fmt"
	"math"
)

// Subdomain records the element membership of one partition cell.
type Subdomain struct {
	ID          int
	Elements    []int // Global element indices in this subdomain
	NumElements int
}

// SubdomainLayout is a complete decomposition of the element set.
type SubdomainLayout struct {
	NumSubdomains int
	TotalElements int

	// EToS maps element k to the subdomain that owns it.
	EToS []int

	Subdomains []Subdomain
}

// NewLayoutFromMap wraps a precomputed element-to-subdomain map, the form in
// which an external partitioner delivers its result. The map is validated
// for totality and range before use.
func NewLayoutFromMap(eToS []int, numSubdomains int) (*SubdomainLayout, error) {
	if numSubdomains < 1 {
		return nil, fmt.Errorf("layout needs at least 1 subdomain, got %d", numSubdomains)
	}
	l := &SubdomainLayout{
		NumSubdomains: numSubdomains,
		TotalElements: len(eToS),
		EToS:          append([]int(nil), eToS...),
		Subdomains:    make([]Subdomain, numSubdomains),
	}
	for i := range l.Subdomains {
		l.Subdomains[i].ID = i
	}
	for k, s := range eToS {
		if s < 0 || s >= numSubdomains {
			return nil, fmt.Errorf("element %d assigned to subdomain %d of %d", k, s, numSubdomains)
		}
		l.Subdomains[s].Elements = append(l.Subdomains[s].Elements, k)
		l.Subdomains[s].NumElements++
	}
	return l, nil
}

// GetSubdomain returns the subdomain owning element k, or -1 out of range.
func (l *SubdomainLayout) GetSubdomain(k int) int {
	if k < 0 || k >= len(l.EToS) {
		return -1
	}
	return l.EToS[k]
}

// ValidateCoverage checks the partition invariant: the map is total over
// numElements elements and every element belongs to exactly one in-range
// subdomain. A violation here would silently corrupt the interface operator
// layout, so callers treat it as fatal.
func (l *SubdomainLayout) ValidateCoverage(numElements int) error {
	if len(l.EToS) != numElements {
		return fmt.Errorf("layout covers %d of %d elements", len(l.EToS), numElements)
	}
	counted := 0
	for _, sd := range l.Subdomains {
		counted += sd.NumElements
	}
	if counted != numElements {
		return fmt.Errorf("subdomain element counts sum to %d, want %d", counted, numElements)
	}
	for k, s := range l.EToS {
		if s < 0 || s >= l.NumSubdomains {
			return fmt.Errorf("element %d assigned to subdomain %d of %d", k, s, l.NumSubdomains)
		}
	}
	return nil
}

// Stats summarizes load balance across subdomains.
type Stats struct {
	NumSubdomains int
	MinElements   int
	MaxElements   int
	AvgElements   float64
	Imbalance     float64 // MaxElements / AvgElements
}

// Statistics computes load balance metrics for the layout.
func (l *SubdomainLayout) Statistics() Stats {
	stats := Stats{
		NumSubdomains: l.NumSubdomains,
		MinElements:   math.MaxInt32,
		AvgElements:   float64(l.TotalElements) / float64(l.NumSubdomains),
	}
	for _, sd := range l.Subdomains {
		if sd.NumElements < stats.MinElements {
			stats.MinElements = sd.NumElements
		}
		if sd.NumElements > stats.MaxElements {
			stats.MaxElements = sd.NumElements
		}
	}
	if stats.AvgElements > 0 {
		stats.Imbalance = float64(stats.MaxElements) / stats.AvgElements
	}
	return stats
}
