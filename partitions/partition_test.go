package partitions

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notargets/DDKernel/mesh"
)

func TestNewLayoutFromMap(t *testing.T) {
	l, err := NewLayoutFromMap([]int{0, 0, 1, 1, 0}, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, l.NumSubdomains)
	assert.Equal(t, 5, l.TotalElements)
	assert.Equal(t, []int{0, 1, 4}, l.Subdomains[0].Elements)
	assert.Equal(t, []int{2, 3}, l.Subdomains[1].Elements)
	assert.Equal(t, 1, l.GetSubdomain(3))
	assert.Equal(t, -1, l.GetSubdomain(9))
	require.NoError(t, l.ValidateCoverage(5))
	assert.Error(t, l.ValidateCoverage(6))
}

func TestNewLayoutRejectsOutOfRange(t *testing.T) {
	_, err := NewLayoutFromMap([]int{0, 2}, 2)
	assert.Error(t, err)
	_, err = NewLayoutFromMap([]int{0, -1}, 2)
	assert.Error(t, err)
	_, err = NewLayoutFromMap(nil, 0)
	assert.Error(t, err)
}

func TestBuilderCartesianSlabs(t *testing.T) {
	m, err := mesh.NewCartesian2D(4, 2, 4, 2)
	require.NoError(t, err)
	l, err := (&Builder{Mesh: m, Strategy: Cartesian, Nxyz: []int{2, 1}}).Build()
	require.NoError(t, err)

	assert.Equal(t, 2, l.NumSubdomains)
	assert.Equal(t, []int{0, 0, 1, 1, 0, 0, 1, 1}, l.EToS)

	stats := l.Statistics()
	assert.Equal(t, 4, stats.MinElements)
	assert.Equal(t, 4, stats.MaxElements)
	assert.InDelta(t, 1.0, stats.Imbalance, 1e-14)
}

func TestBuilderBlockAndRoundRobin(t *testing.T) {
	m, err := mesh.NewCartesian2D(5, 1, 5, 1)
	require.NoError(t, err)

	l, err := (&Builder{Mesh: m, Strategy: Block, NumSubdomains: 2}).Build()
	require.NoError(t, err)
	assert.Equal(t, []int{0, 0, 0, 1, 1}, l.EToS)

	l, err = (&Builder{Mesh: m, Strategy: RoundRobin, NumSubdomains: 2}).Build()
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 0, 1, 0}, l.EToS)
}

func TestBuilderRejectsBadInput(t *testing.T) {
	m, err := mesh.NewCartesian2D(2, 2, 1, 1)
	require.NoError(t, err)

	_, err = (&Builder{Mesh: m, Strategy: Cartesian}).Build()
	assert.Error(t, err)
	_, err = (&Builder{Mesh: m, Strategy: Block, NumSubdomains: 0}).Build()
	assert.Error(t, err)
	_, err = (&Builder{Mesh: m, Strategy: Strategy(42)}).Build()
	assert.Error(t, err)
	_, err = (&Builder{Mesh: m, Strategy: Metis, NumSubdomains: 2}).Build()
	assert.Error(t, err)
}

func TestRankAssignment(t *testing.T) {
	eToR, err := RankAssignment(8, 3)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 0, 0, 1, 1, 1, 2, 2}, eToR)

	// More ranks than elements leaves trailing ranks empty but in range.
	eToR, err = RankAssignment(2, 4)
	require.NoError(t, err)
	for _, r := range eToR {
		assert.Less(t, r, 4)
	}
}

func TestStrategyString(t *testing.T) {
	assert.Equal(t, "cartesian", Cartesian.String())
	assert.Equal(t, "metis", Metis.String())
	assert.Equal(t, "unknown", Strategy(42).String())
}
