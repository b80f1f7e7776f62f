package partitions

import (
	"fmt"

	dg3dmesh "github.com/notargets/gocfd/DG3D/mesh"
	"github.com/notargets/gocfd/DG3D/mesh/partitioner"
)

// MetisPartition runs the METIS-backed graph partitioner on a gocfd mesh and
// returns the element-to-partition map. The imbalance argument is the
// allowed fraction above perfect balance (0.05 allows 5%).
func MetisPartition(gm *dg3dmesh.Mesh, nparts int, imbalance float64, objective string) ([]int, error) {
	if nparts < 1 {
		return nil, fmt.Errorf("metis partition needs at least 1 part, got %d", nparts)
	}
	if objective == "" {
		objective = "cut"
	}
	config := &partitioner.PartitionConfig{
		NumPartitions:    int32(nparts),
		ImbalanceFactor:  float32(1.0 + imbalance),
		UseEdgeWeights:   true,
		UseVertexWeights: true,
		Objective:        objective,
	}
	mp := partitioner.NewMeshPartitioner(gm, config)
	if err := mp.Partition(); err != nil {
		return nil, fmt.Errorf("metis partitioning failed: %w", err)
	}
	out := make([]int, len(gm.EToP))
	for i := range gm.EToP {
		out[i] = int(gm.EToP[i])
	}
	return out, nil
}
