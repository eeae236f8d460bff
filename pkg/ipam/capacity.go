package ipam

import (
	"fmt"

	"github.com/catalystlabs/catalyst/pkg/catalysterr"
	"github.com/catalystlabs/catalyst/pkg/storage"
)

// Intent describes the (memory, CPU, disk) a workload wants on a node.
type Intent struct {
	MemoryMB int64
	CPUCores float64
	DiskMB   int64
}

// CapacityChecker enforces the headroom rule: summing existing allocations
// for every other workload on a node must leave room for the new total.
type CapacityChecker struct {
	store   storage.Store
	maxDisk int64 // process-wide disk ceiling, 0 disables it
}

func NewCapacityChecker(store storage.Store, maxDiskMB int64) *CapacityChecker {
	return &CapacityChecker{store: store, maxDisk: maxDiskMB}
}

// Check validates intent against nodeID's capacity, excluding workloadID (the
// workload being sized) from the sibling sum so updates re-check correctly.
func (c *CapacityChecker) Check(nodeID, workloadID string, intent Intent) error {
	node, err := c.store.GetNode(nodeID)
	if err != nil {
		return err
	}

	siblings, err := c.store.ListWorkloadsByNode(nodeID)
	if err != nil {
		return err
	}

	var usedMemory int64
	var usedCPU float64
	var usedDisk int64
	for _, w := range siblings {
		if w.ID == workloadID {
			continue
		}
		usedMemory += w.AllocatedMemoryMB
		usedCPU += w.AllocatedCPUCores
		usedDisk += w.AllocatedDiskMB
	}

	if usedMemory+intent.MemoryMB > node.MaxMemoryMB {
		return catalysterr.New(catalysterr.CapacityExceeded, fmt.Sprintf("node %s memory headroom exceeded: %d + %d > %d", nodeID, usedMemory, intent.MemoryMB, node.MaxMemoryMB))
	}
	if usedCPU+intent.CPUCores > node.MaxCPUCores {
		return catalysterr.New(catalysterr.CapacityExceeded, fmt.Sprintf("node %s CPU headroom exceeded: %.2f + %.2f > %.2f", nodeID, usedCPU, intent.CPUCores, node.MaxCPUCores))
	}
	if c.maxDisk > 0 && usedDisk+intent.DiskMB > c.maxDisk {
		return catalysterr.New(catalysterr.CapacityExceeded, fmt.Sprintf("process-wide disk ceiling exceeded: %d + %d > %d", usedDisk, intent.DiskMB, c.maxDisk))
	}

	return nil
}
