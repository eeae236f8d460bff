package metrics

import (
	"time"

	"github.com/catalystlabs/catalyst/pkg/storage"
)

// Collector periodically samples storage into the gauge metrics above.
// Counters (commands, events, crashes) are incremented inline by their
// owning components; this collector only owns point-in-time snapshots.
type Collector struct {
	store  storage.Store
	stopCh chan struct{}
}

func NewCollector(store storage.Store) *Collector {
	return &Collector{store: store, stopCh: make(chan struct{})}
}

func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	c.collectNodeMetrics()
	c.collectWorkloadMetrics()
}

func (c *Collector) collectNodeMetrics() {
	nodes, err := c.store.ListNodes()
	if err != nil {
		return
	}

	var online, offline int
	var sessions int
	for _, node := range nodes {
		if node.Online {
			online++
			sessions++
		} else {
			offline++
		}
	}
	NodesTotal.WithLabelValues("true").Set(float64(online))
	NodesTotal.WithLabelValues("false").Set(float64(offline))
	GatewaySessionsActive.Set(float64(sessions))
}

func (c *Collector) collectWorkloadMetrics() {
	workloads, err := c.store.ListWorkloads()
	if err != nil {
		return
	}

	statusCounts := make(map[string]int)
	nodeMemory := make(map[string]int64)
	nodeCPU := make(map[string]float64)

	for _, w := range workloads {
		statusCounts[string(w.Status)]++
		nodeMemory[w.NodeID] += w.AllocatedMemoryMB
		nodeCPU[w.NodeID] += w.AllocatedCPUCores
	}

	for status, count := range statusCounts {
		WorkloadsTotal.WithLabelValues(status).Set(float64(count))
	}
	for nodeID, mb := range nodeMemory {
		NodeMemoryUsedMB.WithLabelValues(nodeID).Set(float64(mb))
	}
	for nodeID, cores := range nodeCPU {
		NodeCPUUsedCores.WithLabelValues(nodeID).Set(cores)
	}
}
