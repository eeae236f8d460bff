package ipam

import (
	"fmt"

	"github.com/catalystlabs/catalyst/pkg/catalysterr"
	"github.com/catalystlabs/catalyst/pkg/storage"
	"github.com/catalystlabs/catalyst/pkg/types"
)

// HostPortArbiter validates and reserves host-port bindings for bridge and
// macvlan-dhcp workloads (spec section 4.2's "host-port arbitration
// (non-IPAM)"). IPAM-mode workloads never call into this type.
type HostPortArbiter struct {
	store storage.Store
}

func NewHostPortArbiter(store storage.Store) *HostPortArbiter {
	return &HostPortArbiter{store: store}
}

// Validate checks a proposed primary port and binding map against the spec's
// four rules, and returns the binding map with the primary port defaulted in
// if it was missing. workloadID is excluded from the sibling scan; pass ""
// when validating a brand-new workload that has no id yet.
func (a *HostPortArbiter) Validate(nodeID, workloadID string, primaryPort int, bindings map[int]int) (map[int]int, error) {
	if primaryPort < 1 || primaryPort > 65535 {
		return nil, catalysterr.New(catalysterr.ValidationError, fmt.Sprintf("primary port %d out of range", primaryPort))
	}

	out := make(map[int]int, len(bindings)+1)
	seenHostPorts := make(map[int]bool, len(bindings)+1)
	for containerPort, hostPort := range bindings {
		if containerPort < 1 || containerPort > 65535 {
			return nil, catalysterr.New(catalysterr.ValidationError, fmt.Sprintf("container port %d out of range", containerPort))
		}
		if hostPort < 1 || hostPort > 65535 {
			return nil, catalysterr.New(catalysterr.ValidationError, fmt.Sprintf("host port %d out of range", hostPort))
		}
		if seenHostPorts[hostPort] {
			return nil, catalysterr.New(catalysterr.ValidationError, fmt.Sprintf("duplicate host port %d in binding map", hostPort))
		}
		seenHostPorts[hostPort] = true
		out[containerPort] = hostPort
	}

	if _, ok := out[primaryPort]; !ok {
		if seenHostPorts[primaryPort] {
			return nil, catalysterr.New(catalysterr.ValidationError, fmt.Sprintf("primary port %d conflicts with an explicit binding", primaryPort))
		}
		out[primaryPort] = primaryPort
	}

	used, err := a.usedHostPorts(nodeID, workloadID)
	if err != nil {
		return nil, err
	}
	for _, hostPort := range out {
		if used[hostPort] {
			return nil, catalysterr.New(catalysterr.AllocationConflict, fmt.Sprintf("host port %d already in use on node %s", hostPort, nodeID))
		}
	}

	return out, nil
}

// usedHostPorts computes the union, over sibling workloads on nodeID
// excluding workloadID, of their binding values (or primary port when a
// sibling has no explicit bindings). IPAM-mode siblings contribute nothing.
func (a *HostPortArbiter) usedHostPorts(nodeID, workloadID string) (map[int]bool, error) {
	siblings, err := a.store.ListWorkloadsByNode(nodeID)
	if err != nil {
		return nil, err
	}

	used := make(map[int]bool)
	for _, w := range siblings {
		if w.ID == workloadID {
			continue
		}
		if w.NetworkMode.IsIPAM() {
			continue
		}
		contribute(used, w)
	}
	return used, nil
}

func contribute(used map[int]bool, w *types.Workload) {
	if len(w.PortBindings) == 0 {
		used[w.PrimaryPort] = true
		return
	}
	for _, hostPort := range w.PortBindings {
		used[hostPort] = true
	}
}
