// Package ipam implements the resource and allocation arbiter's address and
// port bookkeeping (spec section 4.2): IP allocation for macvlan-static
// networks, and host-port conflict arbitration for bridge and macvlan-dhcp
// workloads. Neither mode actually programs the node's network stack — that
// is the agent's concern on the far side of the gateway; this package only
// decides what is allowed.
package ipam

import (
	"fmt"

	"github.com/catalystlabs/catalyst/pkg/catalysterr"
	"github.com/catalystlabs/catalyst/pkg/storage"
	"github.com/catalystlabs/catalyst/pkg/types"
)

// Arbiter allocates and releases IP addresses against the pools held in
// storage. Host ports are arbitrated separately by HostPortArbiter.
type Arbiter struct {
	store storage.Store
}

func NewArbiter(store storage.Store) *Arbiter {
	return &Arbiter{store: store}
}

// Allocate reserves an address from the node's pool for the given network.
// If requestedIP is non-empty it must be free, otherwise the arbiter picks
// the first free address. Only macvlan-static networks use IPAM; callers
// must check NetworkMode.IsIPAM() before calling this.
func (a *Arbiter) Allocate(nodeID, networkName, workloadID, requestedIP string) (string, error) {
	pool, err := a.store.GetIPPool(nodeID, networkName)
	if err != nil {
		return "", catalysterr.Wrap(catalysterr.AllocationConflict, fmt.Sprintf("no IP pool for node %s network %s", nodeID, networkName), err)
	}

	if requestedIP != "" {
		if _, taken := pool.Reserved[requestedIP]; taken {
			return "", catalysterr.New(catalysterr.AllocationConflict, fmt.Sprintf("address %s already in use", requestedIP))
		}
		if !containsString(pool.Free, requestedIP) {
			return "", catalysterr.New(catalysterr.AllocationConflict, fmt.Sprintf("address %s not free in pool", requestedIP))
		}
		a.reserve(pool, requestedIP, workloadID)
		if err := a.store.PutIPPool(pool); err != nil {
			return "", err
		}
		return requestedIP, nil
	}

	if len(pool.Free) == 0 {
		return "", catalysterr.New(catalysterr.AllocationConflict, fmt.Sprintf("IP pool exhausted for node %s network %s", nodeID, networkName))
	}

	ip := pool.Free[0]
	a.reserve(pool, ip, workloadID)
	if err := a.store.PutIPPool(pool); err != nil {
		return "", err
	}
	return ip, nil
}

// Release returns any address held by workloadID across every pool back to
// the free set. Idempotent: releasing an unallocated workload is a no-op.
func (a *Arbiter) Release(workloadID string) error {
	pools, err := a.store.ListIPPools()
	if err != nil {
		return err
	}

	for _, pool := range pools {
		changed := false
		for ip, owner := range pool.Reserved {
			if owner == workloadID {
				delete(pool.Reserved, ip)
				pool.Free = append(pool.Free, ip)
				changed = true
			}
		}
		if changed {
			if err := a.store.PutIPPool(pool); err != nil {
				return err
			}
		}
	}
	return nil
}

func (a *Arbiter) reserve(pool *types.IPPool, ip, workloadID string) {
	if pool.Reserved == nil {
		pool.Reserved = make(map[string]string)
	}
	pool.Reserved[ip] = workloadID
	pool.Free = removeString(pool.Free, ip)
}

func containsString(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}

func removeString(ss []string, s string) []string {
	out := ss[:0]
	for _, v := range ss {
		if v != s {
			out = append(out, v)
		}
	}
	return out
}
