package ipam

import (
	"testing"

	"github.com/catalystlabs/catalyst/pkg/catalysterr"
	"github.com/catalystlabs/catalyst/pkg/storage"
	"github.com/catalystlabs/catalyst/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *storage.BoltStore {
	t.Helper()
	s, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAllocate_PicksFreeAddress(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.PutIPPool(&types.IPPool{
		NodeID:      "node-1",
		NetworkName: "lan0",
		Free:        []string{"10.0.0.2", "10.0.0.3"},
		Reserved:    map[string]string{},
	}))

	a := NewArbiter(s)
	ip, err := a.Allocate("node-1", "lan0", "wl-1", "")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.2", ip)

	pool, err := s.GetIPPool("node-1", "lan0")
	require.NoError(t, err)
	assert.Equal(t, []string{"10.0.0.3"}, pool.Free)
	assert.Equal(t, "wl-1", pool.Reserved["10.0.0.2"])
}

func TestAllocate_RequestedAddressInUse(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.PutIPPool(&types.IPPool{
		NodeID:      "node-1",
		NetworkName: "lan0",
		Free:        []string{"10.0.0.3"},
		Reserved:    map[string]string{"10.0.0.2": "wl-existing"},
	}))

	a := NewArbiter(s)
	_, err := a.Allocate("node-1", "lan0", "wl-1", "10.0.0.2")
	require.Error(t, err)
	assert.Equal(t, catalysterr.AllocationConflict, catalysterr.KindOf(err))
}

func TestAllocate_PoolExhausted(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.PutIPPool(&types.IPPool{
		NodeID:      "node-1",
		NetworkName: "lan0",
		Free:        []string{},
		Reserved:    map[string]string{},
	}))

	a := NewArbiter(s)
	_, err := a.Allocate("node-1", "lan0", "wl-1", "")
	require.Error(t, err)
	assert.Equal(t, catalysterr.AllocationConflict, catalysterr.KindOf(err))
}

func TestRelease_IsIdempotent(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.PutIPPool(&types.IPPool{
		NodeID:      "node-1",
		NetworkName: "lan0",
		Free:        []string{},
		Reserved:    map[string]string{"10.0.0.2": "wl-1"},
	}))

	a := NewArbiter(s)
	require.NoError(t, a.Release("wl-1"))
	pool, err := s.GetIPPool("node-1", "lan0")
	require.NoError(t, err)
	assert.Empty(t, pool.Reserved)
	assert.Contains(t, pool.Free, "10.0.0.2")

	// second release is a no-op, not an error
	require.NoError(t, a.Release("wl-1"))
}

func TestHostPortArbiter_DefaultsPrimaryPort(t *testing.T) {
	s := newTestStore(t)
	a := NewHostPortArbiter(s)

	out, err := a.Validate("node-1", "", 25565, nil)
	require.NoError(t, err)
	assert.Equal(t, 25565, out[25565])
}

func TestHostPortArbiter_RejectsDuplicateHostPorts(t *testing.T) {
	s := newTestStore(t)
	a := NewHostPortArbiter(s)

	_, err := a.Validate("node-1", "", 25565, map[int]int{25565: 30000, 25566: 30000})
	require.Error(t, err)
	assert.Equal(t, catalysterr.ValidationError, catalysterr.KindOf(err))
}

func TestHostPortArbiter_RejectsOutOfRangePorts(t *testing.T) {
	s := newTestStore(t)
	a := NewHostPortArbiter(s)

	_, err := a.Validate("node-1", "", 70000, nil)
	require.Error(t, err)
	assert.Equal(t, catalysterr.ValidationError, catalysterr.KindOf(err))
}

func TestHostPortArbiter_RejectsConflictWithSibling(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.CreateWorkload(&types.Workload{
		ID: "wl-existing", NodeID: "node-1", NetworkMode: types.NetworkModeBridge,
		PrimaryPort: 25565,
	}))

	a := NewHostPortArbiter(s)
	_, err := a.Validate("node-1", "wl-new", 25565, nil)
	require.Error(t, err)
	assert.Equal(t, catalysterr.AllocationConflict, catalysterr.KindOf(err))
}

func TestHostPortArbiter_IgnoresIPAMSiblings(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.CreateWorkload(&types.Workload{
		ID: "wl-ipam", NodeID: "node-1", NetworkMode: types.NetworkModeMacvlanStatic,
		PrimaryPort: 25565,
	}))

	a := NewHostPortArbiter(s)
	out, err := a.Validate("node-1", "wl-new", 25565, nil)
	require.NoError(t, err)
	assert.Equal(t, 25565, out[25565])
}

func TestHostPortArbiter_ExcludesSelfFromConflictScan(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.CreateWorkload(&types.Workload{
		ID: "wl-1", NodeID: "node-1", NetworkMode: types.NetworkModeBridge,
		PrimaryPort: 25565,
	}))

	a := NewHostPortArbiter(s)
	// re-validating the same workload (e.g. on update) must not conflict with itself
	out, err := a.Validate("node-1", "wl-1", 25565, nil)
	require.NoError(t, err)
	assert.Equal(t, 25565, out[25565])
}
