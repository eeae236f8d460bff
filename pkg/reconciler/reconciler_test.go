package reconciler

import (
	"testing"
	"time"

	"github.com/catalystlabs/catalyst/pkg/events"
	"github.com/catalystlabs/catalyst/pkg/security"
	"github.com/catalystlabs/catalyst/pkg/storage"
	"github.com/catalystlabs/catalyst/pkg/types"
	"github.com/stretchr/testify/require"
)

func TestReconcileNodeLiveness_MarksStaleNodeOffline(t *testing.T) {
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.CreateNode(&types.Node{
		ID:       "node-1",
		Name:     "alpha",
		Online:   true,
		LastSeen: time.Now().Add(-time.Hour),
	}))

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	r := New(store, broker, security.NewTokenManager(), 30)
	r.reconcileNodeLiveness()

	node, err := store.GetNode("node-1")
	require.NoError(t, err)
	require.False(t, node.Online)

	select {
	case ev := <-sub:
		require.Equal(t, events.EventNodeOffline, ev.Type)
		require.Equal(t, "node-1", ev.NodeID)
	case <-time.After(time.Second):
		t.Fatal("expected node_offline event")
	}
}

func TestReconcileNodeLiveness_LeavesFreshNodeOnline(t *testing.T) {
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.CreateNode(&types.Node{
		ID:       "node-1",
		Name:     "alpha",
		Online:   true,
		LastSeen: time.Now(),
	}))

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	r := New(store, broker, security.NewTokenManager(), 30)
	r.reconcileNodeLiveness()

	node, err := store.GetNode("node-1")
	require.NoError(t, err)
	require.True(t, node.Online)
}
