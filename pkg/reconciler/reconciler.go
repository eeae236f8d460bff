// Package reconciler runs the background ticker loop that keeps node
// liveness state honest and expires stale SFTP session tokens. It does not
// drive workload state transitions directly — those are reduced from
// inbound agent events by the lifecycle engine — but a node going offline
// here is what eventually starves that engine's per-node event stream.
package reconciler

import (
	"time"

	"github.com/catalystlabs/catalyst/pkg/events"
	"github.com/catalystlabs/catalyst/pkg/logging"
	"github.com/catalystlabs/catalyst/pkg/security"
	"github.com/catalystlabs/catalyst/pkg/storage"
	"github.com/rs/zerolog"
)

// Reconciler sweeps node liveness and expired SFTP tokens on a fixed tick.
type Reconciler struct {
	store          storage.Store
	broker         *events.Broker
	tokens         *security.TokenManager
	livenessWindow time.Duration
	logger         zerolog.Logger
	stopCh         chan struct{}
}

func New(store storage.Store, broker *events.Broker, tokens *security.TokenManager, livenessWindowSeconds int) *Reconciler {
	return &Reconciler{
		store:          store,
		broker:         broker,
		tokens:         tokens,
		livenessWindow: time.Duration(livenessWindowSeconds) * time.Second,
		logger:         logging.WithComponent("reconciler"),
		stopCh:         make(chan struct{}),
	}
}

func (r *Reconciler) Start() {
	go r.run()
}

func (r *Reconciler) Stop() {
	close(r.stopCh)
}

func (r *Reconciler) run() {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	r.logger.Info().Msg("reconciler started")

	for {
		select {
		case <-ticker.C:
			r.reconcileNodeLiveness()
			r.tokens.CleanupExpired()
		case <-r.stopCh:
			r.logger.Info().Msg("reconciler stopped")
			return
		}
	}
}

// reconcileNodeLiveness marks a node offline once it has gone longer than
// livenessWindow without a heartbeat, and publishes node_offline on the
// event broker.
func (r *Reconciler) reconcileNodeLiveness() {
	nodes, err := r.store.ListNodes()
	if err != nil {
		r.logger.Error().Err(err).Msg("failed to list nodes")
		return
	}

	now := time.Now()
	for _, node := range nodes {
		if !node.Online {
			continue
		}
		if now.Sub(node.LastSeen) <= r.livenessWindow {
			continue
		}

		r.logger.Warn().
			Str("node_id", node.ID).
			Dur("since_last_seen", now.Sub(node.LastSeen)).
			Msg("node missed its liveness window, marking offline")

		node.Online = false
		if err := r.store.UpdateNode(node); err != nil {
			r.logger.Error().Err(err).Str("node_id", node.ID).Msg("failed to mark node offline")
			continue
		}

		r.broker.Publish(&events.Event{
			Type:      events.EventNodeOffline,
			Timestamp: now,
			NodeID:    node.ID,
			Message:   "node missed its liveness window",
		})
	}
}
