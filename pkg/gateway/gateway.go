// Package gateway implements the agent gateway (spec section 4.1): the
// single logical "send to node N" primitive, with at-most-one delivery per
// accepted call, correlation of asynchronous agent results, and routing of
// unsolicited agent events. Sessions are full-duplex, length-delimited
// JSON frame streams over plain TCP, authenticated out-of-band by each
// node's pre-shared key (see pkg/security.HashAgentKey) rather than mTLS;
// this module carries no certificate machinery.
package gateway

import (
	"encoding/json"
	"net"
	"sync"
	"time"

	"github.com/catalystlabs/catalyst/pkg/catalysterr"
	"github.com/catalystlabs/catalyst/pkg/events"
	"github.com/catalystlabs/catalyst/pkg/logging"
	"github.com/catalystlabs/catalyst/pkg/metrics"
	"github.com/catalystlabs/catalyst/pkg/security"
	"github.com/catalystlabs/catalyst/pkg/storage"
	"github.com/catalystlabs/catalyst/pkg/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// FrameHello is the first frame a connecting agent sends, carrying its
// node id and pre-shared key. It isn't part of spec section 4.1's command
// or event vocabulary because it never leaves the transport layer.
const FrameHello FrameType = "hello"

// helloPayload is FrameHello's payload shape.
type helloPayload struct {
	NodeID string `json:"nodeId"`
	Key    string `json:"key"`
}

// Gateway owns the set of live node sessions and the listener that accepts
// new ones.
type Gateway struct {
	store  storage.Store
	broker *events.Broker
	logger zerolog.Logger

	sendTimeout time.Duration

	mu       sync.RWMutex
	sessions map[string]*session

	listener net.Listener
	stopCh   chan struct{}
}

// New constructs a Gateway. Call Serve to start accepting connections.
func New(store storage.Store, broker *events.Broker, sendTimeoutSeconds int) *Gateway {
	if sendTimeoutSeconds <= 0 {
		sendTimeoutSeconds = 5
	}
	return &Gateway{
		store:       store,
		broker:      broker,
		logger:      logging.WithComponent("gateway"),
		sendTimeout: time.Duration(sendTimeoutSeconds) * time.Second,
		sessions:    make(map[string]*session),
		stopCh:      make(chan struct{}),
	}
}

// Serve listens on addr and accepts node sessions until Stop is called.
func (g *Gateway) Serve(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	g.listener = ln
	g.logger.Info().Str("addr", addr).Msg("agent gateway listening")

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-g.stopCh:
				return nil
			default:
				g.logger.Error().Err(err).Msg("accept failed")
				continue
			}
		}
		go g.handleConn(conn)
	}
}

// Stop closes the listener and every active session.
func (g *Gateway) Stop() {
	close(g.stopCh)
	if g.listener != nil {
		_ = g.listener.Close()
	}

	g.mu.Lock()
	for id, s := range g.sessions {
		s.close()
		delete(g.sessions, id)
	}
	g.mu.Unlock()
}

// handleConn performs the authentication handshake and, on success,
// registers the session and runs its read/write loops until it dies.
func (g *Gateway) handleConn(conn net.Conn) {
	first, err := readFrame(conn)
	if err != nil || first.Type != FrameHello {
		g.logger.Warn().Msg("connection did not present a hello frame, dropping")
		_ = conn.Close()
		return
	}

	var hello helloPayload
	if err := json.Unmarshal(first.Payload, &hello); err != nil {
		_ = conn.Close()
		return
	}

	node, err := g.store.GetNode(hello.NodeID)
	if err != nil {
		g.logger.Warn().Str("node_id", hello.NodeID).Msg("hello from unknown node")
		_ = conn.Close()
		return
	}
	if !security.VerifyAgentKey(hello.Key, node.AgentKeyHash) {
		g.logger.Warn().Str("node_id", hello.NodeID).Msg("hello with invalid agent key")
		_ = conn.Close()
		return
	}

	sessLogger := logging.WithNode(node.ID)
	sess := newSession(node.ID, conn, sessLogger)

	// A reconnecting node replaces its previous session; the old one's
	// pending calls fail with NodeUnavailable via close().
	g.mu.Lock()
	if old, ok := g.sessions[node.ID]; ok {
		old.close()
	}
	g.sessions[node.ID] = sess
	g.mu.Unlock()

	node.Online = true
	node.LastSeen = time.Now()
	_ = g.store.UpdateNode(node)

	sessLogger.Info().Msg("agent session established")
	go sess.writeLoop()
	g.readLoop(sess)

	g.mu.Lock()
	if g.sessions[node.ID] == sess {
		delete(g.sessions, node.ID)
	}
	g.mu.Unlock()
	sess.close()

	if n, err := g.store.GetNode(node.ID); err == nil {
		n.Online = false
		_ = g.store.UpdateNode(n)
	}
	sessLogger.Info().Msg("agent session closed")
}

// readLoop consumes inbound frames from one session until the connection
// fails, routing each to its handler per spec section 4.1's routing rules.
func (g *Gateway) readLoop(sess *session) {
	for {
		f, err := readFrame(sess.conn)
		if err != nil {
			return
		}
		g.routeInbound(sess, f)
	}
}

func (g *Gateway) routeInbound(sess *session, f *Frame) {
	metrics.GatewayEventsTotal.WithLabelValues(string(f.Type)).Inc()

	// A correlated caller (create_backup/restore_backup) may be waiting on
	// this frame; routing below still runs so persisted state stays
	// current even when nobody is listening for the correlation id.
	if f.CorrelationID != "" {
		sess.resolvePending(f.CorrelationID, f)
	}

	switch f.Type {
	case FrameStatusUpdate:
		g.handleStatusUpdate(sess.nodeID, f)
	case FrameLog:
		g.handleLog(f)
	case FrameMetrics:
		g.handleMetrics(f)
	case FrameBackupComplete:
		g.handleBackupComplete(sess.nodeID, f)
	case FrameRestoreComplete:
		g.handleRestoreComplete(sess.nodeID, f)
	case FrameNodeHeartbeat:
		g.handleHeartbeat(sess.nodeID)
	default:
		g.logger.Warn().Str("type", string(f.Type)).Msg("unknown event type, dropping")
	}
}

func (g *Gateway) handleStatusUpdate(nodeID string, f *Frame) {
	var p StatusUpdatePayload
	if err := json.Unmarshal(f.Payload, &p); err != nil {
		g.logger.Warn().Err(err).Msg("malformed status_update payload")
		return
	}
	g.broker.Publish(&events.Event{
		Type:       events.EventStatusUpdate,
		NodeID:     nodeID,
		WorkloadID: p.ServerID,
		Message:    p.NewStatus,
		Metadata:   map[string]string{"containerId": p.ContainerID, "newStatus": p.NewStatus},
	})
}

func (g *Gateway) handleLog(f *Frame) {
	var p LogPayload
	if err := json.Unmarshal(f.Payload, &p); err != nil {
		return
	}
	_ = g.store.AppendWorkloadLog(&types.WorkloadLog{
		ID:         uuid.New().String(),
		WorkloadID: p.ServerID,
		Stream:     types.LogStream(p.Stream),
		Text:       p.Line,
		Timestamp:  time.Now(),
	})
}

func (g *Gateway) handleMetrics(f *Frame) {
	var p MetricsPayload
	if err := json.Unmarshal(f.Payload, &p); err != nil {
		return
	}
	g.broker.Publish(&events.Event{
		Type:       events.EventMetrics,
		WorkloadID: p.ServerID,
		Metadata: map[string]string{
			"cpuPct":  formatFloat(p.CPUPct),
			"memMiB":  formatInt(p.MemMiB),
			"diskMiB": formatInt(p.DiskMiB),
		},
	})
}

func (g *Gateway) handleBackupComplete(nodeID string, f *Frame) {
	var p BackupCompletePayload
	if err := json.Unmarshal(f.Payload, &p); err != nil {
		return
	}
	g.broker.Publish(&events.Event{
		Type:       events.EventBackupComplete,
		NodeID:     nodeID,
		WorkloadID: p.ServerID,
		Metadata: map[string]string{
			"backupId": p.BackupID,
			"path":     p.Path,
			"sizeMiB":  formatInt(p.SizeMiB),
		},
	})
}

func (g *Gateway) handleRestoreComplete(nodeID string, f *Frame) {
	var p RestoreCompletePayload
	if err := json.Unmarshal(f.Payload, &p); err != nil {
		return
	}
	meta := map[string]string{"backupId": p.BackupID, "ok": formatBool(p.OK)}
	if p.Err != "" {
		meta["err"] = p.Err
	}
	g.broker.Publish(&events.Event{
		Type:       events.EventRestoreComplete,
		NodeID:     nodeID,
		WorkloadID: p.ServerID,
		Metadata:   meta,
	})
}

func (g *Gateway) handleHeartbeat(nodeID string) {
	node, err := g.store.GetNode(nodeID)
	if err != nil {
		return
	}
	node.Online = true
	node.LastSeen = time.Now()
	_ = g.store.UpdateNode(node)
	g.broker.Publish(&events.Event{Type: events.EventNodeHeartbeat, NodeID: nodeID})
}

// Send hands cmd to node's active session. It returns NodeUnavailable if
// no session is live, or NodeBackpressured if the queue stays full past
// the admission window.
func (g *Gateway) Send(nodeID string, f *Frame) error {
	sess := g.get(nodeID)
	if sess == nil {
		return catalysterr.New(catalysterr.NodeUnavailable, "no active session for node "+nodeID)
	}

	err := sess.enqueue(f, g.sendTimeout)
	outcome := "ok"
	if err != nil {
		outcome = string(catalysterr.KindOf(err))
	}
	metrics.GatewayCommandsTotal.WithLabelValues(string(f.Type), outcome).Inc()
	return err
}

// SendAndAwait sends cmd and blocks until a correlated event arrives, the
// session dies, or the wait deadline passes. Used by create_backup and
// restore_backup, whose completion is reported asynchronously.
func (g *Gateway) SendAndAwait(nodeID string, f *Frame, wait time.Duration) (*Frame, error) {
	sess := g.get(nodeID)
	if sess == nil {
		return nil, catalysterr.New(catalysterr.NodeUnavailable, "no active session for node "+nodeID)
	}

	correlationID, resultCh := sess.registerPending()
	f.CorrelationID = correlationID

	if err := sess.enqueue(f, g.sendTimeout); err != nil {
		sess.unregisterPending(correlationID)
		return nil, err
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case result, ok := <-resultCh:
		if !ok {
			return nil, catalysterr.New(catalysterr.NodeUnavailable, "session closed while awaiting result")
		}
		return result, nil
	case <-timer.C:
		sess.unregisterPending(correlationID)
		return nil, catalysterr.New(catalysterr.TransferFailed, "timed out waiting for agent result")
	}
}

// Stream sends each slice received on chunks to targetPath on nodeID as one
// upload_blob_chunk message, and once chunks is closed sends an explicit EOS
// chunk. Chunk sizes are whatever the caller supplies.
func (g *Gateway) Stream(nodeID, targetPath string, chunks <-chan []byte) error {
	sess := g.get(nodeID)
	if sess == nil {
		return catalysterr.New(catalysterr.NodeUnavailable, "no active session for node "+nodeID)
	}

	var offset int64
	for data := range chunks {
		payload, err := json.Marshal(BlobChunkPayload{TargetPath: targetPath, Offset: offset, Data: data})
		if err != nil {
			return err
		}
		if err := sess.enqueue(&Frame{Type: FrameUploadBlobChunk, Payload: payload}, g.sendTimeout); err != nil {
			return err
		}
		offset += int64(len(data))
	}

	eos, err := json.Marshal(BlobChunkPayload{TargetPath: targetPath, Offset: offset, EOS: true})
	if err != nil {
		return err
	}
	return sess.enqueue(&Frame{Type: FrameUploadBlobChunk, Payload: eos}, g.sendTimeout)
}

// IsOnline reports whether nodeID currently holds a live session.
func (g *Gateway) IsOnline(nodeID string) bool {
	return g.get(nodeID) != nil
}

func (g *Gateway) get(nodeID string) *session {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.sessions[nodeID]
}

func formatFloat(f float64) string { return jsonNumber(f) }
func formatInt(n int64) string     { return jsonNumber(n) }
func formatBool(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

// jsonNumber renders any JSON-marshalable scalar as a string, used to
// populate the flat string-typed Metadata map on published events.
func jsonNumber(v interface{}) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}
