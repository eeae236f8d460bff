package gateway

import (
	"net"
	"sync"
	"time"

	"github.com/catalystlabs/catalyst/pkg/catalysterr"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// pendingCall tracks a command awaiting a correlated terminal event.
// Most commands don't register one; create_backup/restore_backup do, so
// the transfer coordinator can block on the result.
type pendingCall struct {
	resultCh chan *Frame
}

// session is one node's live connection. All writes to conn go through
// sendCh so a single goroutine owns the wire, keeping frame order intact.
type session struct {
	nodeID string
	conn   net.Conn
	logger zerolog.Logger

	sendCh chan *Frame
	closed chan struct{}
	once   sync.Once

	mu      sync.Mutex
	pending map[string]*pendingCall
}

func newSession(nodeID string, conn net.Conn, logger zerolog.Logger) *session {
	return &session{
		nodeID:  nodeID,
		conn:    conn,
		logger:  logger,
		sendCh:  make(chan *Frame, 64),
		closed:  make(chan struct{}),
		pending: make(map[string]*pendingCall),
	}
}

// close tears down the session and fails every call awaiting a result.
// Safe to call more than once.
func (s *session) close() {
	s.once.Do(func() {
		close(s.closed)
		_ = s.conn.Close()

		s.mu.Lock()
		for id, call := range s.pending {
			close(call.resultCh)
			delete(s.pending, id)
		}
		s.mu.Unlock()
	})
}

// writeLoop is the sole writer of the connection, draining sendCh in order.
func (s *session) writeLoop() {
	for {
		select {
		case f, ok := <-s.sendCh:
			if !ok {
				return
			}
			if err := writeFrame(s.conn, f); err != nil {
				s.logger.Error().Err(err).Msg("write frame failed, tearing down session")
				s.close()
				return
			}
		case <-s.closed:
			return
		}
	}
}

// enqueue hands a frame to the write loop, bounded by admission timeout.
// NodeBackpressured is returned when the queue stays full past the
// deadline; NodeUnavailable when the session has already been torn down.
func (s *session) enqueue(f *Frame, admission time.Duration) error {
	select {
	case <-s.closed:
		return catalysterr.New(catalysterr.NodeUnavailable, "session closed")
	default:
	}

	timer := time.NewTimer(admission)
	defer timer.Stop()

	select {
	case s.sendCh <- f:
		return nil
	case <-s.closed:
		return catalysterr.New(catalysterr.NodeUnavailable, "session closed")
	case <-timer.C:
		return catalysterr.New(catalysterr.NodeBackpressured, "gateway send queue admission window exceeded")
	}
}

// registerPending creates a correlation id and a channel that resolves
// when the matching event arrives, or is closed if the session dies first.
func (s *session) registerPending() (string, chan *Frame) {
	id := uuid.New().String()
	ch := make(chan *Frame, 1)

	s.mu.Lock()
	s.pending[id] = &pendingCall{resultCh: ch}
	s.mu.Unlock()

	return id, ch
}

// resolvePending delivers a correlated frame to its waiter, if one exists.
func (s *session) resolvePending(correlationID string, f *Frame) bool {
	s.mu.Lock()
	call, ok := s.pending[correlationID]
	if ok {
		delete(s.pending, correlationID)
	}
	s.mu.Unlock()

	if !ok {
		return false
	}
	call.resultCh <- f
	close(call.resultCh)
	return true
}

// unregisterPending drops a wait without resolving it, used when a caller
// gives up (e.g. its own timeout) before the agent responds.
func (s *session) unregisterPending(correlationID string) {
	s.mu.Lock()
	delete(s.pending, correlationID)
	s.mu.Unlock()
}
