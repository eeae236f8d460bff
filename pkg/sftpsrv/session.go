package sftpsrv

import (
	"sync"
	"time"

	"github.com/catalystlabs/catalyst/pkg/access"
	"github.com/catalystlabs/catalyst/pkg/catalysterr"
	"github.com/catalystlabs/catalyst/pkg/filetree"
	"github.com/catalystlabs/catalyst/pkg/logging"
	"github.com/catalystlabs/catalyst/pkg/types"
	"github.com/rs/zerolog"
)

// session holds per-connection state: the workload this SFTP login is
// chrooted into, and the serialized request queue spec section 4.7
// requires so replies never interleave. One session exists per TCP
// connection, matching the spec's session model.
type session struct {
	workload    *types.Workload
	principalID string
	tree        *filetree.Tree
	evaluator   *access.Evaluator
	logger      zerolog.Logger

	jobs chan func()
	done chan struct{}

	mu           sync.Mutex
	lastActivity time.Time
}

func (s *Server) newSession(workload *types.Workload, principalID string) *session {
	tree, err := filetree.New(s.cfg.ServerFilesRoot, workload.ID)
	if err != nil {
		s.logger.Error().Err(err).Str("workload_id", workload.ID).Msg("could not open file tree for sftp session")
	}

	sess := &session{
		workload:     workload,
		principalID:  principalID,
		tree:         tree,
		evaluator:    s.evaluator,
		logger:       logging.WithWorkload(workload.ID),
		jobs:         make(chan func(), 64),
		done:         make(chan struct{}),
		lastActivity: time.Now(),
	}

	go sess.runQueue()
	go sess.watchIdle(s.idleTimeout)
	return sess
}

// runQueue drains jobs strictly in submission order, so two SFTP requests
// on the same connection can never produce interleaved replies.
func (s *session) runQueue() {
	for {
		select {
		case job, ok := <-s.jobs:
			if !ok {
				return
			}
			job()
		case <-s.done:
			return
		}
	}
}

func (s *session) watchIdle(timeout time.Duration) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.mu.Lock()
			idle := time.Since(s.lastActivity)
			s.mu.Unlock()
			if idle >= timeout {
				s.logger.Info().Msg("sftp session idle timeout")
				s.close()
				return
			}
		case <-s.done:
			return
		}
	}
}

func (s *session) close() {
	select {
	case <-s.done:
	default:
		close(s.done)
	}
}

func (s *session) touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// submit runs fn on the session's serial worker and blocks for its result.
func (s *session) submit(fn func() error) error {
	s.touch()
	result := make(chan error, 1)
	select {
	case s.jobs <- func() { result <- fn() }:
	case <-s.done:
		return catalysterr.New(catalysterr.Internal, "sftp session closed")
	}
	select {
	case err := <-result:
		return err
	case <-s.done:
		return catalysterr.New(catalysterr.Internal, "sftp session closed")
	}
}

// checkPermission implements spec section 4.7's permission mapping via the
// shared access evaluator; a role with "*" bypasses through Evaluator.Check
// itself.
func (s *session) checkPermission(permission string) error {
	return s.evaluator.Check(s.principalID, s.workload, permission)
}
