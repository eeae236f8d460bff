// Package sftpsrv implements the SFTP surface (spec section 4.7): one SSH
// server listening for connections whose password field carries an opaque
// session token and whose username is the workload id, chrooting into the
// workload's file tree once the token and the access grant both check out.
// Grounded on github.com/pkg/sftp's request-server Handlers extension
// point (the library's own documented server-side API, also the shape
// zmb3-teleport's client-side sftp package talks to) and
// golang.org/x/crypto/ssh's ServerConfig/PasswordCallback, the same
// primitives zmb3-teleport/lib/sshutils/sftp builds its client on.
package sftpsrv

import (
	"net"
	"time"

	"github.com/catalystlabs/catalyst/pkg/access"
	"github.com/catalystlabs/catalyst/pkg/catalysterr"
	"github.com/catalystlabs/catalyst/pkg/config"
	"github.com/catalystlabs/catalyst/pkg/logging"
	"github.com/catalystlabs/catalyst/pkg/security"
	"github.com/catalystlabs/catalyst/pkg/storage"
	"github.com/pkg/sftp"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
)

// Server accepts SFTP connections and serves each on its own session.
type Server struct {
	cfg       config.Config
	store     storage.Store
	tokens    *security.TokenManager
	evaluator *access.Evaluator
	hostKey   ssh.Signer
	logger    zerolog.Logger

	idleTimeout time.Duration

	listener net.Listener
	stopCh   chan struct{}
}

// New loads (or generates and persists) the SSH host key and prepares a
// Server. Call Serve to start accepting connections.
func New(cfg config.Config, store storage.Store, tokens *security.TokenManager, evaluator *access.Evaluator) (*Server, error) {
	hostKey, err := security.LoadOrGenerateSSHHostKey(cfg.SFTPHostKeyPath)
	if err != nil {
		return nil, catalysterr.Wrap(catalysterr.Internal, "loading sftp host key", err)
	}

	idle := time.Duration(cfg.SFTPIdleTimeoutMinutes) * time.Minute
	if idle <= 0 {
		idle = 30 * time.Minute
	}

	return &Server{
		cfg:         cfg,
		store:       store,
		tokens:      tokens,
		evaluator:   evaluator,
		hostKey:     hostKey,
		logger:      logging.WithComponent("sftp"),
		idleTimeout: idle,
		stopCh:      make(chan struct{}),
	}, nil
}

// Serve listens on addr and accepts SFTP connections until Stop is called.
func (s *Server) Serve(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.listener = ln
	s.logger.Info().Str("addr", addr).Msg("sftp surface listening")

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-s.stopCh:
				return nil
			default:
				s.logger.Error().Err(err).Msg("accept failed")
				continue
			}
		}
		go s.handleConn(conn)
	}
}

// Stop closes the listener; in-flight sessions run to their own completion
// or idle timeout.
func (s *Server) Stop() {
	close(s.stopCh)
	if s.listener != nil {
		_ = s.listener.Close()
	}
}

// sshConfig builds a fresh ServerConfig per connection: the username is
// the workload id, the password is the opaque session token (spec section
// 4.7's authentication rule), verified then cross-checked against the
// access evaluator before the handshake is allowed to complete.
func (s *Server) sshConfig() *ssh.ServerConfig {
	cfg := &ssh.ServerConfig{
		PasswordCallback: func(meta ssh.ConnMetadata, password []byte) (*ssh.Permissions, error) {
			workloadID := meta.User()
			st, err := s.tokens.Validate(string(password), workloadID)
			if err != nil {
				return nil, catalysterr.New(catalysterr.AuthFailed, "invalid sftp session token")
			}

			w, err := s.store.GetWorkload(workloadID)
			if err != nil {
				return nil, catalysterr.New(catalysterr.AuthFailed, "unknown workload")
			}
			if err := s.evaluator.Check(st.PrincipalID, w, "file.read"); err != nil {
				return nil, catalysterr.New(catalysterr.AuthFailed, "principal lacks file access")
			}

			return &ssh.Permissions{
				Extensions: map[string]string{
					"workloadID":  workloadID,
					"principalID": st.PrincipalID,
				},
			}, nil
		},
	}
	cfg.AddHostKey(s.hostKey)
	return cfg
}

// handleConn performs the SSH handshake, then serves exactly one SFTP
// subsystem session per connection (spec section 4.7's "one session per
// TCP connection").
func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	sshConn, chans, reqs, err := ssh.NewServerConn(conn, s.sshConfig())
	if err != nil {
		s.logger.Warn().Err(err).Msg("sftp ssh handshake failed")
		return
	}
	defer sshConn.Close()
	go ssh.DiscardRequests(reqs)

	workloadID := sshConn.Permissions.Extensions["workloadID"]
	principalID := sshConn.Permissions.Extensions["principalID"]
	workload, err := s.store.GetWorkload(workloadID)
	if err != nil {
		s.logger.Warn().Str("workload_id", workloadID).Msg("workload disappeared after sftp auth")
		return
	}
	sess := s.newSession(workload, principalID)
	defer sess.close()

	for newChannel := range chans {
		if newChannel.ChannelType() != "session" {
			_ = newChannel.Reject(ssh.UnknownChannelType, "unsupported channel type")
			continue
		}
		channel, requests, err := newChannel.Accept()
		if err != nil {
			continue
		}
		go s.serveChannel(sess, channel, requests)
	}
}

// serveChannel waits for the "subsystem" request naming sftp, then hands
// the channel to the request-server.
func (s *Server) serveChannel(sess *session, channel ssh.Channel, requests <-chan *ssh.Request) {
	defer channel.Close()

	for req := range requests {
		ok := req.Type == "subsystem" && string(req.Payload[4:]) == "sftp"
		if req.WantReply {
			_ = req.Reply(ok, nil)
		}
		if !ok {
			continue
		}

		server := sftp.NewRequestServer(channel, sftp.Handlers{
			FileGet:  sess,
			FilePut:  sess,
			FileCmd:  sess,
			FileList: sess,
		})
		defer server.Close()
		if err := server.Serve(); err != nil {
			sess.logger.Debug().Err(err).Msg("sftp request server exited")
		}
		return
	}
}
