// ABOUTME: TCP broker server: accept loop, session tracking, status reporting.
// ABOUTME: Coordinates graceful shutdown of all sessions within a grace period.

package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/2389/coven-broker/internal/agent"
	"github.com/2389/coven-broker/internal/config"
)

// Server owns the listening socket and the shared agent registry. One
// goroutine runs per accepted connection; the server tracks sessions only
// for shutdown coordination, never for routing (routing goes through the
// registry's sender references).
type Server struct {
	cfg      *config.Config
	registry *agent.Registry
	logger   *slog.Logger

	ln net.Listener
	wg sync.WaitGroup

	mu       sync.Mutex
	sessions map[string]*Session
}

// New creates a broker server and seeds the registry with the default
// agent roster (or the TOML roster file named in the config).
func New(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	registry := agent.NewRegistry(logger.With("component", "registry"))

	roster := agent.DefaultRoster()
	if cfg.Agents.RosterPath != "" {
		loaded, err := agent.LoadRoster(cfg.Agents.RosterPath)
		if err != nil {
			return nil, fmt.Errorf("loading roster: %w", err)
		}
		roster = loaded
	}
	registry.Seed(roster)

	return &Server{
		cfg:      cfg,
		registry: registry,
		logger:   logger.With("component", "broker"),
		sessions: make(map[string]*Session),
	}, nil
}

// Registry exposes the shared registry, mainly for tests and the status
// reporter.
func (s *Server) Registry() *agent.Registry {
	return s.registry
}

// Addr returns the bound listen address. Valid only while Run is active;
// useful when the configured port is 0.
func (s *Server) Addr() string {
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Run binds the listener, writes the PID file, and serves until ctx is
// canceled. Failure to bind is the only fatal startup error; everything a
// client does later is at worst fatal to that client's session.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr())
	if err != nil {
		return fmt.Errorf("binding listen socket: %w", err)
	}
	s.ln = ln
	defer func() { _ = ln.Close() }()

	if err := writePIDFile(s.cfg.Server.PIDFile); err != nil {
		s.logger.Warn("could not write pid file", "path", s.cfg.Server.PIDFile, "error", err)
	} else {
		defer removePIDFile(s.cfg.Server.PIDFile)
	}

	s.logger.Info("broker listening",
		"addr", ln.Addr().String(),
		"heartbeat_timeout", s.cfg.Agents.HeartbeatTimeout,
	)

	go s.reportLoop(ctx)

	s.acceptLoop(ctx)

	_ = ln.Close()
	s.awaitSessions()
	s.logger.Info("broker stopped")
	return nil
}

// acceptLoop accepts connections until ctx is canceled. The accept call
// uses a short deadline so the running flag is observed about once per
// poll interval.
func (s *Server) acceptLoop(ctx context.Context) {
	tcpLn, _ := s.ln.(*net.TCPListener)

	for {
		if ctx.Err() != nil {
			return
		}
		if tcpLn != nil {
			_ = tcpLn.SetDeadline(time.Now().Add(s.cfg.Server.PollTimeout))
		}

		conn, err := s.ln.Accept()
		if err != nil {
			var nerr net.Error
			if errors.As(err, &nerr) && nerr.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			s.logger.Warn("accept failed", "error", err)
			continue
		}

		s.handleConn(ctx, conn)
	}
}

// handleConn configures the socket and starts a session goroutine.
func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetKeepAlive(true)
		_ = tc.SetKeepAlivePeriod(30 * time.Second)
	}

	sess := newSession(conn, s.registry, sessionOptions{
		pollTimeout:      s.cfg.Server.PollTimeout,
		heartbeatTimeout: s.cfg.Agents.HeartbeatTimeout,
	}, s.logger)

	s.track(sess)
	s.logger.Debug("connection accepted", "remote", conn.RemoteAddr().String())

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.untrack(sess)
		sess.run(ctx)
	}()
}

func (s *Server) track(sess *Session) {
	s.mu.Lock()
	s.sessions[sess.id] = sess
	s.mu.Unlock()
}

func (s *Server) untrack(sess *Session) {
	s.mu.Lock()
	delete(s.sessions, sess.id)
	s.mu.Unlock()
}

func (s *Server) sessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// awaitSessions waits for outstanding sessions up to the shutdown grace
// period, then proceeds regardless.
func (s *Server) awaitSessions() {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(s.cfg.Server.ShutdownGrace):
		s.logger.Warn("shutdown grace period elapsed", "sessions_remaining", s.sessionCount())
	}
}

// reportLoop logs aggregate throughput once per report interval, but only
// when new messages were processed since the last report.
func (s *Server) reportLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Server.ReportInterval)
	defer ticker.Stop()

	var lastCount int64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := s.registry.Snapshot()
			if snap.MessagesProcessed == lastCount {
				continue
			}
			lastCount = snap.MessagesProcessed
			s.logger.Info("broker status",
				"agents_connected", snap.AgentsConnected,
				"agents_registered", snap.AgentsRegistered,
				"messages_processed", snap.MessagesProcessed,
				"throughput", fmt.Sprintf("%.2f/s", snap.Throughput),
				"memory_mb", fmt.Sprintf("%.1f", snap.MemoryUsageMB),
			)
		}
	}
}
