// ABOUTME: Per-connection session: receive loop, frame draining, and dispatch.
// ABOUTME: Owns its socket exclusively; writes are serialized by a per-session mutex.

package broker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/coven-broker/internal/agent"
	"github.com/2389/coven-broker/internal/protocol"
)

// sessionOptions carries the timing knobs a session needs.
type sessionOptions struct {
	pollTimeout      time.Duration
	heartbeatTimeout time.Duration
}

// Session manages one client connection. The receive loop alternates a
// short blocking read with draining every complete frame from the buffer,
// so messages on a single connection are dispatched strictly in arrival
// order.
type Session struct {
	id       string
	conn     net.Conn
	registry *agent.Registry
	opts     sessionOptions
	logger   *slog.Logger

	buf       []byte
	agentName string
	lastSeen  time.Time
	quit      bool

	// writeMu serializes all writes to conn. Forwarders from other
	// sessions share the socket with this session's own replies, and
	// partial frames must never interleave.
	writeMu sync.Mutex
}

func newSession(conn net.Conn, registry *agent.Registry, opts sessionOptions, logger *slog.Logger) *Session {
	id := uuid.New().String()
	return &Session{
		id:       id,
		conn:     conn,
		registry: registry,
		opts:     opts,
		logger:   logger.With("session", id[:8], "remote", conn.RemoteAddr().String()),
	}
}

// run drives the receive loop until the peer disconnects, liveness fails,
// or ctx is canceled. It always leaves the registry entry marked
// disconnected and the socket closed.
func (s *Session) run(ctx context.Context) {
	defer s.close()

	s.lastSeen = time.Now()
	readBuf := make([]byte, 4096)

	for !s.quit {
		if ctx.Err() != nil {
			return
		}
		if time.Since(s.lastSeen) > s.opts.heartbeatTimeout {
			s.logger.Warn("heartbeat timeout, closing session", "agent", s.agentName)
			return
		}

		_ = s.conn.SetReadDeadline(time.Now().Add(s.opts.pollTimeout))
		n, err := s.conn.Read(readBuf)
		if n > 0 {
			s.lastSeen = time.Now()
			s.buf = append(s.buf, readBuf[:n]...)
			if derr := s.drain(); derr != nil {
				s.logger.Warn("protocol error, closing session", "error", derr)
				s.reply(protocol.TypeError, map[string]any{"error": derr.Error(), "type": "protocol"})
				return
			}
		}
		if err == nil {
			continue
		}

		var nerr net.Error
		if errors.As(err, &nerr) && nerr.Timeout() {
			// Idle poll: proactively signal liveness. A failed write
			// means the peer is gone.
			if herr := s.SendFrame(protocol.TypeHeartbeat, map[string]any{"ts": time.Now().Unix()}); herr != nil {
				s.logger.Debug("heartbeat send failed, closing session", "error", herr)
				return
			}
			continue
		}
		if !errors.Is(err, io.EOF) {
			s.logger.Debug("read error, closing session", "error", err)
		}
		return
	}
}

// drain dispatches every complete frame currently buffered. It returns an
// error only for protocol-level failures, which are fatal to the session.
func (s *Session) drain() error {
	for {
		msgType, payload, rest, ok, err := protocol.Decode(s.buf)
		if err != nil {
			return err
		}
		if !ok {
			s.buf = rest
			return nil
		}
		s.buf = rest
		s.dispatch(msgType, payload)
		if s.quit {
			return nil
		}
	}
}

// dispatch handles one decoded frame. Handler errors are recoverable: they
// are reported to the peer as an ERROR frame and the session survives.
func (s *Session) dispatch(msgType protocol.MessageType, payload any) {
	s.registry.CountMessage()

	var err error
	switch msgType {
	case protocol.TypeRegister:
		err = s.handleRegister(protocol.Object(payload))
	case protocol.TypeStatus:
		s.reply(protocol.TypeResponse, s.registry.Snapshot())
	case protocol.TypeSend:
		err = s.handleSend(payload)
	case protocol.TypeHeartbeat:
		s.reply(protocol.TypeHeartbeat, map[string]any{"echo": payload})
	case protocol.TypeShutdown:
		s.reply(protocol.TypeResponse, map[string]any{"status": "shutting_down"})
		s.quit = true
	case protocol.TypeResponse, protocol.TypeError:
		// Peers may push these unsolicited; they only refresh liveness.
		s.logger.Debug("inbound peer frame", "type", msgType.String())
	default:
		err = fmt.Errorf("unknown message type %s", msgType)
	}

	if err != nil {
		s.logger.Warn("dispatch failed", "type", msgType.String(), "error", err)
		s.reply(protocol.TypeError, map[string]any{"error": err.Error(), "type": msgType.String()})
	}
}

func (s *Session) handleRegister(fields map[string]any) error {
	name, _ := fields["agent"].(string)
	if name == "" {
		return errors.New("register: missing agent name")
	}
	agentType, _ := fields["type"].(string)

	s.registry.Register(name, agentType, s)
	s.agentName = name
	s.reply(protocol.TypeResponse, map[string]any{"status": "registered", "agent": name})
	return nil
}

func (s *Session) handleSend(payload any) error {
	fields := protocol.Object(payload)
	target, _ := fields["target"].(string)
	if target == "" {
		return errors.New("send: missing target")
	}

	if _, known := s.registry.Lookup(target); !known {
		s.reply(protocol.TypeResponse, map[string]any{"status": "failed", "error": "Target not found"})
		return nil
	}

	sender := s.registry.Sender(target)
	if sender == nil {
		s.reply(protocol.TypeResponse, map[string]any{"status": "failed", "error": "Target unreachable"})
		return nil
	}

	// The write happens outside the registry lock. A failed forward is
	// reported to the requester; the target is left for its own
	// heartbeat timeout to reap.
	if err := sender.SendFrame(protocol.TypeSend, payload); err != nil {
		s.logger.Warn("forward failed", "target", target, "error", err)
		s.reply(protocol.TypeResponse, map[string]any{"status": "failed", "error": "Target unreachable"})
		return nil
	}

	s.reply(protocol.TypeResponse, map[string]any{"status": "forwarded", "target": target})
	return nil
}

// reply sends a frame to the peer. A write failure is a connection
// failure: the session stops at the next loop check.
func (s *Session) reply(msgType protocol.MessageType, payload any) {
	if err := s.SendFrame(msgType, payload); err != nil {
		s.logger.Debug("reply failed, closing session", "type", msgType.String(), "error", err)
		s.quit = true
	}
}

// SendFrame encodes and writes one frame to the session's socket. It
// implements agent.Sender so the registry can hand this session out as a
// forwarding target without owning the socket.
func (s *Session) SendFrame(msgType protocol.MessageType, payload any) error {
	frame, err := protocol.Encode(msgType, payload)
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_ = s.conn.SetWriteDeadline(time.Now().Add(s.opts.pollTimeout))
	_, err = s.conn.Write(frame)
	return err
}

// RemoteAddr implements agent.Sender.
func (s *Session) RemoteAddr() string {
	return s.conn.RemoteAddr().String()
}

// close releases the registry claim (if this session still owns it) and
// closes the socket, swallowing close-time errors.
func (s *Session) close() {
	if s.agentName != "" {
		s.registry.Release(s.agentName, s)
	}
	_ = s.conn.Close()
	s.logger.Debug("session closed", "agent", s.agentName)
}
