// ABOUTME: Minimal broker client used by the status subcommand and fake-agent.
// ABOUTME: One frame out, read frames until the matching reply arrives.

package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/2389/coven-broker/internal/agent"
	"github.com/2389/coven-broker/internal/protocol"
)

// DefaultTimeout bounds each request/reply exchange.
const DefaultTimeout = 5 * time.Second

// ErrUnexpectedReply indicates the broker answered with something other
// than the awaited frame type.
var ErrUnexpectedReply = errors.New("unexpected reply from broker")

// Client wraps one TCP connection to the broker.
type Client struct {
	conn    net.Conn
	buf     []byte
	timeout time.Duration
}

// Dial connects to the broker at addr with the default exchange timeout.
func Dial(addr string) (*Client, error) {
	return DialTimeout(addr, DefaultTimeout)
}

// DialTimeout connects with an explicit per-exchange timeout.
func DialTimeout(addr string, timeout time.Duration) (*Client, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, fmt.Errorf("dialing broker: %w", err)
	}
	return &Client{conn: conn, timeout: timeout}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// SendFrame encodes and writes one frame.
func (c *Client) SendFrame(msgType protocol.MessageType, payload any) error {
	frame, err := protocol.Encode(msgType, payload)
	if err != nil {
		return err
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.timeout))
	_, err = c.conn.Write(frame)
	return err
}

// Next blocks until one complete frame arrives and returns it decoded.
func (c *Client) Next() (protocol.MessageType, any, error) {
	deadline := time.Now().Add(c.timeout)
	readBuf := make([]byte, 4096)

	for {
		msgType, payload, rest, ok, err := protocol.Decode(c.buf)
		if err != nil {
			return 0, nil, err
		}
		if ok {
			c.buf = rest
			return msgType, payload, nil
		}

		_ = c.conn.SetReadDeadline(deadline)
		n, err := c.conn.Read(readBuf)
		if n > 0 {
			c.buf = append(c.buf, readBuf[:n]...)
			continue
		}
		if err != nil {
			return 0, nil, fmt.Errorf("reading frame: %w", err)
		}
	}
}

// awaitResponse reads frames until a RESPONSE arrives, skipping the
// broker's periodic idle heartbeats.
func (c *Client) awaitResponse() (map[string]any, error) {
	for {
		msgType, payload, err := c.Next()
		if err != nil {
			return nil, err
		}
		switch msgType {
		case protocol.TypeResponse:
			return protocol.Object(payload), nil
		case protocol.TypeHeartbeat:
			continue
		case protocol.TypeError:
			fields := protocol.Object(payload)
			msg, _ := fields["error"].(string)
			return nil, fmt.Errorf("broker error: %s", msg)
		default:
			return nil, fmt.Errorf("%w: %s", ErrUnexpectedReply, msgType)
		}
	}
}

// Register claims name with the broker. An empty agentType defaults to
// "CORE" on the broker side.
func (c *Client) Register(name, agentType string) error {
	payload := map[string]any{"agent": name}
	if agentType != "" {
		payload["type"] = agentType
	}
	if err := c.SendFrame(protocol.TypeRegister, payload); err != nil {
		return err
	}

	resp, err := c.awaitResponse()
	if err != nil {
		return err
	}
	if status, _ := resp["status"].(string); status != "registered" {
		return fmt.Errorf("register rejected: %v", resp)
	}
	return nil
}

// Status fetches the broker's aggregate snapshot.
func (c *Client) Status() (agent.Snapshot, error) {
	var snap agent.Snapshot

	if err := c.SendFrame(protocol.TypeStatus, map[string]any{}); err != nil {
		return snap, err
	}
	resp, err := c.awaitResponse()
	if err != nil {
		return snap, err
	}

	// Round-trip through JSON to map the generic payload onto the
	// typed snapshot.
	raw, err := json.Marshal(resp)
	if err != nil {
		return snap, err
	}
	if err := json.Unmarshal(raw, &snap); err != nil {
		return snap, fmt.Errorf("decoding snapshot: %w", err)
	}
	return snap, nil
}

// Send asks the broker to forward body to the named target agent. The
// broker's routing response is returned as-is; callers inspect "status".
func (c *Client) Send(target string, body map[string]any) (map[string]any, error) {
	payload := map[string]any{"target": target}
	for k, v := range body {
		payload[k] = v
	}
	if err := c.SendFrame(protocol.TypeSend, payload); err != nil {
		return nil, err
	}
	return c.awaitResponse()
}

// Heartbeat sends a heartbeat and waits for the broker's echo.
func (c *Client) Heartbeat(payload any) (any, error) {
	if err := c.SendFrame(protocol.TypeHeartbeat, payload); err != nil {
		return nil, err
	}

	for {
		msgType, reply, err := c.Next()
		if err != nil {
			return nil, err
		}
		if msgType != protocol.TypeHeartbeat {
			return nil, fmt.Errorf("%w: %s", ErrUnexpectedReply, msgType)
		}
		// Idle-poll heartbeats from the broker carry "ts", echoes
		// carry "echo".
		if fields := protocol.Object(reply); fields != nil {
			if echo, ok := fields["echo"]; ok {
				return echo, nil
			}
		}
	}
}

// Shutdown asks the broker to close this session.
func (c *Client) Shutdown() error {
	if err := c.SendFrame(protocol.TypeShutdown, map[string]any{}); err != nil {
		return err
	}
	resp, err := c.awaitResponse()
	if err != nil {
		return err
	}
	if status, _ := resp["status"].(string); status != "shutting_down" {
		return fmt.Errorf("unexpected shutdown response: %v", resp)
	}
	return nil
}
