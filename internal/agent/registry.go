// ABOUTME: Shared registry of known agents and their connection state.
// ABOUTME: Guards the name map with a single mutex; counters are atomic.

package agent

import (
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/2389/coven-broker/internal/protocol"
)

// DefaultType is the classification assigned to agents that register
// without one.
const DefaultType = "CORE"

// Agent status values. A record keeps its place in the roster when the
// agent disconnects; only the status and connected flag change.
const (
	StatusActive       = "active"
	StatusDisconnected = "disconnected"
)

// Sender is a non-owning handle to the session currently speaking for an
// agent. The registry never closes or outlives a session; it only holds
// this reference so SEND frames can be forwarded.
type Sender interface {
	SendFrame(msgType protocol.MessageType, payload any) error
	RemoteAddr() string
}

// Record describes one known agent. Name is the unique key.
type Record struct {
	Name         string
	Type         string
	RegisteredAt time.Time
	Status       string
	Connected    bool

	sender Sender
}

// Registry is the broker's in-memory directory of agents. All map access
// happens under a single mutex; the lock is never held across socket I/O.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]*Record

	messages  atomic.Int64
	startTime time.Time
	logger    *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		agents:    make(map[string]*Record),
		startTime: time.Now(),
		logger:    logger,
	}
}

// Register upserts the record for name and claims it for sender. It is
// idempotent and always succeeds. A second registration under the same
// name supersedes the previous sender reference; the superseded session is
// not closed here and is left to its own heartbeat timeout.
func (r *Registry) Register(name, agentType string, sender Sender) {
	if agentType == "" {
		agentType = DefaultType
	}

	r.mu.Lock()
	rec, exists := r.agents[name]
	if !exists {
		rec = &Record{Name: name}
		r.agents[name] = rec
	}
	superseded := exists && rec.Connected && rec.sender != nil && rec.sender != sender
	rec.Type = agentType
	rec.RegisteredAt = time.Now()
	rec.Status = StatusActive
	rec.Connected = sender != nil
	rec.sender = sender
	r.mu.Unlock()

	if superseded {
		r.logger.Warn("agent re-registered, superseding previous session", "agent", name)
		return
	}
	r.logger.Info("agent registered", "agent", name, "type", agentType, "connected", sender != nil)
}

// Unregister marks the named agent disconnected. The record is retained so
// the roster survives disconnects. Unknown names are a no-op.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	rec, ok := r.agents[name]
	if ok {
		rec.Connected = false
		rec.Status = StatusDisconnected
		rec.sender = nil
	}
	r.mu.Unlock()

	if ok {
		r.logger.Info("agent disconnected", "agent", name)
	}
}

// Release marks the named agent disconnected only if sender still owns the
// claim. Sessions use it on close so that a superseded session tearing down
// does not clobber the record of its successor.
func (r *Registry) Release(name string, sender Sender) {
	r.mu.Lock()
	rec, ok := r.agents[name]
	owned := ok && rec.sender == sender
	if owned {
		rec.Connected = false
		rec.Status = StatusDisconnected
		rec.sender = nil
	}
	r.mu.Unlock()

	if owned {
		r.logger.Info("agent disconnected", "agent", name)
	}
}

// Lookup returns a copy of the record for name. The second return value is
// false for unknown names; "not found" is a normal result, not an error.
func (r *Registry) Lookup(name string) (Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.agents[name]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// Sender returns the live sender for name, or nil if the agent is unknown
// or not currently connected. The caller performs any socket write outside
// the registry lock.
func (r *Registry) Sender(name string) Sender {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.agents[name]
	if !ok || !rec.Connected {
		return nil
	}
	return rec.sender
}

// CountMessage records one processed message.
func (r *Registry) CountMessage() {
	r.messages.Add(1)
}

// Snapshot is a point-in-time aggregate of broker state, serialized as the
// payload of STATUS responses.
type Snapshot struct {
	Status            string  `json:"status"`
	ProtocolVersion   int     `json:"protocol_version"`
	AgentsRegistered  int     `json:"agents_registered"`
	AgentsConnected   int     `json:"agents_connected"`
	MessagesProcessed int64   `json:"messages_processed"`
	UptimeSeconds     float64 `json:"uptime_seconds"`
	Throughput        float64 `json:"throughput"`
	MemoryUsageMB     float64 `json:"memory_usage_mb"`
}

// Snapshot computes the current aggregate under the registry lock.
func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	registered := len(r.agents)
	connected := 0
	for _, rec := range r.agents {
		if rec.Connected {
			connected++
		}
	}
	r.mu.RUnlock()

	uptime := time.Since(r.startTime).Seconds()
	messages := r.messages.Load()

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	return Snapshot{
		Status:            "operational",
		ProtocolVersion:   protocol.Version,
		AgentsRegistered:  registered,
		AgentsConnected:   connected,
		MessagesProcessed: messages,
		UptimeSeconds:     uptime,
		Throughput:        float64(messages) / max(uptime, 1),
		MemoryUsageMB:     float64(mem.Alloc) / (1 << 20),
	}
}

// Seed pre-registers roster entries as known but unconnected agents, so
// STATUS queries reflect the expected topology before any client connects.
func (r *Registry) Seed(roster []RosterEntry) {
	now := time.Now()

	r.mu.Lock()
	for _, e := range roster {
		if _, exists := r.agents[e.Name]; exists {
			continue
		}
		agentType := e.Type
		if agentType == "" {
			agentType = DefaultType
		}
		r.agents[e.Name] = &Record{
			Name:         e.Name,
			Type:         agentType,
			RegisteredAt: now,
			Status:       StatusDisconnected,
			Connected:    false,
		}
	}
	count := len(r.agents)
	r.mu.Unlock()

	r.logger.Info("seeded default roster", "agents", count)
}
