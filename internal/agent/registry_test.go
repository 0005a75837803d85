// ABOUTME: Tests for the agent registry.
// ABOUTME: Covers registration, supersede semantics, release ownership, and snapshots.

package agent

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/2389/coven-broker/internal/protocol"
)

// fakeSender stands in for a live session.
type fakeSender struct {
	addr string
}

func (f *fakeSender) SendFrame(protocol.MessageType, any) error { return nil }
func (f *fakeSender) RemoteAddr() string                        { return f.addr }

func testRegistry() *Registry {
	return NewRegistry(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestRegisterAndLookup(t *testing.T) {
	r := testRegistry()
	sender := &fakeSender{addr: "127.0.0.1:1111"}

	r.Register("director", "CORE", sender)

	rec, ok := r.Lookup("director")
	if !ok {
		t.Fatal("expected director to be registered")
	}
	if rec.Type != "CORE" {
		t.Errorf("expected type CORE, got %q", rec.Type)
	}
	if rec.Status != StatusActive {
		t.Errorf("expected status %q, got %q", StatusActive, rec.Status)
	}
	if !rec.Connected {
		t.Error("expected record to be connected")
	}
}

func TestRegisterDefaultsType(t *testing.T) {
	r := testRegistry()
	r.Register("monitor", "", &fakeSender{})

	rec, ok := r.Lookup("monitor")
	if !ok {
		t.Fatal("expected monitor to be registered")
	}
	if rec.Type != DefaultType {
		t.Errorf("expected default type %q, got %q", DefaultType, rec.Type)
	}
}

func TestRegisterIsIdempotent(t *testing.T) {
	r := testRegistry()
	sender := &fakeSender{}

	r.Register("security", "CORE", sender)
	r.Register("security", "SECURITY", sender)

	rec, _ := r.Lookup("security")
	if rec.Type != "SECURITY" {
		t.Errorf("expected type refreshed to SECURITY, got %q", rec.Type)
	}

	snap := r.Snapshot()
	if snap.AgentsRegistered != 1 {
		t.Errorf("expected 1 registered agent, got %d", snap.AgentsRegistered)
	}
}

func TestRegisterSupersedesSender(t *testing.T) {
	r := testRegistry()
	old := &fakeSender{addr: "127.0.0.1:1111"}
	replacement := &fakeSender{addr: "127.0.0.1:2222"}

	r.Register("patcher", "CORE", old)
	r.Register("patcher", "CORE", replacement)

	if got := r.Sender("patcher"); got != Sender(replacement) {
		t.Fatalf("expected replacement sender, got %v", got)
	}

	// The superseded session releasing its claim must not clobber the new
	// owner's record.
	r.Release("patcher", old)

	rec, _ := r.Lookup("patcher")
	if !rec.Connected {
		t.Error("release by superseded sender disconnected the new owner")
	}
	if got := r.Sender("patcher"); got != Sender(replacement) {
		t.Error("release by superseded sender removed the new owner's sender")
	}
}

func TestReleaseByOwner(t *testing.T) {
	r := testRegistry()
	sender := &fakeSender{}
	r.Register("debugger", "CORE", sender)

	r.Release("debugger", sender)

	rec, ok := r.Lookup("debugger")
	if !ok {
		t.Fatal("record should survive disconnect")
	}
	if rec.Connected {
		t.Error("expected record disconnected after release")
	}
	if rec.Status != StatusDisconnected {
		t.Errorf("expected status %q, got %q", StatusDisconnected, rec.Status)
	}
	if r.Sender("debugger") != nil {
		t.Error("expected no sender after release")
	}
}

func TestUnregisterUnknownIsNoOp(t *testing.T) {
	r := testRegistry()
	r.Unregister("ghost")

	if _, ok := r.Lookup("ghost"); ok {
		t.Error("unregister must not create records")
	}
}

func TestLookupUnknown(t *testing.T) {
	r := testRegistry()
	if _, ok := r.Lookup("nobody"); ok {
		t.Error("expected lookup miss for unknown agent")
	}
	if r.Sender("nobody") != nil {
		t.Error("expected nil sender for unknown agent")
	}
}

func TestSnapshot(t *testing.T) {
	r := testRegistry()
	for i := 0; i < 5; i++ {
		r.Register(fmt.Sprintf("agent-%d", i), "CORE", &fakeSender{})
	}
	r.Release("agent-0", r.Sender("agent-0"))

	for i := 0; i < 10; i++ {
		r.CountMessage()
	}

	snap := r.Snapshot()
	if snap.Status != "operational" {
		t.Errorf("expected status operational, got %q", snap.Status)
	}
	if snap.ProtocolVersion != protocol.Version {
		t.Errorf("expected protocol version %d, got %d", protocol.Version, snap.ProtocolVersion)
	}
	if snap.AgentsRegistered != 5 {
		t.Errorf("expected 5 registered, got %d", snap.AgentsRegistered)
	}
	if snap.AgentsConnected != 4 {
		t.Errorf("expected 4 connected, got %d", snap.AgentsConnected)
	}
	if snap.MessagesProcessed != 10 {
		t.Errorf("expected 10 messages, got %d", snap.MessagesProcessed)
	}
	if snap.UptimeSeconds < 0 {
		t.Errorf("uptime went backwards: %f", snap.UptimeSeconds)
	}
	if snap.MemoryUsageMB <= 0 {
		t.Errorf("expected positive memory usage, got %f", snap.MemoryUsageMB)
	}
}

func TestSeed(t *testing.T) {
	r := testRegistry()
	r.Register("director", "CUSTOM", &fakeSender{})

	r.Seed(DefaultRoster())

	snap := r.Snapshot()
	if snap.AgentsRegistered != len(DefaultRoster()) {
		t.Errorf("expected %d registered agents, got %d", len(DefaultRoster()), snap.AgentsRegistered)
	}
	if snap.AgentsConnected != 1 {
		t.Errorf("expected only the live registration connected, got %d", snap.AgentsConnected)
	}

	// Seeding must not overwrite an existing live record.
	rec, _ := r.Lookup("director")
	if rec.Type != "CUSTOM" {
		t.Errorf("seed overwrote live record type: %q", rec.Type)
	}

	rec, ok := r.Lookup("npu")
	if !ok {
		t.Fatal("expected seeded agent npu")
	}
	if rec.Connected {
		t.Error("seeded agents must start disconnected")
	}
}

func TestConcurrentRegistration(t *testing.T) {
	r := testRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			name := fmt.Sprintf("agent-%d", n%10)
			r.Register(name, "CORE", &fakeSender{})
			r.Lookup(name)
			r.CountMessage()
		}(i)
	}
	wg.Wait()

	snap := r.Snapshot()
	if snap.AgentsRegistered != 10 {
		t.Errorf("expected 10 registered agents, got %d", snap.AgentsRegistered)
	}
	if snap.MessagesProcessed != 50 {
		t.Errorf("expected 50 messages counted, got %d", snap.MessagesProcessed)
	}
}
