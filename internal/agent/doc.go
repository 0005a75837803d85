// Package agent tracks the broker's directory of known agents.
//
// # Registry
//
// The Registry maps agent names to records:
//
//	reg := agent.NewRegistry(logger)
//	reg.Register("security", "CORE", session)
//
// Key operations:
//
//   - Register(name, type, sender): idempotent upsert, claims name for sender
//   - Unregister(name): mark disconnected, keep the record
//   - Lookup(name): read-only copy of a record
//   - Sender(name): live forwarding handle, nil when not connected
//   - Snapshot(): aggregate status for STATUS responses
//
// A record is never deleted on disconnect: the roster of known names is
// persistent for the life of the process, distinct from the set of live
// connections.
//
// # Ownership
//
// The registry holds only a Sender interface back to each session. Sockets
// belong to their sessions alone; the registry cannot close them. When a
// second REGISTER arrives for a name that is already connected, the new
// session supersedes the old reference and the orphaned session is reaped
// by its own heartbeat timeout.
//
// # Seeding
//
// At startup the broker seeds a fixed roster of default agent names as
// known-but-disconnected records (see DefaultRoster and LoadRoster), so a
// STATUS query reflects the expected topology before anything connects.
package agent
