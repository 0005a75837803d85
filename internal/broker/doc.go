// Package broker implements the TCP message broker: the listening server,
// one session per client connection, and periodic status reporting.
//
// Sessions own their sockets exclusively. The shared agent registry is the
// only state crossing session boundaries, and forwarding a SEND frame to
// another session goes through the registry's non-owning sender reference
// with the actual write serialized by the target session's write mutex.
package broker
