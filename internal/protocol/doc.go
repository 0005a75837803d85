// Package protocol implements the broker's binary wire format.
//
// # Frame layout
//
// Every frame is a fixed big-endian header followed by the payload:
//
//	[4 bytes magic "AGNT"][1 byte version][1 byte message type]
//	[4 bytes payload length][payload]
//
// The payload is UTF-8 JSON for structured messages and raw UTF-8 text
// otherwise. A complete frame, header included, may not exceed 1 MiB.
//
// # Incomplete frames
//
// Decode distinguishes "not enough bytes yet" from real errors: a short
// buffer yields ok=false with a nil error, telling the caller to read more
// and try again. Only a bad magic, an unsupported version, or an oversized
// declared length are errors, and those are fatal to the connection that
// produced them.
package protocol
