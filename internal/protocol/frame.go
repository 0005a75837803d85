// ABOUTME: Binary frame codec for the broker wire protocol.
// ABOUTME: Fixed 10-byte big-endian header (magic, version, type, length) plus payload.

package protocol

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	// Magic identifies a broker frame. The first four bytes of every frame
	// must match it exactly.
	Magic = "AGNT"

	// Version is the single supported protocol version.
	Version = 1

	// HeaderSize is the fixed size of the frame header in bytes:
	// 4 (magic) + 1 (version) + 1 (type) + 4 (payload length).
	HeaderSize = 10

	// MaxFrameSize bounds a complete frame, header included.
	MaxFrameSize = 1 << 20

	// MaxPayloadSize is the largest payload a frame may carry.
	MaxPayloadSize = MaxFrameSize - HeaderSize
)

// MessageType is the closed set of frame kinds the broker understands.
type MessageType byte

const (
	TypeRegister MessageType = iota + 1
	TypeStatus
	TypeSend
	TypeHeartbeat
	TypeResponse
	TypeError
	TypeShutdown
)

// String returns the wire-level name of the message type.
func (t MessageType) String() string {
	switch t {
	case TypeRegister:
		return "REGISTER"
	case TypeStatus:
		return "STATUS"
	case TypeSend:
		return "SEND"
	case TypeHeartbeat:
		return "HEARTBEAT"
	case TypeResponse:
		return "RESPONSE"
	case TypeError:
		return "ERROR"
	case TypeShutdown:
		return "SHUTDOWN"
	default:
		return fmt.Sprintf("UNKNOWN(0x%02x)", byte(t))
	}
}

// Valid reports whether t is one of the seven known message types.
func (t MessageType) Valid() bool {
	return t >= TypeRegister && t <= TypeShutdown
}

// ErrBadMagic indicates the first four bytes of a frame did not match Magic.
// Fatal to the connection.
var ErrBadMagic = errors.New("bad magic")

// ErrBadVersion indicates an unsupported protocol version byte.
// Fatal to the connection.
var ErrBadVersion = errors.New("unsupported protocol version")

// ErrFrameTooLarge indicates a payload exceeding MaxPayloadSize, on either
// the encode or the decode side.
var ErrFrameTooLarge = errors.New("frame exceeds maximum size")

// Encode serializes a payload and prepends the frame header.
//
// Maps and structs are marshaled to JSON, strings become UTF-8 bytes, and
// []byte is passed through unchanged. A nil payload produces an empty body.
func Encode(msgType MessageType, payload any) ([]byte, error) {
	var body []byte
	switch p := payload.(type) {
	case nil:
	case []byte:
		body = p
	case string:
		body = []byte(p)
	default:
		b, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("encoding payload: %w", err)
		}
		body = b
	}

	if len(body) > MaxPayloadSize {
		return nil, ErrFrameTooLarge
	}

	frame := make([]byte, HeaderSize+len(body))
	copy(frame[0:4], Magic)
	frame[4] = Version
	frame[5] = byte(msgType)
	binary.BigEndian.PutUint32(frame[6:10], uint32(len(body)))
	copy(frame[HeaderSize:], body)
	return frame, nil
}

// Decode extracts one frame from the front of buf.
//
// When buf holds less than a full header, or fewer payload bytes than the
// header declares, Decode returns ok=false with a nil error: the caller
// should wait for more data. Header validation is strict (ErrBadMagic,
// ErrBadVersion, ErrFrameTooLarge); payload content is not. The payload is
// JSON-decoded when possible, otherwise returned as a UTF-8 string with
// replacement characters for invalid bytes.
func Decode(buf []byte) (msgType MessageType, payload any, rest []byte, ok bool, err error) {
	if len(buf) < HeaderSize {
		return 0, nil, buf, false, nil
	}
	if string(buf[0:4]) != Magic {
		return 0, nil, buf, false, ErrBadMagic
	}
	if buf[4] != Version {
		return 0, nil, buf, false, ErrBadVersion
	}

	length := binary.BigEndian.Uint32(buf[6:10])
	if length > MaxPayloadSize {
		return 0, nil, buf, false, ErrFrameTooLarge
	}
	if len(buf)-HeaderSize < int(length) {
		return 0, nil, buf, false, nil
	}

	msgType = MessageType(buf[5])
	body := buf[HeaderSize : HeaderSize+int(length)]
	rest = buf[HeaderSize+int(length):]
	return msgType, decodePayload(body), rest, true, nil
}

// decodePayload attempts a JSON decode and falls back to a sanitized string.
// It never fails: only the header is strictly validated.
func decodePayload(body []byte) any {
	if len(body) == 0 {
		return ""
	}
	var v any
	if err := json.Unmarshal(body, &v); err == nil {
		return v
	}
	return strings.ToValidUTF8(string(body), string(utf8.RuneError))
}

// Object returns the payload as a JSON object, or nil if it is not one.
// Handlers use it to pull named fields out of decoded payloads.
func Object(payload any) map[string]any {
	obj, _ := payload.(map[string]any)
	return obj
}
