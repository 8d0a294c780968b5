// Package wsproto implements the WS v3 binary framing (spec §4.6): a fixed
// header (magic, version, type, session id length, session id bytes)
// followed by a type-specific payload. It is the wire codec only — routing
// frames into the hub/registry is internal/wstransport's job.
package wsproto

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Magic/version are fixed for this protocol generation.
const (
	MagicHi byte = 'V'
	MagicLo byte = 'T'
	Version byte = 3
)

// Type is the single byte discriminating frame payloads.
type Type byte

const (
	TypeWelcome     Type = 0x01
	TypeSubscribe   Type = 0x10
	TypeUnsubscribe Type = 0x11
	TypeInputText   Type = 0x20
	TypeResize      Type = 0x21
	TypeStdout      Type = 0x30
	TypeSnapshotVT  Type = 0x31
	TypeEvent       Type = 0x32
	TypePing        Type = 0x40
	TypePong        Type = 0x41
)

// Subscription interest flags (payload of SUBSCRIBE).
const (
	FlagStdout    byte = 0x01
	FlagSnapshots byte = 0x02
	FlagEvents    byte = 0x04
)

// MaxPayload is the hard ceiling on a single frame's payload (spec §4.6);
// anything larger is a protocol error.
const MaxPayload = 16 << 20

// headerLen is the fixed portion before the session id bytes: magic(2) +
// version(1) + type(1) + session id length(2).
const headerLen = 6

var (
	// ErrBadMagic/ErrBadVersion/ErrTruncated/ErrOversize are returned by
	// Decode for malformed input; wstransport maps them to a protocol-error
	// EVENT and counts them toward the three-strikes close policy.
	ErrBadMagic    = errors.New("wsproto: bad magic")
	ErrBadVersion  = errors.New("wsproto: unsupported version")
	ErrTruncated   = errors.New("wsproto: truncated frame")
	ErrOversize    = errors.New("wsproto: payload exceeds maximum size")
)

// Frame is a decoded WS v3 frame.
type Frame struct {
	Type      Type
	SessionID string
	Payload   []byte
}

// Encode serializes f into the wire format described in spec §4.6.
func Encode(f Frame) ([]byte, error) {
	sid := []byte(f.SessionID)
	if len(sid) > 0xFFFF {
		return nil, fmt.Errorf("wsproto: session id too long (%d bytes)", len(sid))
	}
	if len(f.Payload) > MaxPayload {
		return nil, ErrOversize
	}

	buf := make([]byte, headerLen+len(sid)+len(f.Payload))
	buf[0] = MagicHi
	buf[1] = MagicLo
	buf[2] = Version
	buf[3] = byte(f.Type)
	binary.BigEndian.PutUint16(buf[4:6], uint16(len(sid)))
	n := copy(buf[headerLen:], sid)
	copy(buf[headerLen+n:], f.Payload)
	return buf, nil
}

// Decode parses a single frame from a full WebSocket binary message. Binary
// messages map 1:1 to frames — coder/websocket delivers whole messages, so
// there is no partial-frame reassembly to do here.
func Decode(data []byte) (Frame, error) {
	if len(data) < headerLen {
		return Frame{}, ErrTruncated
	}
	if data[0] != MagicHi || data[1] != MagicLo {
		return Frame{}, ErrBadMagic
	}
	if data[2] != Version {
		return Frame{}, ErrBadVersion
	}

	sidLen := int(binary.BigEndian.Uint16(data[4:6]))
	if len(data) < headerLen+sidLen {
		return Frame{}, ErrTruncated
	}
	payload := data[headerLen+sidLen:]
	if len(payload) > MaxPayload {
		return Frame{}, ErrOversize
	}

	f := Frame{
		Type:      Type(data[3]),
		SessionID: string(data[headerLen : headerLen+sidLen]),
		Payload:   payload,
	}
	return f, nil
}

// SubscribePayload is the decoded SUBSCRIBE payload: flags:u8,
// snapshot_min_ms:u32 BE, snapshot_max_ms:u32 BE.
type SubscribePayload struct {
	Flags          byte
	SnapshotMinMs  uint32
	SnapshotMaxMs  uint32
}

// DecodeSubscribe parses a SUBSCRIBE frame's payload.
func DecodeSubscribe(payload []byte) (SubscribePayload, error) {
	if len(payload) < 9 {
		return SubscribePayload{}, ErrTruncated
	}
	return SubscribePayload{
		Flags:         payload[0],
		SnapshotMinMs: binary.BigEndian.Uint32(payload[1:5]),
		SnapshotMaxMs: binary.BigEndian.Uint32(payload[5:9]),
	}, nil
}

// EncodeSubscribe serializes a SUBSCRIBE payload (used by tests and any
// server-initiated resubscription logic).
func EncodeSubscribe(p SubscribePayload) []byte {
	buf := make([]byte, 9)
	buf[0] = p.Flags
	binary.BigEndian.PutUint32(buf[1:5], p.SnapshotMinMs)
	binary.BigEndian.PutUint32(buf[5:9], p.SnapshotMaxMs)
	return buf
}

// ResizePayload is the decoded RESIZE payload: cols:u16 BE, rows:u16 BE.
type ResizePayload struct {
	Cols uint16
	Rows uint16
}

// DecodeResize parses a RESIZE frame's payload.
func DecodeResize(payload []byte) (ResizePayload, error) {
	if len(payload) < 4 {
		return ResizePayload{}, ErrTruncated
	}
	return ResizePayload{
		Cols: binary.BigEndian.Uint16(payload[0:2]),
		Rows: binary.BigEndian.Uint16(payload[2:4]),
	}, nil
}

// EncodeResize serializes a RESIZE payload.
func EncodeResize(p ResizePayload) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint16(buf[0:2], p.Cols)
	binary.BigEndian.PutUint16(buf[2:4], p.Rows)
	return buf
}
