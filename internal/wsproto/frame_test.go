package wsproto

import (
	"bytes"
	"testing"
)

// TestEncodeDecodeInverse covers spec §8 property 6: decode(encode(f)) == f
// for well-formed frames.
func TestEncodeDecodeInverse(t *testing.T) {
	cases := []Frame{
		{Type: TypeWelcome, SessionID: "", Payload: []byte(`{"serverVersion":"1.0"}`)},
		{Type: TypeStdout, SessionID: "abc123", Payload: []byte("hello world\r\n")},
		{Type: TypeSnapshotVT, SessionID: "abc123", Payload: []byte{'V', 'T', 3, 0}},
		{Type: TypeEvent, SessionID: "", Payload: []byte(`{"kind":"start"}`)},
		{Type: TypePing, SessionID: "", Payload: nil},
	}

	for _, f := range cases {
		enc, err := Encode(f)
		if err != nil {
			t.Fatalf("encode %+v: %v", f, err)
		}
		dec, err := Decode(enc)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if dec.Type != f.Type || dec.SessionID != f.SessionID || !bytes.Equal(dec.Payload, f.Payload) {
			t.Fatalf("roundtrip mismatch: got %+v, want %+v", dec, f)
		}
	}
}

func TestDecodeBadMagic(t *testing.T) {
	buf := []byte{'X', 'X', Version, byte(TypePing), 0, 0}
	if _, err := Decode(buf); err != ErrBadMagic {
		t.Fatalf("expected ErrBadMagic, got %v", err)
	}
}

func TestDecodeBadVersion(t *testing.T) {
	buf := []byte{MagicHi, MagicLo, 9, byte(TypePing), 0, 0}
	if _, err := Decode(buf); err != ErrBadVersion {
		t.Fatalf("expected ErrBadVersion, got %v", err)
	}
}

func TestDecodeTruncated(t *testing.T) {
	buf := []byte{MagicHi, MagicLo, Version}
	if _, err := Decode(buf); err != ErrTruncated {
		t.Fatalf("expected ErrTruncated, got %v", err)
	}
}

func TestDecodeTruncatedSessionID(t *testing.T) {
	buf := []byte{MagicHi, MagicLo, Version, byte(TypeStdout), 0, 10, 'a', 'b'}
	if _, err := Decode(buf); err != ErrTruncated {
		t.Fatalf("expected ErrTruncated, got %v", err)
	}
}

func TestSubscribePayloadRoundtrip(t *testing.T) {
	p := SubscribePayload{Flags: FlagStdout | FlagEvents, SnapshotMinMs: 100, SnapshotMaxMs: 1000}
	enc := EncodeSubscribe(p)
	dec, err := DecodeSubscribe(enc)
	if err != nil {
		t.Fatalf("decode subscribe: %v", err)
	}
	if dec != p {
		t.Fatalf("roundtrip mismatch: got %+v, want %+v", dec, p)
	}
}

func TestResizePayloadRoundtrip(t *testing.T) {
	p := ResizePayload{Cols: 120, Rows: 40}
	enc := EncodeResize(p)
	dec, err := DecodeResize(enc)
	if err != nil {
		t.Fatalf("decode resize: %v", err)
	}
	if dec != p {
		t.Fatalf("roundtrip mismatch: got %+v, want %+v", dec, p)
	}
}

func TestEncodeOversizePayloadRejected(t *testing.T) {
	f := Frame{Type: TypeStdout, Payload: make([]byte, MaxPayload+1)}
	if _, err := Encode(f); err != ErrOversize {
		t.Fatalf("expected ErrOversize, got %v", err)
	}
}
