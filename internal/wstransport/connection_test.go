package wstransport

import (
	"bytes"
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/vtmuxd/vtmuxd/internal/hub"
	"github.com/vtmuxd/vtmuxd/internal/ptyhost"
	"github.com/vtmuxd/vtmuxd/internal/registry"
	"github.com/vtmuxd/vtmuxd/internal/wsproto"
)

func testSetup(t *testing.T) (*registry.Registry, *hub.Hub, *httptest.Server) {
	t.Helper()
	host := ptyhost.New(0, time.Second, nil)
	h := hub.New(0, 0, nil, nil)
	reg, err := registry.New(registry.Config{RecordingsDir: t.TempDir()}, host, h, nil)
	if err != nil {
		t.Fatalf("registry.New: %v", err)
	}
	srv := NewServer(reg, h, 60*time.Second, nil, nil)
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	return reg, h, ts
}

func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + ts.URL[len("http"):] + "/ws"
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.CloseNow() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) wsproto.Frame {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	f, err := wsproto.Decode(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	return f
}

func TestConnectReceivesWelcome(t *testing.T) {
	_, _, ts := testSetup(t)
	conn := dial(t, ts)
	f := readFrame(t, conn)
	if f.Type != wsproto.TypeWelcome {
		t.Fatalf("expected WELCOME, got type %d", f.Type)
	}
}

func TestSubscribeAndInputEchoesStdout(t *testing.T) {
	reg, _, ts := testSetup(t)
	info, err := reg.Create(registry.CreateSpec{Command: []string{"cat"}, Cols: 80, Rows: 24})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	t.Cleanup(func() { reg.Kill(info.ID) })

	conn := dial(t, ts)
	readFrame(t, conn) // welcome

	sub := wsproto.EncodeSubscribe(wsproto.SubscribePayload{Flags: wsproto.FlagStdout, SnapshotMinMs: 100, SnapshotMaxMs: 1000})
	frame, err := wsproto.Encode(wsproto.Frame{Type: wsproto.TypeSubscribe, SessionID: info.ID, Payload: sub})
	if err != nil {
		t.Fatalf("encode subscribe: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := conn.Write(ctx, websocket.MessageBinary, frame); err != nil {
		cancel()
		t.Fatalf("write subscribe: %v", err)
	}
	cancel()

	inputFrame, _ := wsproto.Encode(wsproto.Frame{Type: wsproto.TypeInputText, SessionID: info.ID, Payload: []byte("hello\n")})
	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	if err := conn.Write(ctx2, websocket.MessageBinary, inputFrame); err != nil {
		cancel2()
		t.Fatalf("write input: %v", err)
	}
	cancel2()

	for i := 0; i < 10; i++ {
		f := readFrame(t, conn)
		if f.Type == wsproto.TypeStdout && f.SessionID == info.ID && bytes.Contains(f.Payload, []byte("hello")) {
			return
		}
	}
	t.Fatalf("did not observe echoed stdout within 10 frames")
}

func TestPingReceivesPong(t *testing.T) {
	_, _, ts := testSetup(t)
	conn := dial(t, ts)
	readFrame(t, conn) // welcome

	ping, _ := wsproto.Encode(wsproto.Frame{Type: wsproto.TypePing})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := conn.Write(ctx, websocket.MessageBinary, ping); err != nil {
		cancel()
		t.Fatalf("write ping: %v", err)
	}
	cancel()

	f := readFrame(t, conn)
	if f.Type != wsproto.TypePong {
		t.Fatalf("expected PONG, got type %d", f.Type)
	}
}

func TestUnknownSessionSubscribeReturnsErrorEvent(t *testing.T) {
	_, _, ts := testSetup(t)
	conn := dial(t, ts)
	readFrame(t, conn) // welcome

	sub := wsproto.EncodeSubscribe(wsproto.SubscribePayload{Flags: wsproto.FlagStdout, SnapshotMinMs: 100, SnapshotMaxMs: 1000})
	frame, _ := wsproto.Encode(wsproto.Frame{Type: wsproto.TypeSubscribe, SessionID: "does-not-exist", Payload: sub})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := conn.Write(ctx, websocket.MessageBinary, frame); err != nil {
		cancel()
		t.Fatalf("write subscribe: %v", err)
	}
	cancel()

	f := readFrame(t, conn)
	if f.Type != wsproto.TypeEvent {
		t.Fatalf("expected EVENT for unknown session, got type %d", f.Type)
	}
}
