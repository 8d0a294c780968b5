// Package wstransport implements the WS v3 endpoint (spec §4.6): one
// connection owns one reader task and one writer task, the reader decoding
// incoming frames and routing them into the Hub/Registry, the writer
// draining every subscriber's queued frames onto the socket. The writer is
// not the only task that writes: the reader writes its own replies
// (WELCOME, PONG, error EVENTs) through the same mutex-guarded writeFrame,
// and Server.Broadcast writes to each connection directly.
package wstransport

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/vtmuxd/vtmuxd/internal/apierr"
	"github.com/vtmuxd/vtmuxd/internal/hub"
	"github.com/vtmuxd/vtmuxd/internal/registry"
	"github.com/vtmuxd/vtmuxd/internal/wsproto"
)

// AuthFunc validates a connection's bearer token (from query param or
// Authorization header) before the upgrade completes.
type AuthFunc func(r *http.Request) (identity string, ok bool)

// Server owns the shared Hub/Registry and accepts WebSocket upgrades.
type Server struct {
	hub         *hub.Hub
	reg         *registry.Registry
	log         *slog.Logger
	idleTimeout time.Duration
	auth        AuthFunc

	mu    sync.Mutex
	conns map[string]*connection
}

// NewServer builds a transport Server and wires its wake callback into the
// Hub so PublishStdout/PublishEvent/Tick can nudge the right writer task.
func NewServer(reg *registry.Registry, h *hub.Hub, idleTimeout time.Duration, auth AuthFunc, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	if idleTimeout <= 0 {
		idleTimeout = 60 * time.Second
	}
	s := &Server{
		hub:         h,
		reg:         reg,
		log:         log,
		idleTimeout: idleTimeout,
		auth:        auth,
		conns:       make(map[string]*connection),
	}
	h.SetWakeFunc(s.wake)
	return s
}

func (s *Server) wake(connID string) {
	s.mu.Lock()
	c := s.conns[connID]
	s.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// maxProtocolErrors is the "three strikes" close threshold from spec §4.6.
const maxProtocolErrors = 3

// ServeHTTP upgrades the request to a WebSocket and runs the connection
// until it closes.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var identity string
	if s.auth != nil {
		id, ok := s.auth(r)
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		identity = id
	}

	// InsecureSkipVerify: this server is reached directly by native/desktop
	// clients as well as browsers on arbitrary origins; the bearer token is
	// the actual security boundary, not same-origin policy (spec §6).
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		s.log.Warn("ws accept", "err", err)
		return
	}

	connID := uuid.NewString()
	c := &connection{
		id:       connID,
		identity: identity,
		conn:     conn,
		hub:      s.hub,
		reg:      s.reg,
		log:      s.log.With("conn", connID),
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}

	s.mu.Lock()
	s.conns[connID] = c
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.conns, connID)
		s.mu.Unlock()
		s.hub.RemoveConnection(connID)
	}()

	c.run(r.Context(), s.idleTimeout)
}

// Broadcast writes an EVENT {"kind": kind} directly to every connected
// client, giving each write up to flushBudget. It does not flush frames
// still queued in subscriber queues, and it closes no sessions.
func (s *Server) Broadcast(kind string, flushBudget time.Duration) {
	s.mu.Lock()
	conns := make([]*connection, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	payload, _ := json.Marshal(map[string]any{"kind": kind})
	for _, c := range conns {
		frame, err := wsproto.Encode(wsproto.Frame{Type: wsproto.TypeEvent, Payload: payload})
		if err != nil {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), flushBudget)
		_ = c.conn.Write(ctx, websocket.MessageBinary, frame)
		cancel()
	}
}

// connection is one upgraded WebSocket: one reader goroutine (this
// ServeHTTP call's own goroutine) and one writer goroutine, per spec §5's
// per-connection task topology.
type connection struct {
	id       string
	identity string
	conn     *websocket.Conn
	hub      *hub.Hub
	reg      *registry.Registry
	log      *slog.Logger

	wake chan struct{}
	done chan struct{}

	writeMu sync.Mutex

	// subscribedSessions tracks which sessions this connection is currently
	// subscribed to (UNSUBSCRIBE removes the entry), so the writer's drain
	// loop knows which Subscriber
	// queues to check without scanning the whole hub.
	subsMu             sync.Mutex
	subscribedSessions map[string]struct{}

	protocolErrors int
}

func (c *connection) run(ctx context.Context, idleTimeout time.Duration) {
	defer c.conn.CloseNow()
	c.subscribedSessions = make(map[string]struct{})

	welcome, _ := wsproto.Encode(wsproto.Frame{
		Type:    wsproto.TypeWelcome,
		Payload: []byte(`{"serverVersion":"1.0","capabilities":["stdout","snapshots","events"]}`),
	})
	if err := c.writeFrame(ctx, welcome); err != nil {
		return
	}

	go c.writerLoop(ctx)
	c.readerLoop(ctx, idleTimeout)
	close(c.done)
}

// readerLoop decodes incoming frames and routes them; it IS the blocking
// task described in §5 ("Frame reader blocks on socket read").
func (c *connection) readerLoop(ctx context.Context, idleTimeout time.Duration) {
	lastActivity := time.Now()

	for {
		readCtx, cancel := context.WithTimeout(ctx, idleTimeout)
		typ, data, err := c.conn.Read(readCtx)
		cancel()
		if err != nil {
			if time.Since(lastActivity) >= idleTimeout {
				c.conn.Close(websocket.StatusCode(1001), "idle timeout")
			}
			return
		}
		lastActivity = time.Now()
		if typ != websocket.MessageBinary {
			continue
		}

		frame, err := wsproto.Decode(data)
		if err != nil {
			if c.protocolError(ctx, err.Error()) {
				return
			}
			continue
		}

		if err := c.handleFrame(ctx, frame); err != nil {
			if c.protocolError(ctx, err.Error()) {
				return
			}
		}
	}
}

func (c *connection) protocolError(ctx context.Context, reason string) (terminate bool) {
	c.protocolErrors++
	payload, _ := json.Marshal(map[string]any{"kind": "error", "code": string(apierr.ProtocolError), "reason": reason})
	frame, _ := wsproto.Encode(wsproto.Frame{Type: wsproto.TypeEvent, Payload: payload})
	_ = c.writeFrame(ctx, frame)
	if c.protocolErrors >= maxProtocolErrors {
		c.conn.Close(websocket.StatusCode(1003), "protocol error")
		return true
	}
	return false
}

func (c *connection) handleFrame(ctx context.Context, frame wsproto.Frame) error {
	switch frame.Type {
	case wsproto.TypeSubscribe:
		p, err := wsproto.DecodeSubscribe(frame.Payload)
		if err != nil {
			return err
		}
		if frame.SessionID != "" {
			if _, err := c.reg.Get(frame.SessionID); err != nil {
				return c.sendError(ctx, frame.SessionID, err)
			}
		}
		c.hub.Subscribe(c.id, frame.SessionID, hub.Flags(p.Flags), p.SnapshotMinMs, p.SnapshotMaxMs)
		c.subsMu.Lock()
		c.subscribedSessions[frame.SessionID] = struct{}{}
		c.subsMu.Unlock()
		c.wakeSelf()

	case wsproto.TypeUnsubscribe:
		c.hub.Unsubscribe(c.id, frame.SessionID)
		c.subsMu.Lock()
		delete(c.subscribedSessions, frame.SessionID)
		c.subsMu.Unlock()

	case wsproto.TypeInputText:
		if err := c.reg.Input(frame.SessionID, frame.Payload); err != nil {
			return c.sendError(ctx, frame.SessionID, err)
		}

	case wsproto.TypeResize:
		p, err := wsproto.DecodeResize(frame.Payload)
		if err != nil {
			return err
		}
		if _, err := c.reg.Resize(frame.SessionID, p.Cols, p.Rows); err != nil {
			return c.sendError(ctx, frame.SessionID, err)
		}

	case wsproto.TypePing:
		pong, _ := wsproto.Encode(wsproto.Frame{Type: wsproto.TypePong})
		return c.writeFrame(ctx, pong)

	case wsproto.TypePong:
		// no-op: reading the frame already reset the idle timer.

	default:
		return errors.New("unknown frame type")
	}
	return nil
}

func (c *connection) sendError(ctx context.Context, sessionID string, err error) error {
	code := apierr.Code(err)
	payload, _ := json.Marshal(map[string]any{"kind": "error", "code": code, "reason": err.Error()})
	frame, encErr := wsproto.Encode(wsproto.Frame{Type: wsproto.TypeEvent, SessionID: sessionID, Payload: payload})
	if encErr != nil {
		return encErr
	}
	return c.writeFrame(ctx, frame)
}

func (c *connection) wakeSelf() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// writerLoop delivers subscriber frames. It wakes on c.wake, drains every
// subscribed session's Subscriber queue, and writes each pending OutFrame
// in the order Drain returns them.
func (c *connection) writerLoop(ctx context.Context) {
	for {
		select {
		case <-c.done:
			return
		case <-ctx.Done():
			return
		case <-c.wake:
			c.drainAll(ctx)
		}
	}
}

func (c *connection) drainAll(ctx context.Context) {
	c.subsMu.Lock()
	sessionIDs := make([]string, 0, len(c.subscribedSessions))
	for id := range c.subscribedSessions {
		sessionIDs = append(sessionIDs, id)
	}
	c.subsMu.Unlock()

	for _, sid := range sessionIDs {
		sub := c.hub.GetSubscriber(c.id, sid)
		if sub == nil {
			continue
		}
		for _, f := range sub.Drain() {
			frame, err := wsproto.Encode(wsproto.Frame{Type: f.Type, SessionID: f.SessionID, Payload: f.Payload})
			if err != nil {
				continue
			}
			if err := c.writeFrame(ctx, frame); err != nil {
				return
			}
		}
		if sub.Terminated() {
			c.conn.Close(websocket.StatusCode(1008), "policy violation: event queue full")
			return
		}
	}
}

func (c *connection) writeFrame(ctx context.Context, frame []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	writeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return c.conn.Write(writeCtx, websocket.MessageBinary, frame)
}
