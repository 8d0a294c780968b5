// Package hub is the fan-out layer (spec §4.5): it matches each session's
// PTY output to its interested subscribers, applies per-subscriber
// back-pressure, and drives the periodic VT snapshot cadence. It never
// talks to a socket directly — internal/wstransport drains subscriber
// queues and performs the actual serialized writes.
package hub

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"
)

// SnapshotFunc renders the current VT snapshot for a session (bound to that
// session's Terminal Model by the Registry at RegisterSession time).
type SnapshotFunc func() []byte

type sessionState struct {
	mu          sync.Mutex
	subs        map[string]*Subscriber // keyed by connection id
	snapshotFn  SnapshotFunc
	burstBytes  int64
	lastTickAt  time.Time
}

// Hub owns all per-session subscriber sets for the process.
type Hub struct {
	log *slog.Logger

	mu       sync.Mutex
	sessions map[string]*sessionState
	globals  map[string]*Subscriber // connID -> global-events subscriber (session_id == "")

	maxQueueBytes  int
	maxQueueFrames int

	onWake func(connID string) // notify a connection's writer pump to drain
}

// New creates an empty Hub. maxQueueBytes/maxQueueFrames are the queue
// bounds given to every subscriber this Hub creates (0 means use the
// package defaults). onWake, if non-nil, is called (non-blocking, from any
// goroutine) whenever a subscriber belonging to connID has new frames
// queued; it is usually wired up after construction via SetWakeFunc once
// the WebSocket transport exists.
func New(maxQueueBytes, maxQueueFrames int, onWake func(connID string), log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		log:            log,
		sessions:       make(map[string]*sessionState),
		globals:        make(map[string]*Subscriber),
		maxQueueBytes:  maxQueueBytes,
		maxQueueFrames: maxQueueFrames,
		onWake:         onWake,
	}
}

// SetWakeFunc installs (or replaces) the wake callback. Safe to call once
// at startup before any connections exist.
func (h *Hub) SetWakeFunc(onWake func(connID string)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onWake = onWake
}

// SubscriberCount reports how many subscribers currently hold any interest
// in sessionID, used to decide when it's safe to release a session's
// Terminal Model after it has exited (spec §3 lifecycle).
func (h *Hub) SubscriberCount(sessionID string) int {
	ss := h.session(sessionID)
	if ss == nil {
		return 0
	}
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return len(ss.subs)
}

// RegisterSession wires a session into the hub so subscribers can attach to
// it and snapshot ticks have a byte-stream to render. Called by the
// Registry on session Create.
func (h *Hub) RegisterSession(sessionID string, snapshotFn SnapshotFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sessions[sessionID] = &sessionState{
		subs:       make(map[string]*Subscriber),
		snapshotFn: snapshotFn,
		lastTickAt: time.Now(),
	}
}

// RemoveSession drops a session's subscriber set. Called once the session
// has exited and its last subscriber has left (spec §3 Session lifecycle).
func (h *Hub) RemoveSession(sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.sessions, sessionID)
}

// GetSubscriber returns the existing subscriber for (connID, sessionID), if
// any, without creating or mutating it. An empty sessionID looks up the
// connection's global-events subscriber.
func (h *Hub) GetSubscriber(connID, sessionID string) *Subscriber {
	if sessionID == "" {
		h.mu.Lock()
		defer h.mu.Unlock()
		return h.globals[connID]
	}
	ss := h.session(sessionID)
	if ss == nil {
		return nil
	}
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return ss.subs[connID]
}

func (h *Hub) session(sessionID string) *sessionState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sessions[sessionID]
}

// Subscribe attaches (or updates, if already present — SUBSCRIBE is
// idempotent per connection+session) a subscriber and, if the Snapshots
// flag is set, immediately enqueues one snapshot frame.
func (h *Hub) Subscribe(connID, sessionID string, flags Flags, minMs, maxMs uint32) *Subscriber {
	if sessionID == "" {
		h.mu.Lock()
		sub, ok := h.globals[connID]
		if !ok {
			sub = NewSubscriber(connID, "", flags, minMs, maxMs, h.maxQueueBytes, h.maxQueueFrames)
			h.globals[connID] = sub
		} else {
			sub.UpdateSubscription(flags, minMs, maxMs)
		}
		h.mu.Unlock()
		return sub
	}

	ss := h.session(sessionID)
	if ss == nil {
		return nil
	}
	ss.mu.Lock()
	sub, ok := ss.subs[connID]
	if !ok {
		sub = NewSubscriber(connID, sessionID, flags, minMs, maxMs, h.maxQueueBytes, h.maxQueueFrames)
		ss.subs[connID] = sub
	} else {
		sub.UpdateSubscription(flags, minMs, maxMs)
	}
	snapshotFn := ss.snapshotFn
	ss.mu.Unlock()

	if flags.has(FlagSnapshots) && snapshotFn != nil {
		sub.enqueueSnapshot(snapshotFn())
		h.wake(connID)
	}
	return sub
}

// Unsubscribe removes all flags for (connID, sessionID) — an empty
// sessionID targets the global-events subscription.
func (h *Hub) Unsubscribe(connID, sessionID string) {
	if sessionID == "" {
		h.mu.Lock()
		delete(h.globals, connID)
		h.mu.Unlock()
		return
	}
	ss := h.session(sessionID)
	if ss == nil {
		return
	}
	ss.mu.Lock()
	delete(ss.subs, connID)
	ss.mu.Unlock()
}

// RemoveConnection tears down every subscription owned by connID across
// every session, on connection close (spec §5 cancellation).
func (h *Hub) RemoveConnection(connID string) {
	h.mu.Lock()
	delete(h.globals, connID)
	sessions := make([]*sessionState, 0, len(h.sessions))
	for _, ss := range h.sessions {
		sessions = append(sessions, ss)
	}
	h.mu.Unlock()

	for _, ss := range sessions {
		ss.mu.Lock()
		delete(ss.subs, connID)
		ss.mu.Unlock()
	}
}

// PublishStdout fans bytes read from a session's PTY out to every Stdout
// subscriber, applying the back-pressure policy per subscriber
// independently (spec §4.5). Never blocks the caller (the PTY reader task).
func (h *Hub) PublishStdout(sessionID string, data []byte) {
	ss := h.session(sessionID)
	if ss == nil || len(data) == 0 {
		return
	}
	ss.mu.Lock()
	ss.burstBytes += int64(len(data))
	subs := make([]*Subscriber, 0, len(ss.subs))
	for _, s := range ss.subs {
		subs = append(subs, s)
	}
	snapshotFn := ss.snapshotFn
	ss.mu.Unlock()

	for _, sub := range subs {
		if !sub.Flags().has(FlagStdout) {
			continue
		}
		overflow := sub.enqueueStdout(data)
		if overflow {
			h.publishOverflowEvent(sub, sessionID)
		} else if sub.Flags().has(FlagSnapshots) && sub.NeedsResync() && snapshotFn != nil {
			sub.enqueueSnapshot(snapshotFn())
		}
		h.wake(sub.ConnID)
	}
}

func (h *Hub) publishOverflowEvent(sub *Subscriber, sessionID string) {
	payload, _ := json.Marshal(map[string]any{"kind": "overflow", "sessionId": sessionID})
	if sub.enqueueEvent(payload) {
		h.log.Warn("subscriber terminated: event queue full", "session", sessionID, "conn", sub.ConnID)
	}
}

// PublishEvent delivers a tagged EVENT to every subscriber (session-scoped
// and global) with the Events flag, in happens-before order relative to
// whatever stdout has already been published for this session (callers are
// expected to call PublishStdout for the final bytes before publishing an
// exit event, per spec §4.5 ordering guarantees).
func (h *Hub) PublishEvent(sessionID string, fields map[string]any) {
	payload, err := json.Marshal(fields)
	if err != nil {
		h.log.Error("marshal event", "err", err)
		return
	}

	var subs []*Subscriber
	if ss := h.session(sessionID); ss != nil {
		ss.mu.Lock()
		for _, s := range ss.subs {
			subs = append(subs, s)
		}
		ss.mu.Unlock()
	}

	h.mu.Lock()
	for _, s := range h.globals {
		subs = append(subs, s)
	}
	h.mu.Unlock()

	for _, sub := range subs {
		if !sub.Flags().has(FlagEvents) {
			continue
		}
		if sub.enqueueEvent(payload) {
			h.log.Warn("subscriber terminated: event queue full", "session", sessionID, "conn", sub.ConnID)
		}
		h.wake(sub.ConnID)
	}
}

func (h *Hub) wake(connID string) {
	h.mu.Lock()
	fn := h.onWake
	h.mu.Unlock()
	if fn != nil {
		fn(connID)
	}
}

// Tick drives the snapshot cadence (spec §4.5): for every session with at
// least one Snapshots subscriber, it checks each subscriber's dynamic
// interval against elapsed time, and on expiry enqueues a fresh snapshot,
// then grows the interval toward the max on an idle tick or resets it to
// the min on a burst tick (SPEC_FULL's resolved cadence curve). Intended to
// be called periodically (e.g. every 50ms) from a single goroutine; exposed
// as a pure function of `now` so tests can drive it deterministically.
func (h *Hub) Tick(now time.Time) {
	h.mu.Lock()
	sessions := make(map[string]*sessionState, len(h.sessions))
	for id, ss := range h.sessions {
		sessions[id] = ss
	}
	h.mu.Unlock()

	for _, ss := range sessions {
		ss.mu.Lock()
		idle := ss.burstBytes == 0
		ss.burstBytes = 0
		snapshotFn := ss.snapshotFn
		subs := make([]*Subscriber, 0, len(ss.subs))
		for _, s := range ss.subs {
			subs = append(subs, s)
		}
		ss.mu.Unlock()

		if snapshotFn == nil {
			continue
		}
		for _, sub := range subs {
			if !sub.Flags().has(FlagSnapshots) {
				continue
			}
			sub.mu.Lock()
			due := now.Sub(sub.lastSnapshotAt) >= sub.curInterval
			sub.mu.Unlock()
			if !due {
				continue
			}
			sub.nextSnapshotDelay(idle)
			sub.mu.Lock()
			sub.lastSnapshotAt = now
			sub.mu.Unlock()
			sub.enqueueSnapshot(snapshotFn())
			h.wake(sub.ConnID)
		}
	}
}
