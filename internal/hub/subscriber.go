package hub

import (
	"sync"
	"time"

	"github.com/vtmuxd/vtmuxd/internal/wsproto"
)

// Flags is the subscriber interest bitset carried in a SUBSCRIBE frame.
type Flags byte

const (
	FlagStdout    Flags = Flags(wsproto.FlagStdout)
	FlagSnapshots Flags = Flags(wsproto.FlagSnapshots)
	FlagEvents    Flags = Flags(wsproto.FlagEvents)
)

func (f Flags) has(bit Flags) bool { return f&bit != 0 }

// OutFrame is a pending delivery to one subscriber, not yet serialized to
// the wire (internal/wstransport owns encoding).
type OutFrame struct {
	Type      wsproto.Type
	SessionID string
	Payload   []byte
}

func (f OutFrame) size() int { return len(f.Payload) }

// Subscriber is one (connection, session) pair's interest and queued
// deliveries (spec §3's Subscriber / §4.5 back-pressure policy).
//
// Stdout and Snapshot frames share one bounded, droppable queue; a queued
// Snapshot coalesces with any snapshot already pending instead of growing
// the queue. Event frames live in a separate queue that is never dropped —
// if it fills, the subscriber is marked for termination.
type Subscriber struct {
	ConnID    string
	SessionID string

	mu               sync.Mutex
	flags            Flags
	minInterval      time.Duration
	maxInterval      time.Duration
	curInterval      time.Duration
	lastSnapshotAt   time.Time
	needsResync      bool
	droppedSnapshots int
	terminated       bool

	maxBytes  int
	maxFrames int
	queue     []OutFrame // FIFO of Stdout/Snapshot frames; at most one Snapshot entry at a time
	queueBytes int
	hasSnapshotQueued bool
	snapshotIdx       int // index into queue of the pending snapshot, -1 if none

	events     []OutFrame // FIFO, never dropped
	maxEvents  int
}

// DefaultMaxQueueBytes/Frames/Events are the back-pressure bounds from spec
// §4.5 ("default 4 MiB", "1024 frames").
const (
	DefaultMaxQueueBytes = 4 << 20
	DefaultMaxQueueFrames = 1024
	DefaultMaxEvents      = 1024
)

// NewSubscriber creates a Subscriber with the given interest flags and
// snapshot interval hints, clamped to [minMs,maxMs] per spec §4.5.
func NewSubscriber(connID, sessionID string, flags Flags, minMs, maxMs uint32, maxBytes, maxFrames int) *Subscriber {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxQueueBytes
	}
	if maxFrames <= 0 {
		maxFrames = DefaultMaxQueueFrames
	}
	min := time.Duration(minMs) * time.Millisecond
	max := time.Duration(maxMs) * time.Millisecond
	if min <= 0 {
		min = 100 * time.Millisecond
	}
	if max <= 0 || max < min {
		max = 1000 * time.Millisecond
	}
	return &Subscriber{
		ConnID:      connID,
		SessionID:   sessionID,
		flags:       flags,
		minInterval: min,
		maxInterval: max,
		curInterval: min,
		maxBytes:    maxBytes,
		maxFrames:   maxFrames,
		snapshotIdx: -1,
		maxEvents:   DefaultMaxEvents,
	}
}

// UpdateSubscription applies a repeated SUBSCRIBE frame's flags/intervals in
// place (spec §4.6: "SUBSCRIBE is idempotent... repeated frames update the
// flags and interval hints").
func (s *Subscriber) UpdateSubscription(flags Flags, minMs, maxMs uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flags = flags
	if minMs > 0 {
		s.minInterval = time.Duration(minMs) * time.Millisecond
	}
	if maxMs > 0 && time.Duration(maxMs)*time.Millisecond >= s.minInterval {
		s.maxInterval = time.Duration(maxMs) * time.Millisecond
	}
	if s.curInterval < s.minInterval {
		s.curInterval = s.minInterval
	}
}

// Flags returns the subscriber's current interest bitset.
func (s *Subscriber) Flags() Flags {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flags
}

// Terminated reports whether a policy violation (full event queue) fired.
func (s *Subscriber) Terminated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.terminated
}

// enqueueStdout queues payload as a Stdout frame, or, when that would
// exceed either queue bound, applies the back-pressure drop policy from
// spec §4.5. It reports whether an overflow Event must be synthesized
// (when Snapshots isn't enabled).
func (s *Subscriber) enqueueStdout(payload []byte) (overflow bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	frame := OutFrame{Type: wsproto.TypeStdout, SessionID: s.SessionID, Payload: payload}
	if s.queueBytes+frame.size() > s.maxBytes || len(s.queue)+1 > s.maxFrames {
		s.dropStdoutLocked()
		s.needsResync = true
		if !s.flags.has(FlagSnapshots) {
			return true
		}
		return false
	}

	s.queue = append(s.queue, frame)
	s.queueBytes += frame.size()
	return false
}

// dropStdoutLocked removes every queued Stdout frame, keeping any pending
// Snapshot in place. Must be called with mu held.
func (s *Subscriber) dropStdoutLocked() {
	kept := s.queue[:0]
	keptBytes := 0
	newSnapshotIdx := -1
	for _, f := range s.queue {
		if f.Type == wsproto.TypeStdout {
			continue
		}
		if f.Type == wsproto.TypeSnapshotVT {
			newSnapshotIdx = len(kept)
		}
		kept = append(kept, f)
		keptBytes += f.size()
	}
	s.queue = kept
	s.queueBytes = keptBytes
	s.snapshotIdx = newSnapshotIdx
	s.hasSnapshotQueued = newSnapshotIdx >= 0
}

// enqueueSnapshot coalesces with any already-pending snapshot (spec §4.5:
// "if a snapshot is already queued, a new one replaces it").
func (s *Subscriber) enqueueSnapshot(payload []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	frame := OutFrame{Type: wsproto.TypeSnapshotVT, SessionID: s.SessionID, Payload: payload}
	if s.hasSnapshotQueued && s.snapshotIdx >= 0 && s.snapshotIdx < len(s.queue) {
		old := s.queue[s.snapshotIdx]
		s.queueBytes += frame.size() - old.size()
		s.queue[s.snapshotIdx] = frame
		s.droppedSnapshots++
		return
	}
	s.snapshotIdx = len(s.queue)
	s.hasSnapshotQueued = true
	s.queue = append(s.queue, frame)
	s.queueBytes += frame.size()
	s.needsResync = false
	s.droppedSnapshots = 0
}

// enqueueEvent never drops: if the event queue is already full, it reports
// overflow so the caller terminates the connection (spec §4.5).
func (s *Subscriber) enqueueEvent(payload []byte) (overflow bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.events) >= s.maxEvents {
		s.terminated = true
		return true
	}
	s.events = append(s.events, OutFrame{Type: wsproto.TypeEvent, SessionID: s.SessionID, Payload: payload})
	return false
}

// Drain removes and returns all currently queued frames (events first, per
// the "events are never dropped" priority), for the connection's writer
// pump to deliver.
func (s *Subscriber) Drain() []OutFrame {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]OutFrame, 0, len(s.events)+len(s.queue))
	out = append(out, s.events...)
	out = append(out, s.queue...)
	s.events = nil
	s.queue = nil
	s.queueBytes = 0
	s.snapshotIdx = -1
	s.hasSnapshotQueued = false
	return out
}

// QueueDepth reports the current frame count and byte size, for tests and
// diagnostics.
func (s *Subscriber) QueueDepth() (frames, bytes int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue), s.queueBytes
}

// NeedsResync reports whether this subscriber dropped stdout and is waiting
// for a snapshot to resynchronize.
func (s *Subscriber) NeedsResync() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.needsResync
}

// DroppedSnapshots returns how many queued snapshots have been replaced by
// a newer one since a snapshot was last added to a queue holding none
// (diagnostic counter).
func (s *Subscriber) DroppedSnapshots() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.droppedSnapshots
}

// nextSnapshotDelay returns the current cadence interval and advances it
// per the geometric-ramp policy resolved in SPEC_FULL's Open Questions: grows
// 1.5x toward max on each idle tick, resets to min on a burst.
func (s *Subscriber) nextSnapshotDelay(idle bool) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur := s.curInterval
	if idle {
		grown := time.Duration(float64(s.curInterval) * 1.5)
		if grown > s.maxInterval {
			grown = s.maxInterval
		}
		s.curInterval = grown
	} else {
		s.curInterval = s.minInterval
	}
	return cur
}
