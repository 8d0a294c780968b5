package recorder

import "sync"

// DefaultMaxBuffer is the default in-memory cap before OutputBuffer prunes.
const DefaultMaxBuffer = 1 << 20 // 1 MiB

// OutputBuffer is a bounded, append-only (until pruned) copy of a session's
// raw PTY output, kept in memory and read through Recorder.BufferedOutput.
// Unlike the full on-disk recording, this buffer is pruned once it grows
// past its cap. Write prefers to cut just past a terminal reset sequence so
// the remaining bytes replay into correct VT state on their own; when no
// such sequence is found it cuts at the overflow offset instead.
//
// Grounded on the teacher's append-only replay buffer, minus the
// reader-cursor backpressure machinery: nothing here blocks a writer, since
// the hub's per-subscriber queues already provide back-pressure at the
// fan-out layer.
type OutputBuffer struct {
	mu      sync.Mutex
	buf     []byte
	trimmed int64 // total bytes ever dropped from the front
	maxSize int
}

// NewOutputBuffer creates a buffer with the given cap, or DefaultMaxBuffer
// if maxSize <= 0.
func NewOutputBuffer(maxSize int) *OutputBuffer {
	if maxSize <= 0 {
		maxSize = DefaultMaxBuffer
	}
	return &OutputBuffer{
		buf:     make([]byte, 0, maxSize/4),
		maxSize: maxSize,
	}
}

// Write appends p, pruning from the front at the nearest safe cut point if
// the buffer has grown past its cap.
func (b *OutputBuffer) Write(p []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.buf = append(b.buf, p...)
	if len(b.buf) <= b.maxSize {
		return
	}

	excess := len(b.buf) - b.maxSize
	cut, ok := FindPrunePoint(b.buf, excess)
	if !ok {
		// No safe boundary within the search window: fall back to a hard
		// cut at the excess offset. Consumers reading from byte 0 of what
		// remains may see a partial escape sequence; this happens whenever
		// no prune sequence starts within 64KiB past the excess offset.
		cut = excess
	}

	b.trimmed += int64(cut)
	b.buf = append(b.buf[:0], b.buf[cut:]...)
}

// Bytes returns a copy of everything currently retained.
func (b *OutputBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.buf...)
}

// Trimmed returns the number of bytes ever dropped from the front.
func (b *OutputBuffer) Trimmed() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.trimmed
}

// Len returns the number of bytes currently retained.
func (b *OutputBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.buf)
}
