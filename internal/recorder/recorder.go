// Package recorder writes asciinema-v2-compatible session transcripts
// (spec §6's .cast files) and keeps a pruned in-memory copy of the same
// stream for fast plain-text reads.
package recorder

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// eventKind is the third column discriminator in asciinema v2's event
// tuples: output, input or a resize marker.
type eventKind string

const (
	KindOutput eventKind = "o"
	KindInput  eventKind = "i"
	KindResize eventKind = "r"
)

// header is the single JSON object asciinema v2 expects as the first line
// of a .cast file.
type header struct {
	Version   int               `json:"version"`
	Width     int               `json:"width"`
	Height    int               `json:"height"`
	Timestamp int64             `json:"timestamp"`
	Env       map[string]string `json:"env,omitempty"`
}

// DefaultMaxChunk is the default split size for AppendOutput (spec §4.2:
// "Chunks longer than a configurable size (default 64 KiB) are split").
const DefaultMaxChunk = 64 * 1024

// Recorder appends events to an on-disk .cast file and mirrors output bytes
// into a bounded, prunable in-memory buffer.
type Recorder struct {
	mu          sync.Mutex
	f           *os.File
	w           *bufio.Writer
	start       time.Time
	lastT       float64
	recordInput bool
	maxChunk    int
	closed      bool

	// Now returns the current time; overridable in tests.
	Now func() time.Time

	buffer *OutputBuffer
}

// Open creates (truncating any existing file) a new .cast file at path and
// writes its header line. recordInput controls whether AppendInput is a
// no-op, matching the RECORD_INPUT configuration knob (spec §6).
func Open(path string, cols, rows int, recordInput bool, env map[string]string, bufferCap int) (*Recorder, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open recording: %w", err)
	}

	now := time.Now()
	r := &Recorder{
		f:           f,
		w:           bufio.NewWriter(f),
		start:       now,
		recordInput: recordInput,
		maxChunk:    DefaultMaxChunk,
		Now:         time.Now,
		buffer:      NewOutputBuffer(bufferCap),
	}

	h := header{
		Version:   2,
		Width:     cols,
		Height:    rows,
		Timestamp: now.Unix(),
		Env:       env,
	}
	line, err := json.Marshal(h)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("marshal header: %w", err)
	}
	if _, err := r.w.Write(append(line, '\n')); err != nil {
		f.Close()
		return nil, fmt.Errorf("write header: %w", err)
	}
	if err := r.w.Flush(); err != nil {
		f.Close()
		return nil, fmt.Errorf("flush header: %w", err)
	}
	return r, nil
}

// SetMaxChunk overrides the split size used by AppendOutput. n <= 0 resets
// it to DefaultMaxChunk.
func (r *Recorder) SetMaxChunk(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n <= 0 {
		n = DefaultMaxChunk
	}
	r.maxChunk = n
}

// AppendOutput records a chunk of PTY output as one or more "o" events,
// splitting at maxChunk bytes (spec §4.2), and mirrors the whole chunk into
// the in-memory buffer used for plain-text reads. Splits fall on whatever
// byte boundary maxChunk lands on; each split piece is still its own
// complete, independently-decodable JSON event line.
func (r *Recorder) AppendOutput(p []byte) error {
	if len(p) == 0 {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	max := r.maxChunk
	if max <= 0 {
		max = DefaultMaxChunk
	}
	rest := p
	for len(rest) > 0 {
		n := len(rest)
		if n > max {
			n = max
		}
		if err := r.writeEvent(KindOutput, string(rest[:n])); err != nil {
			return err
		}
		rest = rest[n:]
	}
	r.buffer.Write(p)
	return nil
}

// AppendInput records client keystrokes, if RECORD_INPUT is enabled.
func (r *Recorder) AppendInput(p []byte) error {
	if len(p) == 0 || !r.recordInput {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	return r.writeEvent(KindInput, string(p))
}

// AppendResize records a resize event as an asciinema "r" marker.
func (r *Recorder) AppendResize(cols, rows int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	return r.writeEvent(KindResize, fmt.Sprintf("%dx%d", cols, rows))
}

// writeEvent must be called with mu held. Timestamps are monotonic: a
// wall-clock regression (NTP step, test clock) never produces a tuple
// earlier than the previous one.
func (r *Recorder) writeEvent(kind eventKind, data string) error {
	t := r.Now().Sub(r.start).Seconds()
	if t < r.lastT {
		t = r.lastT
	}
	r.lastT = t

	line, err := json.Marshal([3]any{t, kind, data})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	line = append(line, '\n')
	if _, err := r.w.Write(line); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	return r.w.Flush()
}

// BufferedOutput returns a copy of the pruned in-memory output mirror.
func (r *Recorder) BufferedOutput() []byte {
	return r.buffer.Bytes()
}

// Close flushes and closes the underlying file.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	if err := r.w.Flush(); err != nil {
		r.f.Close()
		return err
	}
	if err := r.f.Sync(); err != nil {
		r.f.Close()
		return fmt.Errorf("fsync recording: %w", err)
	}
	return r.f.Close()
}
