// Package vt maintains an in-memory VT screen per session by consuming the
// same byte stream the recorder writes to disk, and renders it into the
// binary snapshot format clients use to resynchronize (spec §3).
//
// The VT emulation itself is delegated to charmbracelet/x/vt (the same
// emulator the teacher uses for its own reconnect snapshots); this package
// adds the scrollback ring buffer and the binary cell-grid encoder the wire
// protocol requires instead of the teacher's ANSI-text reconnect payload.
package vt

import (
	"sync"

	uv "github.com/charmbracelet/ultraviolet"
	"github.com/charmbracelet/x/vt"
)

// DefaultScrollback is the primary-buffer scrollback cap (§4.3).
const DefaultScrollback = 10000

// Model is one session's terminal model. All methods are safe for
// concurrent use; Feed is expected to be called from a single PTY reader
// task while Snapshot may be called concurrently from the hub.
type Model struct {
	emu *vt.Emulator

	mu           sync.Mutex
	cols, rows   int
	scrollback   []uv.Line // ring buffer of lines scrolled off the primary buffer
	sbHead       int
	sbLen        int
	scrollbackCap int
	altScreen    bool
	cursorHidden bool
}

// New creates a Model with the given dimensions and scrollback cap.
func New(cols, rows, scrollbackCap int) *Model {
	if scrollbackCap <= 0 {
		scrollbackCap = DefaultScrollback
	}
	m := &Model{
		emu:           vt.NewEmulator(cols, rows),
		cols:          cols,
		rows:          rows,
		scrollback:    make([]uv.Line, scrollbackCap),
		scrollbackCap: scrollbackCap,
	}
	m.emu.SetCallbacks(vt.Callbacks{
		ScrollOut: func(lines []uv.Line) {
			// Called with mu already held (from inside Feed).
			if m.altScreen {
				return
			}
			for _, line := range lines {
				if m.sbLen == m.scrollbackCap {
					m.scrollback[m.sbHead] = uv.Line{}
				}
				m.scrollback[m.sbHead] = line
				m.sbHead = (m.sbHead + 1) % m.scrollbackCap
				if m.sbLen < m.scrollbackCap {
					m.sbLen++
				}
			}
		},
		ScrollbackClear: func() {
			for i := range m.scrollback {
				m.scrollback[i] = uv.Line{}
			}
			m.sbLen, m.sbHead = 0, 0
		},
		AltScreen: func(on bool) {
			m.altScreen = on
			if on {
				// Alternate buffer has no scrollback (§4.3).
				m.sbLen, m.sbHead = 0, 0
			}
		},
		CursorVisibility: func(visible bool) {
			m.cursorHidden = !visible
		},
	})
	return m
}

// Feed consumes a chunk of the session's raw byte stream.
func (m *Model) Feed(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.emu.Write(p)
}

// Resize changes the VT's logical dimensions. The caller is responsible for
// also resizing the underlying PTY (Registry.Resize does both).
func (m *Model) Resize(cols, rows int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.emu.Resize(cols, rows)
	m.cols, m.rows = cols, rows
}

// Size returns the model's current dimensions.
func (m *Model) Size() (cols, rows int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cols, m.rows
}

// IsAltScreen reports whether the alternate buffer is active.
func (m *Model) IsAltScreen() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.altScreen
}

// Close releases the emulator.
func (m *Model) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.emu.Close()
}
