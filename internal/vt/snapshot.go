package vt

import (
	"encoding/binary"
	"unicode/utf8"

	uv "github.com/charmbracelet/ultraviolet"
	"github.com/charmbracelet/x/vt"
)

// Wire layout for the binary Terminal Snapshot (spec §3). All multi-byte
// integers are little-endian except the two-byte magic, which is the fixed
// big-endian byte pair 'V','T'.
const (
	snapshotMagicHi = 'V'
	snapshotMagicLo = 'T'
	snapshotVersion = 3

	rowMarkerContent byte = 0xFD
	rowMarkerEmpty   byte = 0xFE
)

// Cell attribute bits packed into the single attr byte that precedes each
// cell's character. The wire format only needs enough fidelity for a client
// to re-render the screen faithfully; true color is reconstructed by the
// client's own VT state, not carried per cell.
const (
	attrBold byte = 1 << iota
	attrFaint
	attrItalic
	attrUnderline
	attrReverse
	attrStrikethrough
)

// Snapshot renders the full reconnect payload: scrollback lines (if any, as
// plain content rows), then the visible grid, in the binary format clients
// decode to rebuild local terminal state on SUBSCRIBE or resync.
func (m *Model) Snapshot() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()

	cursor := m.emu.CursorPosition()

	var flags byte
	if m.altScreen {
		flags |= 0x01
	}
	if m.cursorHidden {
		flags |= 0x02
	}

	buf := make([]byte, 0, 4096)
	buf = append(buf, snapshotMagicHi, snapshotMagicLo, snapshotVersion, flags)
	buf = appendU32LE(buf, uint32(m.cols))
	buf = appendU32LE(buf, uint32(m.rows))
	buf = appendU32LE(buf, uint32(cursor.X))
	buf = appendU32LE(buf, uint32(cursor.Y))
	buf = appendU32LE(buf, uint32(m.viewportY()))
	buf = appendU32LE(buf, 0) // reserved

	for _, line := range m.scrollbackLines() {
		buf = appendRow(buf, line, m.cols)
	}
	for y := 0; y < m.rows; y++ {
		buf = appendVisibleRow(buf, m.emu, y, m.cols)
	}

	return buf
}

// viewportY is the scrollback depth expressed as a row offset; primary
// buffer snapshots are always taken fully scrolled to the live tail, so the
// viewport sits immediately after the last scrollback line.
func (m *Model) viewportY() int {
	return m.sbLen
}

// scrollbackLines returns all retained scrollback lines, oldest first. Must
// be called with mu held.
func (m *Model) scrollbackLines() []uv.Line {
	if m.sbLen == 0 {
		return nil
	}
	lines := make([]uv.Line, m.sbLen)
	start := (m.sbHead - m.sbLen + m.scrollbackCap) % m.scrollbackCap
	for i := 0; i < m.sbLen; i++ {
		lines[i] = m.scrollback[(start+i)%m.scrollbackCap]
	}
	return lines
}

// appendVisibleRow encodes one row of the live grid, read cell-by-cell from
// the emulator, as either an empty-row marker or a content-row marker
// followed by cols attr/char pairs.
func appendVisibleRow(buf []byte, emu *vt.Emulator, y, cols int) []byte {
	cellBuf := make([]byte, 0, cols*5)
	blank := true
	for x := 0; x < cols; x++ {
		attr, ch := cellAttrAndRune(emu.CellAt(x, y))
		if attr != 0 || ch != ' ' {
			blank = false
		}
		cellBuf = appendCell(cellBuf, attr, ch)
	}
	if blank {
		return append(buf, rowMarkerEmpty)
	}
	buf = append(buf, rowMarkerContent)
	return append(buf, cellBuf...)
}

// appendRow encodes one retained scrollback row. Scrollback lines are
// narrower slices of cells (trailing blanks are not stored), so any column
// past the line's length is treated as blank.
func appendRow(buf []byte, line uv.Line, cols int) []byte {
	cellBuf := make([]byte, 0, cols*5)
	blank := true
	for x := 0; x < cols; x++ {
		var cell *uv.Cell
		if x < len(line) {
			cell = &line[x]
		}
		attr, ch := cellAttrAndRune(cell)
		if attr != 0 || ch != ' ' {
			blank = false
		}
		cellBuf = appendCell(cellBuf, attr, ch)
	}
	if blank {
		return append(buf, rowMarkerEmpty)
	}
	buf = append(buf, rowMarkerContent)
	return append(buf, cellBuf...)
}

func appendCell(buf []byte, attr byte, ch rune) []byte {
	buf = append(buf, attr)
	var rb [utf8.UTFMax]byte
	n := utf8.EncodeRune(rb[:], ch)
	return append(buf, rb[:n]...)
}

// cellAttrAndRune extracts the packed attribute byte and display rune for a
// single grid cell. A nil/empty cell is treated as a blank space with no
// attributes, matching how the emulator represents untouched cells.
func cellAttrAndRune(cell *uv.Cell) (byte, rune) {
	if cell == nil || cell.Content == "" {
		return 0, ' '
	}
	r, _ := utf8.DecodeRuneInString(cell.Content)
	if r == utf8.RuneError {
		r = ' '
	}

	var attr byte
	if cell.Style.Attrs&uv.AttrBold != 0 {
		attr |= attrBold
	}
	if cell.Style.Attrs&uv.AttrFaint != 0 {
		attr |= attrFaint
	}
	if cell.Style.Attrs&uv.AttrItalic != 0 {
		attr |= attrItalic
	}
	if cell.Style.Attrs&uv.AttrUnderline != 0 {
		attr |= attrUnderline
	}
	if cell.Style.Attrs&uv.AttrReverse != 0 {
		attr |= attrReverse
	}
	if cell.Style.Attrs&uv.AttrStrikethrough != 0 {
		attr |= attrStrikethrough
	}
	return attr, r
}

func appendU32LE(buf []byte, v uint32) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}
