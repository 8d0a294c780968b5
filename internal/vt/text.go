package vt

import "strings"

// PlainText renders the current visible screen as plain UTF-8 text (spec
// §6 GET .../sessions/:id/text), one line per row with trailing blank
// cells trimmed from each line.
func (m *Model) PlainText() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	rows := make([]string, m.rows)
	for y := 0; y < m.rows; y++ {
		rows[y] = renderRowPlain(m, y)
	}
	return strings.Join(rows, "\n")
}

func renderRowPlain(m *Model, y int) string {
	var b strings.Builder
	for x := 0; x < m.cols; x++ {
		_, ch := cellAttrAndRune(m.emu.CellAt(x, y))
		b.WriteRune(ch)
	}
	return strings.TrimRight(b.String(), " ")
}

// StyledText renders the current visible screen with SGR escapes around
// runs of cells that share the same attribute set (spec §6 ?styles=true).
// Attributes reset at the end of each line so a caller can safely
// concatenate lines without bleeding style into whatever follows.
func (m *Model) StyledText() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	rows := make([]string, m.rows)
	for y := 0; y < m.rows; y++ {
		rows[y] = renderRowStyled(m, y)
	}
	return strings.Join(rows, "\n")
}

func renderRowStyled(m *Model, y int) string {
	var b strings.Builder
	var cur byte
	open := false
	for x := 0; x < m.cols; x++ {
		attr, ch := cellAttrAndRune(m.emu.CellAt(x, y))
		if attr != cur {
			if open {
				b.WriteString("\x1b[0m")
			}
			if attr != 0 {
				b.WriteString(sgrEscape(attr))
			}
			cur = attr
			open = attr != 0
		}
		b.WriteRune(ch)
	}
	if open {
		b.WriteString("\x1b[0m")
	}
	return b.String()
}

// sgrEscape maps the packed cell attribute byte (snapshot.go's attr* bits)
// to the SGR codes a terminal needs to reproduce it.
func sgrEscape(attr byte) string {
	var codes []string
	if attr&attrBold != 0 {
		codes = append(codes, "1")
	}
	if attr&attrFaint != 0 {
		codes = append(codes, "2")
	}
	if attr&attrItalic != 0 {
		codes = append(codes, "3")
	}
	if attr&attrUnderline != 0 {
		codes = append(codes, "4")
	}
	if attr&attrReverse != 0 {
		codes = append(codes, "7")
	}
	if attr&attrStrikethrough != 0 {
		codes = append(codes, "9")
	}
	if len(codes) == 0 {
		return ""
	}
	return "\x1b[" + strings.Join(codes, ";") + "m"
}
