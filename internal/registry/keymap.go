package registry

// KeySequence maps a named key (as sent in POST /api/sessions/:id/input's
// `key` field) to the byte sequence written to the PTY (spec §6, §8
// boundary behavior: "unknown key => 400").
func KeySequence(key string) ([]byte, bool) {
	seq, ok := keySequences[key]
	return seq, ok
}

var keySequences = map[string][]byte{
	"enter":       []byte("\n"),
	"ctrl_enter":  []byte("\n"),
	"shift_enter": []byte("\n"),
	"escape":      []byte("\x1b"),
	"backspace":   []byte("\x7f"),
	"tab":         []byte("\t"),
	"arrow_up":    []byte("\x1b[A"),
	"arrow_down":  []byte("\x1b[B"),
	"arrow_right": []byte("\x1b[C"),
	"arrow_left":  []byte("\x1b[D"),

	"f1":  []byte("\x1bOP"),
	"f2":  []byte("\x1bOQ"),
	"f3":  []byte("\x1bOR"),
	"f4":  []byte("\x1bOS"),
	"f5":  []byte("\x1b[15~"),
	"f6":  []byte("\x1b[17~"),
	"f7":  []byte("\x1b[18~"),
	"f8":  []byte("\x1b[19~"),
	"f9":  []byte("\x1b[20~"),
	"f10": []byte("\x1b[21~"),
	"f11": []byte("\x1b[23~"),
	"f12": []byte("\x1b[24~"),
}
