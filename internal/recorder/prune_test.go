package recorder

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestFindPrunePointPrefersLeftmostMatch(t *testing.T) {
	// "\x1b[H\x1b[2J" starts at offset 7 and "\x1b[2J" at offset 10; the
	// leftmost match wins, so the cut falls just past the whole home+erase
	// sequence rather than just past the embedded "\x1b[2J".
	buf := []byte("garbage\x1b[H\x1b[2Jtail")
	cut, ok := FindPrunePoint(buf, 0)
	if !ok {
		t.Fatal("expected a prune point")
	}
	want := len("garbage\x1b[H\x1b[2J")
	if cut != want {
		t.Fatalf("cut = %d, want %d", cut, want)
	}
}

func TestFindPrunePointNoMatch(t *testing.T) {
	buf := []byte("just plain text, nothing special here")
	if _, ok := FindPrunePoint(buf, 0); ok {
		t.Fatal("expected no prune point")
	}
}

func TestFindPrunePointAltScreen(t *testing.T) {
	buf := []byte("abc\x1b[?1049hdef")
	cut, ok := FindPrunePoint(buf, 0)
	if !ok {
		t.Fatal("expected a prune point")
	}
	want := len("abc\x1b[?1049h")
	if cut != want {
		t.Fatalf("cut = %d, want %d", cut, want)
	}
}

// TestScanPrunePointsNoSequence covers the "empty prune-point list" boundary
// from spec §8.
func TestScanPrunePointsNoSequence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plain.cast")
	r, err := Open(path, 80, 24, false, nil, 0)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := r.AppendOutput([]byte("A\nB\n")); err != nil {
		t.Fatalf("append: %v", err)
	}
	r.Close()

	offsets, err := ScanPrunePoints(path)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(offsets) != 0 {
		t.Fatalf("expected no prune points, got %v", offsets)
	}
}

// TestScanPrunePointsMidLine covers "one containing exactly ESC[3J mid-line
// returns one offset at the byte just past the sequence" (spec §8).
func TestScanPrunePointsMidLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pruned.cast")
	r, err := Open(path, 80, 24, false, nil, 0)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := r.AppendOutput([]byte("A\nB\n\x1b[3JC\n")); err != nil {
		t.Fatalf("append: %v", err)
	}
	r.Close()

	offsets, err := ScanPrunePoints(path)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(offsets) != 1 {
		t.Fatalf("expected exactly one prune point, got %v", offsets)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	// The reported offset must fall inside the event's JSON-quoted data
	// string, immediately after the JSON-encoded ESC[3J.
	off := offsets[0]
	if off <= 0 || off > int64(len(data)) {
		t.Fatalf("offset %d out of range (file len %d)", off, len(data))
	}
	if !strings.HasSuffix(string(data[:off]), `\u001b[3J`) {
		t.Fatalf("offset %d is not just past the encoded ESC[3J: %q", off, data[:off])
	}

	// Find the line containing the event and confirm decoding the tail after
	// the prune point yields exactly "C\n" with no earlier garbage.
	lines := splitLines(data)
	var tail string
	for _, line := range lines[1:] {
		var tuple [3]json.RawMessage
		if err := json.Unmarshal([]byte(line), &tuple); err != nil {
			continue
		}
		var kind, evData string
		json.Unmarshal(tuple[1], &kind)
		json.Unmarshal(tuple[2], &evData)
		if kind == "o" {
			if idx := indexAfterPrune(evData); idx >= 0 {
				tail = evData[idx:]
			}
		}
	}
	if tail != "C\n" {
		t.Fatalf("tail after prune = %q, want %q", tail, "C\n")
	}
}

func splitLines(data []byte) []string {
	var lines []string
	start := 0
	for i, b := range data {
		if b == '\n' {
			lines = append(lines, string(data[start:i]))
			start = i + 1
		}
	}
	return lines
}

func indexAfterPrune(data string) int {
	cut, ok := findPrunePointUnbounded(data, 0)
	if !ok {
		return -1
	}
	return cut
}
