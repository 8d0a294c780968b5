package recorder

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
)

// pruneSequences are the terminal reset/clear sequences after which it is
// safe to drop everything before them and still replay a session's
// in-memory output buffer correctly from scratch (spec §4.2). Longer
// sequences that share a prefix with a shorter one are listed first so a
// match at the same offset prefers the most specific sequence.
var pruneSequences = [][]byte{
	[]byte("\x1b[H\x1b[2J"), // home + erase-screen
	[]byte("\x1b[H\x1b[J"),  // home + erase-to-end
	[]byte("\x1b[3J"),       // erase scrollback
	[]byte("\x1b[2J"),       // erase screen
	[]byte("\x1bc"),         // full terminal reset (RIS)
	[]byte("\x1b[?1049h"),   // enter alternate screen
	[]byte("\x1b[?1049l"),   // leave alternate screen
	[]byte("\x1b[?47h"),     // enter alternate screen (legacy)
	[]byte("\x1b[?47l"),     // leave alternate screen (legacy)
}

// defaultPruneWindow bounds how far past minOffset FindPrunePoint will scan
// looking for a safe cut before giving up.
const defaultPruneWindow = 64 * 1024

// FindPrunePoint searches buf starting at minOffset for the first (leftmost)
// occurrence of any prune sequence, returning the offset immediately after
// the matched sequence. When more than one sequence matches at the same
// offset, the longest match wins. Returns ok=false if nothing is found
// within the search window.
func FindPrunePoint(buf []byte, minOffset int) (cut int, ok bool) {
	if minOffset < 0 {
		minOffset = 0
	}
	searchEnd := minOffset + defaultPruneWindow
	if searchEnd > len(buf) {
		searchEnd = len(buf)
	}
	if minOffset >= searchEnd {
		return 0, false
	}

	best := -1
	bestLen := 0
	for _, seq := range pruneSequences {
		idx := bytes.Index(buf[minOffset:searchEnd], seq)
		if idx < 0 {
			continue
		}
		pos := minOffset + idx
		if best == -1 || pos < best || (pos == best && len(seq) > bestLen) {
			best = pos
			bestLen = len(seq)
		}
	}
	if best == -1 {
		return 0, false
	}
	return best + bestLen, true
}

// ScanPrunePoints reads a .cast file line by line and returns the byte
// offset, within the file, immediately past each prune sequence found inside
// the decoded data of an "o" event (spec §4.2). Offsets are file-relative
// (header line included), not offsets into the decoded string, since readers
// seeking to resume replay operate on the file.
//
// A prune sequence spanning a chunk boundary (one AppendOutput call ending
// mid-escape, the next continuing it) is not detected: each "o" event's data
// is scanned independently, matching how AppendOutput never rebuffers bytes
// across flushes (§4.2).
func ScanPrunePoints(path string) ([]int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open recording: %w", err)
	}
	defer f.Close()

	var offsets []int64
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var lineStart int64
	first := true
	for scanner.Scan() {
		line := scanner.Bytes()
		lineLen := int64(len(line)) + 1 // + trailing '\n' the scanner stripped

		if first {
			// Header line: not an event, just advance the offset.
			first = false
			lineStart += lineLen
			continue
		}

		var tuple [3]json.RawMessage
		if err := json.Unmarshal(line, &tuple); err != nil || len(tuple[2]) == 0 {
			lineStart += lineLen
			continue
		}
		var kind string
		if err := json.Unmarshal(tuple[1], &kind); err != nil || kind != string(KindOutput) {
			lineStart += lineLen
			continue
		}
		var data string
		if err := json.Unmarshal(tuple[2], &data); err != nil {
			lineStart += lineLen
			continue
		}

		// tuple[2] is the raw JSON-quoted data field as it appears in the
		// line; its offset within line is fixed for the lifetime of this
		// iteration, so every prune cut found in the decoded string can be
		// mapped back by re-encoding just the matched prefix and measuring
		// its encoded length (JSON string escaping is not 1:1 with raw
		// bytes, so a decoded offset can't be added to lineStart directly).
		dataFieldOffset := bytes.Index(line, tuple[2])
		if dataFieldOffset < 0 {
			lineStart += lineLen
			continue
		}

		searchFrom := 0
		for {
			cut, ok := findPrunePointUnbounded(data, searchFrom)
			if !ok {
				break
			}
			prefixJSON, err := json.Marshal(data[:cut])
			if err != nil {
				break
			}
			encodedPrefixLen := len(prefixJSON) - 2 // strip the surrounding quotes
			offsets = append(offsets, lineStart+int64(dataFieldOffset)+1+int64(encodedPrefixLen))
			searchFrom = cut
		}

		lineStart += lineLen
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan recording: %w", err)
	}
	return offsets, nil
}

// findPrunePointUnbounded is FindPrunePoint without the bounded search
// window, used when scanning a single decoded event's data rather than a
// live in-memory buffer.
func findPrunePointUnbounded(data string, minOffset int) (cut int, ok bool) {
	buf := []byte(data)
	if minOffset < 0 || minOffset > len(buf) {
		return 0, false
	}
	best := -1
	bestLen := 0
	for _, seq := range pruneSequences {
		idx := bytes.Index(buf[minOffset:], seq)
		if idx < 0 {
			continue
		}
		pos := minOffset + idx
		if best == -1 || pos < best || (pos == best && len(seq) > bestLen) {
			best = pos
			bestLen = len(seq)
		}
	}
	if best == -1 {
		return 0, false
	}
	return best + bestLen, true
}
