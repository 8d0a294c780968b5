package vt

import "testing"

func TestSnapshotHeader(t *testing.T) {
	m := New(80, 24, 100)
	defer m.Close()

	snap := m.Snapshot()
	if len(snap) < 24 {
		t.Fatalf("snapshot too short: %d bytes", len(snap))
	}
	if snap[0] != 'V' || snap[1] != 'T' {
		t.Fatalf("bad magic: %x %x", snap[0], snap[1])
	}
	if snap[2] != snapshotVersion {
		t.Fatalf("bad version: %d", snap[2])
	}
}

func TestSnapshotDeterministic(t *testing.T) {
	m1 := New(40, 10, 100)
	m2 := New(40, 10, 100)
	defer m1.Close()
	defer m2.Close()

	payload := []byte("hello\r\nworld\x1b[1mbold\x1b[0m\r\n")
	if _, err := m1.Feed(payload); err != nil {
		t.Fatalf("feed m1: %v", err)
	}
	if _, err := m2.Feed(payload); err != nil {
		t.Fatalf("feed m2: %v", err)
	}

	s1 := m1.Snapshot()
	s2 := m2.Snapshot()
	if len(s1) != len(s2) {
		t.Fatalf("snapshot lengths differ: %d vs %d", len(s1), len(s2))
	}
	for i := range s1 {
		if s1[i] != s2[i] {
			t.Fatalf("snapshot byte %d differs: %x vs %x", i, s1[i], s2[i])
		}
	}
}

func TestResizeUpdatesDimensions(t *testing.T) {
	m := New(80, 24, 100)
	defer m.Close()

	m.Resize(100, 40)
	cols, rows := m.Size()
	if cols != 100 || rows != 40 {
		t.Fatalf("expected 100x40, got %dx%d", cols, rows)
	}
}
