package ratelimit

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/vtmuxd/vtmuxd/internal/store"
)

func TestAllowSessionCreateEnforcesBurst(t *testing.T) {
	l := New(2, 100, nil, nil)
	if !l.AllowSessionCreate("alice") {
		t.Fatalf("expected first call allowed")
	}
	if !l.AllowSessionCreate("alice") {
		t.Fatalf("expected second call allowed (burst 2)")
	}
	if l.AllowSessionCreate("alice") {
		t.Fatalf("expected third call to be rate limited")
	}
}

func TestAllowTracksIdentitiesIndependently(t *testing.T) {
	l := New(1, 100, nil, nil)
	if !l.AllowSessionCreate("alice") {
		t.Fatalf("expected alice's first call allowed")
	}
	if !l.AllowSessionCreate("bob") {
		t.Fatalf("expected bob's first call allowed independent of alice")
	}
}

func TestEvictStaleRemovesOldEntries(t *testing.T) {
	l := New(1, 100, nil, nil)
	l.AllowOther("alice")
	l.EvictStale(0)
	l.mu.Lock()
	_, present := l.other["alice"]
	l.mu.Unlock()
	if present {
		t.Fatalf("expected stale identity evicted")
	}
}

func TestStartSyncFlushesUsageToStore(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "ratelimit.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	defer st.Close()

	l := New(100, 100, st, nil)
	l.AllowSessionCreate("alice")
	l.AllowSessionCreate("alice")
	l.AllowOther("alice")

	ctx, cancel := context.WithCancel(context.Background())
	l.StartSync(ctx, 20*time.Millisecond)
	defer cancel()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		total, err := st.UsageTotal("alice", string(CategorySessionCreate))
		if err != nil {
			t.Fatalf("UsageTotal: %v", err)
		}
		if total == 2 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("usage was never synced to store")
}
