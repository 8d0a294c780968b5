package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 8420 {
		t.Fatalf("expected default port 8420, got %d", cfg.Port)
	}
	if cfg.AuthMode != AuthNone {
		t.Fatalf("expected default auth mode none, got %q", cfg.AuthMode)
	}
}

func TestLoadRejectsPasswordModeWithoutHash(t *testing.T) {
	t.Setenv("AUTH_MODE", "password")
	if _, err := Load(); err == nil {
		t.Fatalf("expected error when AUTH_MODE=password without AUTH_PASSWORD_HASH")
	}
}

func TestLoadRejectsInvertedSnapshotBounds(t *testing.T) {
	t.Setenv("SNAPSHOT_MIN_INTERVAL_MS", "1000")
	t.Setenv("SNAPSHOT_MAX_INTERVAL_MS", "100")
	if _, err := Load(); err == nil {
		t.Fatalf("expected error for inverted snapshot interval bounds")
	}
}

func TestLoadFileMissingIsNotError(t *testing.T) {
	overrides, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if overrides.LogLevel != "" {
		t.Fatalf("expected zero-value overrides for missing file")
	}
}

func TestSaveAndLoadFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "live.yaml")
	want := FileOverrides{LogLevel: "debug", SnapshotMinIntervalMs: 50}
	if err := SaveFile(path, want); err != nil {
		t.Fatalf("SaveFile: %v", err)
	}
	got, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if got.LogLevel != want.LogLevel || got.SnapshotMinIntervalMs != want.SnapshotMinIntervalMs {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, want)
	}
}

func TestApplyOnlyTouchesLiveReloadableFields(t *testing.T) {
	cfg := Defaults()
	cfg.Port = 9999
	cfg.Apply(FileOverrides{LogLevel: "warn"})
	if cfg.LogLevel != "warn" {
		t.Fatalf("expected log level applied")
	}
	if cfg.Port != 9999 {
		t.Fatalf("expected port untouched by Apply, got %d", cfg.Port)
	}
}

func TestWatchFileDetectsWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "live.yaml")
	if err := os.WriteFile(path, []byte("log_level: info\n"), 0o600); err != nil {
		t.Fatalf("seed file: %v", err)
	}

	changed := make(chan FileOverrides, 1)
	w, err := WatchFile(path, nil, func(o FileOverrides) { changed <- o })
	if err != nil {
		t.Fatalf("WatchFile: %v", err)
	}
	if w == nil {
		t.Fatalf("expected non-nil watcher for existing file")
	}
	defer w.Close()

	if err := os.WriteFile(path, []byte("log_level: debug\n"), 0o600); err != nil {
		t.Fatalf("rewrite file: %v", err)
	}

	select {
	case o := <-changed:
		if o.LogLevel != "debug" {
			t.Fatalf("expected log_level debug, got %q", o.LogLevel)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for hot-reload callback")
	}
}
