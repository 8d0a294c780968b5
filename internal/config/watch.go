package config

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// FileOverrides is the subset of settings an operator may park in a YAML
// file. Apply copies the log level and the snapshot interval bounds onto a
// Config; the two rate-limit fields are parsed but Apply does not copy
// them, since Config has no rate-limit fields.
// It mirrors wingthing's WingConfig: a small struct round-tripped with
// yaml.Marshal/Unmarshal rather than hand-rolled parsing.
type FileOverrides struct {
	LogLevel                string `yaml:"log_level,omitempty"`
	RateLimitSessionsPerMin int    `yaml:"rate_limit_sessions_per_min,omitempty"`
	RateLimitOtherPerMin    int    `yaml:"rate_limit_other_per_min,omitempty"`
	SnapshotMinIntervalMs   uint32 `yaml:"snapshot_min_interval_ms,omitempty"`
	SnapshotMaxIntervalMs   uint32 `yaml:"snapshot_max_interval_ms,omitempty"`
}

// LoadFile reads a YAML overrides file. A missing file is not an error —
// the YAML file is optional and every field already has an env-derived
// default.
func LoadFile(path string) (FileOverrides, error) {
	var out FileOverrides
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return out, nil
		}
		return out, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("parse config file: %w", err)
	}
	return out, nil
}

// SaveFile writes overrides back to path, for `vt-server` to persist
// settings changed through an admin surface (mirrors wingthing's
// SaveWingConfig).
func SaveFile(path string, overrides FileOverrides) error {
	data, err := yaml.Marshal(overrides)
	if err != nil {
		return fmt.Errorf("marshal config file: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// Apply copies the live-reloadable fields from overrides onto cfg,
// leaving every other field (port, bind addr, auth, recordings dir, ...)
// untouched — those require a restart.
func (cfg *Config) Apply(overrides FileOverrides) {
	if overrides.LogLevel != "" {
		cfg.LogLevel = overrides.LogLevel
	}
	if overrides.SnapshotMinIntervalMs != 0 {
		cfg.SnapshotMinIntervalMs = overrides.SnapshotMinIntervalMs
	}
	if overrides.SnapshotMaxIntervalMs != 0 {
		cfg.SnapshotMaxIntervalMs = overrides.SnapshotMaxIntervalMs
	}
}

// Watcher hot-reloads a YAML overrides file using fsnotify, invoking
// onChange with the newly parsed overrides whenever the file is written.
type Watcher struct {
	watcher *fsnotify.Watcher
	log     *slog.Logger
	done    chan struct{}
}

// WatchFile starts watching path for writes and calls onChange with each
// successfully parsed FileOverrides. Parse errors are logged and skipped —
// a bad edit to the live-config file must never crash the server.
func WatchFile(path string, log *slog.Logger, onChange func(FileOverrides)) (*Watcher, error) {
	if log == nil {
		log = slog.Default()
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}
	if err := fw.Add(path); err != nil {
		fw.Close()
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("watch config file: %w", err)
	}

	w := &Watcher{watcher: fw, log: log, done: make(chan struct{})}
	go w.loop(path, onChange)
	return w, nil
}

func (w *Watcher) loop(path string, onChange func(FileOverrides)) {
	defer close(w.done)
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			overrides, err := LoadFile(path)
			if err != nil {
				w.log.Warn("config hot-reload failed", "path", path, "error", err)
				continue
			}
			w.log.Info("config hot-reload applied", "path", path)
			onChange(overrides)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Warn("config watcher error", "error", err)
		}
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	err := w.watcher.Close()
	<-w.done
	return err
}
