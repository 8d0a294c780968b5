// Package config loads vt-server's settings primarily from environment
// variables (spec §6), the way wingthing's config.Load() does, plus an
// optional YAML file (internal/config/watch.go) for operators who prefer a
// file to an env-var wall.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// AuthMode is AUTH_MODE's allowed value set.
type AuthMode string

const (
	AuthNone     AuthMode = "none"
	AuthPassword AuthMode = "password"
	AuthSSHKey   AuthMode = "ssh-key"
)

// Config is the fully resolved server configuration (spec §6's env var
// list plus the CLI-flag-overridable subset).
type Config struct {
	Port     int
	BindAddr string

	AuthMode         AuthMode
	AuthPasswordHash string
	TokenTTLSeconds  int

	MaxSessions              int
	MaxSubscriberBufferBytes int

	SnapshotMinIntervalMs uint32
	SnapshotMaxIntervalMs uint32

	RecordingsDir      string
	RecordInput        bool
	IdleTimeoutSeconds int
	KillGraceSeconds   int

	LogLevel string
}

// Defaults returns the documented default for every setting (spec §6: "each
// has a documented default").
func Defaults() Config {
	return Config{
		Port:                     8420,
		BindAddr:                 "0.0.0.0",
		AuthMode:                 AuthNone,
		TokenTTLSeconds:          int((24 * time.Hour).Seconds()),
		MaxSessions:              64,
		MaxSubscriberBufferBytes: 4 << 20,
		SnapshotMinIntervalMs:    100,
		SnapshotMaxIntervalMs:    1000,
		RecordingsDir:            "./recordings",
		RecordInput:              false,
		IdleTimeoutSeconds:       60,
		KillGraceSeconds:         5,
		LogLevel:                 "info",
	}
}

// Load resolves Config from environment variables layered over Defaults().
// It does not read the optional YAML file; that file is read by LoadFile
// and WatchFile (watch.go).
func Load() (Config, error) {
	cfg := Defaults()

	if v, ok := os.LookupEnv("PORT"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("PORT: %w", err)
		}
		cfg.Port = n
	}
	if v, ok := os.LookupEnv("BIND_ADDR"); ok {
		cfg.BindAddr = v
	}
	if v, ok := os.LookupEnv("AUTH_MODE"); ok {
		mode := AuthMode(v)
		switch mode {
		case AuthNone, AuthPassword, AuthSSHKey:
			cfg.AuthMode = mode
		default:
			return cfg, fmt.Errorf("AUTH_MODE: unrecognized value %q", v)
		}
	}
	if v, ok := os.LookupEnv("AUTH_PASSWORD_HASH"); ok {
		cfg.AuthPasswordHash = v
	}
	if v, ok := os.LookupEnv("TOKEN_TTL_SECONDS"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("TOKEN_TTL_SECONDS: %w", err)
		}
		cfg.TokenTTLSeconds = n
	}
	if v, ok := os.LookupEnv("MAX_SESSIONS"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("MAX_SESSIONS: %w", err)
		}
		cfg.MaxSessions = n
	}
	if v, ok := os.LookupEnv("MAX_SUBSCRIBER_BUFFER_BYTES"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("MAX_SUBSCRIBER_BUFFER_BYTES: %w", err)
		}
		cfg.MaxSubscriberBufferBytes = n
	}
	if v, ok := os.LookupEnv("SNAPSHOT_MIN_INTERVAL_MS"); ok {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return cfg, fmt.Errorf("SNAPSHOT_MIN_INTERVAL_MS: %w", err)
		}
		cfg.SnapshotMinIntervalMs = uint32(n)
	}
	if v, ok := os.LookupEnv("SNAPSHOT_MAX_INTERVAL_MS"); ok {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return cfg, fmt.Errorf("SNAPSHOT_MAX_INTERVAL_MS: %w", err)
		}
		cfg.SnapshotMaxIntervalMs = uint32(n)
	}
	if v, ok := os.LookupEnv("RECORDINGS_DIR"); ok {
		cfg.RecordingsDir = v
	}
	if v, ok := os.LookupEnv("RECORD_INPUT"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return cfg, fmt.Errorf("RECORD_INPUT: %w", err)
		}
		cfg.RecordInput = b
	}
	if v, ok := os.LookupEnv("IDLE_TIMEOUT_SECONDS"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("IDLE_TIMEOUT_SECONDS: %w", err)
		}
		cfg.IdleTimeoutSeconds = n
	}
	if v, ok := os.LookupEnv("KILL_GRACE_SECONDS"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("KILL_GRACE_SECONDS: %w", err)
		}
		cfg.KillGraceSeconds = n
	}
	if v, ok := os.LookupEnv("VTMUXD_LOG_LEVEL"); ok {
		cfg.LogLevel = v
	}

	if cfg.AuthMode == AuthPassword && cfg.AuthPasswordHash == "" {
		return cfg, fmt.Errorf("AUTH_MODE=password requires AUTH_PASSWORD_HASH")
	}
	if cfg.SnapshotMaxIntervalMs < cfg.SnapshotMinIntervalMs {
		return cfg, fmt.Errorf("SNAPSHOT_MAX_INTERVAL_MS must be >= SNAPSHOT_MIN_INTERVAL_MS")
	}
	return cfg, nil
}
