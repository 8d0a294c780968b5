package main

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vtmuxd/vtmuxd/internal/auth"
	"github.com/vtmuxd/vtmuxd/internal/config"
	"github.com/vtmuxd/vtmuxd/internal/hub"
	"github.com/vtmuxd/vtmuxd/internal/httpapi"
	"github.com/vtmuxd/vtmuxd/internal/logger"
	"github.com/vtmuxd/vtmuxd/internal/ptyhost"
	"github.com/vtmuxd/vtmuxd/internal/ratelimit"
	"github.com/vtmuxd/vtmuxd/internal/registry"
	"github.com/vtmuxd/vtmuxd/internal/store"
	"github.com/vtmuxd/vtmuxd/internal/wstransport"
)

// Rate limit ceilings per spec §4.7 — not configurable, unlike everything
// else in internal/config, since the spec states them as fixed numbers
// rather than env-var tunables.
const (
	sessionCreatePerMin = 10
	otherAPIPerMin      = 100
)

func serveCmd() *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the vt-server HTTP+WebSocket listener",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(configFile)
		},
	}

	cmd.Flags().StringVar(&configFile, "config", "", "optional YAML overrides file, watched for changes (see internal/config/watch.go)")
	return cmd
}

func runServe(configFile string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := logger.New(cfg.LogLevel, os.Getenv("VTMUXD_LOG_FILE"))
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	st, err := store.Open(envOr("VTMUXD_DB_PATH", "vtmuxd.db"))
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	signingKey, err := resolveSigningKey(cfg)
	if err != nil {
		return fmt.Errorf("signing key: %w", err)
	}

	var revocation *auth.RevocationList
	if cfg.AuthMode != config.AuthNone {
		revocation = auth.NewRevocationList(st)
	}

	host := ptyhost.New(cfg.MaxSessions, time.Duration(cfg.KillGraceSeconds)*time.Second, log)
	h := hub.New(cfg.MaxSubscriberBufferBytes, 1024, nil, log)

	reg, err := registry.New(registry.Config{
		RecordingsDir: cfg.RecordingsDir,
		RecordInput:   cfg.RecordInput,
		KillGrace:     time.Duration(cfg.KillGraceSeconds) * time.Second,
	}, host, h, log)
	if err != nil {
		return fmt.Errorf("init registry: %w", err)
	}
	if err := reg.Reconcile(); err != nil {
		log.Warn("reconcile previous sessions", "error", err)
	}

	limiter := ratelimit.New(sessionCreatePerMin, otherAPIPerMin, st, log)

	wsSrv := wstransport.NewServer(reg, h, time.Duration(cfg.IdleTimeoutSeconds)*time.Second, wsAuthFunc(cfg, signingKey, revocation), log)
	apiSrv := httpapi.New(reg, cfg, signingKey, revocation, limiter, version, log)

	mux := http.NewServeMux()
	mux.Handle("/ws", wsSrv)
	mux.Handle("/", apiSrv)

	httpSrv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.BindAddr, cfg.Port),
		Handler: mux,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Reloaded overrides are applied to this function's cfg value only: the
	// logger, hub, limiter and servers built above keep the settings they
	// were constructed with, so a reload changes no running behavior.
	if configFile != "" {
		watcher, err := config.WatchFile(configFile, log, func(o config.FileOverrides) {
			cfg.Apply(o)
		})
		if err != nil {
			return fmt.Errorf("watch config file: %w", err)
		}
		defer watcher.Close()
	}

	limiter.StartSync(ctx, 10*time.Minute)
	go reapLoop(ctx, reg)
	go tickLoop(ctx, h)

	errCh := make(chan error, 1)
	go func() {
		log.Info("vt-server listening", "addr", httpSrv.Addr)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
		wsSrv.Broadcast("going-away", 5*time.Second)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 8*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// reapLoop periodically releases terminal models for exited sessions with
// no subscribers (registry.go's ReapIdle doc comment: run every few
// seconds).
func reapLoop(ctx context.Context, reg *registry.Registry) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			reg.ReapIdle()
		}
	}
}

// tickLoop drives the hub's snapshot-cadence and back-pressure bookkeeping
// (hub.go's Tick doc comment: call frequently, ~50ms, with wall-clock now).
func tickLoop(ctx context.Context, h *hub.Hub) {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			h.Tick(now)
		}
	}
}

// resolveSigningKey loads the ES256 key from VTMUXD_JWT_KEY, or generates
// an ephemeral one when auth is disabled — an in-memory key is fine there
// since no token ever needs to outlive the process.
func resolveSigningKey(cfg config.Config) (*ecdsa.PrivateKey, error) {
	if cfg.AuthMode == config.AuthNone {
		key, _, err := auth.GenerateECKey()
		return key, err
	}
	return auth.ParseECKeyFromEnv(os.Getenv("VTMUXD_JWT_KEY"))
}

// wsAuthFunc adapts auth.ValidateToken into wstransport.AuthFunc, reading
// the bearer token from the `token` query param (since a WS upgrade
// request can't carry a custom Authorization header from a browser) or
// falling back to the header for non-browser clients.
func wsAuthFunc(cfg config.Config, key *ecdsa.PrivateKey, revocation *auth.RevocationList) wstransport.AuthFunc {
	return func(r *http.Request) (string, bool) {
		if cfg.AuthMode == config.AuthNone {
			return "anonymous", true
		}
		tok := r.URL.Query().Get("token")
		if tok == "" {
			tok = bearerFromHeader(r)
		}
		if tok == "" {
			return "", false
		}
		claims, err := auth.ValidateToken(&key.PublicKey, tok)
		if err != nil {
			return "", false
		}
		if revocation != nil {
			if revoked, _ := revocation.IsRevoked(claims.ID); revoked {
				return "", false
			}
		}
		if claims.Identity != "" {
			return claims.Identity, true
		}
		return claims.ID, true
	}
}

func bearerFromHeader(r *http.Request) string {
	const prefix = "Bearer "
	h := r.Header.Get("Authorization")
	if len(h) > len(prefix) && h[:len(prefix)] == prefix {
		return h[len(prefix):]
	}
	return ""
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
