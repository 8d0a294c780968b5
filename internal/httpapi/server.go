// Package httpapi implements the HTTP Control Surface (spec §4.7): thin
// REST handlers over the Session Registry for session CRUD, auth token
// issuance, health, and recording retrieval. Handlers validate, call the
// Registry, and serialize the response — the Registry owns every
// invariant worth enforcing.
package httpapi

import (
	"crypto/ecdsa"
	"log/slog"
	"net/http"
	"time"

	"github.com/vtmuxd/vtmuxd/internal/auth"
	"github.com/vtmuxd/vtmuxd/internal/config"
	"github.com/vtmuxd/vtmuxd/internal/ratelimit"
	"github.com/vtmuxd/vtmuxd/internal/registry"
)

// Server wires the Registry and auth/rate-limit collaborators into an
// http.Handler. Version is reported by GET /api/health.
type Server struct {
	reg        *registry.Registry
	log        *slog.Logger
	cfg        config.Config
	key        *ecdsa.PrivateKey
	revocation *auth.RevocationList
	limiter    *ratelimit.Limiter

	mux       *http.ServeMux
	startedAt time.Time
	version   string
}

// New builds a Server and registers every route from spec §6. key is the
// ES256 signing key used to issue and verify bearer tokens; POST
// /api/auth/token signs with it in every auth mode, config.AuthNone
// included. revocation may be nil to
// disable persisted logout. limiter may be nil to disable rate limiting
// (tests only — production always wires one per SPEC_FULL's ambient
// stack).
func New(reg *registry.Registry, cfg config.Config, key *ecdsa.PrivateKey, revocation *auth.RevocationList, limiter *ratelimit.Limiter, version string, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		reg:        reg,
		log:        log,
		cfg:        cfg,
		key:        key,
		revocation: revocation,
		limiter:    limiter,
		mux:        http.NewServeMux(),
		startedAt:  time.Now(),
		version:    version,
	}
	s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	lw := &loggingResponseWriter{ResponseWriter: w, status: http.StatusOK}
	s.mux.ServeHTTP(lw, r)
	s.log.Info("http request", "method", r.Method, "path", r.URL.Path, "status", lw.status, "latency", time.Since(start))
}

func (s *Server) routes() {
	s.mux.HandleFunc("POST /api/auth/token", s.withRateLimit(ratelimit.CategoryOther, s.handleAuthToken))
	s.mux.HandleFunc("GET /api/auth/config", s.handleAuthConfig)
	s.mux.HandleFunc("GET /api/auth/verify", s.withAuth(s.handleAuthVerify))
	s.mux.HandleFunc("POST /api/auth/logout", s.withAuth(s.handleAuthLogout))

	s.mux.HandleFunc("GET /api/sessions", s.withAuth(s.withRateLimit(ratelimit.CategoryOther, s.handleListSessions)))
	s.mux.HandleFunc("POST /api/sessions", s.withAuth(s.withRateLimit(ratelimit.CategorySessionCreate, s.handleCreateSession)))
	s.mux.HandleFunc("GET /api/sessions/{id}", s.withAuth(s.withRateLimit(ratelimit.CategoryOther, s.handleGetSession)))
	s.mux.HandleFunc("DELETE /api/sessions/{id}", s.withAuth(s.withRateLimit(ratelimit.CategoryOther, s.handleDeleteSession)))
	s.mux.HandleFunc("POST /api/sessions/{id}/input", s.withAuth(s.withRateLimit(ratelimit.CategoryOther, s.handleInput)))
	s.mux.HandleFunc("POST /api/sessions/{id}/resize", s.withAuth(s.withRateLimit(ratelimit.CategoryOther, s.handleResize)))
	s.mux.HandleFunc("GET /api/sessions/{id}/text", s.withAuth(s.withRateLimit(ratelimit.CategoryOther, s.handleText)))
	s.mux.HandleFunc("GET /api/sessions/{id}/recording", s.withAuth(s.withRateLimit(ratelimit.CategoryOther, s.handleRecording)))

	s.mux.HandleFunc("GET /api/health", s.handleHealth)
}

// loggingResponseWriter captures the status code written so ServeHTTP's
// access log line reflects what actually went out, not an assumed 200.
type loggingResponseWriter struct {
	http.ResponseWriter
	status int
}

func (w *loggingResponseWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
