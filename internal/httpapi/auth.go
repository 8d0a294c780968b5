package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/vtmuxd/vtmuxd/internal/apierr"
	"github.com/vtmuxd/vtmuxd/internal/auth"
	"github.com/vtmuxd/vtmuxd/internal/config"
)

type tokenRequest struct {
	Password string `json:"password,omitempty"`
}

type tokenResponse struct {
	Token     string `json:"token"`
	ExpiresIn int    `json:"expiresIn"`
}

// handleAuthToken issues a bearer token (spec §6 POST /api/auth/token).
// AUTH_MODE=none issues an anonymous token unconditionally; AUTH_MODE=
// password verifies the supplied password against AUTH_PASSWORD_HASH;
// AUTH_MODE=ssh-key is not implemented by this server and is rejected
// with invalid_spec (400).
func (s *Server) handleAuthToken(w http.ResponseWriter, r *http.Request) {
	var identity string
	switch s.cfg.AuthMode {
	case config.AuthNone:
		identity = "anonymous"
	case config.AuthPassword:
		var req tokenRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeAPIError(w, apierr.New(apierr.InvalidSpec, "malformed request body"))
			return
		}
		ok, err := auth.VerifyPassword(req.Password, s.cfg.AuthPasswordHash)
		if err != nil {
			writeAPIError(w, apierr.Wrap(apierr.IoError, err))
			return
		}
		if !ok {
			writeAPIError(w, apierr.New(apierr.Unauthenticated, "invalid password"))
			return
		}
		identity = "operator"
	case config.AuthSSHKey:
		writeAPIError(w, apierr.New(apierr.InvalidSpec, "ssh-key auth is not implemented"))
		return
	default:
		writeAPIError(w, apierr.New(apierr.InvalidSpec, "unknown auth mode %q", s.cfg.AuthMode))
		return
	}

	ttl := time.Duration(s.cfg.TokenTTLSeconds) * time.Second
	token, _, err := auth.IssueToken(s.key, identity, ttl)
	if err != nil {
		writeAPIError(w, apierr.Wrap(apierr.IoError, err))
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{Token: token, ExpiresIn: s.cfg.TokenTTLSeconds})
}

type authConfigResponse struct {
	NoAuth               bool `json:"noAuth"`
	EnableSSHKeys        bool `json:"enableSSHKeys"`
	DisallowUserPassword bool `json:"disallowUserPassword"`
}

// handleAuthConfig reports which auth mode is active so clients can decide
// whether to prompt for a password (spec §6 GET /api/auth/config).
func (s *Server) handleAuthConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, authConfigResponse{
		NoAuth:               s.cfg.AuthMode == config.AuthNone,
		EnableSSHKeys:        false,
		DisallowUserPassword: s.cfg.AuthMode == config.AuthSSHKey,
	})
}

// handleAuthVerify reports whether the caller's bearer token is currently
// valid (spec §6 GET /api/auth/verify). Reaching the handler means
// withAuth already accepted the token.
func (s *Server) handleAuthVerify(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

// handleAuthLogout revokes the caller's token (spec §6 POST /api/auth/
// logout). Best-effort: a missing revocation store or an unparseable
// token still returns 204 since there is nothing further the caller can
// do about it, and AUTH_MODE=none has no token to revoke in the first
// place.
func (s *Server) handleAuthLogout(w http.ResponseWriter, r *http.Request) {
	if s.revocation != nil {
		if tok := bearerToken(r); tok != "" {
			if claims, err := auth.ValidateToken(&s.key.PublicKey, tok); err == nil {
				if err := s.revocation.Revoke(claims); err != nil {
					s.log.Warn("logout: revoke failed", "error", err)
				}
			}
		}
	}
	w.WriteHeader(http.StatusNoContent)
}
