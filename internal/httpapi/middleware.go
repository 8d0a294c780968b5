package httpapi

import (
	"context"
	"net/http"
	"strings"

	"github.com/vtmuxd/vtmuxd/internal/apierr"
	"github.com/vtmuxd/vtmuxd/internal/auth"
	"github.com/vtmuxd/vtmuxd/internal/config"
	"github.com/vtmuxd/vtmuxd/internal/ratelimit"
)

type contextKey int

const identityContextKey contextKey = 0

// withAuth resolves the caller's identity and stashes it in the request
// context before calling next. AUTH_MODE=none always succeeds as the
// "anonymous" identity, matching the WS transport's AuthFunc contract.
func (s *Server) withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity, err := s.authenticate(r)
		if err != nil {
			writeAPIError(w, err)
			return
		}
		ctx := context.WithValue(r.Context(), identityContextKey, identity)
		next(w, r.WithContext(ctx))
	}
}

// authenticate validates the request's bearer token against cfg.AuthMode,
// returning the resolved identity string.
func (s *Server) authenticate(r *http.Request) (string, error) {
	if s.cfg.AuthMode == config.AuthNone {
		return "anonymous", nil
	}
	tok := bearerToken(r)
	if tok == "" {
		return "", apierr.New(apierr.Unauthenticated, "missing bearer token")
	}
	claims, err := auth.ValidateToken(&s.key.PublicKey, tok)
	if err != nil {
		return "", apierr.Wrap(apierr.Unauthenticated, err)
	}
	if s.revocation != nil {
		revoked, err := s.revocation.IsRevoked(claims.ID)
		if err != nil {
			return "", apierr.Wrap(apierr.IoError, err)
		}
		if revoked {
			return "", apierr.New(apierr.Unauthenticated, "token revoked")
		}
	}
	if claims.Identity != "" {
		return claims.Identity, nil
	}
	return claims.ID, nil
}

// withRateLimit enforces the per-identity ceiling for cat (spec §4.7)
// ahead of next. Identity comes from the context withAuth populated; when
// no limiter is configured the check is skipped (tests only).
func (s *Server) withRateLimit(cat ratelimit.Category, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.limiter == nil {
			next(w, r)
			return
		}
		identity, _ := r.Context().Value(identityContextKey).(string)
		if identity == "" {
			identity = r.RemoteAddr
		}
		var allowed bool
		switch cat {
		case ratelimit.CategorySessionCreate:
			allowed = s.limiter.AllowSessionCreate(identity)
		default:
			allowed = s.limiter.AllowOther(identity)
		}
		if !allowed {
			writeAPIError(w, apierr.New(apierr.ResourceExhausted, "rate limit exceeded"))
			return
		}
		next(w, r)
	}
}

// bearerToken extracts the token from an "Authorization: Bearer <token>"
// header.
func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(h, prefix) {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(h, prefix))
}
