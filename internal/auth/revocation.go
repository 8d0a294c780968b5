package auth

import (
	"fmt"

	"github.com/vtmuxd/vtmuxd/internal/store"
)

// RevocationList checks issued tokens against a persisted denylist, so
// POST /api/auth/logout survives a restart instead of only living in
// memory.
type RevocationList struct {
	store *store.Store
}

// NewRevocationList wraps st for token revocation lookups. st must not be
// nil — callers that don't need persisted logout should skip constructing
// a RevocationList rather than pass a nil store.
func NewRevocationList(st *store.Store) *RevocationList {
	return &RevocationList{store: st}
}

// Revoke marks claims' token id as revoked until its expiry.
func (r *RevocationList) Revoke(claims *Claims) error {
	if claims.ID == "" {
		return fmt.Errorf("token has no jti to revoke")
	}
	if claims.ExpiresAt == nil {
		return fmt.Errorf("token has no expiry")
	}
	return r.store.RevokeToken(claims.ID, claims.ExpiresAt.Time)
}

// IsRevoked reports whether the given token id has been revoked.
func (r *RevocationList) IsRevoked(jti string) (bool, error) {
	if jti == "" {
		return false, nil
	}
	return r.store.IsRevoked(jti)
}
