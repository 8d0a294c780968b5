package auth

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/vtmuxd/vtmuxd/internal/store"
)

func TestRevokeTokenMarksJTIRevoked(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "auth.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	defer st.Close()

	key, _, _ := GenerateECKey()
	token, _, err := IssueToken(key, "operator", time.Hour)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	claims, err := ValidateToken(&key.PublicKey, token)
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}

	rl := NewRevocationList(st)
	revoked, err := rl.IsRevoked(claims.ID)
	if err != nil {
		t.Fatalf("IsRevoked: %v", err)
	}
	if revoked {
		t.Fatalf("expected token not yet revoked")
	}

	if err := rl.Revoke(claims); err != nil {
		t.Fatalf("Revoke: %v", err)
	}

	revoked, err = rl.IsRevoked(claims.ID)
	if err != nil {
		t.Fatalf("IsRevoked after revoke: %v", err)
	}
	if !revoked {
		t.Fatalf("expected token to be revoked")
	}
}
