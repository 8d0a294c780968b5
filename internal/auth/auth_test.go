package auth

import (
	"testing"
	"time"
)

func TestIssueAndValidateToken(t *testing.T) {
	key, _, err := GenerateECKey()
	if err != nil {
		t.Fatalf("GenerateECKey: %v", err)
	}
	token, expiresAt, err := IssueToken(key, "operator", time.Hour)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	if expiresAt.Before(time.Now()) {
		t.Fatalf("expected future expiry")
	}

	claims, err := ValidateToken(&key.PublicKey, token)
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if claims.Identity != "operator" {
		t.Fatalf("expected identity 'operator', got %q", claims.Identity)
	}
}

func TestValidateTokenRejectsWrongKey(t *testing.T) {
	key1, _, _ := GenerateECKey()
	key2, _, _ := GenerateECKey()
	token, _, err := IssueToken(key1, "operator", time.Hour)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	if _, err := ValidateToken(&key2.PublicKey, token); err == nil {
		t.Fatalf("expected validation failure with mismatched key")
	}
}

func TestValidateTokenRejectsExpired(t *testing.T) {
	key, _, _ := GenerateECKey()
	token, _, err := IssueToken(key, "operator", -time.Hour)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	if _, err := ValidateToken(&key.PublicKey, token); err == nil {
		t.Fatalf("expected validation failure for expired token")
	}
}

func TestHashAndVerifyPassword(t *testing.T) {
	hash, err := HashPassword("correct horse battery staple")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	ok, err := VerifyPassword("correct horse battery staple", hash)
	if err != nil {
		t.Fatalf("VerifyPassword: %v", err)
	}
	if !ok {
		t.Fatalf("expected password to verify")
	}

	ok, err = VerifyPassword("wrong password", hash)
	if err != nil {
		t.Fatalf("VerifyPassword: %v", err)
	}
	if ok {
		t.Fatalf("expected wrong password to fail verification")
	}
}
