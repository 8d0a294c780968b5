// Package auth issues and validates the bearer tokens that gate the HTTP
// and WebSocket surfaces (spec §6), and hashes the operator password used
// by AUTH_MODE=password.
package auth

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Claims are the token payload for an authenticated session (HTTP and WS).
type Claims struct {
	jwt.RegisteredClaims
	Identity string `json:"identity,omitempty"`
}

// GenerateECKey creates a new P-256 signing key, for `vt-server keygen`.
func GenerateECKey() (*ecdsa.PrivateKey, string, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, "", fmt.Errorf("generate ec key: %w", err)
	}
	der, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return nil, "", fmt.Errorf("marshal ec key: %w", err)
	}
	return key, base64.StdEncoding.EncodeToString(der), nil
}

// ParseECKeyFromEnv parses a P-256 private key from an env var value,
// accepting either PEM or base64-encoded DER.
func ParseECKeyFromEnv(envValue string) (*ecdsa.PrivateKey, error) {
	if envValue == "" {
		return nil, fmt.Errorf("VTMUXD_JWT_KEY is required — generate with: vt-server keygen")
	}
	if block, _ := pem.Decode([]byte(envValue)); block != nil {
		return x509.ParseECPrivateKey(block.Bytes)
	}
	der, err := base64.StdEncoding.DecodeString(envValue)
	if err != nil {
		return nil, fmt.Errorf("decode base64 ec key: %w", err)
	}
	return x509.ParseECPrivateKey(der)
}

// IssueToken creates an ES256-signed bearer token for identity, valid for ttl.
func IssueToken(key *ecdsa.PrivateKey, identity string, ttl time.Duration) (token string, expiresAt time.Time, err error) {
	expiresAt = time.Now().Add(ttl)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Identity: identity,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodES256, claims).SignedString(key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// ValidateToken verifies an ES256 bearer token and returns its claims.
func ValidateToken(pubKey *ecdsa.PublicKey, tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodECDSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return pubKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}
	return claims, nil
}

// MarshalECPublicKey returns the base64-encoded DER form of pub, for
// persisting alongside the private key.
func MarshalECPublicKey(pub *ecdsa.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("marshal ec public key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(der), nil
}
