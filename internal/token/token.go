// Package token mints and verifies the signed values used by the auth flow:
// short-lived magic-link tokens and the session credentials issued after a
// successful verification. Both are HS256 JWTs signed with the same secret.
package token

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// MagicClaims is the payload of a magic-link token. The jti makes every token
// distinct even when the same email requests two links in the same second.
type MagicClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// SessionClaims is the payload of a session credential.
type SessionClaims struct {
	UserID int64  `json:"user_id"`
	Email  string `json:"email"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// Signer signs and verifies tokens with a shared HMAC secret.
type Signer struct {
	secret []byte
}

func NewSigner(secret string) *Signer {
	return &Signer{secret: []byte(secret)}
}

var validMethods = jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})

// MintMagic returns a signed magic-link token for the email, valid for ttl.
func (s *Signer) MintMagic(email string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := MagicClaims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign magic token: %w", err)
	}
	return signed, nil
}

// ParseMagic verifies the signature and expiry claim of a magic-link token.
func (s *Signer) ParseMagic(raw string) (*MagicClaims, error) {
	var claims MagicClaims
	_, err := jwt.ParseWithClaims(raw, &claims, s.keyFunc, validMethods)
	if err != nil {
		return nil, fmt.Errorf("parse magic token: %w", err)
	}
	return &claims, nil
}

// MintSession returns a signed session credential, valid for ttl.
func (s *Signer) MintSession(userID int64, email, role string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := SessionClaims{
		UserID: userID,
		Email:  email,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign session token: %w", err)
	}
	return signed, nil
}

// ParseSession verifies the signature and expiry claim of a session credential.
func (s *Signer) ParseSession(raw string) (*SessionClaims, error) {
	var claims SessionClaims
	_, err := jwt.ParseWithClaims(raw, &claims, s.keyFunc, validMethods)
	if err != nil {
		return nil, fmt.Errorf("parse session token: %w", err)
	}
	return &claims, nil
}

func (s *Signer) keyFunc(t *jwt.Token) (any, error) {
	return s.secret, nil
}
