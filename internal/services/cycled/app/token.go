package app

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const defaultSessionTTL = 24 * time.Hour

// TokenMinter issues short-lived HS256 session tokens for verified wallets.
type TokenMinter struct {
	secret []byte
	ttl    time.Duration
	clock  func() time.Time
}

// NewTokenMinter creates a minter. A non-positive ttl falls back to the
// default session lifetime.
func NewTokenMinter(secret string, ttl time.Duration) (*TokenMinter, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, fmt.Errorf("token secret is required")
	}
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	return &TokenMinter{secret: []byte(secret), ttl: ttl, clock: time.Now}, nil
}

// Mint issues a session token bound to the verified wallet address and the
// game domain it authenticated against.
func (m *TokenMinter) Mint(address, domain string) (string, error) {
	now := m.clock().UTC()
	claims := jwt.RegisteredClaims{
		Subject:   strings.ToLower(strings.TrimSpace(address)),
		Audience:  jwt.ClaimStrings{strings.TrimSpace(domain)},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("sign session token: %w", err)
	}
	return signed, nil
}

// Parse validates a session token and returns the wallet address it was
// minted for.
func (m *TokenMinter) Parse(tokenString string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return m.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(m.clock))
	if err != nil {
		return "", fmt.Errorf("parse session token: %w", err)
	}
	return claims.Subject, nil
}
