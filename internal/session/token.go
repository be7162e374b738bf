package session

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/alanyoungcy/justersync/internal/domain"
)

// Token is the locally decoded view of a bearer token. The signature is not
// verified; the backend does that on every authenticated request.
type Token struct {
	Raw       string
	Subject   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// ParseToken decodes the claims of raw without verifying its signature.
func ParseToken(raw string) (Token, error) {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(raw, &claims); err != nil {
		return Token{}, fmt.Errorf("session: parse token: %w", err)
	}
	t := Token{Raw: raw, Subject: claims.Subject}
	if claims.IssuedAt != nil {
		t.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		t.ExpiresAt = claims.ExpiresAt.Time
	}
	return t, nil
}

// Validate checks that t has not expired at now and was issued for address.
func (t Token) Validate(now time.Time, address string) error {
	if t.ExpiresAt.IsZero() || now.After(t.ExpiresAt) {
		return domain.ErrTokenExpired
	}
	if t.Subject != address {
		return domain.ErrAddressMismatch
	}
	return nil
}
