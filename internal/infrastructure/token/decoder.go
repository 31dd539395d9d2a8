package token

import (
	"fmt"
	"strings"
	"time"

	"puplink-authkit/internal/domain"

	"github.com/golang-jwt/jwt/v5"
)

// wireClaims mirrors the provider's token payload.
type wireClaims struct {
	TokenUse string `json:"token_use"`
	Username string `json:"username"`
	Email    string `json:"email"`
	jwt.RegisteredClaims
}

// Decoder extracts claims from compact tokens without verifying the
// signature. Verification is the provider's and the backend's job; the
// client only needs the claims for expiry awareness and identity
// reconciliation. Implements domain.TokenDecoder.
type Decoder struct {
	parser *jwt.Parser
}

// NewDecoder creates a claim decoder that accepts padded base64url
// segments, which some provider SDKs emit.
func NewDecoder() *Decoder {
	return &Decoder{parser: jwt.NewParser(jwt.WithPaddingAllowed())}
}

// Decode parses the token's payload segment into typed claims. It fails
// with domain.ErrMalformedToken when the token does not have exactly
// three segments or the payload is not valid base64url/JSON. It never
// fails for a well-formed token it cannot trust.
func (d *Decoder) Decode(raw string) (*domain.Claims, error) {
	if raw == "" {
		return nil, fmt.Errorf("%w: empty token", domain.ErrMalformedToken)
	}
	if parts := strings.Count(raw, "."); parts != 2 {
		return nil, fmt.Errorf("%w: expected 3 segments, got %d", domain.ErrMalformedToken, parts+1)
	}

	var wc wireClaims
	if _, _, err := d.parser.ParseUnverified(raw, &wc); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrMalformedToken, err)
	}

	claims := &domain.Claims{
		Subject:  wc.Subject,
		Issuer:   wc.Issuer,
		TokenUse: wc.TokenUse,
		Username: wc.Username,
		Email:    wc.Email,
	}
	if len(wc.Audience) > 0 {
		claims.Audience = wc.Audience[0]
	}
	if wc.ExpiresAt != nil {
		claims.ExpiresAt = wc.ExpiresAt.Time
	}
	return claims, nil
}

// Expired reports whether the raw token carries an expiry at or before
// now. Malformed tokens are reported as expired: a token that cannot be
// decoded cannot be trusted either.
func (d *Decoder) Expired(raw string, now time.Time) bool {
	claims, err := d.Decode(raw)
	if err != nil {
		return true
	}
	return claims.Expired(now)
}
