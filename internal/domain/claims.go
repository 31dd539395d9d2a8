package domain

import "time"

// Claims holds the fields extracted from a bearer token's payload segment.
// They are structurally decoded, never cryptographically verified; the
// identity provider is the sole authority for token validity.
type Claims struct {
	Subject   string
	Issuer    string
	Audience  string
	ExpiresAt time.Time
	TokenUse  string
	Username  string
	Email     string
}

// Expired reports whether the token's expiry lies at or before now.
func (c *Claims) Expired(now time.Time) bool {
	if c.ExpiresAt.IsZero() {
		return false
	}
	return !c.ExpiresAt.After(now)
}
