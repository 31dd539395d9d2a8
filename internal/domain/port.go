package domain

import "context"

// IdentityProvider is the remote authority that mints, refreshes and
// revokes bearer tokens. It is the only component that can assert
// credential validity.
type IdentityProvider interface {
	SignIn(ctx context.Context, username, secret string) (string, error)
	RefreshSession(ctx context.Context, token string) (string, error)
	SignOut(ctx context.Context, token string) error
}

// CredentialStore persists the {token, identity} pair across process
// restarts. Save must be atomic with respect to a concurrent Load.
type CredentialStore interface {
	Load(ctx context.Context) (string, *IdentityRecord, error)
	Save(ctx context.Context, token string, identity *IdentityRecord) error
	Clear(ctx context.Context) error
}

// TokenDecoder extracts claims from a compact token without verifying
// its signature.
type TokenDecoder interface {
	Decode(raw string) (*Claims, error)
}

// TokenSource is what the request pipeline needs from the session layer:
// a token to attach, a way to exchange it after a rejection, and a way to
// tear the session down when no exchange can help.
type TokenSource interface {
	// ValidToken returns the current bearer token, refreshing it first
	// when the cached token is already past its expiry.
	ValidToken(ctx context.Context) (string, error)
	// Refresh exchanges the current session for a new token. rejected is
	// the token the caller saw rejected ("" means the current token); if
	// the session already rotated past it, the current token is returned
	// without a provider call. Concurrent calls are coalesced into a
	// single provider round trip.
	Refresh(ctx context.Context, rejected string) (string, error)
	// Invalidate discards the local session and clears the store without
	// contacting the provider.
	Invalidate(ctx context.Context)
}
