package domain

import "errors"

// Token errors.
var (
	ErrMalformedToken = errors.New("token is structurally invalid")
)

// Sign-in errors.
var (
	ErrInvalidCredentials   = errors.New("invalid credentials")
	ErrVerificationRequired = errors.New("account verification required")
)

// Session errors.
var (
	ErrUnauthenticated = errors.New("no active session")
	ErrSessionExpired  = errors.New("session expired")
	ErrRefreshRejected = errors.New("identity provider rejected session refresh")
	ErrNoSession       = errors.New("no session in credential store")
)

// Infrastructure errors.
var (
	ErrNetwork     = errors.New("identity provider unreachable")
	ErrPersistence = errors.New("credential store failure")
)
