// Package gateway adapts the remote identity provider's HTTP API to the
// domain ports.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"puplink-authkit/internal/domain"
)

// AuthGateway talks to the PupLink identity provider. It is the only
// component that can mint or refresh tokens; this client never verifies
// signatures itself. Implements domain.IdentityProvider.
type AuthGateway struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewAuthGateway creates a provider gateway with a tuned HTTP transport.
func NewAuthGateway(baseURL string, timeout time.Duration, logger *slog.Logger) *AuthGateway {
	if logger == nil {
		logger = slog.Default()
	}

	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 20,
		IdleConnTimeout:     90 * time.Second,
	}

	return &AuthGateway{
		baseURL: baseURL,
		logger:  logger,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
	}
}

type signInRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type tokenResponse struct {
	Token string `json:"token"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// SignIn exchanges credentials for a bearer token.
func (g *AuthGateway) SignIn(ctx context.Context, username, secret string) (string, error) {
	payload, err := json.Marshal(signInRequest{Username: username, Password: secret})
	if err != nil {
		return "", fmt.Errorf("encode sign-in request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/v1/auth/login", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build sign-in request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrNetwork, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var tr tokenResponse
		if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
			return "", fmt.Errorf("%w: decode sign-in response: %w", domain.ErrNetwork, err)
		}
		return tr.Token, nil

	case http.StatusUnauthorized:
		return "", domain.ErrInvalidCredentials

	case http.StatusForbidden:
		if decodeError(resp.Body) == "verification_required" {
			return "", domain.ErrVerificationRequired
		}
		return "", domain.ErrInvalidCredentials

	default:
		return "", fmt.Errorf("%w: provider returned status %d", domain.ErrNetwork, resp.StatusCode)
	}
}

// RefreshSession exchanges the current token for a fresh one.
func (g *AuthGateway) RefreshSession(ctx context.Context, token string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/v1/auth/refresh", nil)
	if err != nil {
		return "", fmt.Errorf("build refresh request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrNetwork, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var tr tokenResponse
		if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
			return "", fmt.Errorf("%w: decode refresh response: %w", domain.ErrNetwork, err)
		}
		return tr.Token, nil

	case http.StatusUnauthorized, http.StatusForbidden:
		return "", domain.ErrRefreshRejected

	default:
		return "", fmt.Errorf("%w: provider returned status %d", domain.ErrNetwork, resp.StatusCode)
	}
}

// SignOut revokes the session server-side. Best effort: callers tear
// down local state regardless of the outcome.
func (g *AuthGateway) SignOut(ctx context.Context, token string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/v1/auth/logout", nil)
	if err != nil {
		return fmt.Errorf("build sign-out request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest && resp.StatusCode != http.StatusUnauthorized {
		return fmt.Errorf("%w: provider returned status %d", domain.ErrNetwork, resp.StatusCode)
	}
	return nil
}

func decodeError(body io.Reader) string {
	var er errorResponse
	if err := json.NewDecoder(body).Decode(&er); err != nil {
		return ""
	}
	return er.Error
}
