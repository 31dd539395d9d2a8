package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"puplink-authkit/internal/domain"

	evbus "github.com/asaskevich/EventBus"
	"golang.org/x/sync/singleflight"
)

// SessionState describes the manager's lifecycle state.
type SessionState int

const (
	StateSignedOut SessionState = iota
	StateSignedIn
	StateRefreshing
)

// DefaultRefreshTimeout bounds a single provider refresh round trip. An
// unresponsive provider cannot be distinguished from a revoked session at
// this layer, so hitting the deadline tears the session down.
const DefaultRefreshTimeout = 15 * time.Second

// SessionManager owns the authoritative in-memory session: the current
// bearer token paired with the identity derived from its claims. It is the
// only writer of that state; every other component works on per-operation
// snapshots. Concurrent refresh requests are coalesced into a single
// provider call. Implements domain.TokenSource.
type SessionManager struct {
	provider   domain.IdentityProvider
	store      domain.CredentialStore
	decoder    domain.TokenDecoder
	reconciler *IdentityReconciler
	bus        evbus.Bus
	logger     *slog.Logger

	// refreshCtx decouples the shared refresh from the request contexts
	// that trigger it; cancelling one caller must not cancel a refresh
	// other callers are awaiting.
	refreshCtx     context.Context
	refreshTimeout time.Duration

	mu      sync.RWMutex
	state   SessionState
	session *domain.Session

	refreshGroup singleflight.Group
}

// NewSessionManager creates a session manager with the default refresh
// timeout.
func NewSessionManager(
	provider domain.IdentityProvider,
	store domain.CredentialStore,
	decoder domain.TokenDecoder,
	bus evbus.Bus,
	logger *slog.Logger,
) *SessionManager {
	return NewSessionManagerWithTimeout(provider, store, decoder, bus, logger, DefaultRefreshTimeout)
}

// NewSessionManagerWithTimeout creates a session manager with a custom
// provider refresh timeout.
func NewSessionManagerWithTimeout(
	provider domain.IdentityProvider,
	store domain.CredentialStore,
	decoder domain.TokenDecoder,
	bus evbus.Bus,
	logger *slog.Logger,
	refreshTimeout time.Duration,
) *SessionManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionManager{
		provider:       provider,
		store:          store,
		decoder:        decoder,
		reconciler:     NewIdentityReconciler(logger),
		bus:            bus,
		logger:         logger,
		refreshCtx:     context.Background(),
		refreshTimeout: refreshTimeout,
	}
}

// State returns the manager's current lifecycle state.
func (m *SessionManager) State() SessionState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// CurrentIdentity returns a snapshot of the signed-in identity, or nil
// when signed out. Synchronous and non-blocking.
func (m *SessionManager) CurrentIdentity() *domain.IdentityRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.session == nil {
		return nil
	}
	return m.session.Identity.Clone()
}

// CurrentToken returns the current bearer token, and false when signed out.
func (m *SessionManager) CurrentToken() (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.session == nil {
		return "", false
	}
	return m.session.Token, true
}

// SignIn exchanges credentials for a new session via the identity
// provider. On success the claims are decoded, the identity derived and
// persisted, and a session-established event is published.
func (m *SessionManager) SignIn(ctx context.Context, username, secret string) (*domain.IdentityRecord, error) {
	tok, err := m.provider.SignIn(ctx, username, secret)
	if err != nil {
		return nil, err
	}

	claims, err := m.decoder.Decode(tok)
	if err != nil {
		return nil, err
	}

	identity, _ := m.reconciler.Reconcile(nil, claims)
	m.install(tok, identity, claims)

	if err := m.store.Save(ctx, tok, identity); err != nil {
		// The in-memory session stays usable; it just will not survive
		// a restart.
		m.logger.Warn("failed to persist session", "error", err)
	}

	m.publish(domain.TopicSessionEstablished, domain.SessionEvent{Identity: identity.Clone(), Reason: "sign-in"})
	m.logger.Info("session established", "subject", identity.ID)
	return identity.Clone(), nil
}

// Restore loads a persisted session at process start. A cached identity
// whose ID drifted from the token's subject is corrected from claims and
// the correction written back. Returns domain.ErrNoSession when the store
// is empty or its token can no longer be decoded.
func (m *SessionManager) Restore(ctx context.Context) (*domain.IdentityRecord, error) {
	tok, cached, err := m.store.Load(ctx)
	if err != nil {
		return nil, err
	}

	claims, err := m.decoder.Decode(tok)
	if err != nil {
		// A stored token we cannot parse cannot be trusted.
		m.logger.Warn("discarding undecodable stored token", "error", err)
		if clearErr := m.store.Clear(ctx); clearErr != nil {
			m.logger.Warn("failed to clear credential store", "error", clearErr)
		}
		return nil, domain.ErrNoSession
	}

	identity, changed := m.reconciler.Reconcile(cached, claims)
	if changed {
		if err := m.store.Save(ctx, tok, identity); err != nil {
			m.logger.Warn("failed to persist reconciled identity", "error", err)
		}
	}

	m.install(tok, identity, claims)
	m.publish(domain.TopicSessionEstablished, domain.SessionEvent{Identity: identity.Clone(), Reason: "restore"})
	m.logger.Info("session restored", "subject", identity.ID)
	return identity.Clone(), nil
}

// SignOut invokes the provider sign-out best-effort and unconditionally
// tears down local state; a provider failure never blocks local teardown.
func (m *SessionManager) SignOut(ctx context.Context) {
	tok, ok := m.CurrentToken()
	if ok {
		if err := m.provider.SignOut(ctx, tok); err != nil {
			m.logger.Warn("provider sign-out failed, tearing down locally anyway", "error", err)
		}
	}
	m.teardown(ctx, "sign-out")
}

// Invalidate discards the local session without contacting the provider.
// The request pipeline uses it to finalize a session no refresh can save.
func (m *SessionManager) Invalidate(ctx context.Context) {
	m.teardown(ctx, "invalidated")
}

// UpdateIdentity applies a partial profile update to the current identity
// and persists it. The identity's ID is never touched. The in-memory
// update succeeds even when persistence fails; the persistence error is
// returned so callers can surface it.
func (m *SessionManager) UpdateIdentity(ctx context.Context, update domain.IdentityUpdate) (*domain.IdentityRecord, error) {
	m.mu.Lock()
	if m.session == nil {
		m.mu.Unlock()
		return nil, domain.ErrUnauthenticated
	}
	updated := update.Apply(m.session.Identity)
	tok := m.session.Token
	m.session = &domain.Session{Token: tok, Identity: updated, Claims: m.session.Claims}
	m.mu.Unlock()

	if err := m.store.Save(ctx, tok, updated); err != nil {
		m.logger.Warn("failed to persist identity update", "error", err)
		return updated.Clone(), err
	}
	return updated.Clone(), nil
}

// ValidToken returns the current bearer token, refreshing first when the
// cached token is already past its expiry.
func (m *SessionManager) ValidToken(ctx context.Context) (string, error) {
	m.mu.RLock()
	if m.session == nil {
		m.mu.RUnlock()
		return "", domain.ErrUnauthenticated
	}
	tok := m.session.Token
	claims := m.session.Claims
	m.mu.RUnlock()

	if claims.Expired(time.Now()) {
		return m.Refresh(ctx, tok)
	}
	return tok, nil
}

// Refresh exchanges the current session for a new token. rejected is the
// token the caller saw rejected; "" refreshes whatever is current. When
// the session already rotated past the rejected token, the current token
// is returned without a provider call. Concurrent callers share a single
// in-flight provider call; late arrivals receive its result instead of
// issuing a duplicate. A cancelled caller stops waiting but does not
// cancel the shared refresh.
func (m *SessionManager) Refresh(ctx context.Context, rejected string) (string, error) {
	m.mu.RLock()
	if m.session == nil {
		m.mu.RUnlock()
		return "", domain.ErrUnauthenticated
	}
	current := m.session.Token
	m.mu.RUnlock()

	if rejected == "" {
		rejected = current
	} else if rejected != current {
		// Another caller already landed a newer token.
		return current, nil
	}

	ch := m.refreshGroup.DoChan("refresh", func() (interface{}, error) {
		return m.doRefresh(rejected)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// doRefresh runs the actual provider refresh. It executes at most once
// per singleflight window regardless of how many callers are waiting.
func (m *SessionManager) doRefresh(rejected string) (string, error) {
	// A refresh completed between the caller observing the rejection and
	// this flight starting.
	m.mu.RLock()
	if m.session != nil && m.session.Token != rejected {
		tok := m.session.Token
		m.mu.RUnlock()
		return tok, nil
	}
	m.mu.RUnlock()

	m.setState(StateRefreshing)

	rctx, cancel := context.WithTimeout(m.refreshCtx, m.refreshTimeout)
	defer cancel()

	newTok, err := m.provider.RefreshSession(rctx, rejected)
	if err != nil {
		if errors.Is(err, domain.ErrNetwork) && !errors.Is(err, context.DeadlineExceeded) {
			// Transient: keep the old session, the caller may retry later.
			m.mu.Lock()
			if m.session != nil {
				m.state = StateSignedIn
			} else {
				m.state = StateSignedOut
			}
			m.mu.Unlock()
			m.logger.Warn("transient refresh failure, keeping current session", "error", err)
			return "", err
		}
		// Rejected, timed out, or otherwise unusable: force re-login.
		m.logger.Warn("session refresh failed, signing out", "error", err)
		m.teardown(context.Background(), "refresh failed")
		return "", fmt.Errorf("%w: %w", domain.ErrSessionExpired, err)
	}

	claims, err := m.decoder.Decode(newTok)
	if err != nil {
		// A refreshed token we cannot parse cannot be trusted.
		m.logger.Error("provider returned undecodable token", "error", err)
		m.teardown(context.Background(), "undecodable refreshed token")
		return "", fmt.Errorf("%w: %w", domain.ErrSessionExpired, err)
	}

	m.mu.Lock()
	var cached *domain.IdentityRecord
	if m.session != nil {
		cached = m.session.Identity
	}
	identity, _ := m.reconciler.Reconcile(cached, claims)
	m.session = &domain.Session{Token: newTok, Identity: identity, Claims: claims}
	m.state = StateSignedIn
	m.mu.Unlock()

	if err := m.store.Save(context.Background(), newTok, identity); err != nil {
		m.logger.Warn("failed to persist refreshed session", "error", err)
	}

	m.logger.Info("session refreshed", "subject", identity.ID)
	return newTok, nil
}

// install atomically publishes a new session.
func (m *SessionManager) install(tok string, identity *domain.IdentityRecord, claims *domain.Claims) {
	m.mu.Lock()
	m.session = &domain.Session{Token: tok, Identity: identity, Claims: claims}
	m.state = StateSignedIn
	m.mu.Unlock()
}

// teardown clears in-memory and persisted state and publishes a
// session-expired event when a session existed.
func (m *SessionManager) teardown(ctx context.Context, reason string) {
	m.mu.Lock()
	var identity *domain.IdentityRecord
	hadSession := m.session != nil
	if hadSession {
		identity = m.session.Identity.Clone()
	}
	m.session = nil
	m.state = StateSignedOut
	m.mu.Unlock()

	if err := m.store.Clear(ctx); err != nil {
		m.logger.Warn("failed to clear credential store", "error", err)
	}

	if hadSession {
		m.publish(domain.TopicSessionExpired, domain.SessionEvent{Identity: identity, Reason: reason})
		m.logger.Info("session torn down", "reason", reason)
	}
}

func (m *SessionManager) setState(s SessionState) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

func (m *SessionManager) publish(topic string, event domain.SessionEvent) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(topic, event)
}
