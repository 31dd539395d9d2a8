package usecase

import (
	"log/slog"

	"puplink-authkit/internal/domain"
)

// IdentityReconciler enforces the invariant that the cached identity's
// primary key equals the current token's subject. The token is
// authoritative: on mismatch the cached record is rebuilt from claims.
type IdentityReconciler struct {
	logger *slog.Logger
}

// NewIdentityReconciler creates a new identity reconciler.
func NewIdentityReconciler(logger *slog.Logger) *IdentityReconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &IdentityReconciler{logger: logger}
}

// Reconcile returns an identity record consistent with claims and whether
// the input had to be corrected. The input record is never mutated; the
// caller persists the result when changed is true. Calling Reconcile again
// on its own output is a no-op.
func (r *IdentityReconciler) Reconcile(identity *domain.IdentityRecord, claims *domain.Claims) (*domain.IdentityRecord, bool) {
	if identity == nil {
		return r.derive(claims), true
	}

	if identity.ID == claims.Subject {
		return identity.Clone(), false
	}

	// The cached profile belongs to a different subject; none of its
	// fields can be trusted for the principal the token asserts.
	r.logger.Warn("cached identity drifted from token subject, rebuilding from claims",
		"cached_id", identity.ID,
		"token_subject", claims.Subject)
	return r.derive(claims), true
}

// derive builds a fresh identity record from token claims.
func (r *IdentityReconciler) derive(claims *domain.Claims) *domain.IdentityRecord {
	return &domain.IdentityRecord{
		ID:          claims.Subject,
		Email:       claims.Email,
		DisplayName: claims.Username,
		Role:        domain.RoleAdopter,
	}
}
