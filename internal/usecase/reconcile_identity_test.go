package usecase

import (
	"log/slog"
	"testing"

	"puplink-authkit/internal/domain"

	"github.com/stretchr/testify/assert"
)

func TestReconcile_NilIdentity(t *testing.T) {
	r := NewIdentityReconciler(slog.Default())
	claims := &domain.Claims{Subject: "user-u1", Username: "maya", Email: "maya@example.com"}

	identity, changed := r.Reconcile(nil, claims)

	assert.True(t, changed)
	assert.Equal(t, "user-u1", identity.ID)
	assert.Equal(t, "maya", identity.DisplayName)
	assert.Equal(t, "maya@example.com", identity.Email)
}

func TestReconcile_Match(t *testing.T) {
	r := NewIdentityReconciler(slog.Default())
	cached := &domain.IdentityRecord{
		ID:          "user-u1",
		Email:       "maya@example.com",
		DisplayName: "Maya",
		Role:        domain.RoleBreeder,
		KennelName:  "Hilltop Retrievers",
	}

	identity, changed := r.Reconcile(cached, &domain.Claims{Subject: "user-u1"})

	assert.False(t, changed)
	assert.Equal(t, cached, identity)
	assert.NotSame(t, cached, identity, "must return a copy, not the input")
}

func TestReconcile_Drift(t *testing.T) {
	r := NewIdentityReconciler(slog.Default())
	cached := &domain.IdentityRecord{ID: "user-u1", Email: "old@example.com", Role: domain.RoleBreeder}
	claims := &domain.Claims{Subject: "user-u2", Username: "rex", Email: "rex@example.com"}

	identity, changed := r.Reconcile(cached, claims)

	assert.True(t, changed)
	assert.Equal(t, "user-u2", identity.ID)
	assert.Equal(t, "rex@example.com", identity.Email)
	// The input record is untouched.
	assert.Equal(t, "user-u1", cached.ID)
}

func TestReconcile_Idempotent(t *testing.T) {
	r := NewIdentityReconciler(slog.Default())
	cached := &domain.IdentityRecord{ID: "user-u1"}
	claims := &domain.Claims{Subject: "user-u2", Username: "rex", Email: "rex@example.com"}

	once, changedOnce := r.Reconcile(cached, claims)
	twice, changedTwice := r.Reconcile(once, claims)

	assert.True(t, changedOnce)
	assert.False(t, changedTwice)
	assert.Equal(t, once, twice)
}
