package token

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketplace/trust-platform/internal/domain"
	"github.com/marketplace/trust-platform/internal/keys"
)

func newTestMinter(t *testing.T) (*Minter, keys.Store) {
	t.Helper()
	store := keys.NewMemoryStore()
	require.NoError(t, store.EnsureBootstrap(context.Background(), 90*24*time.Hour))
	return New(store, "https://identity.marketplace.internal", 2*time.Hour), store
}

func TestMintAndVerifyAccessToken(t *testing.T) {
	m, _ := newTestMinter(t)
	ctx := context.Background()
	userID := uuid.New()
	tenantID := uuid.New()

	signed, jti, err := m.MintAccess(ctx, userID, tenantID, []domain.Role{domain.RoleSeller})
	require.NoError(t, err)
	require.NotEmpty(t, signed)
	require.NotEmpty(t, jti)

	claims, err := m.Verify(ctx, signed)
	require.NoError(t, err)
	assert.Equal(t, userID, claims.UserID)
	assert.Equal(t, tenantID, claims.TenantID)
	assert.Equal(t, jti, claims.JTI)
	assert.True(t, claims.HasRole(domain.RoleSeller))
	assert.False(t, claims.HasRole(domain.RoleAdmin))
}

func TestVerifyRejectsUnknownKid(t *testing.T) {
	m1, _ := newTestMinter(t)
	m2, _ := newTestMinter(t)
	signed, _, err := m1.MintAccess(context.Background(), uuid.New(), uuid.New(), []domain.Role{domain.RoleCustomer})
	require.NoError(t, err)

	_, err = m2.Verify(context.Background(), signed)
	assert.ErrorIs(t, err, ErrUnknownKid)
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	store := keys.NewMemoryStore()
	require.NoError(t, store.EnsureBootstrap(context.Background(), 90*24*time.Hour))
	m := New(store, "https://identity.marketplace.internal", -1*time.Minute)

	signed, _, err := m.MintAccess(context.Background(), uuid.New(), uuid.New(), nil)
	require.NoError(t, err)

	_, err = m.Verify(context.Background(), signed)
	assert.ErrorIs(t, err, ErrExpired)
}

func TestVerifyRejectsMalformedToken(t *testing.T) {
	m, _ := newTestMinter(t)
	_, err := m.Verify(context.Background(), "not-a-jwt")
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestExtractJTIWithoutVerification(t *testing.T) {
	m, _ := newTestMinter(t)
	signed, jti, err := m.MintAccess(context.Background(), uuid.New(), uuid.New(), nil)
	require.NoError(t, err)

	extracted, err := ExtractJTI(signed)
	require.NoError(t, err)
	assert.Equal(t, jti, extracted)
}

func TestGenerateOpaqueTokenIsUnique(t *testing.T) {
	a, err := GenerateOpaqueToken()
	require.NoError(t, err)
	b, err := GenerateOpaqueToken()
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
	assert.Greater(t, len(a), 30)
}
