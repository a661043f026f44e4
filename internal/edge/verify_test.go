package edge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketplace/trust-platform/internal/domain"
	"github.com/marketplace/trust-platform/internal/keys"
	"github.com/marketplace/trust-platform/internal/token"
)

// newJWKSServer serves store's active key set at /.well-known/jwks.json,
// standing in for the Identity Authority in gateway tests.
func newJWKSServer(t *testing.T, store keys.Store) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/jwks.json", func(w http.ResponseWriter, r *http.Request) {
		jwks, err := keys.PublishJWKS(r.Context(), store, time.Now())
		require.NoError(t, err)
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(jwks))
	})
	return httptest.NewServer(mux)
}

func TestVerifySignatureRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := keys.NewMemoryStore()
	require.NoError(t, store.EnsureBootstrap(ctx, 90*24*time.Hour))
	minter := token.New(store, "https://identity.marketplace.internal", time.Hour)

	server := newJWKSServer(t, store)
	defer server.Close()

	cache := NewJWKSCache(server.URL+"/.well-known/jwks.json", time.Minute, time.Hour)
	cache.Start(ctx)
	defer func() {}()

	userID, tenantID := uuid.New(), uuid.New()
	signed, _, err := minter.MintAccess(ctx, userID, tenantID, []domain.Role{domain.RoleAdmin})
	require.NoError(t, err)

	claims, err := VerifySignature(ctx, cache, signed)
	require.NoError(t, err)
	assert.Equal(t, userID, claims.UserID)
	assert.Equal(t, tenantID, claims.TenantID)
	assert.True(t, claims.HasRole(domain.RoleAdmin))
}

func TestVerifySignatureUnknownKidTriggersRefresh(t *testing.T) {
	ctx := context.Background()
	store := keys.NewMemoryStore()
	require.NoError(t, store.EnsureBootstrap(ctx, 90*24*time.Hour))
	minter := token.New(store, "https://identity.marketplace.internal", time.Hour)

	server := newJWKSServer(t, store)
	defer server.Close()

	cache := NewJWKSCache(server.URL+"/.well-known/jwks.json", time.Hour, time.Hour)
	// Do not Start(); force an empty cache so the first Lookup is a miss
	// and must refresh synchronously.

	signed, _, err := minter.MintAccess(ctx, uuid.New(), uuid.New(), nil)
	require.NoError(t, err)

	claims, err := VerifySignature(ctx, cache, signed)
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, claims.UserID)
}

func TestVerifySignatureMalformedToken(t *testing.T) {
	cache := NewJWKSCache("http://example.invalid/jwks.json", time.Minute, time.Hour)
	_, err := VerifySignature(context.Background(), cache, "not-a-jwt")
	assert.Error(t, err)
}
