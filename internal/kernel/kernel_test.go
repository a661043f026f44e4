package kernel

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketplace/trust-platform/internal/domain"
	"github.com/marketplace/trust-platform/internal/edge"
	"github.com/marketplace/trust-platform/internal/keys"
	"github.com/marketplace/trust-platform/internal/revocation"
	"github.com/marketplace/trust-platform/internal/token"
)

// newJWKSServer serves store's active key set, standing in for the
// Identity Authority in kernel tests.
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

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestAuthorizeTenantIsolationBeforeOwnership(t *testing.T) {
	owner := uuid.New()
	tenant := uuid.New()
	other := uuid.New()

	p := domain.Principal{UserID: owner, TenantID: tenant, Roles: []domain.Role{domain.RoleCustomer}}

	// Same tenant, same owner: allowed.
	require.NoError(t, Authorize(p, ResourceRef{TenantID: tenant, OwnerID: owner}))

	// Same tenant, different owner: forbidden.
	assert.ErrorIs(t, Authorize(p, ResourceRef{TenantID: tenant, OwnerID: other}), ErrForbidden)

	// Different tenant, same owner id (coincidentally): not found, never
	// forbidden, so cross-tenant existence can't be probed.
	assert.ErrorIs(t, Authorize(p, ResourceRef{TenantID: other, OwnerID: owner}), ErrNotFound)
}

func TestAuthorizeElevatedRoleBypassesOwnership(t *testing.T) {
	tenant := uuid.New()
	admin := domain.Principal{UserID: uuid.New(), TenantID: tenant, Roles: []domain.Role{domain.RoleAdmin}}

	require.NoError(t, Authorize(admin, ResourceRef{TenantID: tenant, OwnerID: uuid.New()}))
	assert.ErrorIs(t, Authorize(admin, ResourceRef{TenantID: uuid.New(), OwnerID: uuid.New()}), ErrNotFound)
}

func TestAuthenticateInjectsPrincipalFromVerifiedClaimsOnly(t *testing.T) {
	ctx := context.Background()
	store := keys.NewMemoryStore()
	require.NoError(t, store.EnsureBootstrap(ctx, 90*24*time.Hour))
	minter := token.New(store, "https://identity.marketplace.internal", time.Hour)

	server := newJWKSServer(t, store)
	defer server.Close()

	cache := edge.NewJWKSCache(server.URL+"/.well-known/jwks.json", time.Minute, time.Hour)
	cache.Start(ctx)

	k := New(cache, revocation.NewMemoryIndex(), discardLogger())

	userID, tenantID := uuid.New(), uuid.New()
	signed, _, err := minter.MintAccess(ctx, userID, tenantID, []domain.Role{domain.RoleSeller})
	require.NoError(t, err)

	var captured domain.Principal
	handler := k.Authenticate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = PrincipalFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	// Forged advisory headers must be ignored: only the verified token
	// claims should determine the injected principal.
	req := httptest.NewRequest(http.MethodGet, "/resource", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	req.Header.Set("X-User-Id", uuid.New().String())
	req.Header.Set("X-Tenant-Id", uuid.New().String())
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, userID, captured.UserID)
	assert.Equal(t, tenantID, captured.TenantID)
	assert.True(t, captured.HasRole(domain.RoleSeller))
}

func TestAuthenticateRejectsMissingCredential(t *testing.T) {
	k := New(edge.NewJWKSCache("http://example.invalid/jwks.json", time.Minute, time.Hour), revocation.NewMemoryIndex(), discardLogger())
	handler := k.Authenticate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be reached")
	}))

	req := httptest.NewRequest(http.MethodGet, "/resource", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
