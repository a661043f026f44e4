package keys

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreBootstrapAndRotate(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	require.NoError(t, store.EnsureBootstrap(ctx, 90*24*time.Hour))
	first, err := store.PrimarySigningKeyAt(ctx, time.Now())
	require.NoError(t, err)
	require.NotEmpty(t, first.Kid)
	require.NotNil(t, first.PrivateKey())

	// Bootstrap is a no-op once a key exists.
	require.NoError(t, store.EnsureBootstrap(ctx, 90*24*time.Hour))
	active, err := store.ActiveKeysAt(ctx, time.Now())
	require.NoError(t, err)
	require.Len(t, active, 1)

	rotated, err := store.Rotate(ctx, 90*24*time.Hour)
	require.NoError(t, err)
	assert.NotEqual(t, first.Kid, rotated.Kid)

	// Both keys are still active for verification purposes.
	active, err = store.ActiveKeysAt(ctx, time.Now())
	require.NoError(t, err)
	assert.Len(t, active, 2)

	// But only the unretired one is the signing key.
	primary, err := store.PrimarySigningKeyAt(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, rotated.Kid, primary.Kid)

	retrieved, err := store.Get(ctx, first.Kid)
	require.NoError(t, err)
	assert.NotNil(t, retrieved.RetiredAt)
}

func TestPublishJWKSSkipsUnparsableKeys(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.EnsureBootstrap(ctx, time.Hour))
	store.keys["broken"] = Key{Kid: "broken", PublicKeyPEM: "not a pem", CreatedAt: time.Now(), ExpiresAt: time.Now().Add(time.Hour)}

	jwks, err := PublishJWKS(ctx, store, time.Now())
	require.NoError(t, err)
	require.Len(t, jwks.Keys, 1)
	assert.Equal(t, "RSA", jwks.Keys[0].Kty)
	assert.Equal(t, "RS256", jwks.Keys[0].Alg)
	assert.NotEmpty(t, jwks.Keys[0].N)
	assert.NotEmpty(t, jwks.Keys[0].E)
}

func TestPrimarySigningKeyAtNoActiveKey(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	_, err := store.PrimarySigningKeyAt(ctx, time.Now())
	assert.ErrorIs(t, err, ErrNoActiveKey)
}
