package revocation

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryIndexBlacklist(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex()
	userID := uuid.New()

	revoked, err := idx.IsRevoked(ctx, "jti-1", userID, time.Now())
	require.NoError(t, err)
	assert.False(t, revoked)

	require.NoError(t, idx.RevokeToken(ctx, "jti-1", time.Minute))
	revoked, err = idx.IsRevoked(ctx, "jti-1", userID, time.Now())
	require.NoError(t, err)
	assert.True(t, revoked)
}

func TestMemoryIndexRevocationEpoch(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex()
	userID := uuid.New()

	issuedBefore := time.Now()
	time.Sleep(time.Millisecond)
	require.NoError(t, idx.RevokeAllForUser(ctx, userID))
	time.Sleep(time.Millisecond)
	issuedAfter := time.Now()

	revokedOld, err := idx.IsRevoked(ctx, "jti-old", userID, issuedBefore)
	require.NoError(t, err)
	assert.True(t, revokedOld, "token issued before the epoch must be revoked")

	revokedNew, err := idx.IsRevoked(ctx, "jti-new", userID, issuedAfter)
	require.NoError(t, err)
	assert.False(t, revokedNew, "token issued after the epoch must still validate")
}

func TestRevokeTokenNoopOnNonPositiveTTL(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex()
	require.NoError(t, idx.RevokeToken(ctx, "jti-expired", 0))
	revoked, err := idx.IsRevoked(ctx, "jti-expired", uuid.New(), time.Now())
	require.NoError(t, err)
	assert.False(t, revoked)
}
