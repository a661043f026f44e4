package revocation

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryIndex is an in-process Index fake for tests, mirroring the
// blacklist-plus-epoch semantics of RedisIndex without a network
// dependency.
type MemoryIndex struct {
	mu         sync.Mutex
	blacklist  map[string]time.Time // jti -> expiry
	epochs     map[uuid.UUID]time.Time
}

// NewMemoryIndex returns an empty MemoryIndex.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{
		blacklist: make(map[string]time.Time),
		epochs:    make(map[uuid.UUID]time.Time),
	}
}

func (m *MemoryIndex) RevokeToken(ctx context.Context, jti string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blacklist[jti] = time.Now().Add(ttl)
	return nil
}

func (m *MemoryIndex) RevokeAllForUser(ctx context.Context, userID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.epochs[userID] = time.Now().UTC()
	return nil
}

func (m *MemoryIndex) EpochFor(ctx context.Context, userID uuid.UUID) (time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.epochs[userID], nil
}

func (m *MemoryIndex) IsRevoked(ctx context.Context, jti string, userID uuid.UUID, issuedAt time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if expiry, ok := m.blacklist[jti]; ok {
		if time.Now().Before(expiry) {
			return true, nil
		}
		delete(m.blacklist, jti)
	}
	epoch := m.epochs[userID]
	if !epoch.IsZero() && !issuedAt.After(epoch) {
		return true, nil
	}
	return false, nil
}

var _ Index = (*MemoryIndex)(nil)
