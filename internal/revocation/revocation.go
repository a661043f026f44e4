// Package revocation implements the Revocation Index (C4): a TTL-keyed
// blacklist of individually revoked access tokens plus a per-user
// revocation epoch used for "log out everywhere". The Redis client
// construction follows iliyamo-cinema-seat-reservation's
// internal/config/redis.go (env-driven, short ping timeout, nil client on
// failure rather than a hard crash at boot); the keyspace is the one
// spec.md §4.4 names exactly: jwt:blacklist:<jti> and
// user:revocation-epoch:<user_id>.
package revocation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// FailMode controls what IsRevoked returns when the backing store cannot
// be reached.
type FailMode string

const (
	// FailOpen treats an unreachable store as "not revoked" (availability
	// over strictness).
	FailOpen FailMode = "open"
	// FailClosed treats an unreachable store as "revoked" (strictness over
	// availability). Logout-critical writes (RevokeToken, RevokeAllForUser)
	// always fail closed regardless of this setting, since a failed
	// revocation write must never look like a successful logout.
	FailClosed FailMode = "closed"
)

// Index is the C4 contract.
type Index interface {
	// RevokeToken blacklists a single jti until it would have expired
	// anyway (ttl should be the token's remaining lifetime).
	RevokeToken(ctx context.Context, jti string, ttl time.Duration) error
	// IsRevoked reports whether jti is individually blacklisted, or the
	// token's issued-at predates the user's current revocation epoch.
	IsRevoked(ctx context.Context, jti string, userID uuid.UUID, issuedAt time.Time) (bool, error)
	// RevokeAllForUser advances the user's revocation epoch so every token
	// issued before now stops validating.
	RevokeAllForUser(ctx context.Context, userID uuid.UUID) error
	// EpochFor returns the user's current revocation epoch, or the zero
	// time if none has ever been set.
	EpochFor(ctx context.Context, userID uuid.UUID) (time.Time, error)
}

func blacklistKey(jti string) string { return "jwt:blacklist:" + jti }
func epochKey(userID uuid.UUID) string { return "user:revocation-epoch:" + userID.String() }

// RedisIndex is the production Index implementation.
type RedisIndex struct {
	client   *redis.Client
	failMode FailMode
	timeout  time.Duration
	logger   *slog.Logger
}

// NewRedisClient builds a *redis.Client from a redis:// URL, pinging it
// with a short timeout so a misconfigured or unreachable store is caught
// at construction rather than surfacing as a mysterious per-request error,
// the same defensive pattern iliyamo's NewRedisClient uses.
func NewRedisClient(ctx context.Context, url string, logger *slog.Logger) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("revocation: parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Error("revocation_store_unreachable_at_boot", "error", err)
		return nil, fmt.Errorf("revocation: ping redis: %w", err)
	}
	return client, nil
}

// NewRedisIndex wraps client. timeout bounds every call so a slow-but-alive
// Redis can't stall the request path indefinitely; on timeout the call is
// treated the same as a connection failure.
func NewRedisIndex(client *redis.Client, failMode FailMode, timeout time.Duration, logger *slog.Logger) *RedisIndex {
	return &RedisIndex{client: client, failMode: failMode, timeout: timeout, logger: logger}
}

func (r *RedisIndex) RevokeToken(ctx context.Context, jti string, ttl time.Duration) error {
	if ttl <= 0 {
		// Token has already expired; nothing to blacklist.
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	if err := r.client.Set(ctx, blacklistKey(jti), "1", ttl).Err(); err != nil {
		r.logger.Error("revocation_write_failed", "jti", jti, "error", err)
		return fmt.Errorf("revocation: blacklist token: %w", err)
	}
	return nil
}

func (r *RedisIndex) RevokeAllForUser(ctx context.Context, userID uuid.UUID) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	now := time.Now().UTC()
	// No expiry: the epoch key is kept indefinitely; nothing in this
	// repository deletes it.
	if err := r.client.Set(ctx, epochKey(userID), strconv.FormatInt(now.UnixNano(), 10), 0).Err(); err != nil {
		r.logger.Error("revocation_epoch_write_failed", "user_id", userID, "error", err)
		return fmt.Errorf("revocation: advance epoch: %w", err)
	}
	return nil
}

func (r *RedisIndex) EpochFor(ctx context.Context, userID uuid.UUID) (time.Time, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	val, err := r.client.Get(ctx, epochKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("revocation: read epoch: %w", err)
	}
	nanos, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("revocation: corrupt epoch value: %w", err)
	}
	return time.Unix(0, nanos).UTC(), nil
}

func (r *RedisIndex) IsRevoked(ctx context.Context, jti string, userID uuid.UUID, issuedAt time.Time) (bool, error) {
	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	exists, err := r.client.Exists(callCtx, blacklistKey(jti)).Result()
	if err != nil {
		return r.handleUnavailable(ctx, "blacklist_check", err)
	}
	if exists > 0 {
		return true, nil
	}

	epoch, err := r.EpochFor(ctx, userID)
	if err != nil {
		return r.handleUnavailable(ctx, "epoch_check", err)
	}
	if !epoch.IsZero() && !issuedAt.After(epoch) {
		return true, nil
	}
	return false, nil
}

func (r *RedisIndex) handleUnavailable(ctx context.Context, op string, cause error) (bool, error) {
	r.logger.Warn("revocation_store_unavailable", "op", op, "fail_mode", r.failMode, "error", cause)
	if r.failMode == FailClosed {
		return true, nil
	}
	return false, nil
}

var _ Index = (*RedisIndex)(nil)
