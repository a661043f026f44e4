package keys

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists signing keys in the signing_keys table, the same
// raw-pgx style as the teacher's internal/storage/storage.go (no sqlc
// layer, since the retrieval pack did not carry the teacher's generated
// db package).
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore wraps an existing pool. The pool is owned by the caller.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) ActiveKeysAt(ctx context.Context, at time.Time) ([]Key, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT kid, public_key_pem, created_at, expires_at, retired_at
		FROM signing_keys
		WHERE expires_at > $1
		ORDER BY created_at DESC
	`, at)
	if err != nil {
		return nil, fmt.Errorf("keys: query active keys: %w", err)
	}
	defer rows.Close()

	var out []Key
	for rows.Next() {
		k, err := scanKeyRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

func (s *PostgresStore) PrimarySigningKeyAt(ctx context.Context, at time.Time) (Key, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT kid, public_key_pem, created_at, expires_at, retired_at
		FROM signing_keys
		WHERE expires_at > $1 AND retired_at IS NULL
		ORDER BY created_at DESC
		LIMIT 1
	`, at)
	k, err := scanKeyRow(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Key{}, ErrNoActiveKey
	}
	if err != nil {
		return Key{}, err
	}
	return s.attachPrivate(ctx, k)
}

func (s *PostgresStore) Get(ctx context.Context, kid string) (Key, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT kid, public_key_pem, created_at, expires_at, retired_at
		FROM signing_keys
		WHERE kid = $1
	`, kid)
	k, err := scanKeyRow(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Key{}, ErrKeyNotFound
	}
	if err != nil {
		return Key{}, err
	}
	return s.attachPrivate(ctx, k)
}

// attachPrivate loads and parses the private key material for a key row
// that callers intend to sign with or hand to the Token Minter. Read paths
// that only need the public half (ActiveKeysAt, JWKS publication) skip this
// to avoid loading and parsing private key material unnecessarily.
func (s *PostgresStore) attachPrivate(ctx context.Context, k Key) (Key, error) {
	var pemStr string
	err := s.pool.QueryRow(ctx, `SELECT private_key_pem FROM signing_keys WHERE kid = $1`, k.Kid).Scan(&pemStr)
	if err != nil {
		return Key{}, fmt.Errorf("keys: load private key %s: %w", k.Kid, err)
	}
	priv, err := parsePrivatePEM(pemStr)
	if err != nil {
		return Key{}, err
	}
	k.private = priv
	return k, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanKeyRow(row rowScanner) (Key, error) {
	var k Key
	var retiredAt *time.Time
	if err := row.Scan(&k.Kid, &k.PublicKeyPEM, &k.CreatedAt, &k.ExpiresAt, &retiredAt); err != nil {
		return Key{}, err
	}
	k.RetiredAt = retiredAt
	return k, nil
}

func (s *PostgresStore) EnsureBootstrap(ctx context.Context, expiry time.Duration) error {
	var count int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM signing_keys WHERE expires_at > now()`).Scan(&count); err != nil {
		return fmt.Errorf("keys: count active keys: %w", err)
	}
	if count > 0 {
		return nil
	}
	_, err := s.insertKey(ctx, expiry)
	return err
}

func (s *PostgresStore) Rotate(ctx context.Context, expiry time.Duration) (Key, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Key{}, fmt.Errorf("keys: begin rotate tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `UPDATE signing_keys SET retired_at = now() WHERE retired_at IS NULL`); err != nil {
		return Key{}, fmt.Errorf("keys: retire previous keys: %w", err)
	}

	k, err := generateKey(time.Now().UTC(), expiry)
	if err != nil {
		return Key{}, err
	}
	privPEM := encodePrivatePEM(k.private)
	_, err = tx.Exec(ctx, `
		INSERT INTO signing_keys (kid, public_key_pem, private_key_pem, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)
	`, k.Kid, k.PublicKeyPEM, privPEM, k.CreatedAt, k.ExpiresAt)
	if err != nil {
		return Key{}, fmt.Errorf("keys: insert rotated key: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return Key{}, fmt.Errorf("keys: commit rotate tx: %w", err)
	}
	return k, nil
}

func (s *PostgresStore) insertKey(ctx context.Context, expiry time.Duration) (Key, error) {
	k, err := generateKey(time.Now().UTC(), expiry)
	if err != nil {
		return Key{}, err
	}
	privPEM := encodePrivatePEM(k.private)
	_, err = s.pool.Exec(ctx, `
		INSERT INTO signing_keys (kid, public_key_pem, private_key_pem, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)
	`, k.Kid, k.PublicKeyPEM, privPEM, k.CreatedAt, k.ExpiresAt)
	if err != nil {
		return Key{}, fmt.Errorf("keys: insert bootstrap key: %w", err)
	}
	return k, nil
}

// PruneRetiredKeys deletes signing keys retired more than olderThan ago.
// A retired key is kept around for a grace period after rotation so tokens
// signed moments before the rotation can still be verified; past that
// window it is safe to delete.
func (s *PostgresStore) PruneRetiredKeys(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	tag, err := s.pool.Exec(ctx, `DELETE FROM signing_keys WHERE retired_at IS NOT NULL AND retired_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("keys: prune retired keys: %w", err)
	}
	return tag.RowsAffected(), nil
}

var _ Store = (*PostgresStore)(nil)
