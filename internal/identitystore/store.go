package identitystore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/marketplace/trust-platform/internal/apierr"
	"github.com/marketplace/trust-platform/internal/domain"
)

const uniqueViolationCode = "23505"

// Querier is satisfied by both *pgxpool.Pool and pgx.Tx. Store's own
// methods do not take one: they always run against the pool Store wraps.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store is the Identity Store (C5): CRUD over tenants, user accounts, role
// grants and refresh tokens.
type Store struct {
	pool *pgxpool.Pool
}

// New wraps pool. Every Store method runs directly against the bare pool;
// none of them runs inside a WithTenantContext transaction, so tenant
// scoping comes only from the explicit tenant_id predicates of the
// email/phone lookups.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Pool exposes the underlying pool for WithTenantContext/WithoutRLS callers.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

// --- Tenants ---

// CreateTenant inserts a new tenant row. Tenant creation is a system-level
// operation (it precedes any RLS context that could name it), so it always
// runs against the bare pool.
func (s *Store) CreateTenant(ctx context.Context, name string) (domain.Tenant, error) {
	t := domain.Tenant{
		ID:     uuid.New(),
		Name:   name,
		Status: domain.TenantActive,
	}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO tenants (id, name, status)
		VALUES ($1, $2, $3)
		RETURNING created_at, updated_at
	`, t.ID, t.Name, t.Status).Scan(&t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return domain.Tenant{}, fmt.Errorf("identitystore: create tenant: %w", err)
	}
	return t, nil
}

func (s *Store) GetTenant(ctx context.Context, id uuid.UUID) (domain.Tenant, error) {
	var t domain.Tenant
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, status, created_at, updated_at FROM tenants WHERE id = $1
	`, id).Scan(&t.ID, &t.Name, &t.Status, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Tenant{}, apierr.New(apierr.InvalidTenant, "tenant not found")
	}
	if err != nil {
		return domain.Tenant{}, fmt.Errorf("identitystore: get tenant: %w", err)
	}
	return t, nil
}

// --- User accounts ---

// CreateUser inserts a user account and its initial role grant in one
// transaction, so a user is never persisted without at least one role.
// Unique-violations on (email, tenant_id) or (phone, tenant_id) are
// translated to apierr.EmailTaken / apierr.PhoneTaken per spec.md §7.
func (s *Store) CreateUser(ctx context.Context, u domain.UserAccount, role domain.Role) (domain.UserAccount, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return domain.UserAccount{}, fmt.Errorf("identitystore: begin create user tx: %w", err)
	}
	defer tx.Rollback(ctx)

	u.ID = uuid.New()
	err = tx.QueryRow(ctx, `
		INSERT INTO user_accounts
			(id, email, phone, password_hash, salt, tenant_id, enabled, email_verified, phone_verified, deleted)
		VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), $4, $5, $6, true, false, false, false)
		RETURNING created_at, updated_at
	`, u.ID, u.Email, u.Phone, u.PasswordHash, u.Salt, u.TenantID).Scan(&u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if kind, ok := uniqueViolationKind(err); ok {
			return domain.UserAccount{}, apierr.Wrap(kind, err, "account already exists for this tenant")
		}
		return domain.UserAccount{}, fmt.Errorf("identitystore: create user: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO role_grants (user_id, role) VALUES ($1, $2)
	`, u.ID, role); err != nil {
		return domain.UserAccount{}, fmt.Errorf("identitystore: grant initial role: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.UserAccount{}, fmt.Errorf("identitystore: commit create user tx: %w", err)
	}
	u.Enabled = true
	return u, nil
}

// uniqueViolationKind inspects err for a Postgres unique_violation on the
// email or phone uniqueness constraints and maps it to the matching
// apierr.Kind. Constraint names follow the migration in migrations/.
func uniqueViolationKind(err error) (apierr.Kind, bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != uniqueViolationCode {
		return "", false
	}
	switch pgErr.ConstraintName {
	case "user_accounts_email_tenant_id_key":
		return apierr.EmailTaken, true
	case "user_accounts_phone_tenant_id_key":
		return apierr.PhoneTaken, true
	default:
		return apierr.EmailTaken, true
	}
}

func (s *Store) GetUserByEmail(ctx context.Context, tenantID uuid.UUID, email string) (domain.UserAccount, error) {
	return s.getUserBy(ctx, "email", tenantID, email)
}

func (s *Store) GetUserByPhone(ctx context.Context, tenantID uuid.UUID, phone string) (domain.UserAccount, error) {
	return s.getUserBy(ctx, "phone", tenantID, phone)
}

func (s *Store) getUserBy(ctx context.Context, column string, tenantID uuid.UUID, value string) (domain.UserAccount, error) {
	query := fmt.Sprintf(`
		SELECT id, email, phone, password_hash, salt, tenant_id, enabled, email_verified, phone_verified, deleted, created_at, updated_at
		FROM user_accounts
		WHERE %s = $1 AND tenant_id = $2 AND deleted = false
	`, column)
	var u domain.UserAccount
	err := s.pool.QueryRow(ctx, query, value, tenantID).Scan(
		&u.ID, &u.Email, &u.Phone, &u.PasswordHash, &u.Salt, &u.TenantID,
		&u.Enabled, &u.EmailVerified, &u.PhoneVerified, &u.Deleted, &u.CreatedAt, &u.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.UserAccount{}, apierr.New(apierr.BadCredentials, "no account for these credentials")
	}
	if err != nil {
		return domain.UserAccount{}, fmt.Errorf("identitystore: get user by %s: %w", column, err)
	}
	return u, nil
}

func (s *Store) GetUserByID(ctx context.Context, id uuid.UUID) (domain.UserAccount, error) {
	var u domain.UserAccount
	err := s.pool.QueryRow(ctx, `
		SELECT id, email, phone, password_hash, salt, tenant_id, enabled, email_verified, phone_verified, deleted, created_at, updated_at
		FROM user_accounts WHERE id = $1 AND deleted = false
	`, id).Scan(
		&u.ID, &u.Email, &u.Phone, &u.PasswordHash, &u.Salt, &u.TenantID,
		&u.Enabled, &u.EmailVerified, &u.PhoneVerified, &u.Deleted, &u.CreatedAt, &u.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.UserAccount{}, apierr.New(apierr.NotFound, "user not found")
	}
	if err != nil {
		return domain.UserAccount{}, fmt.Errorf("identitystore: get user by id: %w", err)
	}
	return u, nil
}

// RolesForUser returns the set of roles granted to userID.
func (s *Store) RolesForUser(ctx context.Context, userID uuid.UUID) ([]domain.Role, error) {
	rows, err := s.pool.Query(ctx, `SELECT role FROM role_grants WHERE user_id = $1`, userID)
	if err != nil {
		return nil, fmt.Errorf("identitystore: roles for user: %w", err)
	}
	defer rows.Close()

	var roles []domain.Role
	for rows.Next() {
		var r domain.Role
		if err := rows.Scan(&r); err != nil {
			return nil, fmt.Errorf("identitystore: scan role: %w", err)
		}
		roles = append(roles, r)
	}
	return roles, rows.Err()
}

// --- Refresh tokens ---

// CreateRefreshToken persists a new token row with rt.ParentID as given.
// The orchestrator leaves ParentID as the zero UUID for every token,
// rotated ones included; a rotation continues rt.FamilyID, and
// RevokeFamily revokes by family_id alone.
func (s *Store) CreateRefreshToken(ctx context.Context, rt domain.RefreshToken) (domain.RefreshToken, error) {
	rt.ID = uuid.New()
	err := s.pool.QueryRow(ctx, `
		INSERT INTO refresh_tokens
			(id, user_id, tenant_id, family_id, parent_id, token_hash, expires_at, revoked, ip, user_agent)
		VALUES ($1, $2, $3, $4, $5, $6, $7, false, $8, $9)
		RETURNING created_at
	`, rt.ID, rt.UserID, rt.TenantID, rt.FamilyID, rt.ParentID, rt.TokenHash, rt.ExpiresAt, rt.IP, rt.UserAgent).Scan(&rt.CreatedAt)
	if err != nil {
		return domain.RefreshToken{}, fmt.Errorf("identitystore: create refresh token: %w", err)
	}
	return rt, nil
}

func (s *Store) GetRefreshTokenByHash(ctx context.Context, tokenHash string) (domain.RefreshToken, error) {
	var rt domain.RefreshToken
	err := s.pool.QueryRow(ctx, `
		SELECT id, user_id, tenant_id, family_id, parent_id, token_hash, expires_at, revoked, revoked_at, ip, user_agent, created_at
		FROM refresh_tokens WHERE token_hash = $1
	`, tokenHash).Scan(
		&rt.ID, &rt.UserID, &rt.TenantID, &rt.FamilyID, &rt.ParentID, &rt.TokenHash,
		&rt.ExpiresAt, &rt.Revoked, &rt.RevokedAt, &rt.IP, &rt.UserAgent, &rt.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.RefreshToken{}, apierr.New(apierr.Unauthorized, "refresh token not recognized")
	}
	if err != nil {
		return domain.RefreshToken{}, fmt.Errorf("identitystore: get refresh token: %w", err)
	}
	return rt, nil
}

// GetRefreshTokenByID looks up a session row by its id, for callers that
// must check ownership (user/tenant) before acting on it, such as
// DELETE /auth/sessions/{id}.
func (s *Store) GetRefreshTokenByID(ctx context.Context, id uuid.UUID) (domain.RefreshToken, error) {
	var rt domain.RefreshToken
	err := s.pool.QueryRow(ctx, `
		SELECT id, user_id, tenant_id, family_id, parent_id, token_hash, expires_at, revoked, revoked_at, ip, user_agent, created_at
		FROM refresh_tokens WHERE id = $1
	`, id).Scan(
		&rt.ID, &rt.UserID, &rt.TenantID, &rt.FamilyID, &rt.ParentID, &rt.TokenHash,
		&rt.ExpiresAt, &rt.Revoked, &rt.RevokedAt, &rt.IP, &rt.UserAgent, &rt.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.RefreshToken{}, apierr.New(apierr.NotFound, "session not found")
	}
	if err != nil {
		return domain.RefreshToken{}, fmt.Errorf("identitystore: get refresh token by id: %w", err)
	}
	return rt, nil
}

// RevokeRefreshToken marks a single token row revoked (used when rotating:
// the orchestrator revokes the presented token and then creates its
// replacement as two separate statements, not in one transaction).
func (s *Store) RevokeRefreshToken(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE refresh_tokens SET revoked = true, revoked_at = now() WHERE id = $1 AND revoked = false
	`, id)
	if err != nil {
		return fmt.Errorf("identitystore: revoke refresh token: %w", err)
	}
	return nil
}

// RevokeFamily revokes every token sharing familyID, used when a reused
// (already-revoked) token is presented: the whole chain is compromised.
func (s *Store) RevokeFamily(ctx context.Context, familyID uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE refresh_tokens SET revoked = true, revoked_at = now() WHERE family_id = $1 AND revoked = false
	`, familyID)
	if err != nil {
		return fmt.Errorf("identitystore: revoke family: %w", err)
	}
	return nil
}

// RevokeAllForUser revokes every refresh token belonging to userID, used
// by LogoutAll alongside the revocation epoch bump.
func (s *Store) RevokeAllForUser(ctx context.Context, userID uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE refresh_tokens SET revoked = true, revoked_at = now() WHERE user_id = $1 AND revoked = false
	`, userID)
	if err != nil {
		return fmt.Errorf("identitystore: revoke all for user: %w", err)
	}
	return nil
}

// ListActiveSessions returns the non-revoked, non-expired refresh tokens
// for userID, newest first, backing GET /auth/sessions.
func (s *Store) ListActiveSessions(ctx context.Context, userID uuid.UUID) ([]domain.RefreshToken, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, tenant_id, family_id, parent_id, token_hash, expires_at, revoked, revoked_at, ip, user_agent, created_at
		FROM refresh_tokens
		WHERE user_id = $1 AND revoked = false AND expires_at > now()
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("identitystore: list active sessions: %w", err)
	}
	defer rows.Close()

	var out []domain.RefreshToken
	for rows.Next() {
		var rt domain.RefreshToken
		if err := rows.Scan(
			&rt.ID, &rt.UserID, &rt.TenantID, &rt.FamilyID, &rt.ParentID, &rt.TokenHash,
			&rt.ExpiresAt, &rt.Revoked, &rt.RevokedAt, &rt.IP, &rt.UserAgent, &rt.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("identitystore: scan session: %w", err)
		}
		out = append(out, rt)
	}
	return out, rows.Err()
}

// PruneExpiredRefreshTokens deletes rows whose expiry lies more than
// olderThan in the past, called by the janitor. Runs outside any tenant context since it sweeps every tenant.
func (s *Store) PruneExpiredRefreshTokens(ctx context.Context, olderThan time.Duration) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM refresh_tokens WHERE expires_at < now() - $1::interval
	`, fmt.Sprintf("%d seconds", int64(olderThan.Seconds())))
	if err != nil {
		return 0, fmt.Errorf("identitystore: prune refresh tokens: %w", err)
	}
	return tag.RowsAffected(), nil
}
