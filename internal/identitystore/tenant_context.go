// Package identitystore implements the Identity Store (C5): persistence
// for tenants, user accounts, role grants and refresh tokens, with the
// tenant-scoped Row Level Security pattern the teacher's
// internal/storage/db_context.go establishes. There is no sqlc-generated
// query layer here (the retrieval pack filtered that out as generated
// code), so every query is raw pgx, grounded on the same file's
// WithTenantContext/WithoutRLS split.
package identitystore

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// WithTenantContext runs fn inside a transaction with app.current_tenant
// set via SET LOCAL, so every RLS policy evaluated inside fn sees the
// caller's tenant boundary. The setting is transaction-scoped and is
// discarded automatically when the transaction ends.
func WithTenantContext(ctx context.Context, pool *pgxpool.Pool, tenantID uuid.UUID, fn func(tx pgx.Tx) error) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("identitystore: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "SELECT set_config('app.current_tenant', $1, true)", tenantID.String()); err != nil {
		return fmt.Errorf("identitystore: set tenant context: %w", err)
	}
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("identitystore: commit tx: %w", err)
	}
	return nil
}

// WithoutRLS runs fn inside a transaction with no tenant context set, for
// system-level operations that must see every tenant's rows. The janitor's
// refresh-token sweep and the audit DB writer do not use it; they call the
// pool directly.
func WithoutRLS(ctx context.Context, pool *pgxpool.Pool, fn func(tx pgx.Tx) error) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("identitystore: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("identitystore: commit tx: %w", err)
	}
	return nil
}
