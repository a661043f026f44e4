// cmd/keygen forces a signing key rotation against the Key Store, adapted
// from the teacher's cmd/keygen (which printed a single RSA PEM to paste
// into an env var). The Key Store now owns key material in Postgres, so
// this tool rotates in place instead of minting a standalone key.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/marketplace/trust-platform/internal/audit"
	"github.com/marketplace/trust-platform/internal/config"
	"github.com/marketplace/trust-platform/internal/keys"
)

func main() {
	_ = godotenv.Load(".env.local")
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	store := keys.NewPostgresStore(pool)
	if err := store.EnsureBootstrap(ctx, cfg.KeyExpiry); err != nil {
		fmt.Fprintf(os.Stderr, "bootstrap: %v\n", err)
		os.Exit(1)
	}

	k, err := store.Rotate(ctx, cfg.KeyExpiry)
	if err != nil {
		fmt.Fprintf(os.Stderr, "rotate: %v\n", err)
		os.Exit(1)
	}
	audit.NewDBService(pool, slog.Default()).Log(ctx, audit.EventKeyRotated, audit.LogParams{Metadata: map[string]string{"kid": k.Kid}})

	fmt.Printf("rotated signing key, new kid=%s expires_at=%s\n", k.Kid, k.ExpiresAt.Format("2006-01-02T15:04:05Z07:00"))
}
