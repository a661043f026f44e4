// cmd/janitor sweeps expired refresh tokens and retired signing keys on an
// hourly tick, adapted from the teacher's cmd/worker.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/marketplace/trust-platform/internal/config"
	"github.com/marketplace/trust-platform/internal/identitystore"
	"github.com/marketplace/trust-platform/internal/keys"
	applogger "github.com/marketplace/trust-platform/pkg/logger"
)

func main() {
	_ = godotenv.Load(".env.local")
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	logger := applogger.Setup(cfg.Environment)

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("database_connect_failed", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	store := identitystore.New(pool)
	keyStore := keys.NewPostgresStore(pool)

	logger.Info("janitor_started", "interval", "1h")

	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	runJanitor(ctx, store, keyStore, logger)

	for {
		select {
		case <-ticker.C:
			runJanitor(ctx, store, keyStore, logger)
		case <-quit:
			logger.Info("janitor_shutting_down")
			return
		}
	}
}

func runJanitor(ctx context.Context, store *identitystore.Store, keyStore *keys.PostgresStore, logger *slog.Logger) {
	logger.Info("janitor_cycle_started")

	deleted, err := store.PruneExpiredRefreshTokens(ctx, 30*24*time.Hour)
	if err != nil {
		logger.Error("prune_refresh_tokens_failed", "error", err)
	} else if deleted > 0 {
		logger.Info("pruned_refresh_tokens", "deleted", deleted)
	}

	retired, err := keyStore.PruneRetiredKeys(ctx, 30*24*time.Hour)
	if err != nil {
		logger.Error("prune_retired_keys_failed", "error", err)
	} else if retired > 0 {
		logger.Info("pruned_retired_keys", "deleted", retired)
	}
}
