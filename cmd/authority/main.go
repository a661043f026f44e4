package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/marketplace/trust-platform/internal/audit"
	"github.com/marketplace/trust-platform/internal/authority"
	"github.com/marketplace/trust-platform/internal/config"
	"github.com/marketplace/trust-platform/internal/identitystore"
	"github.com/marketplace/trust-platform/internal/keys"
	"github.com/marketplace/trust-platform/internal/orchestrator"
	"github.com/marketplace/trust-platform/internal/password"
	"github.com/marketplace/trust-platform/internal/revocation"
	"github.com/marketplace/trust-platform/internal/token"
	applogger "github.com/marketplace/trust-platform/pkg/logger"
)

func main() {
	_ = godotenv.Load(".env.local")
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log := applogger.Setup(cfg.Environment)
	log.Info("authority_startup", "env", cfg.Environment)

	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{Dsn: cfg.SentryDSN, TracesSampleRate: 1.0, Environment: cfg.Environment}); err != nil {
			log.Error("sentry_init_failed", "error", err)
		} else {
			defer sentry.Flush(2 * time.Second)
		}
	}

	ctx := context.Background()

	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		log.Error("database_url_parse_failed", "error", err)
		os.Exit(1)
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		log.Error("database_pool_create_failed", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		log.Error("database_ping_failed", "error", err)
		os.Exit(1)
	}
	log.Info("database_connected")

	keyStore := keys.NewPostgresStore(pool)
	if err := keyStore.EnsureBootstrap(ctx, cfg.KeyExpiry); err != nil {
		log.Error("key_store_bootstrap_failed", "error", err)
		os.Exit(1)
	}

	hasherParams := password.DefaultParams()
	hasherParams.Iterations = cfg.KDFIterations
	hasherParams.MemoryKiB = cfg.KDFMemoryKiB
	hasherParams.Parallelism = cfg.KDFParallelism
	hasherParams.SaltLength = cfg.KDFSaltLength
	hasherParams.HashLength = cfg.KDFHashLength
	hasher, err := password.New(cfg.PasswordPepper, hasherParams)
	if err != nil {
		log.Error("password_hasher_init_failed", "error", err)
		os.Exit(1)
	}

	minter := token.New(keyStore, cfg.Issuer, cfg.AccessTTL)

	redisClient, err := revocation.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Error("redis_connect_failed", "error", err)
		os.Exit(1)
	}
	revocationIndex := revocation.NewRedisIndex(redisClient, revocation.FailMode(cfg.RevocationFailMode), cfg.RevocationTimeout, log)

	auditService := audit.NewDBService(pool, log)

	identityStore := identitystore.New(pool)
	orchSvc := orchestrator.New(identityStore, hasher, minter, revocationIndex, auditService, cfg.AccessTTL, cfg.RefreshTTL)

	handlers := authority.New(orchSvc, keyStore, minter, revocationIndex, authority.CookieConfig{
		Domain:       cfg.CookieDomain,
		Secure:       cfg.Environment == "production",
		SameSiteNone: cfg.CookieSameSiteNone,
		AccessTTL:    cfg.AccessTTL,
		RefreshTTL:   cfg.RefreshTTL,
	}, log)

	router := authority.NewRouter(handlers, log)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		log.Info("server_listening", "port", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrors <- err
		}
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		log.Error("server_startup_failed", "error", err)
		os.Exit(1)
	case sig := <-shutdown:
		log.Info("shutdown_signal_received", "signal", sig)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful_shutdown_failed", "error", err)
			_ = srv.Close()
		}
		pool.Close()
		log.Info("server_shutdown_complete")
	}
}
