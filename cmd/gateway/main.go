package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/gofiber/fiber/v2"
	"github.com/joho/godotenv"

	"github.com/marketplace/trust-platform/internal/config"
	"github.com/marketplace/trust-platform/internal/edge"
	"github.com/marketplace/trust-platform/internal/revocation"
	applogger "github.com/marketplace/trust-platform/pkg/logger"
)

// The Edge Gateway is the asynchronous, single-event-loop-per-core reactor
// of spec.md §5: a fiber/fasthttp app running RateLimit -> Validate ->
// Forward as its middleware chain, fronting the Identity Authority and
// every resource service.
func main() {
	_ = godotenv.Load(".env.local")
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log := applogger.Setup(cfg.Environment)
	log.Info("gateway_startup", "env", cfg.Environment)

	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{Dsn: cfg.SentryDSN, TracesSampleRate: 1.0, Environment: cfg.Environment}); err != nil {
			log.Error("sentry_init_failed", "error", err)
		} else {
			defer sentry.Flush(2 * time.Second)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	jwksCache := edge.NewJWKSCache(cfg.JWKSURL, cfg.JWKSRefreshInterval, cfg.JWKSMaxStale)
	jwksCache.Start(ctx)

	redisClient, err := revocation.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Error("redis_connect_failed", "error", err)
		os.Exit(1)
	}
	revocationIndex := revocation.NewRedisIndex(redisClient, revocation.FailMode(cfg.RevocationFailMode), cfg.RevocationTimeout, log)

	gateway, err := edge.New(edge.Config{
		PublicPaths:     cfg.GatewayPublicPaths,
		JWKSCache:       jwksCache,
		Revocation:      revocationIndex,
		UpstreamURL:     cfg.GatewayUpstreamURL,
		Logger:          log,
		RateLimitRPS:    cfg.GatewayRateLimitRPS,
		RateLimitBurst:  cfg.GatewayRateLimitBurst,
	})
	if err != nil {
		log.Error("gateway_init_failed", "error", err)
		os.Exit(1)
	}

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})
	app.Use(gateway.RateLimit())
	app.Use(gateway.Validate())
	app.Use(gateway.Forward())

	port := os.Getenv("GATEWAY_PORT")
	if port == "" {
		port = "8082"
	}

	serverErrors := make(chan error, 1)
	go func() {
		log.Info("gateway_listening", "port", port)
		if err := app.Listen(":" + port); err != nil {
			serverErrors <- err
		}
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		log.Error("gateway_startup_failed", "error", err)
		os.Exit(1)
	case sig := <-shutdown:
		log.Info("shutdown_signal_received", "signal", sig)
		if err := app.ShutdownWithTimeout(20 * time.Second); err != nil {
			log.Error("graceful_shutdown_failed", "error", err)
		}
		log.Info("gateway_shutdown_complete")
	}
}
