// Package config loads the runtime configuration surface of spec.md §6 from
// the environment, the way the teacher repo's internal/config.Load does,
// extended to cover every knob the trust kernel needs.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds every tunable named in spec.md §6 "Configuration surface".
type Config struct {
	Environment string // "development" | "production"
	DatabaseURL string
	RedisURL    string

	AccessTTL  time.Duration
	RefreshTTL time.Duration
	KeyExpiry  time.Duration

	PasswordPepper string

	KDFIterations  uint32
	KDFMemoryKiB   uint32
	KDFParallelism uint8
	KDFSaltLength  int
	KDFHashLength  uint32

	CookieDomain       string
	CookieSameSiteNone bool

	GatewayPublicPaths []string
	GatewayUpstreamURL string
	GatewayRateLimitRPS   float64
	GatewayRateLimitBurst int

	JWKSURL             string
	JWKSRefreshInterval time.Duration
	JWKSMaxStale        time.Duration

	RevocationTimeout  time.Duration
	RevocationFailMode string // "open" | "closed"

	SentryDSN string

	Issuer string
}

// Load reads the environment into a Config, applying the spec's defaults.
func Load() (Config, error) {
	cfg := Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		RedisURL:    getEnv("REVOCATION_STORE_URL", "redis://localhost:6379/0"),

		AccessTTL:  getEnvDuration("ACCESS_TTL", 2*time.Hour),
		RefreshTTL: getEnvDuration("REFRESH_TTL", 30*24*time.Hour),
		KeyExpiry:  getEnvDuration("KEY_EXPIRY", 90*24*time.Hour),

		PasswordPepper: os.Getenv("PASSWORD_PEPPER"),

		KDFIterations:  uint32(getEnvInt("KDF_ITERATIONS", 3)),
		KDFMemoryKiB:   uint32(getEnvInt("KDF_MEMORY", 64*1024)),
		KDFParallelism: uint8(getEnvInt("KDF_PARALLELISM", 2)),
		KDFSaltLength:  getEnvInt("KDF_SALT_LENGTH", 32),
		KDFHashLength:  uint32(getEnvInt("KDF_HASH_LENGTH", 32)),

		CookieDomain:       os.Getenv("COOKIE_DOMAIN"),
		CookieSameSiteNone: getEnvBool("COOKIE_SAME_SITE_NONE", false),

		GatewayPublicPaths: getEnvList("GATEWAY_PUBLIC_PATHS", []string{
			"/auth/register",
			"/auth/login",
			"/auth/refresh",
			"/.well-known/jwks.json",
			"/health",
			"/health/*",
		}),
		GatewayUpstreamURL:    getEnv("GATEWAY_UPSTREAM_URL", "http://localhost:8081"),
		GatewayRateLimitRPS:   getEnvFloat("GATEWAY_RATE_LIMIT_RPS", 5),
		GatewayRateLimitBurst: getEnvInt("GATEWAY_RATE_LIMIT_BURST", 10),

		JWKSURL:             getEnv("JWKS_URL", "http://localhost:8080/.well-known/jwks.json"),
		JWKSRefreshInterval: getEnvDuration("JWKS_REFRESH_INTERVAL", 5*time.Minute),
		JWKSMaxStale:        getEnvDuration("JWKS_MAX_STALE", 24*time.Hour),

		RevocationTimeout:  getEnvDuration("REVOCATION_TIMEOUT", 50*time.Millisecond),
		RevocationFailMode: getEnv("REVOCATION_FAIL_MODE", "closed"),

		SentryDSN: os.Getenv("SENTRY_DSN"),
		Issuer:    getEnv("TOKEN_ISSUER", "https://identity.marketplace.internal"),
	}

	if cfg.PasswordPepper == "" {
		return Config{}, fmt.Errorf("config: PASSWORD_PEPPER is required")
	}
	if cfg.RevocationFailMode != "open" && cfg.RevocationFailMode != "closed" {
		return Config{}, fmt.Errorf("config: REVOCATION_FAIL_MODE must be 'open' or 'closed', got %q", cfg.RevocationFailMode)
	}
	return cfg, nil
}

func getEnv(name, def string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return def
}

func getEnvBool(name string, def bool) bool {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getEnvInt(name string, def int) int {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getEnvFloat(name string, def float64) float64 {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func getEnvDuration(name string, def time.Duration) time.Duration {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func getEnvList(name string, def []string) []string {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
