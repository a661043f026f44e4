package edge

import (
	"errors"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/marketplace/trust-platform/internal/apierr"
	"github.com/marketplace/trust-platform/internal/domain"
	"github.com/marketplace/trust-platform/internal/revocation"
)

// Gateway is the Edge Validator (C9): it runs highest-precedence in the
// ingress chain and implements the Extract -> VerifySig -> CheckRevocation
// -> Decorate -> Forward state machine of spec.md §4.9/§9.
type Gateway struct {
	publicPaths []string
	jwksCache   *JWKSCache
	revocation  revocation.Index
	upstream    *url.URL
	logger      *slog.Logger
	limiter     *ipRateLimiter
}

// Config configures a Gateway.
type Config struct {
	PublicPaths []string
	JWKSCache   *JWKSCache
	Revocation  revocation.Index
	UpstreamURL string
	Logger      *slog.Logger
	RateLimitRPS     float64
	RateLimitBurst   int
}

// New constructs a Gateway.
func New(cfg Config) (*Gateway, error) {
	upstream, err := url.Parse(cfg.UpstreamURL)
	if err != nil {
		return nil, err
	}
	return &Gateway{
		publicPaths: cfg.PublicPaths,
		jwksCache:   cfg.JWKSCache,
		revocation:  cfg.Revocation,
		upstream:    upstream,
		logger:      cfg.Logger,
		limiter:     newIPRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst),
	}, nil
}

// RateLimit is the highest-precedence middleware: a per-IP token bucket
// throttle, ahead of authentication, so an unauthenticated flood can't
// exhaust the JWKS cache or the revocation store.
func (g *Gateway) RateLimit() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !g.limiter.Allow(c.IP()) {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"code":    "TooManyRequests",
				"message": "rate limit exceeded",
			})
		}
		return c.Next()
	}
}

// Validate implements Extract -> VerifySig -> CheckRevocation -> Decorate.
// Forward is left to the caller's proxy handler registered after this
// middleware, so public paths never pay the proxy round trip cost twice.
func (g *Gateway) Validate() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if MatchesPublicPath(g.publicPaths, string(c.Request().URI().Path())) {
			return c.Next()
		}

		token, ok := extractCredential(c)
		if !ok {
			return writeFiberError(c, apierr.New(apierr.Unauthorized, "missing credential"))
		}

		claims, err := VerifySignature(c.Context(), g.jwksCache, token)
		if err != nil {
			g.logger.Warn("edge_verify_failed", "error", err, "path", c.Path())
			return writeFiberError(c, apierr.New(apierr.Unauthorized, "invalid credential"))
		}

		revoked, err := g.revocation.IsRevoked(c.Context(), claims.JTI, claims.UserID, claims.IssuedAt)
		if err != nil {
			g.logger.Error("edge_revocation_check_failed", "error", err)
			return writeFiberError(c, apierr.New(apierr.UpstreamUnavailable, "revocation check unavailable"))
		}
		if revoked {
			return writeFiberError(c, apierr.New(apierr.Unauthorized, "credential revoked"))
		}

		decorate(c, token, claims)
		return c.Next()
	}
}

// extractCredential implements C8 for a fiber request: Authorization
// header takes precedence over the accessToken cookie.
func extractCredential(c *fiber.Ctx) (string, bool) {
	if header := c.Get("Authorization"); header != "" {
		const prefix = "Bearer "
		if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
			token := strings.TrimSpace(header[len(prefix):])
			if token != "" {
				return token, true
			}
		}
	}
	if cookie := c.Cookies("accessToken"); cookie != "" {
		return cookie, true
	}
	return "", false
}

// decorate sets the forwarded Authorization header (the original token,
// verbatim) plus the advisory X-User-Id/X-Tenant-Id/X-Roles headers.
// Downstream trust kernels must never treat these as authoritative.
func decorate(c *fiber.Ctx, token string, claims domain.AccessClaims) {
	c.Request().Header.Set("Authorization", "Bearer "+token)
	c.Request().Header.Set("X-User-Id", claims.UserID.String())
	c.Request().Header.Set("X-Tenant-Id", claims.TenantID.String())
	c.Request().Header.Set("X-Roles", strings.Join(domain.RolesToStrings(claims.Roles), ","))
}

func writeFiberError(c *fiber.Ctx, err error) error {
	var apiErr *apierr.Error
	if errors.As(err, &apiErr) {
		return c.Status(apierr.StatusFor(apiErr.Kind)).JSON(fiber.Map{
			"code":    string(apiErr.Kind),
			"message": apiErr.Message,
		})
	}
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"code":    "InternalError",
		"message": "an unexpected error occurred",
	})
}

// ipRateLimiter is a per-IP token bucket, the same golang.org/x/time/rate
// construction as the teacher's middleware.IPRateLimiter, generalized to
// configurable rps/burst instead of the teacher's hardcoded 5/10.
type ipRateLimiter struct {
	rps     rate.Limit
	burst   int
	mu      sync.Mutex
	buckets map[string]*rate.Limiter
}

func newIPRateLimiter(rps float64, burst int) *ipRateLimiter {
	l := &ipRateLimiter{
		rps:     rate.Limit(rps),
		burst:   burst,
		buckets: make(map[string]*rate.Limiter),
	}
	go l.cleanupLoop()
	return l
}

func (l *ipRateLimiter) Allow(ip string) bool {
	l.mu.Lock()
	limiter, ok := l.buckets[ip]
	if !ok {
		limiter = rate.NewLimiter(l.rps, l.burst)
		l.buckets[ip] = limiter
	}
	l.mu.Unlock()
	return limiter.Allow()
}

// cleanupLoop periodically wipes the whole bucket map, the same
// simplistic full-reset the teacher's IPRateLimiter uses rather than
// per-entry expiry, acceptable since buckets are cheap to recreate and the
// cleanup interval is long relative to a single request.
func (l *ipRateLimiter) cleanupLoop() {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		l.mu.Lock()
		l.buckets = make(map[string]*rate.Limiter)
		l.mu.Unlock()
	}
}
