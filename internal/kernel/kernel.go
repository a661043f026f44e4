// Package kernel implements the Resource-Service Trust Kernel (C10): the
// same-trust-contract re-verification every backend service performs on its
// own, independent of whatever the Edge Gateway already decided. It mirrors
// internal/edge's Extract -> VerifySig -> CheckRevocation shape but wires it
// as chi middleware (spec.md §5 allows either sync or async kernels, since
// the trust contract is the same), grounded on the teacher's
// internal/api/middleware/auth.go and context.go.
package kernel

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/marketplace/trust-platform/internal/apierr"
	"github.com/marketplace/trust-platform/internal/domain"
	"github.com/marketplace/trust-platform/internal/edge"
	"github.com/marketplace/trust-platform/internal/revocation"
)

type contextKey string

const principalKey contextKey = "trust_kernel_principal"

// Kernel independently re-verifies access tokens at the resource service.
// It never trusts the gateway's advisory X-User-Id/X-Tenant-Id/X-Roles
// headers; the principal it injects into the request context comes only
// from a locally verified signature and a locally checked revocation
// index, so a compromised or misconfigured gateway can't forge identity.
type Kernel struct {
	jwksCache  *edge.JWKSCache
	revocation revocation.Index
	logger     *slog.Logger
}

// New constructs a Kernel. jwksCache should already be running (Start
// called) by the time the service accepts traffic.
func New(jwksCache *edge.JWKSCache, idx revocation.Index, logger *slog.Logger) *Kernel {
	return &Kernel{jwksCache: jwksCache, revocation: idx, logger: logger}
}

// Authenticate is chi-compatible middleware implementing the same
// Extract -> VerifySig -> CheckRevocation steps as the Edge Gateway,
// re-run locally rather than trusting the gateway's decision.
func (k *Kernel) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := extractBearer(r)
		if !ok {
			apierr.WriteJSON(w, r, apierr.New(apierr.Unauthorized, "missing credential"), k.logger, "")
			return
		}

		claims, err := edge.VerifySignature(r.Context(), k.jwksCache, raw)
		if err != nil {
			k.logger.Warn("kernel_verify_failed", "error", err, "path", r.URL.Path)
			apierr.WriteJSON(w, r, apierr.New(apierr.Unauthorized, "invalid credential"), k.logger, "")
			return
		}

		revoked, err := k.revocation.IsRevoked(r.Context(), claims.JTI, claims.UserID, claims.IssuedAt)
		if err != nil {
			apierr.WriteJSON(w, r, apierr.New(apierr.UpstreamUnavailable, "revocation check unavailable"), k.logger, "")
			return
		}
		if revoked {
			apierr.WriteJSON(w, r, apierr.New(apierr.Unauthorized, "credential revoked"), k.logger, "")
			return
		}

		principal := domain.Principal{UserID: claims.UserID, TenantID: claims.TenantID, Roles: claims.Roles}
		ctx := context.WithValue(r.Context(), principalKey, principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// extractBearer reads only the Authorization header. Unlike the Edge
// Gateway, the kernel does not fall back to a cookie: by the time a
// request reaches a backend service it has already been normalized by the
// gateway's Decorate step (or is arriving directly from a trusted internal
// caller that is expected to set the header itself).
func extractBearer(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(prefix):])
	if token == "" {
		return "", false
	}
	return token, true
}

// PrincipalFromContext extracts the verified Principal injected by
// Authenticate. It panics if called on a request that did not pass through
// Authenticate, since that is always a wiring bug, never a runtime
// condition a handler should recover from.
func PrincipalFromContext(ctx context.Context) domain.Principal {
	p, ok := ctx.Value(principalKey).(domain.Principal)
	if !ok {
		panic("kernel: PrincipalFromContext called without Authenticate middleware")
	}
	return p
}

// ErrForbidden and ErrNotFound are returned by Authorize; handlers should
// map ErrNotFound to a 404 response indistinguishable from a genuinely
// missing resource, so cross-tenant access can't be used to probe for
// existence.
var (
	ErrForbidden = errors.New("kernel: forbidden")
	ErrNotFound  = errors.New("kernel: not found")
)

// ResourceRef identifies the tenant and owner of the resource a handler is
// about to act on, the minimum a Trust Kernel needs to decide access.
type ResourceRef struct {
	TenantID uuid.UUID
	OwnerID  uuid.UUID
}

// Authorize implements the allow | forbidden | notfound decision of
// spec.md §4.10/§9. Tenant isolation is checked first: a resource in a
// foreign tenant returns ErrNotFound rather than ErrForbidden, so a caller
// can't distinguish "exists in another tenant" from "doesn't exist" by the
// shape of the error. Only once the resource is confirmed to be in the
// principal's own tenant is ownership checked, and elevated roles (ADMIN,
// STAFF) bypass the ownership check within that tenant.
func Authorize(p domain.Principal, resource ResourceRef) error {
	if resource.TenantID != p.TenantID {
		return ErrNotFound
	}
	if p.Elevated() {
		return nil
	}
	if resource.OwnerID != p.UserID {
		return ErrForbidden
	}
	return nil
}
