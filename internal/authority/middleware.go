package authority

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/marketplace/trust-platform/internal/apierr"
	"github.com/marketplace/trust-platform/internal/credential"
	"github.com/marketplace/trust-platform/internal/domain"
)

type contextKey string

const principalContextKey contextKey = "authority_principal"

// authenticate verifies the caller's access token directly against the
// Token Minter and Revocation Index, the same Extract -> VerifySig ->
// CheckRevocation steps internal/kernel runs for an external resource
// service, performed in-process here since the Authority already holds
// the Key Store.
func (h *Handlers) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := credential.AccessToken(r)
		if !ok {
			h.writeError(w, r, apierr.New(apierr.Unauthorized, "missing credential"))
			return
		}
		claims, err := h.minter.Verify(r.Context(), raw)
		if err != nil {
			h.writeError(w, r, apierr.New(apierr.Unauthorized, "invalid credential"))
			return
		}
		revoked, err := h.revocation.IsRevoked(r.Context(), claims.JTI, claims.UserID, claims.IssuedAt)
		if err != nil {
			h.writeError(w, r, apierr.New(apierr.UpstreamUnavailable, "revocation check unavailable"))
			return
		}
		if revoked {
			h.writeError(w, r, apierr.New(apierr.Unauthorized, "credential revoked"))
			return
		}

		principal := domain.Principal{UserID: claims.UserID, TenantID: claims.TenantID, Roles: claims.Roles}
		ctx := context.WithValue(r.Context(), principalContextKey, principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func principalFromContext(ctx context.Context) domain.Principal {
	p, ok := ctx.Value(principalContextKey).(domain.Principal)
	if !ok {
		panic("authority: principalFromContext called without authenticate middleware")
	}
	return p
}

// requestLogger logs the start and end of each request, adapted from the
// teacher's internal/api/middleware/logger.go to take an explicit logger
// instead of the global slog default.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			reqID := middleware.GetReqID(r.Context())
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			duration := time.Since(start)
			level := slog.LevelInfo
			switch {
			case ww.Status() >= 500:
				level = slog.LevelError
			case ww.Status() >= 400:
				level = slog.LevelWarn
			}
			logger.Log(r.Context(), level, "http_request_completed",
				"status", ww.Status(),
				"method", r.Method,
				"path", r.URL.Path,
				"duration", duration,
				"req_id", reqID,
				"ip", r.RemoteAddr,
			)
		})
	}
}
