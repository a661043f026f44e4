package authority

import (
	"log/slog"

	sentryhttp "github.com/getsentry/sentry-go/http"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter builds the Identity Authority's chi router, following the
// teacher's internal/api/router.go middleware ordering: request id and
// real-ip first, Sentry ahead of panic recovery so it captures panics,
// then the application routes.
func NewRouter(h *Handlers, logger *slog.Logger) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)

	sentryHandler := sentryhttp.New(sentryhttp.Options{Repanic: true})
	r.Use(sentryHandler.Handle)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(logger))

	r.Get("/health", h.Health)
	r.Get("/.well-known/jwks.json", h.JWKS)

	r.Post("/auth/register", h.Register)
	r.Post("/auth/login", h.Login)
	r.Post("/auth/refresh", h.Refresh)
	r.Post("/auth/logout", h.Logout)
	r.Post("/auth/logout-all", h.LogoutAll)

	r.Group(func(protected chi.Router) {
		protected.Use(h.authenticate)
		protected.Get("/auth/sessions", h.ListSessions)
		protected.Delete("/auth/sessions/{id}", h.RevokeSession)
	})

	return r
}
