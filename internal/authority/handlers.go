// Package authority wires the Auth Orchestrator onto an HTTP surface: the
// handlers for /auth/register, /auth/login, /auth/refresh, /auth/logout,
// /auth/logout-all, /auth/sessions and /.well-known/jwks.json named in
// spec.md §6, grounded on the teacher's internal/api/auth_handlers.go
// request/response shapes and its helpers.DecodeJSON strict-body pattern.
package authority

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/marketplace/trust-platform/internal/apierr"
	"github.com/marketplace/trust-platform/internal/credential"
	"github.com/marketplace/trust-platform/internal/domain"
	"github.com/marketplace/trust-platform/internal/keys"
	"github.com/marketplace/trust-platform/internal/orchestrator"
	"github.com/marketplace/trust-platform/internal/revocation"
	"github.com/marketplace/trust-platform/internal/token"
)

// CookieConfig controls how session cookies are written, per spec.md §6's
// "Cookie format": HTTP-only, path /, Secure in production, SameSite=Lax
// unless cross-site is required (then None+Secure), Max-Age matching TTL.
type CookieConfig struct {
	Domain         string
	Secure         bool
	SameSiteNone   bool
	AccessTTL      time.Duration
	RefreshTTL     time.Duration
}

// Handlers implements the Identity Authority's HTTP surface. Its own
// protected endpoints (sessions) authenticate directly against the Token
// Minter rather than round-tripping through the published JWKS endpoint
// the way an external resource service's Trust Kernel does: the Authority
// already holds the Key Store, so re-deriving trust from its own public
// output would be circular.
type Handlers struct {
	orchestrator *orchestrator.Service
	keyStore     keys.Store
	minter       *token.Minter
	revocation   revocation.Index
	cookies      CookieConfig
	logger       *slog.Logger
}

// New constructs the Authority's HTTP handlers.
func New(orch *orchestrator.Service, keyStore keys.Store, minter *token.Minter, rev revocation.Index, cookies CookieConfig, logger *slog.Logger) *Handlers {
	return &Handlers{orchestrator: orch, keyStore: keyStore, minter: minter, revocation: rev, cookies: cookies, logger: logger}
}

func (h *Handlers) sameSite() http.SameSite {
	if h.cookies.SameSiteNone {
		return http.SameSiteNoneMode
	}
	return http.SameSiteLaxMode
}

func (h *Handlers) setSessionCookies(w http.ResponseWriter, accessToken, refreshToken string) {
	http.SetCookie(w, &http.Cookie{
		Name:     "accessToken",
		Value:    accessToken,
		Path:     "/",
		Domain:   h.cookies.Domain,
		HttpOnly: true,
		Secure:   h.cookies.Secure,
		SameSite: h.sameSite(),
		MaxAge:   int(h.cookies.AccessTTL.Seconds()),
	})
	if refreshToken != "" {
		http.SetCookie(w, &http.Cookie{
			Name:     "refreshToken",
			Value:    refreshToken,
			Path:     "/",
			Domain:   h.cookies.Domain,
			HttpOnly: true,
			Secure:   h.cookies.Secure,
			SameSite: h.sameSite(),
			MaxAge:   int(h.cookies.RefreshTTL.Seconds()),
		})
	}
}

func (h *Handlers) clearSessionCookies(w http.ResponseWriter) {
	for _, name := range []string{"accessToken", "refreshToken"} {
		http.SetCookie(w, &http.Cookie{
			Name:     name,
			Value:    "",
			Path:     "/",
			Domain:   h.cookies.Domain,
			HttpOnly: true,
			Secure:   h.cookies.Secure,
			SameSite: h.sameSite(),
			MaxAge:   0,
		})
	}
}

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	apierr.WriteJSON(w, r, err, h.logger, middleware.GetReqID(r.Context()))
}

func decodeStrict(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// registerRequest mirrors spec.md §6 POST /auth/register.
type registerRequest struct {
	Email    string  `json:"email"`
	Phone    string  `json:"phone"`
	Password string  `json:"password"`
	TenantID *string `json:"tenant_id"`
	Role     string  `json:"role"`
}

func (h *Handlers) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeStrict(r, &req); err != nil {
		h.writeError(w, r, apierr.New(apierr.ValidationError, "invalid request body"))
		return
	}

	var tenantID *uuid.UUID
	if req.TenantID != nil && *req.TenantID != "" {
		id, err := uuid.Parse(*req.TenantID)
		if err != nil {
			h.writeError(w, r, apierr.New(apierr.ValidationError, "tenant_id is not a valid uuid").WithFields("tenant_id"))
			return
		}
		tenantID = &id
	}

	pair, err := h.orchestrator.Register(r.Context(), orchestrator.RegisterInput{
		Email:    req.Email,
		Phone:    req.Phone,
		Password: req.Password,
		TenantID: tenantID,
		Role:     domain.Role(req.Role),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.setSessionCookies(w, pair.AccessToken, pair.RefreshToken)
	h.writeJSON(w, http.StatusOK, tokenPairResponse(pair))
}

// loginRequest mirrors spec.md §6 POST /auth/login.
type loginRequest struct {
	Email    string `json:"email"`
	Phone    string `json:"phone"`
	Password string `json:"password"`
	TenantID string `json:"tenant_id"`
}

func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeStrict(r, &req); err != nil {
		h.writeError(w, r, apierr.New(apierr.ValidationError, "invalid request body"))
		return
	}

	var tenantID uuid.UUID
	if req.TenantID != "" {
		id, err := uuid.Parse(req.TenantID)
		if err != nil {
			h.writeError(w, r, apierr.New(apierr.ValidationError, "tenant_id is not a valid uuid").WithFields("tenant_id"))
			return
		}
		tenantID = id
	} else {
		tenantID = domain.DefaultTenantID
	}

	pair, err := h.orchestrator.Login(r.Context(), orchestrator.LoginInput{
		Email:     req.Email,
		Phone:     req.Phone,
		Password:  req.Password,
		TenantID:  tenantID,
		IP:        r.RemoteAddr,
		UserAgent: r.UserAgent(),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.setSessionCookies(w, pair.AccessToken, pair.RefreshToken)
	h.writeJSON(w, http.StatusOK, tokenPairResponse(pair))
}

type tokenPairResponseBody struct {
	AccessToken  string   `json:"access_token"`
	RefreshToken string   `json:"refresh_token"`
	ExpiresIn    int64    `json:"expires_in"`
	ID           string   `json:"id"`
	Roles        []string `json:"role"`
	TenantID     string   `json:"tenant_id"`
}

func tokenPairResponse(pair orchestrator.TokenPair) tokenPairResponseBody {
	return tokenPairResponseBody{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		ExpiresIn:    pair.AccessExpiresIn,
		ID:           pair.UserID.String(),
		Roles:        domain.RolesToStrings(pair.Roles),
		TenantID:     pair.TenantID.String(),
	}
}

// refreshRequest mirrors spec.md §6 POST /auth/refresh.
type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (h *Handlers) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	// Body is optional here: the refresh token may arrive only via cookie.
	_ = decodeStrict(r, &req)

	refreshToken, ok := credential.ResolveRefreshToken(r, req.RefreshToken)
	if !ok {
		h.writeError(w, r, apierr.New(apierr.BadCredentials, "missing refresh token"))
		return
	}
	accessToken, _ := credential.AccessToken(r)

	result, err := h.orchestrator.Refresh(r.Context(), refreshToken, accessToken)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.setSessionCookies(w, result.AccessToken, result.RotatedRefreshToken)
	h.writeJSON(w, http.StatusOK, map[string]any{
		"access_token": result.AccessToken,
		"expires_in":   result.AccessExpiresIn,
	})
}

// logoutRequest mirrors spec.md §6 POST /auth/logout.
type logoutRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	var req logoutRequest
	_ = decodeStrict(r, &req)

	accessToken, ok := credential.AccessToken(r)
	if !ok {
		h.writeError(w, r, apierr.New(apierr.Unauthorized, "missing access token"))
		return
	}
	refreshToken, ok := credential.ResolveRefreshToken(r, req.RefreshToken)
	if !ok {
		h.writeError(w, r, apierr.New(apierr.BadCredentials, "missing refresh token"))
		return
	}

	if err := h.orchestrator.Logout(r.Context(), accessToken, refreshToken); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.clearSessionCookies(w)
	w.WriteHeader(http.StatusOK)
}

func (h *Handlers) LogoutAll(w http.ResponseWriter, r *http.Request) {
	accessToken, ok := credential.AccessToken(r)
	if !ok {
		h.writeError(w, r, apierr.New(apierr.Unauthorized, "missing access token"))
		return
	}
	if err := h.orchestrator.LogoutAll(r.Context(), accessToken); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.clearSessionCookies(w)
	w.WriteHeader(http.StatusOK)
}

func (h *Handlers) ListSessions(w http.ResponseWriter, r *http.Request) {
	principal := principalFromContext(r.Context())
	sessions, err := h.orchestrator.ListSessions(r.Context(), principal.UserID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

func (h *Handlers) RevokeSession(w http.ResponseWriter, r *http.Request) {
	principal := principalFromContext(r.Context())
	idStr := chi.URLParam(r, "id")
	id, err := uuid.Parse(idStr)
	if err != nil {
		h.writeError(w, r, apierr.New(apierr.ValidationError, "invalid session id"))
		return
	}
	if err := h.orchestrator.RevokeSession(r.Context(), principal, id); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// JWKS serves GET /.well-known/jwks.json, the Public Key Publisher (C7).
func (h *Handlers) JWKS(w http.ResponseWriter, r *http.Request) {
	jwks, err := keys.PublishJWKS(r.Context(), h.keyStore, time.Now())
	if err != nil {
		h.logger.Error("jwks_publish_failed", "error", err)
		var apiErr *apierr.Error
		if errors.As(err, &apiErr) {
			h.writeError(w, r, err)
			return
		}
		h.writeError(w, r, apierr.Wrap(apierr.UpstreamUnavailable, err, "could not publish key set"))
		return
	}
	w.Header().Set("Cache-Control", "public, max-age=300")
	h.writeJSON(w, http.StatusOK, jwks)
}

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}
