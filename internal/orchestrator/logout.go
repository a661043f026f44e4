package orchestrator

import (
	"context"

	"github.com/google/uuid"

	"github.com/marketplace/trust-platform/internal/apierr"
	"github.com/marketplace/trust-platform/internal/audit"
	"github.com/marketplace/trust-platform/internal/domain"
	"github.com/marketplace/trust-platform/internal/token"
)

// Logout implements spec.md §4.6 Logout (single session): verify the
// access token, find the matching refresh token, revoke it, and blacklist
// the access token's jti for its remaining lifetime.
func (s *Service) Logout(ctx context.Context, accessToken, refreshToken string) error {
	claims, err := s.minter.Verify(ctx, accessToken)
	if err != nil {
		return apierr.New(apierr.Unauthorized, "invalid access token")
	}

	hash := s.hasher.HashTokenDeterministic(refreshToken)
	rt, err := s.store.GetRefreshTokenByHash(ctx, hash)
	if err != nil {
		return err
	}
	if rt.UserID != claims.UserID {
		return apierr.New(apierr.BadCredentials, "refresh token does not match access token")
	}
	if rt.Revoked {
		return apierr.New(apierr.BadCredentials, "session already terminated")
	}
	if err := s.store.RevokeRefreshToken(ctx, rt.ID); err != nil {
		return err
	}

	remaining := token.RemainingTTL(claims)
	if err := s.revocation.RevokeToken(ctx, claims.JTI, remaining); err != nil {
		return apierr.Wrap(apierr.UpstreamUnavailable, err, "could not record revocation")
	}

	s.audit.Log(ctx, audit.EventLogout, audit.LogParams{ActorID: claims.UserID, TenantID: claims.TenantID, SessionID: rt.ID})
	return nil
}

// LogoutAll implements spec.md §4.6 LogoutAll: revoke every refresh token
// for the user, advance their revocation epoch (so every access token
// issued before now stops validating at the kernel), and blacklist the
// calling access token's jti immediately for defense in depth.
func (s *Service) LogoutAll(ctx context.Context, accessToken string) error {
	claims, err := s.minter.Verify(ctx, accessToken)
	if err != nil {
		return apierr.New(apierr.Unauthorized, "invalid access token")
	}

	if err := s.store.RevokeAllForUser(ctx, claims.UserID); err != nil {
		return err
	}
	if err := s.revocation.RevokeAllForUser(ctx, claims.UserID); err != nil {
		return apierr.Wrap(apierr.UpstreamUnavailable, err, "could not record revocation epoch")
	}
	remaining := token.RemainingTTL(claims)
	if err := s.revocation.RevokeToken(ctx, claims.JTI, remaining); err != nil {
		return apierr.Wrap(apierr.UpstreamUnavailable, err, "could not record revocation")
	}

	s.audit.Log(ctx, audit.EventLogoutAll, audit.LogParams{ActorID: claims.UserID, TenantID: claims.TenantID})
	return nil
}

// Session is a redacted view of a refresh token row for GET /auth/sessions.
type Session struct {
	ID        uuid.UUID
	IP        string
	UserAgent string
	CreatedAt string
	ExpiresAt string
}

// ListSessions backs GET /auth/sessions (SPEC_FULL.md §3, kept from the
// teacher's GetSessions).
func (s *Service) ListSessions(ctx context.Context, userID uuid.UUID) ([]Session, error) {
	rows, err := s.store.ListActiveSessions(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]Session, 0, len(rows))
	for _, rt := range rows {
		out = append(out, Session{
			ID:        rt.ID,
			IP:        rt.IP,
			UserAgent: rt.UserAgent,
			CreatedAt: rt.CreatedAt.Format(timeLayout),
			ExpiresAt: rt.ExpiresAt.Format(timeLayout),
		})
	}
	return out, nil
}

// RevokeSession backs DELETE /auth/sessions/{id} (SPEC_FULL.md §3, kept
// from the teacher's RevokeSession). Ownership is checked here, not by the
// caller: a session belonging to another user (or another tenant) is
// reported as NotFound rather than Forbidden, the same
// allow/forbidden/notfound shape internal/kernel.Authorize uses, so a
// session id can't be used to probe for other users' sessions.
func (s *Service) RevokeSession(ctx context.Context, principal domain.Principal, sessionID uuid.UUID) error {
	rt, err := s.store.GetRefreshTokenByID(ctx, sessionID)
	if err != nil {
		return err
	}
	if rt.UserID != principal.UserID || rt.TenantID != principal.TenantID {
		return apierr.New(apierr.NotFound, "session not found")
	}
	return s.store.RevokeRefreshToken(ctx, sessionID)
}

const timeLayout = "2006-01-02T15:04:05Z07:00"
