// Package orchestrator implements the Auth Orchestrator (C6): Register,
// Login, Refresh, Logout and LogoutAll, composing the Password Hasher,
// Key Store (via the Token Minter), Revocation Index and Identity Store.
// The flow shapes follow spec.md §4.6; the refresh-token rotation with
// reuse detection is the teacher's RefreshSession/RotateRefreshToken
// pattern generalized to a family-id chain (see SPEC_FULL.md §3).
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/marketplace/trust-platform/internal/apierr"
	"github.com/marketplace/trust-platform/internal/audit"
	"github.com/marketplace/trust-platform/internal/domain"
	"github.com/marketplace/trust-platform/internal/identitystore"
	"github.com/marketplace/trust-platform/internal/password"
	"github.com/marketplace/trust-platform/internal/revocation"
	"github.com/marketplace/trust-platform/internal/token"
)

// reuseGracePeriod absorbs two near-simultaneous refreshes of the same
// token (two browser tabs racing) without treating the second as a reuse
// attack, mirroring the teacher's RefreshSession 10-second grace window.
const reuseGracePeriod = 10 * time.Second

// TokenPair is what Register/Login/Refresh return to the HTTP layer.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresIn  int64
	RefreshExpiresAt time.Time
	UserID           uuid.UUID
	TenantID         uuid.UUID
	Roles            []domain.Role
}

// Service is the C6 Auth Orchestrator.
type Service struct {
	store      *identitystore.Store
	hasher     password.Hasher
	minter     *token.Minter
	revocation revocation.Index
	audit      audit.Service
	accessTTL  time.Duration
	refreshTTL time.Duration
}

// New constructs the orchestrator from its dependencies.
func New(store *identitystore.Store, hasher password.Hasher, minter *token.Minter, rev revocation.Index, auditSvc audit.Service, accessTTL, refreshTTL time.Duration) *Service {
	return &Service{
		store:      store,
		hasher:     hasher,
		minter:     minter,
		revocation: rev,
		audit:      auditSvc,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
	}
}

// RegisterInput mirrors spec.md §6's /auth/register body.
type RegisterInput struct {
	Email    string
	Phone    string
	Password string
	TenantID *uuid.UUID
	Role     domain.Role
}

// Register implements spec.md §4.6 Register. Tenant resolution: an
// explicit tenant_id must exist; CUSTOMER with no tenant_id resolves to
// domain.DefaultTenantID; SELLER with no tenant_id gets a freshly created
// tenant named after their identifier; any other role with no tenant_id
// fails TenantRequired.
func (s *Service) Register(ctx context.Context, in RegisterInput) (TokenPair, error) {
	if in.Email == "" && in.Phone == "" {
		return TokenPair{}, apierr.New(apierr.ValidationError, "email or phone is required").WithFields("email", "phone")
	}
	if in.Email != "" && !domain.ValidEmail(in.Email) {
		return TokenPair{}, apierr.New(apierr.ValidationError, "email is not a valid address").WithFields("email")
	}
	if in.Phone != "" && !domain.ValidE164Phone(in.Phone) {
		return TokenPair{}, apierr.New(apierr.ValidationError, "phone must be in E.164 format").WithFields("phone")
	}
	if !domain.ValidRole(in.Role) {
		return TokenPair{}, apierr.New(apierr.ValidationError, "unknown role").WithFields("role")
	}

	tenantID, err := s.resolveTenant(ctx, in)
	if err != nil {
		return TokenPair{}, err
	}

	salt, err := s.hasher.GenerateSalt()
	if err != nil {
		return TokenPair{}, fmt.Errorf("orchestrator: generate salt: %w", err)
	}
	hash, err := s.hasher.Hash(in.Password, salt)
	if err != nil {
		return TokenPair{}, apierr.Wrap(apierr.ValidationError, err, "password could not be hashed")
	}

	user, err := s.store.CreateUser(ctx, domain.UserAccount{
		Email:        in.Email,
		Phone:        in.Phone,
		PasswordHash: hash,
		Salt:         salt,
		TenantID:     tenantID,
	}, in.Role)
	if err != nil {
		return TokenPair{}, err
	}

	pair, err := s.issueTokenPair(ctx, user.ID, tenantID, []domain.Role{in.Role}, uuid.Nil, "", "")
	if err != nil {
		return TokenPair{}, err
	}
	s.audit.Log(ctx, audit.EventRegister, audit.LogParams{ActorID: user.ID, TenantID: tenantID})
	return pair, nil
}

func (s *Service) resolveTenant(ctx context.Context, in RegisterInput) (uuid.UUID, error) {
	if in.TenantID != nil {
		tenant, err := s.store.GetTenant(ctx, *in.TenantID)
		if err != nil {
			return uuid.Nil, err
		}
		if tenant.Status != domain.TenantActive {
			return uuid.Nil, apierr.New(apierr.InvalidTenant, "tenant is not active")
		}
		return tenant.ID, nil
	}
	switch in.Role {
	case domain.RoleCustomer:
		return domain.DefaultTenantID, nil
	case domain.RoleSeller:
		identifier := in.Email
		if identifier == "" {
			identifier = in.Phone
		}
		tenant, err := s.store.CreateTenant(ctx, identifier+"'s marketplace")
		if err != nil {
			return uuid.Nil, err
		}
		return tenant.ID, nil
	default:
		return uuid.Nil, apierr.New(apierr.TenantRequired, "tenant_id is required for this role")
	}
}

// LoginInput mirrors spec.md §6's /auth/login body.
type LoginInput struct {
	Email    string
	Phone    string
	Password string
	TenantID uuid.UUID
	IP       string
	UserAgent string
}

// Login implements spec.md §4.6 Login. Every precondition failure returns
// BadCredentials, never a more specific kind, to avoid user enumeration.
func (s *Service) Login(ctx context.Context, in LoginInput) (TokenPair, error) {
	var user domain.UserAccount
	var err error
	switch {
	case in.Email != "":
		user, err = s.store.GetUserByEmail(ctx, in.TenantID, in.Email)
	case in.Phone != "":
		user, err = s.store.GetUserByPhone(ctx, in.TenantID, in.Phone)
	default:
		return TokenPair{}, apierr.New(apierr.ValidationError, "email or phone is required").WithFields("email", "phone")
	}
	if err != nil {
		var apiErr *apierr.Error
		if errors.As(err, &apiErr) {
			return TokenPair{}, apierr.New(apierr.BadCredentials, "invalid credentials")
		}
		return TokenPair{}, err
	}

	if !user.Enabled {
		return TokenPair{}, apierr.New(apierr.BadCredentials, "invalid credentials")
	}
	if !s.hasher.Verify(in.Password, user.PasswordHash, user.Salt) {
		return TokenPair{}, apierr.New(apierr.BadCredentials, "invalid credentials")
	}

	roles, err := s.store.RolesForUser(ctx, user.ID)
	if err != nil {
		return TokenPair{}, err
	}

	pair, err := s.issueTokenPair(ctx, user.ID, user.TenantID, roles, uuid.Nil, in.IP, in.UserAgent)
	if err != nil {
		return TokenPair{}, err
	}
	s.audit.Log(ctx, audit.EventLogin, audit.LogParams{ActorID: user.ID, TenantID: user.TenantID})
	return pair, nil
}

// issueTokenPair mints an access token and persists a fresh refresh token.
// parentFamily is uuid.Nil for a brand-new session, or the family id to
// continue when called from Refresh's rotation path.
func (s *Service) issueTokenPair(ctx context.Context, userID, tenantID uuid.UUID, roles []domain.Role, parentFamily uuid.UUID, ip, userAgent string) (TokenPair, error) {
	accessSigned, _, err := s.minter.MintAccess(ctx, userID, tenantID, roles)
	if err != nil {
		return TokenPair{}, fmt.Errorf("orchestrator: mint access token: %w", err)
	}

	opaque, err := token.GenerateOpaqueToken()
	if err != nil {
		return TokenPair{}, fmt.Errorf("orchestrator: mint refresh token: %w", err)
	}
	familyID := parentFamily
	if familyID == uuid.Nil {
		familyID = uuid.New()
	}
	now := time.Now().UTC()
	rt, err := s.store.CreateRefreshToken(ctx, domain.RefreshToken{
		UserID:    userID,
		TenantID:  tenantID,
		FamilyID:  familyID,
		TokenHash: s.hasher.HashTokenDeterministic(opaque),
		ExpiresAt: now.Add(s.refreshTTL),
		IP:        ip,
		UserAgent: userAgent,
	})
	if err != nil {
		return TokenPair{}, err
	}

	return TokenPair{
		AccessToken:      accessSigned,
		RefreshToken:     opaque,
		AccessExpiresIn:  int64(s.accessTTL.Seconds()),
		RefreshExpiresAt: rt.ExpiresAt,
		UserID:           userID,
		TenantID:         tenantID,
		Roles:            roles,
	}, nil
}

// RefreshResult is returned by Refresh: a new access token, and the
// rotated refresh token that replaces the one presented (SPEC_FULL.md §3's
// family-based rotation; the base spec.md §4.6 Refresh contract only names
// the access token, the rotated refresh token is the supplemented part).
type RefreshResult struct {
	AccessToken         string
	AccessExpiresIn     int64
	RotatedRefreshToken string
	RotatedExpiresAt    time.Time
}

// Refresh implements spec.md §4.6 Refresh, extended with family-based
// rotation and reuse detection (SPEC_FULL.md §3): the presented refresh
// token is revoked and a new one in the same family is issued; if a
// token already revoked (outside the grace window) is presented again,
// the entire family is revoked since that indicates token theft.
func (s *Service) Refresh(ctx context.Context, refreshToken string, accessTokenIfPresent string) (RefreshResult, error) {
	hash := s.hasher.HashTokenDeterministic(refreshToken)
	rt, err := s.store.GetRefreshTokenByHash(ctx, hash)
	if err != nil {
		return RefreshResult{}, err
	}

	if rt.Revoked {
		if rt.RevokedAt != nil && time.Since(*rt.RevokedAt) <= reuseGracePeriod {
			return RefreshResult{}, apierr.New(apierr.BadCredentials, "refresh token already rotated, retry with the new token")
		}
		if err := s.store.RevokeFamily(ctx, rt.FamilyID); err != nil {
			return RefreshResult{}, err
		}
		s.audit.Log(ctx, audit.EventRefreshReuseDetected, audit.LogParams{ActorID: rt.UserID, TenantID: rt.TenantID})
		return RefreshResult{}, apierr.New(apierr.BadCredentials, "refresh token reuse detected, session revoked")
	}
	if time.Now().After(rt.ExpiresAt) {
		return RefreshResult{}, apierr.New(apierr.BadCredentials, "refresh token expired")
	}

	user, err := s.store.GetUserByID(ctx, rt.UserID)
	if err != nil {
		return RefreshResult{}, apierr.New(apierr.BadCredentials, "invalid credentials")
	}
	if !user.Enabled {
		return RefreshResult{}, apierr.New(apierr.BadCredentials, "invalid credentials")
	}

	if accessTokenIfPresent != "" {
		if claims, err := s.minter.Verify(ctx, accessTokenIfPresent); err == nil {
			if claims.UserID != rt.UserID {
				return RefreshResult{}, apierr.New(apierr.BadCredentials, "refresh token does not match access token")
			}
		}
		// Malformed/expired access tokens are ignored per spec.md §4.6 Refresh step 4.
	}

	roles, err := s.store.RolesForUser(ctx, user.ID)
	if err != nil {
		return RefreshResult{}, err
	}

	if err := s.store.RevokeRefreshToken(ctx, rt.ID); err != nil {
		return RefreshResult{}, err
	}
	pair, err := s.issueTokenPair(ctx, user.ID, user.TenantID, roles, rt.FamilyID, rt.IP, rt.UserAgent)
	if err != nil {
		return RefreshResult{}, err
	}

	return RefreshResult{
		AccessToken:         pair.AccessToken,
		AccessExpiresIn:     pair.AccessExpiresIn,
		RotatedRefreshToken: pair.RefreshToken,
		RotatedExpiresAt:    pair.RefreshExpiresAt,
	}, nil
}
