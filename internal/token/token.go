// Package token implements the Token Minter (C3): RS256 access token
// issuance and verification with kid-based key selection, plus opaque
// refresh-token generation. It generalizes the teacher's
// internal/auth/token.go JWTProvider (which signed with one hardcoded key)
// to select among whatever keys internal/keys.Store reports active.
package token

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/marketplace/trust-platform/internal/domain"
	"github.com/marketplace/trust-platform/internal/keys"
)

// Sentinel errors surfaced by Verify, translated to apierr.Unauthorized by
// callers at the HTTP boundary.
var (
	ErrMalformed    = errors.New("token: malformed")
	ErrExpired      = errors.New("token: expired")
	ErrUnknownKid   = errors.New("token: unknown kid")
	ErrBadSignature = errors.New("token: bad signature")
)

// Claims is the JWT payload for an access token, extending
// jwt.RegisteredClaims with the tenant and role claims spec.md §6 names.
type Claims struct {
	TenantID string   `json:"tenant_id"`
	Roles    []string `json:"roles"`
	jwt.RegisteredClaims
}

// Minter mints and verifies access tokens, and generates opaque refresh
// tokens. accessTTL and issuer are fixed at construction from
// internal/config.Config.
type Minter struct {
	store     keys.Store
	issuer    string
	accessTTL time.Duration
}

// New constructs a Minter backed by store.
func New(store keys.Store, issuer string, accessTTL time.Duration) *Minter {
	return &Minter{store: store, issuer: issuer, accessTTL: accessTTL}
}

// MintAccess signs a new access token for the given principal fields. The
// returned jti is also embedded in the token so the Revocation Index can
// key off it.
func (m *Minter) MintAccess(ctx context.Context, userID, tenantID uuid.UUID, roles []domain.Role) (signed string, jti string, err error) {
	signingKey, err := m.store.PrimarySigningKeyAt(ctx, time.Now())
	if err != nil {
		return "", "", fmt.Errorf("token: mint access: %w", err)
	}
	now := time.Now().UTC()
	jti = uuid.NewString()
	claims := Claims{
		TenantID: tenantID.String(),
		Roles:    domain.RolesToStrings(roles),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			Issuer:    m.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.accessTTL)),
			ID:        jti,
		},
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = signingKey.Kid
	signed, err = tok.SignedString(signingKey.PrivateKey())
	if err != nil {
		return "", "", fmt.Errorf("token: sign access token: %w", err)
	}
	return signed, jti, nil
}

// Verify parses and validates signed, resolving its kid against the key
// store (so a key rotated mid-flight is still verifiable as long as the
// retired key hasn't been pruned) and returns the decoded claims.
func (m *Minter) Verify(ctx context.Context, signed string) (domain.AccessClaims, error) {
	_, _, err := jwt.NewParser().ParseUnverified(signed, &Claims{})
	if err != nil {
		return domain.AccessClaims{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	parsed, err := jwt.ParseWithClaims(signed, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method.Alg() != jwt.SigningMethodRS256.Alg() {
			return nil, ErrBadSignature
		}
		kidVal, ok := t.Header["kid"].(string)
		if !ok || kidVal == "" {
			return nil, ErrUnknownKid
		}
		k, err := m.store.Get(ctx, kidVal)
		if err != nil {
			if errors.Is(err, keys.ErrKeyNotFound) {
				return nil, ErrUnknownKid
			}
			return nil, err
		}
		return k.PublicKey()
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrUnknownKid):
			return domain.AccessClaims{}, ErrUnknownKid
		case errors.Is(err, jwt.ErrTokenExpired):
			return domain.AccessClaims{}, ErrExpired
		default:
			return domain.AccessClaims{}, fmt.Errorf("%w: %v", ErrBadSignature, err)
		}
	}
	if !parsed.Valid {
		return domain.AccessClaims{}, ErrBadSignature
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok {
		return domain.AccessClaims{}, ErrMalformed
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return domain.AccessClaims{}, fmt.Errorf("%w: subject not a uuid", ErrMalformed)
	}
	tenantID, err := uuid.Parse(claims.TenantID)
	if err != nil {
		return domain.AccessClaims{}, fmt.Errorf("%w: tenant_id not a uuid", ErrMalformed)
	}

	return domain.AccessClaims{
		UserID:    userID,
		TenantID:  tenantID,
		Roles:     domain.RolesFromStrings(claims.Roles),
		JTI:       claims.ID,
		IssuedAt:  claims.IssuedAt.Time,
		ExpiresAt: claims.ExpiresAt.Time,
		Issuer:    claims.Issuer,
	}, nil
}

// ExtractJTI reads the jti out of a token without verifying its signature.
// The gateway, the kernel and the Authority do not call it: each checks
// revocation after verification, using the jti from the verified claims.
func ExtractJTI(signed string) (string, error) {
	var claims Claims
	_, _, err := jwt.NewParser().ParseUnverified(signed, &claims)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if claims.ID == "" {
		return "", fmt.Errorf("%w: missing jti", ErrMalformed)
	}
	return claims.ID, nil
}

// RemainingTTL returns how long until exp, or zero if already expired.
func RemainingTTL(claims domain.AccessClaims) time.Duration {
	remaining := time.Until(claims.ExpiresAt)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// GenerateOpaqueToken returns a 256-bit random value, base64url encoded,
// suitable for a refresh token. Only its hash is ever persisted.
func GenerateOpaqueToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("token: generate opaque token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
