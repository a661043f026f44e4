package edge

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/marketplace/trust-platform/internal/domain"
)

// accessClaims mirrors internal/token.Claims; duplicated here instead of
// imported so the gateway only depends on the JWKS wire format and the
// jwt library, never on the Authority's internal Key Store/Minter, which
// is the whole point of defense-in-depth validation happening twice.
type accessClaims struct {
	TenantID string   `json:"tenant_id"`
	Roles    []string `json:"roles"`
	jwt.RegisteredClaims
}

// Sentinel errors surfaced by VerifySignature, matching spec.md §4.3's
// verify() failure modes.
var (
	ErrMalformed    = errors.New("edge: malformed token")
	ErrExpired      = errors.New("edge: expired token")
	ErrUnknownKidOut = errors.New("edge: unknown kid")
	ErrBadSignature = errors.New("edge: bad signature")
)

// VerifySignature validates signed against the cached key set and returns
// the decoded principal. It never trusts anything but the verified claims.
func VerifySignature(ctx context.Context, cache *JWKSCache, signed string) (domain.AccessClaims, error) {
	claims := &accessClaims{}
	parsed, err := jwt.ParseWithClaims(signed, claims, func(t *jwt.Token) (any, error) {
		if t.Method.Alg() != jwt.SigningMethodRS256.Alg() {
			return nil, ErrBadSignature
		}
		kid, ok := t.Header["kid"].(string)
		if !ok || kid == "" {
			return nil, ErrUnknownKidOut
		}
		pub, err := cache.Lookup(ctx, kid)
		if err != nil {
			if errors.Is(err, ErrUnknownKid) {
				return nil, ErrUnknownKidOut
			}
			return nil, err
		}
		return pub, nil
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrUnknownKidOut):
			return domain.AccessClaims{}, ErrUnknownKidOut
		case errors.Is(err, jwt.ErrTokenExpired):
			return domain.AccessClaims{}, ErrExpired
		case errors.Is(err, jwt.ErrTokenMalformed):
			return domain.AccessClaims{}, ErrMalformed
		default:
			return domain.AccessClaims{}, fmt.Errorf("%w: %v", ErrBadSignature, err)
		}
	}
	if !parsed.Valid {
		return domain.AccessClaims{}, ErrBadSignature
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
