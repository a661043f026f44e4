// Package domain holds the shared types that flow between the Identity
// Authority, the Edge Gateway and the Resource-Service Trust Kernel. None of
// these types carry storage or transport concerns; they are the vocabulary
// the other packages agree on.
package domain

import (
	"net/mail"
	"regexp"
	"time"

	"github.com/google/uuid"
)

// DefaultTenantID is the well-known tenant every CUSTOMER registers into
// unless they supply their own tenant_id. It is created at bootstrap and is
// never deleted.
var DefaultTenantID = uuid.MustParse("00000000-0000-0000-0000-000000000000")

// TenantStatus is the lifecycle state of a Tenant.
type TenantStatus string

const (
	TenantActive   TenantStatus = "ACTIVE"
	TenantInactive TenantStatus = "INACTIVE"
)

// Tenant is the administrative isolation boundary. Tenants are never
// deleted, only transitioned between statuses.
type Tenant struct {
	ID        uuid.UUID
	Name      string
	Status    TenantStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Role is one of the five grantable roles. A UserAccount holds one or more
// RoleGrants.
type Role string

const (
	RoleCustomer Role = "CUSTOMER"
	RoleSeller   Role = "SELLER"
	RoleAdmin    Role = "ADMIN"
	RoleStaff    Role = "STAFF"
	RoleDriver   Role = "DRIVER"
)

// e164Pattern matches the E.164 format: a leading '+', no leading zero,
// 1-14 further digits (ITU-T E.164 §6).
var e164Pattern = regexp.MustCompile(`^\+[1-9]\d{1,14}$`)

// ValidEmail reports whether s parses as a single RFC 5322 address with no
// display name, using the standard library's own parser rather than a
// hand-rolled regexp.
func ValidEmail(s string) bool {
	if s == "" {
		return false
	}
	addr, err := mail.ParseAddress(s)
	return err == nil && addr.Address == s
}

// ValidE164Phone reports whether s matches the E.164 phone number format
// (spec.md §3 data-model invariant (iv)).
func ValidE164Phone(s string) bool {
	return e164Pattern.MatchString(s)
}

// ValidRole reports whether r is one of the five recognized roles.
func ValidRole(r Role) bool {
	switch r {
	case RoleCustomer, RoleSeller, RoleAdmin, RoleStaff, RoleDriver:
		return true
	default:
		return false
	}
}

// Elevated roles bypass per-user ownership checks within their own tenant.
func (r Role) Elevated() bool {
	return r == RoleAdmin || r == RoleStaff
}

// UserAccount is a principal's persisted identity. Either Email or Phone (or
// both) must be non-empty; uniqueness of each is scoped to TenantID.
type UserAccount struct {
	ID            uuid.UUID
	Email         string
	Phone         string
	PasswordHash  string
	Salt          []byte
	TenantID      uuid.UUID
	Enabled       bool
	EmailVerified bool
	PhoneVerified bool
	Deleted       bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// RoleGrant associates a UserAccount with a Role. (UserID, Role) is unique.
type RoleGrant struct {
	UserID uuid.UUID
	Role   Role
}

// RefreshToken is a long-lived opaque credential. Only its hash is
// persisted; the cleartext is returned to the client once at mint time.
// FamilyID groups tokens produced by successive rotations of the same
// session so that reuse of a revoked token can invalidate the whole chain.
type RefreshToken struct {
	ID            uuid.UUID
	UserID        uuid.UUID
	TenantID      uuid.UUID
	FamilyID      uuid.UUID
	ParentID      uuid.UUID
	TokenHash     string
	ExpiresAt     time.Time
	Revoked       bool
	RevokedAt     *time.Time
	IP            string
	UserAgent     string
	CreatedAt     time.Time
}

// AccessClaims is the decoded payload of a verified access token.
type AccessClaims struct {
	UserID    uuid.UUID
	TenantID  uuid.UUID
	Roles     []Role
	JTI       string
	IssuedAt  time.Time
	ExpiresAt time.Time
	Issuer    string
}

// HasRole reports whether roles contains r.
func (c AccessClaims) HasRole(r Role) bool {
	for _, have := range c.Roles {
		if have == r {
			return true
		}
	}
	return false
}

// Principal is the authenticated identity extracted from a verified access
// token, as handed from the Edge Gateway / Trust Kernel to a handler. It is
// never built from the advisory X-* headers, only from verified claims.
type Principal struct {
	UserID   uuid.UUID
	TenantID uuid.UUID
	Roles    []Role
}

// HasRole reports whether the principal holds r.
func (p Principal) HasRole(r Role) bool {
	for _, have := range p.Roles {
		if have == r {
			return true
		}
	}
	return false
}

// Elevated reports whether the principal may act across users within its
// own tenant (ADMIN or STAFF).
func (p Principal) Elevated() bool {
	for _, r := range p.Roles {
		if r.Elevated() {
			return true
		}
	}
	return false
}

// RolesToStrings converts a Role slice to its string form, for JWT claims
// and the X-Roles advisory header.
func RolesToStrings(roles []Role) []string {
	out := make([]string, len(roles))
	for i, r := range roles {
		out[i] = string(r)
	}
	return out
}

// RolesFromStrings is the inverse of RolesToStrings. Unknown role strings
// are dropped rather than rejected, since claims are already
// signature-verified by the time this runs.
func RolesFromStrings(in []string) []Role {
	out := make([]Role, 0, len(in))
	for _, s := range in {
		r := Role(s)
		if ValidRole(r) {
			out = append(out, r)
		}
	}
	return out
}
