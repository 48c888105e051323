package kernel

import (
	"net/http"

	"github.com/Abraxas-365/bastion/pkg/errx"
	"github.com/google/uuid"
)

type UserID string

func NewUserID(id string) UserID { return UserID(id) }
func (u UserID) String() string  { return string(u) }
func (u UserID) IsEmpty() bool   { return string(u) == "" }

type TenantID string

func NewTenantID(id string) TenantID { return TenantID(id) }
func (t TenantID) String() string    { return string(t) }
func (t TenantID) IsEmpty() bool     { return string(t) == "" }

var ErrRegistry = errx.NewRegistry("KERNEL")

var CodeInvalidTenant = ErrRegistry.Register("INVALID_TENANT", errx.TypeValidation, http.StatusBadRequest, "Invalid tenant context")

func ErrInvalidTenant() *errx.Error {
	return ErrRegistry.New(CodeInvalidTenant)
}

// ParseTenantID validates a raw tenant identifier and returns a TenantID.
// Only canonical UUIDs are accepted. This is the single admission point for
// tenant identifiers before they are used to scope any storage operation.
func ParseTenantID(raw string) (TenantID, error) {
	parsed, err := uuid.Parse(raw)
	if err != nil {
		return "", ErrInvalidTenant().WithDetail("reason", "tenant id must be a valid UUID")
	}
	// uuid.Parse accepts several variant encodings (urn:, braces). Require
	// the canonical 36-char form so the identifier round-trips byte for byte.
	if parsed.String() != raw {
		return "", ErrInvalidTenant().WithDetail("reason", "tenant id must be in canonical form")
	}
	return TenantID(raw), nil
}

// ============================================================================
// Roles
// ============================================================================

// Role is the three-tier tenant role hierarchy
type Role string

const (
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

// Level returns the numeric rank of the role (higher = more privileged)
func (r Role) Level() int {
	switch r {
	case RoleOwner:
		return 3
	case RoleAdmin:
		return 2
	case RoleMember:
		return 1
	default:
		return 0
	}
}

// IsValid reports whether the role is one of the known tiers
func (r Role) IsValid() bool {
	return r.Level() > 0
}

// AtLeast reports whether the role meets or exceeds the minimum role
func (r Role) AtLeast(min Role) bool {
	return r.Level() >= min.Level() && min.Level() > 0
}

func (r Role) String() string { return string(r) }
