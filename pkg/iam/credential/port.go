package credential

import (
	"context"

	"github.com/Abraxas-365/bastion/pkg/kernel"
)

// Repository defines the contract for credential persistence.
//
// FindByEmail is deliberately unscoped: at the login entry point no tenant
// context exists yet. Every other lookup is tenant-scoped.
type Repository interface {
	FindByEmail(ctx context.Context, email string) (*Credential, error)
	FindByID(ctx context.Context, id kernel.UserID, tenantID kernel.TenantID) (*Credential, error)

	// UpdatePasswordHash persists an upgraded or changed hash together with
	// its algorithm tag in a single statement.
	UpdatePasswordHash(ctx context.Context, id kernel.UserID, hash string, algorithm Algorithm) error

	// UpdateLoginState persists the failure counter and lock timestamp.
	UpdateLoginState(ctx context.Context, cred *Credential) error

	// UpdateMFA persists the MFA enablement, secret and backup code hashes.
	UpdateMFA(ctx context.Context, cred *Credential) error
}
