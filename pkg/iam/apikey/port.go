package apikey

import (
	"context"

	"github.com/Abraxas-365/bastion/pkg/kernel"
)

// Repository defines the contract for API key persistence. Keys are never
// physically deleted; revocation is a soft-delete for audit retention.
type Repository interface {
	Save(ctx context.Context, key APIKey) error
	FindByID(ctx context.Context, id string, tenantID kernel.TenantID) (*APIKey, error)
	FindByHash(ctx context.Context, keyHash string) (*APIKey, error)
	FindByTenant(ctx context.Context, tenantID kernel.TenantID) ([]*APIKey, error)
	Revoke(ctx context.Context, id string, tenantID kernel.TenantID) error
	UpdateLastUsed(ctx context.Context, id string) error
}
