package apikeysrv

import (
	"context"
	"time"

	"github.com/Abraxas-365/bastion/pkg/asyncx"
	"github.com/Abraxas-365/bastion/pkg/errx"
	"github.com/Abraxas-365/bastion/pkg/iam/apikey"
	"github.com/Abraxas-365/bastion/pkg/kernel"
	"github.com/google/uuid"
)

// APIKeyService issues, revokes and validates long-lived credentials.
type APIKeyService struct {
	repo apikey.Repository
}

// NewAPIKeyService crea una nueva instancia del servicio.
func NewAPIKeyService(repo apikey.Repository) *APIKeyService {
	return &APIKeyService{repo: repo}
}

// CreateAPIKeyRequest is the issuance payload.
type CreateAPIKeyRequest struct {
	Type        apikey.KeyType      `json:"type"`
	Permissions []apikey.Permission `json:"permissions"`
	IPWhitelist []string            `json:"ip_whitelist"`
	ExpiresIn   *int                `json:"expires_in_days"`
}

// CreateAPIKeyResponse carries the one-time plaintext back to the caller.
type CreateAPIKeyResponse struct {
	APIKey    apikey.APIKey `json:"api_key"`
	SecretKey string        `json:"secret_key"`
	Message   string        `json:"message"`
}

// CreateAPIKey issues a new key for the tenant. The permission hierarchy is
// enforced here, before anything touches storage.
func (s *APIKeyService) CreateAPIKey(
	ctx context.Context,
	tenantID kernel.TenantID,
	req CreateAPIKeyRequest,
) (*CreateAPIKeyResponse, error) {
	if req.Type != apikey.KeyTypePublishable && req.Type != apikey.KeyTypeSecret {
		return nil, apikey.ErrAPIKeyInvalid().WithDetail("reason", "unknown key type")
	}
	if err := apikey.ValidatePermissionSet(req.Permissions); err != nil {
		return nil, err
	}

	generated, err := apikey.GenerateAPIKey(req.Type)
	if err != nil {
		return nil, err
	}

	var expiresAt *time.Time
	if req.ExpiresIn != nil && *req.ExpiresIn > 0 {
		expiration := time.Now().UTC().AddDate(0, 0, *req.ExpiresIn)
		expiresAt = &expiration
	}

	perms := make([]string, len(req.Permissions))
	for i, p := range req.Permissions {
		perms[i] = string(p)
	}

	newKey := apikey.APIKey{
		ID:          uuid.NewString(),
		TenantID:    tenantID,
		Type:        req.Type,
		KeyHash:     generated.KeyHash,
		KeyPrefix:   generated.KeyPrefix,
		Permissions: perms,
		IPWhitelist: req.IPWhitelist,
		ExpiresAt:   expiresAt,
		CreatedAt:   time.Now().UTC(),
	}

	if err := s.repo.Save(ctx, newKey); err != nil {
		return nil, errx.Wrap(err, "failed to save API key", errx.TypeInternal)
	}

	return &CreateAPIKeyResponse{
		APIKey:    newKey,
		SecretKey: generated.Key,
		Message:   "⚠️ Save this key securely. It will not be shown again!",
	}, nil
}

// GetTenantAPIKeys lista las keys de un tenant.
func (s *APIKeyService) GetTenantAPIKeys(
	ctx context.Context,
	tenantID kernel.TenantID,
) ([]*apikey.APIKey, error) {
	keys, err := s.repo.FindByTenant(ctx, tenantID)
	if err != nil {
		return nil, errx.Wrap(err, "failed to get API keys", errx.TypeInternal)
	}
	return keys, nil
}

// RevokeAPIKey soft-deletes a key.
func (s *APIKeyService) RevokeAPIKey(
	ctx context.Context,
	keyID string,
	tenantID kernel.TenantID,
) error {
	if _, err := s.repo.FindByID(ctx, keyID, tenantID); err != nil {
		return apikey.ErrAPIKeyNotFound()
	}
	return s.repo.Revoke(ctx, keyID, tenantID)
}

// ValidateAPIKey runs the full validation chain for a presented key:
// format → hash lookup → revoked → expired → IP whitelist → touch.
func (s *APIKeyService) ValidateAPIKey(
	ctx context.Context,
	keyString string,
	clientIP string,
) (*apikey.APIKey, error) {
	if !apikey.ValidateAPIKeyFormat(keyString) {
		return nil, apikey.ErrAPIKeyInvalid()
	}

	keyHash := apikey.HashAPIKey(keyString)
	key, err := s.repo.FindByHash(ctx, keyHash)
	if err != nil {
		return nil, apikey.ErrAPIKeyNotFound()
	}

	if key.IsRevoked() {
		return nil, apikey.ErrAPIKeyRevoked()
	}
	if key.IsExpired(time.Now()) {
		return nil, apikey.ErrAPIKeyExpired()
	}
	if !apikey.MatchIPWhitelist(clientIP, key.IPWhitelist) {
		return nil, apikey.ErrAPIKeyIPNotAllowed().WithDetail("client_ip", clientIP)
	}

	// Best-effort touch; validation must not wait on it.
	keyID := key.ID
	asyncx.Do(func() {
		_ = s.repo.UpdateLastUsed(context.Background(), keyID)
	})

	return key, nil
}
