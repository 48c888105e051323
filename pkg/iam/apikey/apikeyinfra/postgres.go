// Package apikeyinfra es la implementación en PostgreSQL del repositorio
// de API keys.
package apikeyinfra

import (
	"context"
	"database/sql"
	"time"

	"github.com/Abraxas-365/bastion/pkg/errx"
	"github.com/Abraxas-365/bastion/pkg/iam/apikey"
	"github.com/Abraxas-365/bastion/pkg/kernel"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// PostgresAPIKeyRepository es la implementación en PostgreSQL de apikey.Repository.
type PostgresAPIKeyRepository struct {
	db *sqlx.DB
}

// NewPostgresAPIKeyRepository crea una nueva instancia del repositorio.
func NewPostgresAPIKeyRepository(db *sqlx.DB) apikey.Repository {
	return &PostgresAPIKeyRepository{db: db}
}

// Save inserta una nueva APIKey. Keys existentes nunca se reescriben:
// la única mutación permitida es la revocación.
func (r *PostgresAPIKeyRepository) Save(ctx context.Context, key apikey.APIKey) error {
	query := `
		INSERT INTO api_keys (
			id, tenant_id, key_type, key_hash, key_prefix, permissions,
			ip_whitelist, expires_at, revoked_at, last_used_at, created_at
		) VALUES (
			:id, :tenant_id, :key_type, :key_hash, :key_prefix, :permissions,
			:ip_whitelist, :expires_at, :revoked_at, :last_used_at, :created_at
		)`

	_, err := r.db.NamedExecContext(ctx, query, key)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" { // unique_violation
			return apikey.ErrAPIKeyInvalid().WithDetail("reason", "key hash already exists")
		}
		return errx.Wrap(err, "failed to create API key", errx.TypeInternal).
			WithDetail("key_id", key.ID)
	}
	return nil
}

// FindByID busca una API key por su ID y tenant ID.
func (r *PostgresAPIKeyRepository) FindByID(ctx context.Context, id string, tenantID kernel.TenantID) (*apikey.APIKey, error) {
	var key apikey.APIKey
	query := `SELECT * FROM api_keys WHERE id = $1 AND tenant_id = $2`
	err := r.db.GetContext(ctx, &key, query, id, tenantID.String())
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apikey.ErrAPIKeyNotFound()
		}
		return nil, errx.Wrap(err, "failed to find API key by ID", errx.TypeInternal)
	}
	return &key, nil
}

// FindByHash busca una API key por su hash HMAC.
func (r *PostgresAPIKeyRepository) FindByHash(ctx context.Context, keyHash string) (*apikey.APIKey, error) {
	var key apikey.APIKey
	query := `SELECT * FROM api_keys WHERE key_hash = $1`
	err := r.db.GetContext(ctx, &key, query, keyHash)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apikey.ErrAPIKeyNotFound()
		}
		return nil, errx.Wrap(err, "failed to find API key by hash", errx.TypeInternal)
	}
	return &key, nil
}

// FindByTenant busca todas las API keys de un tenant, revocadas incluidas.
func (r *PostgresAPIKeyRepository) FindByTenant(ctx context.Context, tenantID kernel.TenantID) ([]*apikey.APIKey, error) {
	var keys []*apikey.APIKey
	query := `SELECT * FROM api_keys WHERE tenant_id = $1 ORDER BY created_at DESC`
	err := r.db.SelectContext(ctx, &keys, query, tenantID.String())
	if err != nil {
		return nil, errx.Wrap(err, "failed to find API keys by tenant", errx.TypeInternal)
	}
	return keys, nil
}

// Revoke marca la key como revocada (soft-delete, nunca DELETE físico).
func (r *PostgresAPIKeyRepository) Revoke(ctx context.Context, id string, tenantID kernel.TenantID) error {
	query := `UPDATE api_keys SET revoked_at = $3 WHERE id = $1 AND tenant_id = $2 AND revoked_at IS NULL`
	result, err := r.db.ExecContext(ctx, query, id, tenantID.String(), time.Now().UTC())
	if err != nil {
		return errx.Wrap(err, "failed to revoke API key", errx.TypeInternal)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return errx.Wrap(err, "failed to get rows affected on revoke", errx.TypeInternal)
	}
	if rowsAffected == 0 {
		return apikey.ErrAPIKeyNotFound()
	}
	return nil
}

// UpdateLastUsed actualiza el timestamp de último uso de una key.
func (r *PostgresAPIKeyRepository) UpdateLastUsed(ctx context.Context, id string) error {
	query := `UPDATE api_keys SET last_used_at = NOW() WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return errx.Wrap(err, "failed to update last used time for API key", errx.TypeInternal)
	}
	return nil
}
