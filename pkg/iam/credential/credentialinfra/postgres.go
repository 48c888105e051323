// Package credentialinfra es la implementación en PostgreSQL del
// repositorio de credenciales.
package credentialinfra

import (
	"context"
	"database/sql"
	"time"

	"github.com/Abraxas-365/bastion/pkg/errx"
	"github.com/Abraxas-365/bastion/pkg/iam/credential"
	"github.com/Abraxas-365/bastion/pkg/kernel"
	"github.com/jmoiron/sqlx"
)

// PostgresCredentialRepository es la implementación en PostgreSQL de credential.Repository.
type PostgresCredentialRepository struct {
	db *sqlx.DB
}

// NewPostgresCredentialRepository crea una nueva instancia del repositorio.
func NewPostgresCredentialRepository(db *sqlx.DB) credential.Repository {
	return &PostgresCredentialRepository{db: db}
}

// FindByEmail busca una credencial por email. Sin tenant scope: es el punto
// de entrada del login, donde todavía no existe contexto de tenant.
func (r *PostgresCredentialRepository) FindByEmail(ctx context.Context, email string) (*credential.Credential, error) {
	var cred credential.Credential
	query := `SELECT * FROM credentials WHERE email = $1`
	err := r.db.GetContext(ctx, &cred, query, email)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, credential.ErrCredentialNotFound()
		}
		return nil, errx.Wrap(err, "failed to find credential by email", errx.TypeInternal)
	}
	return &cred, nil
}

// FindByID busca una credencial por ID dentro de un tenant.
func (r *PostgresCredentialRepository) FindByID(ctx context.Context, id kernel.UserID, tenantID kernel.TenantID) (*credential.Credential, error) {
	var cred credential.Credential
	query := `SELECT * FROM credentials WHERE id = $1 AND tenant_id = $2`
	err := r.db.GetContext(ctx, &cred, query, id.String(), tenantID.String())
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, credential.ErrCredentialNotFound()
		}
		return nil, errx.Wrap(err, "failed to find credential by id", errx.TypeInternal)
	}
	return &cred, nil
}

// UpdatePasswordHash actualiza hash y algoritmo en una sola sentencia.
func (r *PostgresCredentialRepository) UpdatePasswordHash(ctx context.Context, id kernel.UserID, hash string, algorithm credential.Algorithm) error {
	query := `
		UPDATE credentials SET
			password_hash = $2,
			password_algorithm = $3,
			updated_at = $4
		WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, id.String(), hash, string(algorithm), time.Now().UTC())
	if err != nil {
		return errx.Wrap(err, "failed to update password hash", errx.TypeInternal).
			WithDetail("user_id", id.String())
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return errx.Wrap(err, "failed to get rows affected on password update", errx.TypeInternal)
	}
	if rowsAffected == 0 {
		return credential.ErrCredentialNotFound()
	}
	return nil
}

// UpdateLoginState persiste el contador de fallos y el bloqueo.
func (r *PostgresCredentialRepository) UpdateLoginState(ctx context.Context, cred *credential.Credential) error {
	query := `
		UPDATE credentials SET
			failed_login_attempts = :failed_login_attempts,
			locked_until = :locked_until,
			updated_at = :updated_at
		WHERE id = :id`

	cred.UpdatedAt = time.Now().UTC()

	_, err := r.db.NamedExecContext(ctx, query, cred)
	if err != nil {
		return errx.Wrap(err, "failed to update login state", errx.TypeInternal).
			WithDetail("user_id", cred.ID)
	}
	return nil
}

// UpdateMFA persiste el estado MFA completo de la credencial.
func (r *PostgresCredentialRepository) UpdateMFA(ctx context.Context, cred *credential.Credential) error {
	query := `
		UPDATE credentials SET
			mfa_enabled = :mfa_enabled,
			mfa_secret = :mfa_secret,
			mfa_backup_codes = :mfa_backup_codes,
			updated_at = :updated_at
		WHERE id = :id`

	cred.UpdatedAt = time.Now().UTC()

	result, err := r.db.NamedExecContext(ctx, query, cred)
	if err != nil {
		return errx.Wrap(err, "failed to update MFA state", errx.TypeInternal).
			WithDetail("user_id", cred.ID)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return errx.Wrap(err, "failed to get rows affected on MFA update", errx.TypeInternal)
	}
	if rowsAffected == 0 {
		return credential.ErrCredentialNotFound()
	}
	return nil
}
