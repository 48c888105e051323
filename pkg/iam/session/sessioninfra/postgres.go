// Package sessioninfra es la implementación en PostgreSQL del almacén
// de sesiones. Es la fuente de verdad; el decorador de caché vive en
// sessioncache.
package sessioninfra

import (
	"context"
	"database/sql"
	"time"

	"github.com/Abraxas-365/bastion/pkg/errx"
	"github.com/Abraxas-365/bastion/pkg/iam/session"
	"github.com/Abraxas-365/bastion/pkg/kernel"
	"github.com/jmoiron/sqlx"
)

// PostgresSessionStore es la implementación directa de session.Store.
type PostgresSessionStore struct {
	db *sqlx.DB
}

// NewPostgresSessionStore crea una nueva instancia del almacén.
func NewPostgresSessionStore(db *sqlx.DB) session.Store {
	return &PostgresSessionStore{db: db}
}

// Create inserta una nueva sesión.
func (s *PostgresSessionStore) Create(ctx context.Context, sess session.Session) error {
	query := `
		INSERT INTO sessions (
			token, user_id, tenant_id, created_at, expires_at, absolute_expires_at
		) VALUES (
			:token, :user_id, :tenant_id, :created_at, :expires_at, :absolute_expires_at
		)`

	_, err := s.db.NamedExecContext(ctx, query, sess)
	if err != nil {
		return errx.Wrap(err, "failed to create session", errx.TypeInternal)
	}
	return nil
}

// Find resuelve la sesión junto con el snapshot del principal en una sola
// consulta. Las sesiones vencidas se tratan como inexistentes.
func (s *PostgresSessionStore) Find(ctx context.Context, token string) (*session.Resolved, error) {
	var row struct {
		session.Session
		Email string      `db:"email"`
		Role  kernel.Role `db:"role"`
	}
	query := `
		SELECT s.token, s.user_id, s.tenant_id, s.created_at,
		       s.expires_at, s.absolute_expires_at,
		       c.email, c.role
		FROM sessions s
		JOIN credentials c ON c.id = s.user_id
		WHERE s.token = $1`

	err := s.db.GetContext(ctx, &row, query, token)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, session.ErrSessionNotFound()
		}
		return nil, errx.Wrap(err, "failed to find session", errx.TypeInternal)
	}

	if row.Session.IsExpired(time.Now().UTC()) {
		return nil, session.ErrSessionExpired()
	}

	return &session.Resolved{
		Session: row.Session,
		Principal: session.Principal{
			UserID:   row.Session.UserID,
			TenantID: row.Session.TenantID,
			Email:    row.Email,
			Role:     row.Role,
		},
	}, nil
}

// Touch persiste el nuevo vencimiento deslizante.
func (s *PostgresSessionStore) Touch(ctx context.Context, sess session.Session) error {
	query := `UPDATE sessions SET expires_at = $2 WHERE token = $1`
	result, err := s.db.ExecContext(ctx, query, sess.Token, sess.ExpiresAt)
	if err != nil {
		return errx.Wrap(err, "failed to touch session", errx.TypeInternal)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return errx.Wrap(err, "failed to get rows affected on touch", errx.TypeInternal)
	}
	if rowsAffected == 0 {
		return session.ErrSessionNotFound()
	}
	return nil
}

// Delete elimina una sesión puntual.
func (s *PostgresSessionStore) Delete(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE token = $1`, token)
	if err != nil {
		return errx.Wrap(err, "failed to delete session", errx.TypeInternal)
	}
	return nil
}

// DeleteByUser elimina todas las sesiones del usuario y devuelve los
// tokens eliminados para invalidar la caché.
func (s *PostgresSessionStore) DeleteByUser(ctx context.Context, userID kernel.UserID) ([]string, error) {
	var tokens []string
	query := `DELETE FROM sessions WHERE user_id = $1 RETURNING token`
	err := s.db.SelectContext(ctx, &tokens, query, userID.String())
	if err != nil {
		return nil, errx.Wrap(err, "failed to delete sessions by user", errx.TypeInternal)
	}
	return tokens, nil
}

// DeleteByUserExcept elimina todas las sesiones del usuario salvo una.
func (s *PostgresSessionStore) DeleteByUserExcept(ctx context.Context, userID kernel.UserID, keepToken string) ([]string, error) {
	var tokens []string
	query := `DELETE FROM sessions WHERE user_id = $1 AND token <> $2 RETURNING token`
	err := s.db.SelectContext(ctx, &tokens, query, userID.String(), keepToken)
	if err != nil {
		return nil, errx.Wrap(err, "failed to delete other sessions", errx.TypeInternal)
	}
	return tokens, nil
}

// DeleteExpired barre las sesiones vencidas por cualquiera de los dos plazos.
func (s *PostgresSessionStore) DeleteExpired(ctx context.Context) (int64, error) {
	query := `DELETE FROM sessions WHERE expires_at < NOW() OR absolute_expires_at < NOW()`
	result, err := s.db.ExecContext(ctx, query)
	if err != nil {
		return 0, errx.Wrap(err, "failed to delete expired sessions", errx.TypeInternal)
	}
	return result.RowsAffected()
}
