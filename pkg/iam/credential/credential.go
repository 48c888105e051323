package credential

import (
	"net/http"
	"time"

	"github.com/Abraxas-365/bastion/pkg/errx"
	"github.com/Abraxas-365/bastion/pkg/kernel"
	"github.com/lib/pq"
)

// ============================================================================
// Password Algorithms
// ============================================================================

// Algorithm identifies the scheme a stored password hash was produced with.
// Transitions only move bcrypt → argon2id, never back.
type Algorithm string

const (
	AlgorithmBcrypt   Algorithm = "bcrypt"
	AlgorithmArgon2id Algorithm = "argon2id"
)

const (
	// MaxFailedAttempts es el umbral de intentos fallidos antes del bloqueo.
	MaxFailedAttempts = 5

	// LockoutDuration es cuánto dura el bloqueo de la cuenta.
	LockoutDuration = 15 * time.Minute
)

// ============================================================================
// Credential Record
// ============================================================================

// Credential is the durable authentication record for a user.
type Credential struct {
	ID                  string          `db:"id" json:"id"`
	TenantID            kernel.TenantID `db:"tenant_id" json:"tenant_id"`
	Email               string          `db:"email" json:"email"`
	PasswordHash        string          `db:"password_hash" json:"-"`
	PasswordAlgorithm   Algorithm       `db:"password_algorithm" json:"-"`
	FailedLoginAttempts uint            `db:"failed_login_attempts" json:"-"`
	LockedUntil         *time.Time      `db:"locked_until" json:"-"`
	MFAEnabled          bool            `db:"mfa_enabled" json:"mfa_enabled"`
	MFASecret           []byte          `db:"mfa_secret" json:"-"`
	MFABackupCodes      pq.StringArray  `db:"mfa_backup_codes" json:"-"`
	Role                kernel.Role     `db:"role" json:"role"`
	CreatedAt           time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time       `db:"updated_at" json:"updated_at"`
}

// IsLocked reports whether the account is currently locked out.
func (c *Credential) IsLocked(now time.Time) bool {
	return c.LockedUntil != nil && now.Before(*c.LockedUntil)
}

// RecordFailedAttempt increments the failure counter and sets the lock when
// the counter crosses the threshold.
func (c *Credential) RecordFailedAttempt(now time.Time) {
	c.FailedLoginAttempts++
	if c.FailedLoginAttempts >= MaxFailedAttempts {
		until := now.Add(LockoutDuration)
		c.LockedUntil = &until
	}
}

// ResetLockout clears the failure counter and the lock together. Called only
// after a successful full authentication (password plus MFA when enabled).
func (c *Credential) ResetLockout() {
	c.FailedLoginAttempts = 0
	c.LockedUntil = nil
}

// RemoveBackupCode drops the backup code hash at the given index.
func (c *Credential) RemoveBackupCode(index int) {
	if index < 0 || index >= len(c.MFABackupCodes) {
		return
	}
	c.MFABackupCodes = append(c.MFABackupCodes[:index], c.MFABackupCodes[index+1:]...)
}

// ============================================================================
// Error Registry
// ============================================================================

var ErrRegistry = errx.NewRegistry("CREDENTIAL")

var (
	// CodeInvalidCredentials deliberately covers every factor failure so the
	// response never reveals which part of the check failed.
	CodeInvalidCredentials = ErrRegistry.Register("INVALID_CREDENTIALS", errx.TypeAuthorization, http.StatusUnauthorized, "Invalid email or password")
	CodeAccountLocked      = ErrRegistry.Register("ACCOUNT_LOCKED", errx.TypeAuthorization, http.StatusUnauthorized, "Account temporarily locked")
	CodeNotFound           = ErrRegistry.Register("NOT_FOUND", errx.TypeNotFound, http.StatusNotFound, "Credential not found")
)

// Helper functions
func ErrInvalidCredentials() *errx.Error {
	return ErrRegistry.New(CodeInvalidCredentials)
}

func ErrAccountLocked(until time.Time) *errx.Error {
	return ErrRegistry.New(CodeAccountLocked).WithDetail("locked_until", until.UTC().Format(time.RFC3339))
}

func ErrCredentialNotFound() *errx.Error {
	return ErrRegistry.New(CodeNotFound)
}
