// Package auth orchestrates the login flow across credentials, passwords,
// MFA and sessions, and provides the request authentication middleware.
package auth

import (
	"net/http"

	"github.com/Abraxas-365/bastion/pkg/errx"
	"github.com/Abraxas-365/bastion/pkg/iam/session"
)

// ============================================================================
// Login Result
// ============================================================================

// LoginStatus is the tri-state outcome of a login attempt. Callers branch
// on the status instead of decoding error types.
type LoginStatus string

const (
	// LoginSuccess means full authentication completed and a session exists.
	LoginSuccess LoginStatus = "success"
	// LoginMFARequired means the password verified but a second factor is
	// pending. No session exists yet.
	LoginMFARequired LoginStatus = "mfa_required"
	// LoginFailed means authentication failed. The reason is deliberately
	// generic.
	LoginFailed LoginStatus = "failed"
)

// LoginResult carries the outcome of Login. Exactly one of Session or
// MFAToken is set for the non-failed states.
type LoginResult struct {
	Status LoginStatus

	// Session is set on LoginSuccess.
	Session *session.Session

	// CSRFToken accompanies the session for browser clients.
	CSRFToken string

	// MFAToken is the short-lived challenge reference set on
	// LoginMFARequired. The client exchanges it plus a one-time code for
	// a session.
	MFAToken string

	// Err explains a LoginFailed outcome. Always a generic credential
	// error for factor failures; lockout is the one distinguishable case.
	Err *errx.Error
}

// ============================================================================
// Error Registry
// ============================================================================

var ErrRegistry = errx.NewRegistry("AUTH")

var (
	CodeChallengeExpired = ErrRegistry.Register("CHALLENGE_EXPIRED", errx.TypeAuthorization, http.StatusUnauthorized, "MFA challenge expired, log in again")
	CodeChallengeStore   = ErrRegistry.Register("CHALLENGE_STORE", errx.TypeInternal, http.StatusServiceUnavailable, "MFA challenge could not be stored")
)

func ErrChallengeExpired() *errx.Error {
	return ErrRegistry.New(CodeChallengeExpired)
}
