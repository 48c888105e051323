// Package authsrv implements the authentication orchestration service.
package authsrv

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"time"

	"github.com/Abraxas-365/bastion/pkg/asyncx"
	"github.com/Abraxas-365/bastion/pkg/cachex"
	"github.com/Abraxas-365/bastion/pkg/config"
	"github.com/Abraxas-365/bastion/pkg/errx"
	"github.com/Abraxas-365/bastion/pkg/iam/auth"
	"github.com/Abraxas-365/bastion/pkg/iam/credential"
	"github.com/Abraxas-365/bastion/pkg/iam/csrf"
	"github.com/Abraxas-365/bastion/pkg/iam/mfa"
	"github.com/Abraxas-365/bastion/pkg/iam/password"
	"github.com/Abraxas-365/bastion/pkg/iam/session/sessionsrv"
	"github.com/Abraxas-365/bastion/pkg/kernel"
	"github.com/Abraxas-365/bastion/pkg/logx"
)

const (
	challengeKeyPrefix = "mfa:challenge:"
	challengeTTL       = 5 * time.Minute
)

// AuthService coordina credenciales, contraseñas, MFA y sesiones. Es el
// único punto de entrada para autenticar usuarios.
type AuthService struct {
	credentials credential.Repository
	passwords   *password.Service
	mfa         *mfa.Service
	sessions    *sessionsrv.SessionService
	guard       *csrf.Guard
	cache       cachex.Cache
	mfaCfg      config.MFAConfig

	// dummyHash equalizes verification cost for unknown emails so response
	// timing does not reveal whether an account exists. Hashing is memory
	// hard, so it runs as a future instead of blocking construction.
	dummyHash *asyncx.Future[string]
}

// NewAuthService crea el servicio de autenticación.
func NewAuthService(
	credentials credential.Repository,
	passwords *password.Service,
	mfaService *mfa.Service,
	sessions *sessionsrv.SessionService,
	guard *csrf.Guard,
	cache cachex.Cache,
	mfaCfg config.MFAConfig,
) *AuthService {
	return &AuthService{
		credentials: credentials,
		passwords:   passwords,
		mfa:         mfaService,
		sessions:    sessions,
		guard:       guard,
		cache:       cache,
		mfaCfg:      mfaCfg,
		dummyHash: asyncx.Run(func() (string, error) {
			return passwords.Hash("bastion-dummy-verification-password")
		}),
	}
}

func (s *AuthService) dummy() string {
	hash, err := s.dummyHash.Await()
	if err != nil {
		logx.WithError(err).Warn("failed to precompute dummy hash")
		return ""
	}
	return hash
}

// mfaChallenge is the cached pending-login state between the password step
// and the second factor.
type mfaChallenge struct {
	UserID   kernel.UserID   `json:"user_id"`
	TenantID kernel.TenantID `json:"tenant_id"`
}

// ============================================================================
// Login
// ============================================================================

// Login verifies the first factor and either issues a session, demands a
// second factor, or fails. Factor failures never reveal which check
// failed; lockout is the one distinguishable outcome. The returned error
// is reserved for infrastructure faults.
func (s *AuthService) Login(ctx context.Context, email, plaintext string) (*auth.LoginResult, error) {
	cred, err := s.credentials.FindByEmail(ctx, email)
	if err != nil {
		if errx.IsCode(err, credential.CodeNotFound) {
			// Burn comparable CPU so unknown emails are not faster.
			s.passwords.VerifyAndUpgrade(plaintext, s.dummy(), credential.AlgorithmArgon2id)
			return failed(credential.ErrInvalidCredentials()), nil
		}
		return nil, err
	}

	now := time.Now().UTC()
	if cred.IsLocked(now) {
		return failed(credential.ErrAccountLocked(*cred.LockedUntil)), nil
	}

	verify := s.passwords.VerifyAndUpgrade(plaintext, cred.PasswordHash, cred.PasswordAlgorithm)
	if !verify.Valid {
		return s.recordFailure(ctx, cred, now), nil
	}

	if verify.NeedsUpgrade {
		s.upgradeHash(kernel.UserID(cred.ID), verify.NewHash)
	}

	if cred.MFAEnabled {
		token, err := s.stashChallenge(ctx, cred)
		if err != nil {
			return nil, err
		}
		// Lockout state is untouched until the second factor passes.
		return &auth.LoginResult{Status: auth.LoginMFARequired, MFAToken: token}, nil
	}

	return s.finishLogin(ctx, cred)
}

// CompleteMFALogin exchanges a pending challenge plus a one-time code for
// a session. Invalid codes count toward the lockout threshold. The
// challenge survives failed codes and dies on success or TTL.
func (s *AuthService) CompleteMFALogin(ctx context.Context, mfaToken, code string) (*auth.LoginResult, error) {
	challenge, err := s.fetchChallenge(ctx, mfaToken)
	if err != nil {
		return failed(auth.ErrChallengeExpired()), nil
	}

	cred, err := s.credentials.FindByID(ctx, challenge.UserID, challenge.TenantID)
	if err != nil {
		return failed(credential.ErrInvalidCredentials()), nil
	}

	now := time.Now().UTC()
	if cred.IsLocked(now) {
		return failed(credential.ErrAccountLocked(*cred.LockedUntil)), nil
	}

	outcome := s.mfa.VerifyCode(code, string(cred.MFASecret), cred.MFABackupCodes)
	if !outcome.Valid {
		return s.recordFailure(ctx, cred, now), nil
	}

	if outcome.UsedBackupCodeIndex >= 0 {
		cred.RemoveBackupCode(outcome.UsedBackupCodeIndex)
		if err := s.credentials.UpdateMFA(ctx, cred); err != nil {
			return nil, err
		}
	}

	s.dropChallenge(ctx, mfaToken)
	return s.finishLogin(ctx, cred)
}

// finishLogin resets the lockout, issues the session and mints the CSRF
// token. Reached only after every enabled factor has passed.
func (s *AuthService) finishLogin(ctx context.Context, cred *credential.Credential) (*auth.LoginResult, error) {
	cred.ResetLockout()
	if err := s.credentials.UpdateLoginState(ctx, cred); err != nil {
		return nil, err
	}

	sess, err := s.sessions.Issue(ctx, kernel.UserID(cred.ID), cred.TenantID)
	if err != nil {
		return nil, err
	}

	csrfToken, err := s.guard.IssueToken(sess.Token)
	if err != nil {
		return nil, err
	}

	return &auth.LoginResult{
		Status:    auth.LoginSuccess,
		Session:   sess,
		CSRFToken: csrfToken,
	}, nil
}

func (s *AuthService) recordFailure(ctx context.Context, cred *credential.Credential, now time.Time) *auth.LoginResult {
	cred.RecordFailedAttempt(now)
	if err := s.credentials.UpdateLoginState(ctx, cred); err != nil {
		logx.WithError(err).Error("failed to persist login failure state")
	}
	if cred.IsLocked(now) {
		return failed(credential.ErrAccountLocked(*cred.LockedUntil))
	}
	return failed(credential.ErrInvalidCredentials())
}

// upgradeHash persists a migrated hash off the request path. Losing the
// race just means the next login migrates again.
func (s *AuthService) upgradeHash(id kernel.UserID, newHash string) {
	asyncx.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.credentials.UpdatePasswordHash(ctx, id, newHash, credential.AlgorithmArgon2id); err != nil {
			logx.WithError(err).WithField("user_id", id.String()).Warn("password hash upgrade failed")
		}
	})
}

// ============================================================================
// Logout
// ============================================================================

// Logout terminates the current session. Idempotent.
func (s *AuthService) Logout(ctx context.Context, sessionToken string) error {
	return s.sessions.Revoke(ctx, sessionToken)
}

// LogoutEverywhere terminates every session of the user and returns how
// many were terminated.
func (s *AuthService) LogoutEverywhere(ctx context.Context, userID kernel.UserID) (int, error) {
	return s.sessions.RevokeAll(ctx, userID)
}

// ============================================================================
// Password Change
// ============================================================================

// ChangePassword re-authenticates with the current password, stores the
// new hash and revokes every other session of the user. Returns how many
// sessions were revoked.
func (s *AuthService) ChangePassword(ctx context.Context, userID kernel.UserID, tenantID kernel.TenantID, sessionToken, current, next string) (int, error) {
	cred, err := s.credentials.FindByID(ctx, userID, tenantID)
	if err != nil {
		return 0, err
	}

	verify := s.passwords.VerifyAndUpgrade(current, cred.PasswordHash, cred.PasswordAlgorithm)
	if !verify.Valid {
		return 0, credential.ErrInvalidCredentials()
	}

	if err := s.passwords.Validate(next); err != nil {
		return 0, err
	}

	hash, err := s.passwords.Hash(next)
	if err != nil {
		return 0, err
	}
	if err := s.credentials.UpdatePasswordHash(ctx, userID, hash, credential.AlgorithmArgon2id); err != nil {
		return 0, err
	}

	return s.sessions.RevokeOthers(ctx, userID, sessionToken)
}

// ============================================================================
// MFA Lifecycle
// ============================================================================

// BeginMFAEnrollment verifies the password and stages a pending secret
// plus backup codes. Nothing is enforced until ConfirmMFAEnrollment
// proves the authenticator works.
func (s *AuthService) BeginMFAEnrollment(ctx context.Context, userID kernel.UserID, tenantID kernel.TenantID, plaintext string) (*mfa.Setup, error) {
	cred, err := s.credentials.FindByID(ctx, userID, tenantID)
	if err != nil {
		return nil, err
	}
	if cred.MFAEnabled {
		return nil, mfa.ErrRegistry.New(mfa.CodeAlreadyEnabled)
	}

	verify := s.passwords.VerifyAndUpgrade(plaintext, cred.PasswordHash, cred.PasswordAlgorithm)
	if !verify.Valid {
		return nil, credential.ErrInvalidCredentials()
	}

	setup, err := s.mfa.GenerateSetup(cred.Email, s.mfaCfg.Issuer)
	if err != nil {
		return nil, err
	}

	cred.MFASecret = []byte(setup.Secret)
	cred.MFABackupCodes = s.mfa.HashBackupCodes(setup.BackupCodes)
	cred.MFAEnabled = false
	if err := s.credentials.UpdateMFA(ctx, cred); err != nil {
		return nil, err
	}

	return setup, nil
}

// ConfirmMFAEnrollment turns the staged secret on after a valid TOTP code
// and revokes every other session. Backup codes do not confirm enrollment;
// only a code from the authenticator proves the device was provisioned.
func (s *AuthService) ConfirmMFAEnrollment(ctx context.Context, userID kernel.UserID, tenantID kernel.TenantID, sessionToken, code string) (int, error) {
	cred, err := s.credentials.FindByID(ctx, userID, tenantID)
	if err != nil {
		return 0, err
	}
	if cred.MFAEnabled {
		return 0, mfa.ErrRegistry.New(mfa.CodeAlreadyEnabled)
	}
	if len(cred.MFASecret) == 0 {
		return 0, mfa.ErrRegistry.New(mfa.CodeNotEnabled).WithDetail("reason", "no pending enrollment")
	}

	outcome := s.mfa.VerifyCode(code, string(cred.MFASecret), nil)
	if !outcome.Valid {
		return 0, mfa.ErrInvalidCode()
	}

	cred.MFAEnabled = true
	if err := s.credentials.UpdateMFA(ctx, cred); err != nil {
		return 0, err
	}

	return s.sessions.RevokeOthers(ctx, userID, sessionToken)
}

// DisableMFA requires the password and a valid one-time code, clears the
// MFA state and revokes every other session.
func (s *AuthService) DisableMFA(ctx context.Context, userID kernel.UserID, tenantID kernel.TenantID, sessionToken, plaintext, code string) (int, error) {
	cred, err := s.credentials.FindByID(ctx, userID, tenantID)
	if err != nil {
		return 0, err
	}
	if !cred.MFAEnabled {
		return 0, mfa.ErrRegistry.New(mfa.CodeNotEnabled)
	}

	verify := s.passwords.VerifyAndUpgrade(plaintext, cred.PasswordHash, cred.PasswordAlgorithm)
	if !verify.Valid {
		return 0, credential.ErrInvalidCredentials()
	}

	outcome := s.mfa.VerifyCode(code, string(cred.MFASecret), cred.MFABackupCodes)
	if !outcome.Valid {
		return 0, mfa.ErrInvalidCode()
	}

	cred.MFAEnabled = false
	cred.MFASecret = nil
	cred.MFABackupCodes = nil
	if err := s.credentials.UpdateMFA(ctx, cred); err != nil {
		return 0, err
	}

	return s.sessions.RevokeOthers(ctx, userID, sessionToken)
}

// ============================================================================
// Challenge storage
// ============================================================================

func (s *AuthService) stashChallenge(ctx context.Context, cred *credential.Credential) (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", errx.Wrap(err, "failed to generate MFA challenge token", errx.TypeInternal)
	}
	token := base64.RawURLEncoding.EncodeToString(buf)

	raw, err := json.Marshal(mfaChallenge{
		UserID:   kernel.UserID(cred.ID),
		TenantID: cred.TenantID,
	})
	if err != nil {
		return "", errx.Wrap(err, "failed to serialize MFA challenge", errx.TypeInternal)
	}

	// Fail closed: without a durable challenge the second factor cannot
	// be linked back to this password check.
	if err := s.cache.Set(ctx, challengeKeyPrefix+token, string(raw), challengeTTL); err != nil {
		return "", auth.ErrRegistry.NewWithCause(auth.CodeChallengeStore, err)
	}
	return token, nil
}

func (s *AuthService) fetchChallenge(ctx context.Context, token string) (*mfaChallenge, error) {
	raw, err := s.cache.Get(ctx, challengeKeyPrefix+token)
	if err != nil {
		return nil, auth.ErrChallengeExpired()
	}
	var challenge mfaChallenge
	if err := json.Unmarshal([]byte(raw), &challenge); err != nil {
		return nil, auth.ErrChallengeExpired()
	}
	return &challenge, nil
}

func (s *AuthService) dropChallenge(ctx context.Context, token string) {
	if err := s.cache.Delete(ctx, challengeKeyPrefix+token); err != nil {
		logx.WithError(err).Warn("failed to drop consumed MFA challenge")
	}
}

func failed(err *errx.Error) *auth.LoginResult {
	return &auth.LoginResult{Status: auth.LoginFailed, Err: err}
}
