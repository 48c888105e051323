package authsrv_test

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base32"
	"encoding/binary"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"

	"github.com/Abraxas-365/bastion/pkg/cachex"
	"github.com/Abraxas-365/bastion/pkg/cachex/cachexredis"
	"github.com/Abraxas-365/bastion/pkg/config"
	"github.com/Abraxas-365/bastion/pkg/errx"
	"github.com/Abraxas-365/bastion/pkg/iam/auth"
	"github.com/Abraxas-365/bastion/pkg/iam/auth/authsrv"
	"github.com/Abraxas-365/bastion/pkg/iam/credential"
	"github.com/Abraxas-365/bastion/pkg/iam/csrf"
	"github.com/Abraxas-365/bastion/pkg/iam/mfa"
	"github.com/Abraxas-365/bastion/pkg/iam/password"
	"github.com/Abraxas-365/bastion/pkg/iam/session"
	"github.com/Abraxas-365/bastion/pkg/iam/session/sessionsrv"
	"github.com/Abraxas-365/bastion/pkg/kernel"
)

const (
	testUser   = kernel.UserID("user-1")
	testTenant = kernel.TenantID("8a3e0c4e-3f2a-4f0e-9b6d-2f1a5c7d9e1b")
	testEmail  = "dev@example.com"
)

// credRepo implements credential.Repository in memory.
type credRepo struct {
	byEmail map[string]*credential.Credential

	hashUpdated chan string
}

func newCredRepo() *credRepo {
	return &credRepo{
		byEmail:     make(map[string]*credential.Credential),
		hashUpdated: make(chan string, 1),
	}
}

func (r *credRepo) FindByEmail(_ context.Context, email string) (*credential.Credential, error) {
	cred, ok := r.byEmail[email]
	if !ok {
		return nil, credential.ErrCredentialNotFound()
	}
	copied := *cred
	return &copied, nil
}

func (r *credRepo) FindByID(_ context.Context, id kernel.UserID, tenantID kernel.TenantID) (*credential.Credential, error) {
	for _, cred := range r.byEmail {
		if cred.ID == id.String() && cred.TenantID == tenantID {
			copied := *cred
			return &copied, nil
		}
	}
	return nil, credential.ErrCredentialNotFound()
}

func (r *credRepo) UpdatePasswordHash(_ context.Context, id kernel.UserID, hash string, algorithm credential.Algorithm) error {
	for _, cred := range r.byEmail {
		if cred.ID == id.String() {
			cred.PasswordHash = hash
			cred.PasswordAlgorithm = algorithm
		}
	}
	select {
	case r.hashUpdated <- hash:
	default:
	}
	return nil
}

func (r *credRepo) UpdateLoginState(_ context.Context, updated *credential.Credential) error {
	for _, cred := range r.byEmail {
		if cred.ID == updated.ID {
			cred.FailedLoginAttempts = updated.FailedLoginAttempts
			cred.LockedUntil = updated.LockedUntil
		}
	}
	return nil
}

func (r *credRepo) UpdateMFA(_ context.Context, updated *credential.Credential) error {
	for _, cred := range r.byEmail {
		if cred.ID == updated.ID {
			cred.MFAEnabled = updated.MFAEnabled
			cred.MFASecret = updated.MFASecret
			cred.MFABackupCodes = updated.MFABackupCodes
		}
	}
	return nil
}

// sessStore is the in-memory session.Store backing the lifecycle service.
type sessStore struct {
	sessions map[string]session.Session
}

func newSessStore() *sessStore {
	return &sessStore{sessions: make(map[string]session.Session)}
}

func (m *sessStore) Create(_ context.Context, s session.Session) error {
	m.sessions[s.Token] = s
	return nil
}

func (m *sessStore) Find(_ context.Context, token string) (*session.Resolved, error) {
	s, ok := m.sessions[token]
	if !ok {
		return nil, session.ErrSessionNotFound()
	}
	return &session.Resolved{Session: s}, nil
}

func (m *sessStore) Touch(_ context.Context, s session.Session) error {
	stored, ok := m.sessions[s.Token]
	if !ok {
		return session.ErrSessionNotFound()
	}
	stored.ExpiresAt = s.ExpiresAt
	m.sessions[s.Token] = stored
	return nil
}

func (m *sessStore) Delete(_ context.Context, token string) error {
	delete(m.sessions, token)
	return nil
}

func (m *sessStore) DeleteByUser(_ context.Context, userID kernel.UserID) ([]string, error) {
	var tokens []string
	for token, s := range m.sessions {
		if s.UserID == userID {
			tokens = append(tokens, token)
			delete(m.sessions, token)
		}
	}
	return tokens, nil
}

func (m *sessStore) DeleteByUserExcept(_ context.Context, userID kernel.UserID, keepToken string) ([]string, error) {
	var tokens []string
	for token, s := range m.sessions {
		if s.UserID == userID && token != keepToken {
			tokens = append(tokens, token)
			delete(m.sessions, token)
		}
	}
	return tokens, nil
}

func (m *sessStore) DeleteExpired(_ context.Context) (int64, error) { return 0, nil }

type fixture struct {
	service   *authsrv.AuthService
	creds     *credRepo
	sessions  *sessStore
	passwords *password.Service
	cache     cachex.Cache
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	cache := cachexredis.NewRedisCache(redis.NewClient(&redis.Options{Addr: mr.Addr()}))

	passwords := password.NewService(config.PasswordConfig{
		Memory: 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32,
	})
	creds := newCredRepo()
	sessions := newSessStore()
	sessionSvc := sessionsrv.NewSessionService(sessions, config.SessionConfig{
		InactivityWindow: 24 * time.Hour,
		AbsoluteLifetime: 30 * 24 * time.Hour,
	})
	guard := csrf.NewGuard(cache, config.CSRFConfig{
		SigningSecret:     "test-csrf-secret",
		TokenTTL:          time.Hour,
		MaxLocalCacheSize: 16,
	})

	service := authsrv.NewAuthService(
		creds, passwords, mfa.NewService(config.MFAConfig{}), sessionSvc, guard, cache,
		config.MFAConfig{Issuer: "Bastion", BackupCodeCount: 8},
	)
	return &fixture{service: service, creds: creds, sessions: sessions, passwords: passwords, cache: cache}
}

func (f *fixture) seedUser(t *testing.T, plaintext string) *credential.Credential {
	t.Helper()
	hash, err := f.passwords.Hash(plaintext)
	if err != nil {
		t.Fatalf("hash failed: %v", err)
	}
	cred := &credential.Credential{
		ID:                testUser.String(),
		TenantID:          testTenant,
		Email:             testEmail,
		PasswordHash:      hash,
		PasswordAlgorithm: credential.AlgorithmArgon2id,
		Role:              kernel.RoleMember,
	}
	f.creds.byEmail[testEmail] = cred
	return cred
}

func TestLogin_Success(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, "correct horse battery")
	ctx := context.Background()

	result, err := f.service.Login(ctx, testEmail, "correct horse battery")
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if result.Status != auth.LoginSuccess {
		t.Fatalf("expected success, got %s", result.Status)
	}
	if result.Session == nil || result.Session.Token == "" {
		t.Fatal("success must carry a session")
	}
	if result.CSRFToken == "" {
		t.Fatal("success must carry a CSRF token")
	}
	if _, ok := f.sessions.sessions[result.Session.Token]; !ok {
		t.Fatal("session must be persisted")
	}
}

func TestLogin_GenericFailure(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, "correct horse battery")
	ctx := context.Background()

	wrongPass, err := f.service.Login(ctx, testEmail, "wrong password")
	if err != nil {
		t.Fatalf("login errored: %v", err)
	}
	unknownUser, err := f.service.Login(ctx, "nobody@example.com", "whatever pass")
	if err != nil {
		t.Fatalf("login errored: %v", err)
	}

	// Wrong password and unknown email are indistinguishable.
	if wrongPass.Status != auth.LoginFailed || unknownUser.Status != auth.LoginFailed {
		t.Fatal("both attempts must fail")
	}
	if !errx.IsCode(wrongPass.Err, credential.CodeInvalidCredentials) ||
		!errx.IsCode(unknownUser.Err, credential.CodeInvalidCredentials) {
		t.Fatal("both failures must carry the same generic code")
	}
	if wrongPass.Err.Message != unknownUser.Err.Message {
		t.Fatal("failure messages must match exactly")
	}
}

func TestLogin_LockoutAfterFailures(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, "correct horse battery")
	ctx := context.Background()

	for i := 0; i < credential.MaxFailedAttempts; i++ {
		result, err := f.service.Login(ctx, testEmail, "wrong password")
		if err != nil {
			t.Fatalf("login errored: %v", err)
		}
		if result.Status != auth.LoginFailed {
			t.Fatalf("attempt %d must fail", i+1)
		}
	}

	// The account is now locked even for the correct password.
	result, err := f.service.Login(ctx, testEmail, "correct horse battery")
	if err != nil {
		t.Fatalf("login errored: %v", err)
	}
	if !errx.IsCode(result.Err, credential.CodeAccountLocked) {
		t.Fatalf("expected lockout, got %v", result.Err)
	}
}

func TestLogin_BcryptMigration(t *testing.T) {
	f := newFixture(t)
	cred := f.seedUser(t, "ignored")
	// Hash produced by the legacy scheme.
	legacyBytes, err := bcrypt.GenerateFromPassword([]byte("secret"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt failed: %v", err)
	}
	legacy := string(legacyBytes)
	cred.PasswordHash = legacy
	cred.PasswordAlgorithm = credential.AlgorithmBcrypt

	result, err := f.service.Login(context.Background(), testEmail, "secret")
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if result.Status != auth.LoginSuccess {
		t.Fatalf("legacy hash must still authenticate, got %s", result.Status)
	}

	// The upgrade happens off the request path.
	select {
	case newHash := <-f.creds.hashUpdated:
		if newHash == legacy {
			t.Fatal("upgraded hash must differ from the legacy one")
		}
		verify := f.passwords.VerifyAndUpgrade("secret", newHash, credential.AlgorithmArgon2id)
		if !verify.Valid || verify.NeedsUpgrade {
			t.Fatal("upgraded hash must verify under the modern scheme")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("hash upgrade never happened")
	}
}

func TestLogin_MFARequired(t *testing.T) {
	f := newFixture(t)
	cred := f.seedUser(t, "correct horse battery")
	enableMFA(t, f, cred)
	ctx := context.Background()

	result, err := f.service.Login(ctx, testEmail, "correct horse battery")
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if result.Status != auth.LoginMFARequired {
		t.Fatalf("expected MFA challenge, got %s", result.Status)
	}
	if result.MFAToken == "" {
		t.Fatal("challenge must carry a token")
	}
	if result.Session != nil {
		t.Fatal("no session may exist before the second factor")
	}
	if len(f.sessions.sessions) != 0 {
		t.Fatal("no session may be persisted before the second factor")
	}
}

func TestCompleteMFALogin_BackupCode(t *testing.T) {
	f := newFixture(t)
	cred := f.seedUser(t, "correct horse battery")
	enableMFA(t, f, cred)
	ctx := context.Background()

	login, err := f.service.Login(ctx, testEmail, "correct horse battery")
	if err != nil || login.Status != auth.LoginMFARequired {
		t.Fatalf("unexpected login outcome: %v %v", login, err)
	}

	result, err := f.service.CompleteMFALogin(ctx, login.MFAToken, "AABBCCDDEE")
	if err != nil {
		t.Fatalf("mfa completion failed: %v", err)
	}
	if result.Status != auth.LoginSuccess {
		t.Fatalf("backup code must complete the login, got %s", result.Status)
	}

	// The used code is consumed.
	if len(f.creds.byEmail[testEmail].MFABackupCodes) != 1 {
		t.Fatal("used backup code must be removed")
	}

	// Replaying the same code on a fresh login fails.
	login2, err := f.service.Login(ctx, testEmail, "correct horse battery")
	if err != nil || login2.Status != auth.LoginMFARequired {
		t.Fatalf("unexpected login outcome: %v %v", login2, err)
	}
	replay, err := f.service.CompleteMFALogin(ctx, login2.MFAToken, "AABBCCDDEE")
	if err != nil {
		t.Fatalf("mfa completion errored: %v", err)
	}
	if replay.Status != auth.LoginFailed {
		t.Fatal("a consumed backup code must not work twice")
	}
}

func TestCompleteMFALogin_TOTP(t *testing.T) {
	f := newFixture(t)
	cred := f.seedUser(t, "correct horse battery")
	enableMFA(t, f, cred)
	ctx := context.Background()

	login, err := f.service.Login(ctx, testEmail, "correct horse battery")
	if err != nil || login.Status != auth.LoginMFARequired {
		t.Fatalf("unexpected login outcome: %v %v", login, err)
	}

	code := totpNow(t, string(cred.MFASecret))
	result, err := f.service.CompleteMFALogin(ctx, login.MFAToken, code)
	if err != nil {
		t.Fatalf("mfa completion failed: %v", err)
	}
	if result.Status != auth.LoginSuccess {
		t.Fatalf("valid TOTP must complete the login, got %s", result.Status)
	}
	// Backup codes are untouched on the TOTP path.
	if len(f.creds.byEmail[testEmail].MFABackupCodes) != 2 {
		t.Fatal("TOTP login must not consume backup codes")
	}
}

func TestCompleteMFALogin_InvalidCodeCountsTowardLockout(t *testing.T) {
	f := newFixture(t)
	cred := f.seedUser(t, "correct horse battery")
	enableMFA(t, f, cred)
	ctx := context.Background()

	login, err := f.service.Login(ctx, testEmail, "correct horse battery")
	if err != nil || login.Status != auth.LoginMFARequired {
		t.Fatalf("unexpected login outcome: %v %v", login, err)
	}

	for i := 0; i < credential.MaxFailedAttempts; i++ {
		result, err := f.service.CompleteMFALogin(ctx, login.MFAToken, "000000")
		if err != nil {
			t.Fatalf("mfa completion errored: %v", err)
		}
		if result.Status != auth.LoginFailed {
			t.Fatalf("attempt %d must fail", i+1)
		}
	}

	result, err := f.service.CompleteMFALogin(ctx, login.MFAToken, "AABBCCDDEE")
	if err != nil {
		t.Fatalf("mfa completion errored: %v", err)
	}
	if !errx.IsCode(result.Err, credential.CodeAccountLocked) {
		t.Fatalf("repeated MFA failures must lock the account, got %v", result.Err)
	}
}

func TestCompleteMFALogin_ExpiredChallenge(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, err := f.service.CompleteMFALogin(ctx, "no-such-challenge", "123456")
	if err != nil {
		t.Fatalf("mfa completion errored: %v", err)
	}
	if !errx.IsCode(result.Err, auth.CodeChallengeExpired) {
		t.Fatalf("unknown challenge must be reported expired, got %v", result.Err)
	}
}

func TestChangePassword(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, "old password here")
	ctx := context.Background()

	login, err := f.service.Login(ctx, testEmail, "old password here")
	if err != nil || login.Status != auth.LoginSuccess {
		t.Fatalf("unexpected login outcome: %v %v", login, err)
	}
	other, err := f.service.Login(ctx, testEmail, "old password here")
	if err != nil || other.Status != auth.LoginSuccess {
		t.Fatalf("unexpected login outcome: %v %v", other, err)
	}

	// Wrong current password is rejected.
	if _, err := f.service.ChangePassword(ctx, testUser, testTenant, login.Session.Token, "not the password", "brand new password"); err == nil {
		t.Fatal("change with wrong current password must fail")
	}

	count, err := f.service.ChangePassword(ctx, testUser, testTenant, login.Session.Token, "old password here", "brand new password")
	if err != nil {
		t.Fatalf("change failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("the other session must be revoked, got %d", count)
	}
	if _, ok := f.sessions.sessions[login.Session.Token]; !ok {
		t.Fatal("the current session must survive")
	}

	// Old password no longer works, new one does.
	stale, _ := f.service.Login(ctx, testEmail, "old password here")
	if stale.Status != auth.LoginFailed {
		t.Fatal("old password must stop working")
	}
	fresh, _ := f.service.Login(ctx, testEmail, "brand new password")
	if fresh.Status != auth.LoginSuccess {
		t.Fatal("new password must work")
	}
}

func TestMFAEnrollmentFlow(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, "correct horse battery")
	ctx := context.Background()

	login, err := f.service.Login(ctx, testEmail, "correct horse battery")
	if err != nil || login.Status != auth.LoginSuccess {
		t.Fatalf("unexpected login outcome: %v %v", login, err)
	}

	// Begin requires the password.
	if _, err := f.service.BeginMFAEnrollment(ctx, testUser, testTenant, "wrong password"); err == nil {
		t.Fatal("enrollment with wrong password must fail")
	}

	setup, err := f.service.BeginMFAEnrollment(ctx, testUser, testTenant, "correct horse battery")
	if err != nil {
		t.Fatalf("enrollment failed: %v", err)
	}
	if setup.Secret == "" || len(setup.BackupCodes) != 8 {
		t.Fatalf("unexpected setup payload: %+v", setup)
	}
	if f.creds.byEmail[testEmail].MFAEnabled {
		t.Fatal("MFA must stay off until confirmed")
	}

	// A wrong code does not confirm.
	if _, err := f.service.ConfirmMFAEnrollment(ctx, testUser, testTenant, login.Session.Token, "000000"); err == nil {
		t.Fatal("wrong code must not confirm enrollment")
	}

	code := totpNow(t, setup.Secret)
	if _, err := f.service.ConfirmMFAEnrollment(ctx, testUser, testTenant, login.Session.Token, code); err != nil {
		t.Fatalf("confirmation failed: %v", err)
	}
	if !f.creds.byEmail[testEmail].MFAEnabled {
		t.Fatal("MFA must be on after confirmation")
	}

	// Disable requires password and a valid code.
	code = totpNow(t, setup.Secret)
	if _, err := f.service.DisableMFA(ctx, testUser, testTenant, login.Session.Token, "correct horse battery", code); err != nil {
		t.Fatalf("disable failed: %v", err)
	}
	cred := f.creds.byEmail[testEmail]
	if cred.MFAEnabled || len(cred.MFASecret) != 0 || len(cred.MFABackupCodes) != 0 {
		t.Fatal("disable must clear every MFA artifact")
	}
}

func TestLogoutEverywhere(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, "correct horse battery")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if result, err := f.service.Login(ctx, testEmail, "correct horse battery"); err != nil || result.Status != auth.LoginSuccess {
			t.Fatalf("unexpected login outcome: %v %v", result, err)
		}
	}

	count, err := f.service.LogoutEverywhere(ctx, testUser)
	if err != nil {
		t.Fatalf("logout everywhere failed: %v", err)
	}
	if count != 3 {
		t.Fatalf("expected 3 revoked sessions, got %d", count)
	}
	if len(f.sessions.sessions) != 0 {
		t.Fatal("no sessions may remain")
	}
}

// enableMFA seeds an enabled MFA state with a known secret and two backup
// codes: AABBCCDDEE and 1122334455.
func enableMFA(t *testing.T, f *fixture, cred *credential.Credential) {
	t.Helper()
	cred.MFAEnabled = true
	cred.MFASecret = []byte("JBSWY3DPEHPK3PXPJBSWY3DPEHPK3PXP")
	cred.MFABackupCodes = []string{
		mfa.HashBackupCode("AABBCCDDEE"),
		mfa.HashBackupCode("1122334455"),
	}
}

// totpNow computes the current RFC 6238 code for a base32 secret.
func totpNow(t *testing.T, secret string) string {
	t.Helper()
	key, err := base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(secret)
	if err != nil {
		t.Fatalf("bad secret: %v", err)
	}

	counter := time.Now().Unix() / 30
	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], uint64(counter))

	mac := hmac.New(sha1.New, key)
	mac.Write(msg[:])
	sum := mac.Sum(nil)

	offset := sum[len(sum)-1] & 0x0f
	code := (binary.BigEndian.Uint32(sum[offset:offset+4]) & 0x7fffffff) % 1000000
	return fmt.Sprintf("%06d", code)
}
