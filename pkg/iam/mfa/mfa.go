// Package mfa implements TOTP second-factor enrollment and verification
// with single-use backup codes.
package mfa

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base32"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Abraxas-365/bastion/pkg/config"
	"github.com/Abraxas-365/bastion/pkg/errx"
)

const (
	secretBytes = 20
	period      = 30
	digits      = 6
	// skew permite ±1 paso de reloj entre cliente y servidor.
	skew = 1

	backupCodeBytes        = 5
	defaultBackupCodeCount = 8
)

// ============================================================================
// Error Registry
// ============================================================================

var ErrRegistry = errx.NewRegistry("MFA")

var (
	CodeRequired        = ErrRegistry.Register("REQUIRED", errx.TypeAuthorization, http.StatusUnauthorized, "Multi-factor authentication required")
	CodeInvalidCode     = ErrRegistry.Register("INVALID_CODE", errx.TypeAuthorization, http.StatusUnauthorized, "Invalid or expired code")
	CodeSetupFailed     = ErrRegistry.Register("SETUP_FAILED", errx.TypeInternal, http.StatusInternalServerError, "MFA setup failed")
	CodeNotEnabled      = ErrRegistry.Register("NOT_ENABLED", errx.TypeValidation, http.StatusBadRequest, "MFA is not enabled")
	CodeAlreadyEnabled  = ErrRegistry.Register("ALREADY_ENABLED", errx.TypeConflict, http.StatusConflict, "MFA is already enabled")
)

// Helper functions
func ErrMFARequired() *errx.Error {
	return ErrRegistry.New(CodeRequired)
}

func ErrInvalidCode() *errx.Error {
	return ErrRegistry.New(CodeInvalidCode)
}

// ============================================================================
// Service
// ============================================================================

// Setup is the enrollment payload. Secret and BackupCodes are shown to the
// user exactly once and never stored in plaintext.
type Setup struct {
	Secret      string   `json:"secret"`
	QRPayload   string   `json:"qr_payload"`
	BackupCodes []string `json:"backup_codes"`
}

// VerifyOutcome reports which factor path matched.
type VerifyOutcome struct {
	Valid bool
	// UsedBackupCodeIndex is >= 0 when a backup code matched, so the caller
	// can remove it from the stored set (each code is single-use).
	UsedBackupCodeIndex int
}

// Service generates TOTP enrollments and verifies one-time codes.
type Service struct {
	backupCodeCount int
}

// NewService crea el servicio MFA.
func NewService(cfg config.MFAConfig) *Service {
	count := cfg.BackupCodeCount
	if count <= 0 {
		count = defaultBackupCodeCount
	}
	return &Service{backupCodeCount: count}
}

// GenerateSetup produces a random shared secret, its otpauth provisioning
// URI, and a fixed count of high-entropy single-use backup codes.
func (s *Service) GenerateSetup(account, issuer string) (*Setup, error) {
	raw := make([]byte, secretBytes)
	if _, err := rand.Read(raw); err != nil {
		return nil, ErrRegistry.NewWithCause(CodeSetupFailed, err)
	}
	secret := base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(raw)

	codes := make([]string, s.backupCodeCount)
	for i := range codes {
		buf := make([]byte, backupCodeBytes)
		if _, err := rand.Read(buf); err != nil {
			return nil, ErrRegistry.NewWithCause(CodeSetupFailed, err)
		}
		codes[i] = strings.ToUpper(hex.EncodeToString(buf))
	}

	return &Setup{
		Secret:      secret,
		QRPayload:   provisionURI(secret, account, issuer),
		BackupCodes: codes,
	}, nil
}

// VerifyCode checks the code first against the TOTP algorithm with ±1 step
// of clock skew, then against the hashed backup codes. Exactly one path may
// succeed per call.
func (s *Service) VerifyCode(code, secret string, hashedBackupCodes []string) VerifyOutcome {
	return s.verifyCodeAt(code, secret, hashedBackupCodes, time.Now())
}

func (s *Service) verifyCodeAt(code, secret string, hashedBackupCodes []string, now time.Time) VerifyOutcome {
	trimmed := strings.TrimSpace(code)

	if verifyTOTP(trimmed, secret, now) {
		return VerifyOutcome{Valid: true, UsedBackupCodeIndex: -1}
	}

	hashed := HashBackupCode(trimmed)
	for i, stored := range hashedBackupCodes {
		if subtle.ConstantTimeCompare([]byte(hashed), []byte(stored)) == 1 {
			return VerifyOutcome{Valid: true, UsedBackupCodeIndex: i}
		}
	}

	return VerifyOutcome{Valid: false, UsedBackupCodeIndex: -1}
}

// HashBackupCodes one-way hashes each code for storage.
func (s *Service) HashBackupCodes(codes []string) []string {
	hashed := make([]string, len(codes))
	for i, code := range codes {
		hashed[i] = HashBackupCode(code)
	}
	return hashed
}

// HashBackupCode hashes a single backup code. Codes are compared by hash;
// plaintext never touches storage.
func HashBackupCode(code string) string {
	sum := sha256.Sum256([]byte(strings.ToUpper(strings.TrimSpace(code))))
	return hex.EncodeToString(sum[:])
}

// ============================================================================
// TOTP (RFC 6238)
// ============================================================================

func verifyTOTP(code, secret string, now time.Time) bool {
	if len(code) != digits || !isNumeric(code) {
		return false
	}

	key, err := base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(strings.ToUpper(secret))
	if err != nil || len(key) == 0 {
		return false
	}

	baseCounter := now.Unix() / period
	for step := int64(-skew); step <= skew; step++ {
		counter := baseCounter + step
		if counter < 0 {
			continue
		}
		if subtle.ConstantTimeCompare([]byte(hotpCode(key, counter)), []byte(code)) == 1 {
			return true
		}
	}
	return false
}

func hotpCode(key []byte, counter int64) string {
	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], uint64(counter))

	mac := hmac.New(sha1.New, key)
	_, _ = mac.Write(msg[:])
	sum := mac.Sum(nil)

	offset := sum[len(sum)-1] & 0x0f
	bin := (int(sum[offset])&0x7f)<<24 |
		(int(sum[offset+1])&0xff)<<16 |
		(int(sum[offset+2])&0xff)<<8 |
		(int(sum[offset+3]) & 0xff)

	return fmt.Sprintf("%06d", bin%1000000)
}

func isNumeric(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}

func provisionURI(secret, account, issuer string) string {
	label := url.PathEscape(issuer + ":" + account)

	v := url.Values{}
	v.Set("secret", secret)
	v.Set("issuer", issuer)
	v.Set("period", fmt.Sprintf("%d", period))
	v.Set("digits", fmt.Sprintf("%d", digits))
	v.Set("algorithm", "SHA1")

	return "otpauth://totp/" + label + "?" + v.Encode()
}
