package apikey

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/Abraxas-365/bastion/pkg/errx"
	"github.com/Abraxas-365/bastion/pkg/kernel"
	"github.com/lib/pq"
)

// ============================================================================
// Key Types & Permissions
// ============================================================================

// KeyType distinguishes publishable (client-side) from secret keys.
type KeyType string

const (
	KeyTypePublishable KeyType = "publishable"
	KeyTypeSecret      KeyType = "secret"
)

func (t KeyType) tag() string {
	if t == KeyTypePublishable {
		return "pk"
	}
	return "sk"
}

// Permission is a granted capability on an API key.
type Permission string

const (
	PermissionRead  Permission = "read"
	PermissionWrite Permission = "write"
	PermissionAdmin Permission = "admin"
)

// ValidatePermissionSet enforces the hierarchy admin ⟹ write ⟹ read at
// creation time: write without read, or admin without write+read, is rejected.
func ValidatePermissionSet(perms []Permission) error {
	set := make(map[Permission]bool, len(perms))
	for _, p := range perms {
		switch p {
		case PermissionRead, PermissionWrite, PermissionAdmin:
			set[p] = true
		default:
			return ErrRegistry.NewWithMessage(CodeInvalidPermissions, "Unknown permission").
				WithDetail("permission", string(p))
		}
	}
	if len(set) == 0 {
		return ErrRegistry.NewWithMessage(CodeInvalidPermissions, "At least one permission is required")
	}
	if set[PermissionWrite] && !set[PermissionRead] {
		return ErrRegistry.New(CodeInvalidPermissions).WithDetail("reason", "write requires read")
	}
	if set[PermissionAdmin] && (!set[PermissionWrite] || !set[PermissionRead]) {
		return ErrRegistry.New(CodeInvalidPermissions).WithDetail("reason", "admin requires write and read")
	}
	return nil
}

// HasPermission checks membership under the hierarchy: admin subsumes
// everything, write subsumes read, anything else is exact membership.
func HasPermission(granted []Permission, required Permission) bool {
	for _, p := range granted {
		if p == required {
			return true
		}
		if p == PermissionAdmin {
			return true
		}
		if p == PermissionWrite && required == PermissionRead {
			return true
		}
	}
	return false
}

// ============================================================================
// API Key Record
// ============================================================================

// APIKey is the stored representation of a long-lived credential. The
// plaintext never persists; only the keyed hash and display prefix do.
type APIKey struct {
	ID          string          `db:"id" json:"id"`
	TenantID    kernel.TenantID `db:"tenant_id" json:"tenant_id"`
	Type        KeyType         `db:"key_type" json:"type"`
	KeyHash     string          `db:"key_hash" json:"-"`
	KeyPrefix   string          `db:"key_prefix" json:"key_prefix"`
	Permissions pq.StringArray  `db:"permissions" json:"permissions"`
	IPWhitelist pq.StringArray  `db:"ip_whitelist" json:"ip_whitelist"`
	ExpiresAt   *time.Time      `db:"expires_at" json:"expires_at"`
	RevokedAt   *time.Time      `db:"revoked_at" json:"revoked_at"`
	LastUsedAt  *time.Time      `db:"last_used_at" json:"last_used_at"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
}

// IsExpired reports whether the key is past its expiry.
func (k *APIKey) IsExpired(now time.Time) bool {
	return k.ExpiresAt != nil && now.After(*k.ExpiresAt)
}

// IsRevoked reports whether the key has been soft-deleted.
func (k *APIKey) IsRevoked() bool {
	return k.RevokedAt != nil
}

// Revoke marks the key revoked. Rows are never physically deleted: audit
// retention depends on them.
func (k *APIKey) Revoke(now time.Time) {
	if k.RevokedAt == nil {
		k.RevokedAt = &now
	}
}

// PermissionSet returns the granted permissions as typed values.
func (k *APIKey) PermissionSet() []Permission {
	perms := make([]Permission, len(k.Permissions))
	for i, p := range k.Permissions {
		perms[i] = Permission(p)
	}
	return perms
}

// ============================================================================
// Generation, Hashing & Format
// ============================================================================

var keyConfig = struct {
	environment string
	tokenLength int
	hmacSecret  []byte
}{
	environment: "live",
	tokenLength: 32,
}

// InitAPIKeyConfig sets the environment tag, token length and the
// server-side HMAC secret used for key hashing. Call once at startup.
func InitAPIKeyConfig(environment string, tokenLength int, hmacSecret string) {
	if environment == "test" {
		keyConfig.environment = "test"
	} else {
		keyConfig.environment = "live"
	}
	if tokenLength >= 32 {
		keyConfig.tokenLength = tokenLength
	}
	keyConfig.hmacSecret = []byte(hmacSecret)
}

// GeneratedKey carries the one-time plaintext alongside its stored forms.
type GeneratedKey struct {
	Key       string
	KeyHash   string
	KeyPrefix string
}

// GenerateAPIKey produces a random key of the form
// {pk|sk}_{live|test}_{token}. The plaintext is returned exactly once.
func GenerateAPIKey(keyType KeyType) (*GeneratedKey, error) {
	raw := make([]byte, keyConfig.tokenLength)
	if _, err := rand.Read(raw); err != nil {
		return nil, errx.Wrap(err, "failed to generate API key", errx.TypeInternal)
	}
	token := base64.RawURLEncoding.EncodeToString(raw)[:keyConfig.tokenLength]

	key := keyType.tag() + "_" + keyConfig.environment + "_" + token

	return &GeneratedKey{
		Key:       key,
		KeyHash:   HashAPIKey(key),
		KeyPrefix: key[:len(keyType.tag())+len(keyConfig.environment)+10],
	}, nil
}

// HashAPIKey computes the keyed hash stored in place of the plaintext.
// HMAC with a server-side secret defeats precomputed tables even if the
// hash column leaks.
func HashAPIKey(key string) string {
	mac := hmac.New(sha256.New, keyConfig.hmacSecret)
	mac.Write([]byte(key))
	return hex.EncodeToString(mac.Sum(nil))
}

// ValidateAPIKeyFormat performs the cheap structural check that gates any
// storage lookup: known prefix, expected length, url-safe charset.
func ValidateAPIKeyFormat(key string) bool {
	parts := strings.SplitN(key, "_", 3)
	if len(parts) != 3 {
		return false
	}
	if parts[0] != "pk" && parts[0] != "sk" {
		return false
	}
	if parts[1] != "live" && parts[1] != "test" {
		return false
	}
	if len(parts[2]) < 32 {
		return false
	}
	for _, r := range parts[2] {
		isAlnum := (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
		if !isAlnum && r != '-' && r != '_' {
			return false
		}
	}
	return true
}

// ============================================================================
// IP Whitelist
// ============================================================================

// MatchIPWhitelist reports whether clientIP is allowed. An empty whitelist
// means unrestricted; entries may be single addresses or CIDR ranges.
func MatchIPWhitelist(clientIP string, whitelist []string) bool {
	if len(whitelist) == 0 {
		return true
	}

	ip := net.ParseIP(clientIP)
	if ip == nil {
		return false
	}

	for _, entry := range whitelist {
		if strings.Contains(entry, "/") {
			_, network, err := net.ParseCIDR(entry)
			if err != nil {
				continue
			}
			if network.Contains(ip) {
				return true
			}
			continue
		}
		if allowed := net.ParseIP(entry); allowed != nil && allowed.Equal(ip) {
			return true
		}
	}
	return false
}

// ============================================================================
// Error Registry
// ============================================================================

var ErrRegistry = errx.NewRegistry("APIKEY")

var (
	CodeNotFound           = ErrRegistry.Register("NOT_FOUND", errx.TypeNotFound, http.StatusNotFound, "API key not found")
	CodeInvalid            = ErrRegistry.Register("INVALID", errx.TypeAuthorization, http.StatusUnauthorized, "Invalid API key")
	CodeRevoked            = ErrRegistry.Register("REVOKED", errx.TypeAuthorization, http.StatusUnauthorized, "API key has been revoked")
	CodeExpired            = ErrRegistry.Register("EXPIRED", errx.TypeAuthorization, http.StatusUnauthorized, "API key has expired")
	CodeIPNotAllowed       = ErrRegistry.Register("IP_NOT_ALLOWED", errx.TypeAuthorization, http.StatusForbidden, "Client address not allowed for this key")
	CodeInvalidPermissions = ErrRegistry.Register("INVALID_PERMISSIONS", errx.TypeValidation, http.StatusBadRequest, "Invalid permission set")
)

// Helper functions
func ErrAPIKeyNotFound() *errx.Error {
	return ErrRegistry.New(CodeNotFound)
}

func ErrAPIKeyInvalid() *errx.Error {
	return ErrRegistry.New(CodeInvalid)
}

func ErrAPIKeyRevoked() *errx.Error {
	return ErrRegistry.New(CodeRevoked)
}

func ErrAPIKeyExpired() *errx.Error {
	return ErrRegistry.New(CodeExpired)
}

func ErrAPIKeyIPNotAllowed() *errx.Error {
	return ErrRegistry.New(CodeIPNotAllowed)
}
