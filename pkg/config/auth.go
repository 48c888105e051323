package config

import "time"

// AuthConfig groups every IAM-related setting.
type AuthConfig struct {
	Password  PasswordConfig
	Session   SessionConfig
	APIKey    APIKeyConfig
	MFA       MFAConfig
	RateLimit RateLimitConfig
	CSRF      CSRFConfig
}

// PasswordConfig tunes the memory-hard password hash.
type PasswordConfig struct {
	Memory      uint32 // KiB
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// SessionConfig tunes session lifetimes.
type SessionConfig struct {
	// InactivityWindow is the sliding lifetime refreshed on use.
	InactivityWindow time.Duration
	// AbsoluteLifetime caps the session regardless of activity.
	AbsoluteLifetime time.Duration
	// CleanupInterval is how often expired rows are swept.
	CleanupInterval time.Duration
}

// APIKeyConfig configures key generation and hashing.
type APIKeyConfig struct {
	Environment string // "live" or "test"
	TokenLength int
	// HMACSecret keys the stored hash so a leaked table alone is useless.
	HMACSecret string
}

// MFAConfig configures TOTP enrollment.
type MFAConfig struct {
	Issuer          string
	BackupCodeCount int
}

// RateLimitConfig configures the sliding-window limiter tiers.
type RateLimitConfig struct {
	Window        time.Duration
	AuthLimit     int
	APILimit      int
	MutationLimit int
}

// CSRFConfig configures the anti-forgery guard.
type CSRFConfig struct {
	SigningSecret     string
	TokenTTL          time.Duration
	MaxLocalCacheSize int
	// AttemptsPerMinute caps validation attempts per source address.
	AttemptsPerMinute int
}

func loadAuthConfig() AuthConfig {
	return AuthConfig{
		Password: PasswordConfig{
			Memory:      uint32(getEnvInt("AUTH_PASSWORD_MEMORY_KB", 19456)),
			Time:        uint32(getEnvInt("AUTH_PASSWORD_TIME", 2)),
			Parallelism: uint8(getEnvInt("AUTH_PASSWORD_PARALLELISM", 1)),
			SaltLength:  16,
			KeyLength:   32,
		},
		Session: SessionConfig{
			InactivityWindow: getEnvDuration("AUTH_SESSION_INACTIVITY_WINDOW", 24*time.Hour),
			AbsoluteLifetime: getEnvDuration("AUTH_SESSION_ABSOLUTE_LIFETIME", 30*24*time.Hour),
			CleanupInterval:  getEnvDuration("AUTH_SESSION_CLEANUP_INTERVAL", time.Hour),
		},
		APIKey: APIKeyConfig{
			Environment: getEnv("AUTH_APIKEY_ENVIRONMENT", "live"),
			TokenLength: getEnvInt("AUTH_APIKEY_TOKEN_LENGTH", 32),
			HMACSecret:  getEnv("AUTH_APIKEY_HMAC_SECRET", ""),
		},
		MFA: MFAConfig{
			Issuer:          getEnv("AUTH_MFA_ISSUER", "Bastion"),
			BackupCodeCount: 8,
		},
		RateLimit: RateLimitConfig{
			Window:        getEnvDuration("AUTH_RATELIMIT_WINDOW", time.Minute),
			AuthLimit:     getEnvInt("AUTH_RATELIMIT_AUTH", 10),
			APILimit:      getEnvInt("AUTH_RATELIMIT_API", 120),
			MutationLimit: getEnvInt("AUTH_RATELIMIT_MUTATION", 30),
		},
		CSRF: CSRFConfig{
			SigningSecret:     getEnv("AUTH_CSRF_SECRET", ""),
			TokenTTL:          getEnvDuration("AUTH_CSRF_TOKEN_TTL", time.Hour),
			MaxLocalCacheSize: getEnvInt("AUTH_CSRF_LOCAL_CACHE_MAX", 10000),
			AttemptsPerMinute: getEnvInt("AUTH_CSRF_ATTEMPTS_PER_MINUTE", 30),
		},
	}
}
