// Package csrf issues and validates anti-forgery tokens for browser
// sessions. Tokens are signed JWTs bound to the session they were issued
// for; API key requests never carry them.
package csrf

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/Abraxas-365/bastion/pkg/cachex"
	"github.com/Abraxas-365/bastion/pkg/config"
	"github.com/Abraxas-365/bastion/pkg/errx"
	"github.com/Abraxas-365/bastion/pkg/logx"
)

// HeaderName is the request header carrying the anti-forgery token.
const HeaderName = "X-CSRF-Token"

// ============================================================================
// Error Registry
// ============================================================================

var ErrRegistry = errx.NewRegistry("CSRF")

var (
	CodeMissing   = ErrRegistry.Register("MISSING", errx.TypeAuthorization, http.StatusForbidden, "CSRF token missing")
	CodeInvalid   = ErrRegistry.Register("INVALID", errx.TypeAuthorization, http.StatusForbidden, "CSRF token invalid")
	CodeThrottled = ErrRegistry.Register("THROTTLED", errx.TypeRateLimit, http.StatusTooManyRequests, "Too many CSRF validation attempts")
)

func ErrTokenMissing() *errx.Error { return ErrRegistry.New(CodeMissing) }
func ErrTokenInvalid() *errx.Error { return ErrRegistry.New(CodeInvalid) }
func ErrTooManyAttempts() *errx.Error { return ErrRegistry.New(CodeThrottled) }

// ============================================================================
// Guard
// ============================================================================

// Guard issues session-bound anti-forgery tokens and validates them.
// Successful validations are cached in the cache service so repeat
// requests skip signature verification; a small bounded local cache
// covers the window when the cache service is unreachable.
type Guard struct {
	cfg config.CSRFConfig

	cache cachex.Cache

	mu    sync.Mutex
	local map[string]time.Time
}

// NewGuard creates the guard. SigningSecret must be non-empty.
func NewGuard(cache cachex.Cache, cfg config.CSRFConfig) *Guard {
	return &Guard{
		cfg:   cfg,
		cache: cache,
		local: make(map[string]time.Time),
	}
}

// IssueToken mints a token bound to the given session. The binding is a
// digest of the session token, so the CSRF token exposed to page scripts
// never contains the session credential itself.
func (g *Guard) IssueToken(sessionToken string) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sid": bindSession(sessionToken),
		"jti": uuid.NewString(),
		"iat": now.Unix(),
		"exp": now.Add(g.cfg.TokenTTL).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(g.cfg.SigningSecret))
	if err != nil {
		return "", errx.Wrap(err, "failed to sign CSRF token", errx.TypeInternal)
	}
	return signed, nil
}

// Validate checks the token from the request header against the current
// session. clientIP throttles brute-force validation attempts.
func (g *Guard) Validate(ctx context.Context, token, sessionToken, clientIP string) error {
	if token == "" {
		return ErrTokenMissing()
	}
	// Cheap structural check before any cache or crypto work.
	if strings.Count(token, ".") != 2 {
		return ErrTokenInvalid().WithDetail("reason", "malformed token")
	}

	if err := g.throttle(ctx, clientIP); err != nil {
		return err
	}

	binding := bindSession(sessionToken)
	fingerprint := tokenFingerprint(token)

	if g.checkValidated(ctx, fingerprint, binding) {
		return nil
	}

	if err := g.verify(token, binding); err != nil {
		return err
	}

	g.rememberValidated(ctx, fingerprint, binding)
	return nil
}

func (g *Guard) verify(token, binding string) error {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		return []byte(g.cfg.SigningSecret), nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return ErrTokenInvalid().WithDetail("reason", "token expired")
		}
		return ErrTokenInvalid()
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return ErrTokenInvalid()
	}
	sid, _ := claims["sid"].(string)
	if sid == "" || sid != binding {
		// Token was issued for a different session.
		return ErrTokenInvalid().WithDetail("reason", "session mismatch")
	}
	return nil
}

// throttle caps validation attempts per source address. When the cache
// service is down the throttle is skipped; the signature check still runs.
func (g *Guard) throttle(ctx context.Context, clientIP string) error {
	if g.cfg.AttemptsPerMinute <= 0 || clientIP == "" {
		return nil
	}

	key := "csrf:attempts:" + clientIP
	count, err := g.cache.Increment(ctx, key, time.Minute)
	if err != nil {
		if errors.Is(err, cachex.ErrUnavailable) {
			logx.WithError(err).Warn("CSRF attempt throttle unavailable, skipping")
			return nil
		}
		return errx.Wrap(err, "CSRF throttle failed", errx.TypeInternal)
	}
	if count > int64(g.cfg.AttemptsPerMinute) {
		return ErrTooManyAttempts().WithDetail("client_ip", clientIP)
	}
	return nil
}

func (g *Guard) checkValidated(ctx context.Context, fingerprint, binding string) bool {
	value, err := g.cache.Get(ctx, validatedKey(fingerprint))
	if err == nil {
		return value == binding
	}
	if errors.Is(err, cachex.ErrUnavailable) {
		return g.checkLocal(fingerprint + ":" + binding)
	}
	return false
}

func (g *Guard) rememberValidated(ctx context.Context, fingerprint, binding string) {
	err := g.cache.Set(ctx, validatedKey(fingerprint), binding, g.cfg.TokenTTL)
	if err == nil {
		return
	}
	if errors.Is(err, cachex.ErrUnavailable) {
		g.rememberLocal(fingerprint + ":" + binding)
		return
	}
	logx.WithError(err).Warn("failed to cache CSRF validation result")
}

// checkLocal consults the bounded in-process fallback.
func (g *Guard) checkLocal(entry string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	expiry, ok := g.local[entry]
	if !ok {
		return false
	}
	if time.Now().After(expiry) {
		delete(g.local, entry)
		return false
	}
	return true
}

func (g *Guard) rememberLocal(entry string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := time.Now()
	if len(g.local) >= g.cfg.MaxLocalCacheSize {
		for key, expiry := range g.local {
			if now.After(expiry) {
				delete(g.local, key)
			}
		}
	}
	// Still full after pruning: refuse to grow. The token just verifies
	// again next time.
	if len(g.local) >= g.cfg.MaxLocalCacheSize {
		return
	}
	g.local[entry] = now.Add(g.cfg.TokenTTL)
}

func validatedKey(fingerprint string) string {
	return "csrf:ok:" + fingerprint
}

func tokenFingerprint(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func bindSession(sessionToken string) string {
	sum := sha256.Sum256([]byte("csrf-bind:" + sessionToken))
	return hex.EncodeToString(sum[:])
}
