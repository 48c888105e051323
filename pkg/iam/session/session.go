package session

import (
	"net/http"
	"time"

	"github.com/Abraxas-365/bastion/pkg/errx"
	"github.com/Abraxas-365/bastion/pkg/kernel"
)

// ============================================================================
// Session Types
// ============================================================================

// Session is a durable authentication session. The token is opaque random
// bytes with no decodable structure; it is the cache and lookup key.
type Session struct {
	Token     string          `db:"token" json:"token"`
	UserID    kernel.UserID   `db:"user_id" json:"user_id"`
	TenantID  kernel.TenantID `db:"tenant_id" json:"tenant_id"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
	// ExpiresAt is the sliding inactivity deadline, refreshed on use.
	ExpiresAt time.Time `db:"expires_at" json:"expires_at"`
	// AbsoluteExpiresAt caps the session regardless of activity. Fixed at
	// creation, never refreshed.
	AbsoluteExpiresAt time.Time `db:"absolute_expires_at" json:"absolute_expires_at"`
}

// IsExpired reports whether the session is past either deadline.
func (s *Session) IsExpired(now time.Time) bool {
	return now.After(s.ExpiresAt) || now.After(s.AbsoluteExpiresAt)
}

// Refresh slides the inactivity deadline forward, capped by the absolute
// horizon.
func (s *Session) Refresh(now time.Time, window time.Duration) {
	next := now.Add(window)
	if next.After(s.AbsoluteExpiresAt) {
		next = s.AbsoluteExpiresAt
	}
	s.ExpiresAt = next
}

// RemainingAbsolute returns the time left until the absolute horizon.
func (s *Session) RemainingAbsolute(now time.Time) time.Duration {
	return s.AbsoluteExpiresAt.Sub(now)
}

// Principal is the credential snapshot resolved alongside a session so the
// request path does not re-query the credential row.
type Principal struct {
	UserID   kernel.UserID   `db:"user_id" json:"user_id"`
	TenantID kernel.TenantID `db:"tenant_id" json:"tenant_id"`
	Email    string          `db:"email" json:"email"`
	Role     kernel.Role     `db:"role" json:"role"`
}

// Resolved pairs a session with its principal snapshot. This is the unit
// the cache stores.
type Resolved struct {
	Session   Session   `json:"session"`
	Principal Principal `json:"principal"`
}

// ============================================================================
// Error Registry
// ============================================================================

var ErrRegistry = errx.NewRegistry("SESSION")

var (
	CodeNotFound = ErrRegistry.Register("NOT_FOUND", errx.TypeAuthorization, http.StatusUnauthorized, "Session not found")
	CodeExpired  = ErrRegistry.Register("EXPIRED", errx.TypeAuthorization, http.StatusUnauthorized, "Session expired")
)

// Helper functions
func ErrSessionNotFound() *errx.Error {
	return ErrRegistry.New(CodeNotFound)
}

func ErrSessionExpired() *errx.Error {
	return ErrRegistry.New(CodeExpired)
}
