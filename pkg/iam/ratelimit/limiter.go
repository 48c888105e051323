// Package ratelimit implements a sliding-window rate limiter over the
// shared cache service. Counts are exact within the window, not bucketed.
package ratelimit

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/Abraxas-365/bastion/pkg/cachex"
	"github.com/Abraxas-365/bastion/pkg/config"
	"github.com/Abraxas-365/bastion/pkg/logx"
)

// Tier selects which limit applies to a request class.
type Tier string

const (
	// TierAuth covers login, MFA and password endpoints.
	TierAuth Tier = "auth"
	// TierAPI covers general authenticated reads.
	TierAPI Tier = "api"
	// TierMutation covers authenticated writes.
	TierMutation Tier = "mutation"
)

// Decision is the outcome of a rate check.
type Decision struct {
	Allowed bool
	// Remaining is how many requests are left in the window.
	Remaining int
	// RetryAfter is how long to wait before retrying when denied.
	RetryAfter time.Duration
}

// Limiter enforces per-identity request limits using sorted-set windows
// in the cache service, so limits hold across server instances. When the
// cache is unreachable the limiter fails open: availability over strict
// enforcement, logged for operators.
type Limiter struct {
	cache cachex.Cache
	cfg   config.RateLimitConfig
}

// NewLimiter creates a limiter with the configured tier limits.
func NewLimiter(cache cachex.Cache, cfg config.RateLimitConfig) *Limiter {
	return &Limiter{cache: cache, cfg: cfg}
}

// Allow records the request and reports whether it is within the tier
// limit for the identity. Identities look like "user:{id}" or "ip:{addr}".
func (l *Limiter) Allow(ctx context.Context, tier Tier, identity string) Decision {
	limit := l.limitFor(tier)
	if limit <= 0 {
		return Decision{Allowed: true}
	}

	key := fmt.Sprintf("rl:%s:%s", tier, identity)
	now := time.Now()
	windowStart := now.Add(-l.cfg.Window)

	// Drop entries that slid out of the window, record this request,
	// then count what remains.
	if err := l.cache.SortedRemoveRangeByScore(ctx, key, 0, float64(windowStart.UnixMilli())); err != nil {
		return l.failOpen(err)
	}
	if err := l.cache.SortedAdd(ctx, key, float64(now.UnixMilli()), member(now)); err != nil {
		return l.failOpen(err)
	}
	if err := l.cache.Expire(ctx, key, l.cfg.Window); err != nil {
		return l.failOpen(err)
	}

	count, err := l.cache.SortedCount(ctx, key)
	if err != nil {
		return l.failOpen(err)
	}

	if count > int64(limit) {
		return Decision{Allowed: false, RetryAfter: l.cfg.Window}
	}
	return Decision{Allowed: true, Remaining: limit - int(count)}
}

func (l *Limiter) limitFor(tier Tier) int {
	switch tier {
	case TierAuth:
		return l.cfg.AuthLimit
	case TierAPI:
		return l.cfg.APILimit
	case TierMutation:
		return l.cfg.MutationLimit
	default:
		return l.cfg.APILimit
	}
}

func (l *Limiter) failOpen(err error) Decision {
	if errors.Is(err, cachex.ErrUnavailable) {
		logx.WithError(err).Warn("Rate limiter cache unavailable, failing open")
	} else {
		logx.WithError(err).Error("Rate limiter cache operation failed, failing open")
	}
	return Decision{Allowed: true}
}

// member builds a unique sorted-set member so two requests in the same
// millisecond both count.
func member(now time.Time) string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return fmt.Sprintf("%d-%s", now.UnixNano(), hex.EncodeToString(buf))
}
