package ratelimit_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/Abraxas-365/bastion/pkg/cachex/cachexredis"
	"github.com/Abraxas-365/bastion/pkg/config"
	"github.com/Abraxas-365/bastion/pkg/iam/ratelimit"
)

func setup(t *testing.T, cfg config.RateLimitConfig) (*ratelimit.Limiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return ratelimit.NewLimiter(cachexredis.NewRedisCache(client), cfg), mr
}

func TestAllow_EnforcesTierLimit(t *testing.T) {
	limiter, _ := setup(t, config.RateLimitConfig{
		Window:    time.Minute,
		AuthLimit: 3,
		APILimit:  100,
	})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		d := limiter.Allow(ctx, ratelimit.TierAuth, "ip:1.2.3.4")
		if !d.Allowed {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}

	d := limiter.Allow(ctx, ratelimit.TierAuth, "ip:1.2.3.4")
	if d.Allowed {
		t.Fatal("fourth request must be denied")
	}
	if d.RetryAfter <= 0 || d.RetryAfter > time.Minute {
		t.Fatalf("retry-after must be positive and bounded by the window, got %v", d.RetryAfter)
	}
}

func TestAllow_IdentitiesAndTiersAreIndependent(t *testing.T) {
	limiter, _ := setup(t, config.RateLimitConfig{
		Window:        time.Minute,
		AuthLimit:     1,
		APILimit:      1,
		MutationLimit: 1,
	})
	ctx := context.Background()

	if d := limiter.Allow(ctx, ratelimit.TierAuth, "ip:1.2.3.4"); !d.Allowed {
		t.Fatal("first request should pass")
	}
	if d := limiter.Allow(ctx, ratelimit.TierAuth, "ip:1.2.3.4"); d.Allowed {
		t.Fatal("second request for the same identity must be denied")
	}

	// A different identity in the same tier is unaffected.
	if d := limiter.Allow(ctx, ratelimit.TierAuth, "ip:5.6.7.8"); !d.Allowed {
		t.Fatal("other identity must have its own window")
	}
	// The same identity in a different tier is unaffected.
	if d := limiter.Allow(ctx, ratelimit.TierAPI, "ip:1.2.3.4"); !d.Allowed {
		t.Fatal("other tier must have its own window")
	}
}

func TestAllow_WindowSlides(t *testing.T) {
	limiter, mr := setup(t, config.RateLimitConfig{
		Window:    time.Minute,
		AuthLimit: 2,
	})
	ctx := context.Background()

	limiter.Allow(ctx, ratelimit.TierAuth, "user:u1")
	limiter.Allow(ctx, ratelimit.TierAuth, "user:u1")
	if d := limiter.Allow(ctx, ratelimit.TierAuth, "user:u1"); d.Allowed {
		t.Fatal("limit reached, request must be denied")
	}

	// Once the recorded requests slide out of the window, capacity returns.
	mr.FastForward(2 * time.Minute)
	if d := limiter.Allow(ctx, ratelimit.TierAuth, "user:u1"); !d.Allowed {
		t.Fatal("request after the window must be allowed again")
	}
}

func TestAllow_FailsOpenWhenCacheDown(t *testing.T) {
	limiter, mr := setup(t, config.RateLimitConfig{
		Window:    time.Minute,
		AuthLimit: 1,
	})
	mr.Close()

	for i := 0; i < 5; i++ {
		if d := limiter.Allow(context.Background(), ratelimit.TierAuth, "ip:1.2.3.4"); !d.Allowed {
			t.Fatal("limiter must fail open when the cache is unreachable")
		}
	}
}
