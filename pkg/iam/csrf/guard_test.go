package csrf_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/Abraxas-365/bastion/pkg/cachex/cachexredis"
	"github.com/Abraxas-365/bastion/pkg/config"
	"github.com/Abraxas-365/bastion/pkg/errx"
	"github.com/Abraxas-365/bastion/pkg/iam/csrf"
)

func testConfig() config.CSRFConfig {
	return config.CSRFConfig{
		SigningSecret:     "unit-test-signing-secret",
		TokenTTL:          time.Hour,
		MaxLocalCacheSize: 4,
		AttemptsPerMinute: 5,
	}
}

func setup(t *testing.T) (*csrf.Guard, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return csrf.NewGuard(cachexredis.NewRedisCache(client), testConfig()), mr
}

func TestIssueAndValidate(t *testing.T) {
	guard, _ := setup(t)
	ctx := context.Background()

	token, err := guard.IssueToken("session-token-1")
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}
	if token == "" {
		t.Fatal("issued token must not be empty")
	}

	if err := guard.Validate(ctx, token, "session-token-1", "1.2.3.4"); err != nil {
		t.Fatalf("valid token rejected: %v", err)
	}
	// Second validation is served from the cache fast path.
	if err := guard.Validate(ctx, token, "session-token-1", "1.2.3.4"); err != nil {
		t.Fatalf("cached validation rejected: %v", err)
	}
}

func TestValidate_SessionBinding(t *testing.T) {
	guard, _ := setup(t)
	ctx := context.Background()

	token, err := guard.IssueToken("session-a")
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}

	// A token from one session is useless on another.
	if err := guard.Validate(ctx, token, "session-b", "1.2.3.4"); !errx.IsCode(err, csrf.CodeInvalid) {
		t.Fatalf("cross-session token must be rejected, got %v", err)
	}
	// And the rejection must not poison the fast path for the real owner.
	if err := guard.Validate(ctx, token, "session-a", "1.2.3.4"); err != nil {
		t.Fatalf("owner validation must still pass: %v", err)
	}
}

func TestValidate_MissingAndMalformed(t *testing.T) {
	guard, _ := setup(t)
	ctx := context.Background()

	if err := guard.Validate(ctx, "", "session-a", "1.2.3.4"); !errx.IsCode(err, csrf.CodeMissing) {
		t.Fatalf("empty token must be reported missing, got %v", err)
	}
	if err := guard.Validate(ctx, "not-a-jwt", "session-a", "1.2.3.4"); !errx.IsCode(err, csrf.CodeInvalid) {
		t.Fatalf("structurally invalid token must be rejected, got %v", err)
	}
	if err := guard.Validate(ctx, "a.b.c", "session-a", "1.2.3.4"); !errx.IsCode(err, csrf.CodeInvalid) {
		t.Fatalf("garbage JWT must be rejected, got %v", err)
	}
}

func TestValidate_ForgedSignature(t *testing.T) {
	guard, _ := setup(t)
	ctx := context.Background()

	other := csrf.NewGuard(nil, config.CSRFConfig{
		SigningSecret:     "attacker-secret",
		TokenTTL:          time.Hour,
		MaxLocalCacheSize: 4,
	})
	forged, err := other.IssueToken("session-a")
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}

	if err := guard.Validate(ctx, forged, "session-a", "1.2.3.4"); !errx.IsCode(err, csrf.CodeInvalid) {
		t.Fatalf("token signed with the wrong secret must be rejected, got %v", err)
	}
}

func TestValidate_ThrottlesAttempts(t *testing.T) {
	guard, _ := setup(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		guard.Validate(ctx, "a.b.c", "session-a", "9.9.9.9")
	}
	if err := guard.Validate(ctx, "a.b.c", "session-a", "9.9.9.9"); !errx.IsCode(err, csrf.CodeThrottled) {
		t.Fatalf("sixth attempt must be throttled, got %v", err)
	}
	// Other addresses are unaffected.
	if err := guard.Validate(ctx, "a.b.c", "session-a", "8.8.8.8"); errx.IsCode(err, csrf.CodeThrottled) {
		t.Fatal("throttle must be per source address")
	}
}

func TestValidate_CacheDownStillVerifies(t *testing.T) {
	guard, mr := setup(t)
	ctx := context.Background()

	token, err := guard.IssueToken("session-a")
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}

	mr.Close()

	// With the cache service down the signature check still decides.
	if err := guard.Validate(ctx, token, "session-a", "1.2.3.4"); err != nil {
		t.Fatalf("validation must work without the cache: %v", err)
	}
	// Repeat validation is served by the local fallback.
	if err := guard.Validate(ctx, token, "session-a", "1.2.3.4"); err != nil {
		t.Fatalf("local fallback validation failed: %v", err)
	}
	if err := guard.Validate(ctx, token, "session-b", "1.2.3.4"); !errx.IsCode(err, csrf.CodeInvalid) {
		t.Fatalf("cross-session token must still be rejected, got %v", err)
	}
}
