package iamcontainer

import (
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"github.com/Abraxas-365/bastion/pkg/cachex"
	"github.com/Abraxas-365/bastion/pkg/cachex/cachexredis"
	"github.com/Abraxas-365/bastion/pkg/config"
	"github.com/Abraxas-365/bastion/pkg/iam/apikey"
	"github.com/Abraxas-365/bastion/pkg/iam/apikey/apikeyapi"
	"github.com/Abraxas-365/bastion/pkg/iam/apikey/apikeyinfra"
	"github.com/Abraxas-365/bastion/pkg/iam/apikey/apikeysrv"
	"github.com/Abraxas-365/bastion/pkg/iam/auth"
	"github.com/Abraxas-365/bastion/pkg/iam/auth/authapi"
	"github.com/Abraxas-365/bastion/pkg/iam/auth/authsrv"
	"github.com/Abraxas-365/bastion/pkg/iam/credential/credentialinfra"
	"github.com/Abraxas-365/bastion/pkg/iam/csrf"
	"github.com/Abraxas-365/bastion/pkg/iam/mfa"
	"github.com/Abraxas-365/bastion/pkg/iam/password"
	"github.com/Abraxas-365/bastion/pkg/iam/ratelimit"
	"github.com/Abraxas-365/bastion/pkg/iam/session/sessioncache"
	"github.com/Abraxas-365/bastion/pkg/iam/session/sessioninfra"
	"github.com/Abraxas-365/bastion/pkg/iam/session/sessionsrv"
	"github.com/Abraxas-365/bastion/pkg/logx"
)

// ---------------------------------------------------------------------------
// Deps: explicit external dependencies this bounded context requires.
// No hidden globals, no ambient state — everything comes through here.
// ---------------------------------------------------------------------------

type Deps struct {
	DB    *sqlx.DB
	Redis *redis.Client
	Cfg   *config.Config
}

// ---------------------------------------------------------------------------
// Container: the public surface of the IAM module.
// Only expose what other modules or cmd/ actually need.
// Internal repos, infra details, etc. stay private.
// ---------------------------------------------------------------------------

type Container struct {
	// Services — available for cross-module consumption
	AuthService    *authsrv.AuthService
	APIKeyService  *apikeysrv.APIKeyService
	SessionService *sessionsrv.SessionService
	RateLimiter    *ratelimit.Limiter
	CSRFGuard      *csrf.Guard

	// Handlers — needed by cmd/ to register routes
	AuthHandlers   *authapi.AuthHandlers
	APIKeyHandlers *apikeyapi.APIKeyHandlers

	// Middleware — needed by cmd/ to protect route groups
	AuthMiddleware *auth.Middleware

	// Background services
	CleanupService *sessionsrv.CleanupService
}

// ---------------------------------------------------------------------------
// New: constructs the entire IAM dependency graph.
// Order matters: infra → repos → services → handlers → middleware.
// ---------------------------------------------------------------------------

func New(deps Deps) *Container {
	logx.Info("🔧 Initializing IAM container...")

	c := &Container{}

	// ── Cache service ────────────────────────────────────────────────────

	var cache cachex.Cache = cachexredis.NewRedisCache(deps.Redis)

	// ── Repositories ─────────────────────────────────────────────────────

	credentialRepo := credentialinfra.NewPostgresCredentialRepository(deps.DB)
	apiKeyRepo := apikeyinfra.NewPostgresAPIKeyRepository(deps.DB)

	// Session store: durable Postgres store wrapped by the write-through
	// caching decorator. Everything downstream sees one session.Store.
	sessionStore := sessioncache.NewCachingStore(
		sessioninfra.NewPostgresSessionStore(deps.DB),
		cache,
	)

	// ── Infrastructure services ──────────────────────────────────────────

	apikey.InitAPIKeyConfig(
		deps.Cfg.Auth.APIKey.Environment,
		deps.Cfg.Auth.APIKey.TokenLength,
		deps.Cfg.Auth.APIKey.HMACSecret,
	)

	passwordSvc := password.NewService(deps.Cfg.Auth.Password)
	mfaSvc := mfa.NewService(deps.Cfg.Auth.MFA)

	c.RateLimiter = ratelimit.NewLimiter(cache, deps.Cfg.Auth.RateLimit)
	c.CSRFGuard = csrf.NewGuard(cache, deps.Cfg.Auth.CSRF)

	// ── Domain services ──────────────────────────────────────────────────

	c.SessionService = sessionsrv.NewSessionService(sessionStore, deps.Cfg.Auth.Session)

	c.APIKeyService = apikeysrv.NewAPIKeyService(apiKeyRepo)

	c.AuthService = authsrv.NewAuthService(
		credentialRepo,
		passwordSvc,
		mfaSvc,
		c.SessionService,
		c.CSRFGuard,
		cache,
		deps.Cfg.Auth.MFA,
	)

	// ── Handlers ─────────────────────────────────────────────────────────

	c.AuthHandlers = authapi.NewAuthHandlers(c.AuthService)
	c.APIKeyHandlers = apikeyapi.NewAPIKeyHandlers(c.APIKeyService)

	// ── Middleware ────────────────────────────────────────────────────────

	c.AuthMiddleware = auth.NewMiddleware(
		c.SessionService,
		c.APIKeyService,
		c.RateLimiter,
		c.CSRFGuard,
	)

	// ── Background services ──────────────────────────────────────────────

	c.CleanupService = sessionsrv.NewCleanupService(
		sessionStore,
		deps.Cfg.Auth.Session.CleanupInterval,
	)

	logx.Info("✅ IAM container initialized")
	return c
}

// StartBackgroundServices starts IAM-specific background workers.
func (c *Container) StartBackgroundServices() {
	c.CleanupService.Start()
	logx.Info("  ✅ IAM cleanup service started")
}

// StopBackgroundServices stops IAM-specific background workers.
func (c *Container) StopBackgroundServices() {
	c.CleanupService.Stop()
}
