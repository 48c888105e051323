package auth

import (
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/Abraxas-365/bastion/pkg/iam"
	"github.com/Abraxas-365/bastion/pkg/iam/apikey"
	"github.com/Abraxas-365/bastion/pkg/iam/apikey/apikeysrv"
	"github.com/Abraxas-365/bastion/pkg/iam/csrf"
	"github.com/Abraxas-365/bastion/pkg/iam/ratelimit"
	"github.com/Abraxas-365/bastion/pkg/iam/session/sessionsrv"
	"github.com/Abraxas-365/bastion/pkg/kernel"
)

// APIKeyHeader carries machine credentials; requests with it never touch
// the session path.
const APIKeyHeader = "X-API-Key"

const sessionCookie = "session_token"

// Middleware autentica cada request y construye un AuthContext fresco.
// Nunca reutiliza contextos entre requests: bajo carga concurrente cada
// request resuelve su propio tenant.
type Middleware struct {
	sessions *sessionsrv.SessionService
	apiKeys  *apikeysrv.APIKeyService
	limiter  *ratelimit.Limiter
	guard    *csrf.Guard
}

// NewMiddleware crea el middleware de autenticación.
func NewMiddleware(
	sessions *sessionsrv.SessionService,
	apiKeys *apikeysrv.APIKeyService,
	limiter *ratelimit.Limiter,
	guard *csrf.Guard,
) *Middleware {
	return &Middleware{
		sessions: sessions,
		apiKeys:  apiKeys,
		limiter:  limiter,
		guard:    guard,
	}
}

// Authenticate resuelve la credencial del request (API key o sesión) y
// deja el AuthContext en los locals. Toda respuesta de fallo es 401 sin
// distinguir el motivo.
func (m *Middleware) Authenticate() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if key := c.Get(APIKeyHeader); key != "" {
			return m.authenticateAPIKey(c, key)
		}
		return m.authenticateSession(c)
	}
}

func (m *Middleware) authenticateAPIKey(c *fiber.Ctx, key string) error {
	validated, err := m.apiKeys.ValidateAPIKey(c.UserContext(), key, c.IP())
	if err != nil {
		return err
	}

	// Tenant identity comes from the validated key row, re-checked for
	// shape before it reaches any query.
	tenantID, err := kernel.ParseTenantID(validated.TenantID.String())
	if err != nil {
		return iam.ErrInvalidTenant()
	}

	perms := validated.PermissionSet()
	grants := make([]string, len(perms))
	for i, p := range perms {
		grants[i] = string(p)
	}

	authCtx := &kernel.AuthContext{
		TenantID:    tenantID,
		IsAPIKey:    true,
		Permissions: grants,
	}
	c.Locals(string(kernel.AuthContextKey), authCtx)
	return c.Next()
}

func (m *Middleware) authenticateSession(c *fiber.Ctx) error {
	token := sessionTokenFrom(c)
	if token == "" {
		return iam.ErrUnauthorized()
	}

	resolved, err := m.sessions.Resolve(c.UserContext(), token)
	if err != nil {
		return err
	}

	tenantID, err := kernel.ParseTenantID(resolved.Session.TenantID.String())
	if err != nil {
		return iam.ErrInvalidTenant()
	}

	authCtx := &kernel.AuthContext{
		UserID:       resolved.Principal.UserID,
		TenantID:     tenantID,
		Role:         resolved.Principal.Role,
		SessionToken: token,
	}
	if authCtx.UserID.IsEmpty() {
		return iam.ErrUnauthorized()
	}
	// A session without a role is an authenticated principal that can do
	// nothing: terminal 403, not a credential problem.
	if !authCtx.Role.IsValid() {
		return iam.ErrForbidden()
	}

	c.Locals(string(kernel.AuthContextKey), authCtx)
	return c.Next()
}

// RequireRole exige un rol mínimo. Solo aplica a contextos de sesión.
func (m *Middleware) RequireRole(min kernel.Role) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authCtx := FromFiber(c)
		if authCtx == nil {
			return iam.ErrUnauthorized()
		}
		if authCtx.IsAPIKey || !authCtx.HasRole(min) {
			return iam.ErrForbidden()
		}
		return c.Next()
	}
}

// RequirePermission exige un permiso de API key, con subsunción: admin
// cubre write y write cubre read. Los contextos de sesión pasan por rol.
func (m *Middleware) RequirePermission(perm apikey.Permission) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authCtx := FromFiber(c)
		if authCtx == nil {
			return iam.ErrUnauthorized()
		}
		if !authCtx.IsAPIKey {
			return c.Next()
		}

		granted := make([]apikey.Permission, 0, len(authCtx.Permissions))
		for _, p := range authCtx.Permissions {
			granted = append(granted, apikey.Permission(p))
		}
		if !apikey.HasPermission(granted, perm) {
			return iam.ErrForbidden()
		}
		return c.Next()
	}
}

// RateLimit aplica el límite del tier a la identidad del request: el
// usuario autenticado cuando existe, la dirección de origen si no.
func (m *Middleware) RateLimit(tier ratelimit.Tier) fiber.Handler {
	return func(c *fiber.Ctx) error {
		identity := "ip:" + c.IP()
		if authCtx := FromFiber(c); authCtx != nil && !authCtx.UserID.IsEmpty() {
			identity = "user:" + authCtx.UserID.String()
		}

		decision := m.limiter.Allow(c.UserContext(), tier, identity)
		if !decision.Allowed {
			retryAfter := int(decision.RetryAfter.Seconds())
			c.Set(fiber.HeaderRetryAfter, strconv.Itoa(retryAfter))
			return iam.ErrRateLimited(retryAfter)
		}
		return c.Next()
	}
}

// ValidateCSRF exige el token anti-forgery en métodos mutantes de
// clientes de navegador. Las API keys no usan cookies y quedan exentas.
func (m *Middleware) ValidateCSRF() fiber.Handler {
	return func(c *fiber.Ctx) error {
		switch c.Method() {
		case fiber.MethodGet, fiber.MethodHead, fiber.MethodOptions:
			return c.Next()
		}

		authCtx := FromFiber(c)
		if authCtx == nil {
			return iam.ErrUnauthorized()
		}
		if authCtx.IsAPIKey {
			return c.Next()
		}

		token := c.Get(csrf.HeaderName)
		if err := m.guard.Validate(c.UserContext(), token, authCtx.SessionToken, c.IP()); err != nil {
			return err
		}
		return c.Next()
	}
}

// FromFiber extrae el AuthContext de los locals del request.
func FromFiber(c *fiber.Ctx) *kernel.AuthContext {
	authCtx, ok := c.Locals(string(kernel.AuthContextKey)).(*kernel.AuthContext)
	if !ok {
		return nil
	}
	return authCtx
}

func sessionTokenFrom(c *fiber.Ctx) string {
	if authHeader := c.Get(fiber.HeaderAuthorization); authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && parts[0] == "Bearer" && parts[1] != "" {
			return parts[1]
		}
	}
	return c.Cookies(sessionCookie)
}
