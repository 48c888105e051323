// Package authapi expone los endpoints HTTP de autenticación.
package authapi

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/Abraxas-365/bastion/pkg/iam"
	"github.com/Abraxas-365/bastion/pkg/iam/auth"
	"github.com/Abraxas-365/bastion/pkg/iam/auth/authsrv"
	"github.com/Abraxas-365/bastion/pkg/iam/ratelimit"
)

const sessionCookie = "session_token"

// AuthHandlers agrupa los handlers HTTP del flujo de autenticación.
type AuthHandlers struct {
	service *authsrv.AuthService
}

// NewAuthHandlers crea los handlers.
func NewAuthHandlers(service *authsrv.AuthService) *AuthHandlers {
	return &AuthHandlers{service: service}
}

// RegisterRoutes registra las rutas bajo el router dado. Los guards van
// por ruta, no en el grupo: grupos distintos con el mismo prefijo apilan
// su middleware sobre todas las rutas del prefijo.
func (h *AuthHandlers) RegisterRoutes(router fiber.Router, mw *auth.Middleware) {
	grp := router.Group("/auth")

	// Públicas: solo el límite por IP protege el primer factor.
	grp.Post("/login", mw.RateLimit(ratelimit.TierAuth), h.Login)
	grp.Post("/login/mfa", mw.RateLimit(ratelimit.TierAuth), h.CompleteMFALogin)

	grp.Get("/me", mw.Authenticate(), h.Me)

	// Mutantes: sesión, límite por usuario y anti-forgery, una vez cada uno.
	guarded := h.guardedChain(mw)
	grp.Post("/logout", append(guarded, h.Logout)...)
	grp.Post("/logout/all", append(guarded, h.LogoutEverywhere)...)
	grp.Post("/password", append(guarded, h.ChangePassword)...)
	grp.Post("/mfa/setup", append(guarded, h.BeginMFAEnrollment)...)
	grp.Post("/mfa/confirm", append(guarded, h.ConfirmMFAEnrollment)...)
	grp.Post("/mfa/disable", append(guarded, h.DisableMFA)...)
}

func (h *AuthHandlers) guardedChain(mw *auth.Middleware) []fiber.Handler {
	return []fiber.Handler{
		mw.Authenticate(),
		mw.RateLimit(ratelimit.TierAuth),
		mw.ValidateCSRF(),
	}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login maneja POST /auth/login.
func (h *AuthHandlers) Login(c *fiber.Ctx) error {
	var req loginRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	result, err := h.service.Login(c.UserContext(), req.Email, req.Password)
	if err != nil {
		return err
	}

	switch result.Status {
	case auth.LoginSuccess:
		return h.respondSession(c, result)
	case auth.LoginMFARequired:
		return c.JSON(fiber.Map{
			"status":    result.Status,
			"mfa_token": result.MFAToken,
		})
	default:
		return result.Err
	}
}

type mfaLoginRequest struct {
	MFAToken string `json:"mfa_token"`
	Code     string `json:"code"`
}

// CompleteMFALogin maneja POST /auth/login/mfa.
func (h *AuthHandlers) CompleteMFALogin(c *fiber.Ctx) error {
	var req mfaLoginRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	result, err := h.service.CompleteMFALogin(c.UserContext(), req.MFAToken, req.Code)
	if err != nil {
		return err
	}
	if result.Status != auth.LoginSuccess {
		return result.Err
	}
	return h.respondSession(c, result)
}

func (h *AuthHandlers) respondSession(c *fiber.Ctx, result *auth.LoginResult) error {
	c.Cookie(&fiber.Cookie{
		Name:     sessionCookie,
		Value:    result.Session.Token,
		Expires:  result.Session.AbsoluteExpiresAt,
		HTTPOnly: true,
		Secure:   true,
		SameSite: fiber.CookieSameSiteLaxMode,
	})

	return c.JSON(fiber.Map{
		"status":     result.Status,
		"csrf_token": result.CSRFToken,
		"expires_at": result.Session.ExpiresAt.Format(time.RFC3339),
	})
}

// Me maneja GET /auth/me.
func (h *AuthHandlers) Me(c *fiber.Ctx) error {
	authCtx := auth.FromFiber(c)
	if authCtx == nil {
		return iam.ErrUnauthorized()
	}
	return c.JSON(authCtx)
}

// Logout maneja POST /auth/logout.
func (h *AuthHandlers) Logout(c *fiber.Ctx) error {
	authCtx := auth.FromFiber(c)
	if authCtx == nil {
		return iam.ErrUnauthorized()
	}

	if err := h.service.Logout(c.UserContext(), authCtx.SessionToken); err != nil {
		return err
	}
	c.ClearCookie(sessionCookie)
	return c.SendStatus(fiber.StatusNoContent)
}

// LogoutEverywhere maneja POST /auth/logout/all.
func (h *AuthHandlers) LogoutEverywhere(c *fiber.Ctx) error {
	authCtx := auth.FromFiber(c)
	if authCtx == nil {
		return iam.ErrUnauthorized()
	}

	count, err := h.service.LogoutEverywhere(c.UserContext(), authCtx.UserID)
	if err != nil {
		return err
	}
	c.ClearCookie(sessionCookie)
	return c.JSON(fiber.Map{"revoked_sessions": count})
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

// ChangePassword maneja POST /auth/password.
func (h *AuthHandlers) ChangePassword(c *fiber.Ctx) error {
	authCtx := auth.FromFiber(c)
	if authCtx == nil {
		return iam.ErrUnauthorized()
	}

	var req changePasswordRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	count, err := h.service.ChangePassword(
		c.UserContext(),
		authCtx.UserID,
		authCtx.TenantID,
		authCtx.SessionToken,
		req.CurrentPassword,
		req.NewPassword,
	)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"revoked_sessions": count})
}

type mfaSetupRequest struct {
	Password string `json:"password"`
}

// BeginMFAEnrollment maneja POST /auth/mfa/setup.
func (h *AuthHandlers) BeginMFAEnrollment(c *fiber.Ctx) error {
	authCtx := auth.FromFiber(c)
	if authCtx == nil {
		return iam.ErrUnauthorized()
	}

	var req mfaSetupRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	setup, err := h.service.BeginMFAEnrollment(c.UserContext(), authCtx.UserID, authCtx.TenantID, req.Password)
	if err != nil {
		return err
	}
	// Secret y códigos de respaldo se muestran una sola vez.
	return c.JSON(setup)
}

type mfaConfirmRequest struct {
	Code string `json:"code"`
}

// ConfirmMFAEnrollment maneja POST /auth/mfa/confirm.
func (h *AuthHandlers) ConfirmMFAEnrollment(c *fiber.Ctx) error {
	authCtx := auth.FromFiber(c)
	if authCtx == nil {
		return iam.ErrUnauthorized()
	}

	var req mfaConfirmRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	count, err := h.service.ConfirmMFAEnrollment(c.UserContext(), authCtx.UserID, authCtx.TenantID, authCtx.SessionToken, req.Code)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"mfa_enabled": true, "revoked_sessions": count})
}

type mfaDisableRequest struct {
	Password string `json:"password"`
	Code     string `json:"code"`
}

// DisableMFA maneja POST /auth/mfa/disable.
func (h *AuthHandlers) DisableMFA(c *fiber.Ctx) error {
	authCtx := auth.FromFiber(c)
	if authCtx == nil {
		return iam.ErrUnauthorized()
	}

	var req mfaDisableRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	count, err := h.service.DisableMFA(c.UserContext(), authCtx.UserID, authCtx.TenantID, authCtx.SessionToken, req.Password, req.Code)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"mfa_enabled": false, "revoked_sessions": count})
}
