// Package apikeyapi expone los endpoints HTTP de gestión de API keys.
package apikeyapi

import (
	"github.com/gofiber/fiber/v2"

	"github.com/Abraxas-365/bastion/pkg/iam"
	"github.com/Abraxas-365/bastion/pkg/iam/apikey/apikeysrv"
	"github.com/Abraxas-365/bastion/pkg/iam/auth"
	"github.com/Abraxas-365/bastion/pkg/iam/ratelimit"
	"github.com/Abraxas-365/bastion/pkg/kernel"
)

// APIKeyHandlers agrupa los handlers HTTP de API keys.
type APIKeyHandlers struct {
	service *apikeysrv.APIKeyService
}

// NewAPIKeyHandlers crea los handlers.
func NewAPIKeyHandlers(service *apikeysrv.APIKeyService) *APIKeyHandlers {
	return &APIKeyHandlers{service: service}
}

// RegisterRoutes registra las rutas de gestión. Solo administradores del
// tenant gestionan keys, y siempre desde una sesión de navegador.
func (h *APIKeyHandlers) RegisterRoutes(router fiber.Router, mw *auth.Middleware) {
	keys := router.Group(
		"/api-keys",
		mw.Authenticate(),
		mw.RequireRole(kernel.RoleAdmin),
		mw.ValidateCSRF(),
	)
	keys.Post("/", mw.RateLimit(ratelimit.TierMutation), h.Create)
	keys.Get("/", mw.RateLimit(ratelimit.TierAPI), h.List)
	keys.Delete("/:id", mw.RateLimit(ratelimit.TierMutation), h.Revoke)
}

// Create maneja POST /api-keys.
func (h *APIKeyHandlers) Create(c *fiber.Ctx) error {
	authCtx := auth.FromFiber(c)
	if authCtx == nil {
		return iam.ErrUnauthorized()
	}

	var req apikeysrv.CreateAPIKeyRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	resp, err := h.service.CreateAPIKey(c.UserContext(), authCtx.TenantID, req)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(resp)
}

// List maneja GET /api-keys.
func (h *APIKeyHandlers) List(c *fiber.Ctx) error {
	authCtx := auth.FromFiber(c)
	if authCtx == nil {
		return iam.ErrUnauthorized()
	}

	keys, err := h.service.GetTenantAPIKeys(c.UserContext(), authCtx.TenantID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"api_keys": keys})
}

// Revoke maneja DELETE /api-keys/:id.
func (h *APIKeyHandlers) Revoke(c *fiber.Ctx) error {
	authCtx := auth.FromFiber(c)
	if authCtx == nil {
		return iam.ErrUnauthorized()
	}

	if err := h.service.RevokeAPIKey(c.UserContext(), c.Params("id"), authCtx.TenantID); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}
