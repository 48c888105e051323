package iam

import (
	"net/http"

	"github.com/Abraxas-365/bastion/pkg/errx"
)

// ============================================================================
// Error Registry
// ============================================================================

var ErrRegistry = errx.NewRegistry("IAM")

var (
	CodeUnauthorized  = ErrRegistry.Register("UNAUTHORIZED", errx.TypeAuthorization, http.StatusUnauthorized, "Unauthorized")
	CodeForbidden     = ErrRegistry.Register("FORBIDDEN", errx.TypeAuthorization, http.StatusForbidden, "Access denied")
	CodeInvalidTenant = ErrRegistry.Register("INVALID_TENANT", errx.TypeValidation, http.StatusBadRequest, "Invalid tenant context")
	CodeRateLimited   = ErrRegistry.Register("RATE_LIMITED", errx.TypeRateLimit, http.StatusTooManyRequests, "Too many requests")
)

// Helper functions
func ErrUnauthorized() *errx.Error {
	return ErrRegistry.New(CodeUnauthorized)
}

func ErrForbidden() *errx.Error {
	return ErrRegistry.New(CodeForbidden)
}

func ErrInvalidTenant() *errx.Error {
	return ErrRegistry.New(CodeInvalidTenant)
}

func ErrRateLimited(retryAfterSeconds int) *errx.Error {
	return ErrRegistry.New(CodeRateLimited).WithDetail("retry_after", retryAfterSeconds)
}
