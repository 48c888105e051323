// Package iam (Identity and Access Management) implements the trust boundary
// of a multi-tenant platform: password login with MFA, opaque sessions, API
// keys, rate limiting and CSRF protection.
//
// # Overview
//
// The iam package is organized into sub-packages that work together:
//
//   - iam/credential — durable authentication record, lockout state
//   - iam/password   — argon2id hashing, legacy bcrypt verification and upgrade
//   - iam/mfa        — TOTP enrollment/verification, single-use backup codes
//   - iam/apikey     — API key generation, validation, permissions, IP whitelist
//   - iam/session    — opaque session tokens, write-through cache, lifetimes
//   - iam/ratelimit  — sliding-window limiter over the shared cache service
//   - iam/csrf       — session-bound anti-forgery tokens
//   - iam/auth       — login orchestration, request middleware, HTTP handlers
//
// # Architecture
//
// Each sub-domain follows the same layering:
//
//	HTTP Handler  →  Service Layer  →  Repository Interface  →  Infrastructure (Postgres/Redis)
//
// Each sub-domain exposes its own error registry (e.g. "CREDENTIAL",
// "SESSION", "APIKEY"), domain entities with rich methods and repository
// interfaces. Shared request state (sessions, rate-limit windows, CSRF
// validations, MFA challenges) lives in the cache service, never in process
// memory, so any server instance can handle any request.
//
// # Authentication Methods
//
// Two credential types can authenticate a request:
//
//  1. Session — obtained from POST /auth/login (plus /auth/login/mfa when the
//     account has MFA enabled). Presented as a Bearer token or the
//     session_token cookie. Sessions carry a user, a tenant and a role.
//
//  2. API key — a long-lived machine credential in the X-API-Key header.
//     Carries a tenant and a permission set but no user identity; role-gated
//     endpoints reject API key contexts.
//
// # Multi-Tenancy
//
// Every credential, session and API key belongs to exactly one tenant. The
// middleware re-validates the tenant identifier on every request before it
// can scope any query, and builds a fresh AuthContext per request so
// concurrent requests from different tenants never observe each other.
//
// # Roles & Permissions
//
// Sessions use a three-tier role hierarchy:
//
//	owner > admin > member
//
// API keys use a separate permission set with subsumption:
//
//	admin ⟹ write ⟹ read
//
// # Middleware
//
// Protect a route group:
//
//	api := app.Group("/api", mw.Authenticate())
//
// Require a minimum role or an API key permission:
//
//	app.Delete("/api-keys/:id", mw.Authenticate(), mw.RequireRole(kernel.RoleAdmin), handler)
//	app.Get("/reports", mw.Authenticate(), mw.RequirePermission(apikey.PermissionRead), handler)
//
// Read the authenticated context inside a handler:
//
//	authCtx := auth.FromFiber(c)
//	if authCtx == nil { ... }
//	fmt.Println(authCtx.UserID, authCtx.TenantID, authCtx.Role)
//
// # ──────────────────────────────────────────────────────
// # ENDPOINT REFERENCE
// # ──────────────────────────────────────────────────────
//
// ## Login  (registered by AuthHandlers)
//
// ### POST /auth/login
//
// Verifies the first factor. Three outcomes are possible.
//
// Request body:
//
//	{ "email": "user@example.com", "password": "..." }
//
// Response 200 (no MFA — sets the session_token cookie):
//
//	{
//	  "status":     "success",
//	  "csrf_token": "<jwt>",
//	  "expires_at": "2026-09-01T12:00:00Z"
//	}
//
// Response 200 (MFA enabled — no session yet):
//
//	{ "status": "mfa_required", "mfa_token": "<opaque-challenge>" }
//
// Failures return 401 with CREDENTIAL.INVALID_CREDENTIALS regardless of
// whether the email exists or the password was wrong, or
// CREDENTIAL.ACCOUNT_LOCKED once the failure threshold is crossed.
//
// ### POST /auth/login/mfa
//
// Exchanges a pending challenge plus a one-time code for a session.
//
// Request body:
//
//	{ "mfa_token": "<opaque-challenge>", "code": "123456" }
//
// Accepts a 6-digit TOTP code or a 10-character backup code. Backup codes are
// consumed on use. Invalid codes count toward the same lockout threshold as
// password failures. Response 200 matches the success shape of /auth/login.
//
// ## Authenticated session management
//
// All mutating endpoints below require the X-CSRF-Token header.
//
// ### GET /auth/me
//
// Returns the AuthContext of the current credential.
//
// ### POST /auth/logout
//
// Terminates the current session and clears the cookie. Idempotent.
//
// ### POST /auth/logout/all
//
// Terminates every session of the user.
//
// Response 200: { "revoked_sessions": 3 }
//
// ### POST /auth/password
//
// Re-authenticates with the current password, stores the new hash and revokes
// every other session of the user.
//
// Request body:
//
//	{ "current_password": "...", "new_password": "..." }
//
// Response 200: { "revoked_sessions": 2 }
//
// ## MFA lifecycle
//
// ### POST /auth/mfa/setup
//
// Verifies the password and stages a pending TOTP secret. Nothing is enforced
// until the enrollment is confirmed.
//
// Request body:
//
//	{ "password": "..." }
//
// Response 200 (secret and backup codes are shown exactly once):
//
//	{
//	  "secret":       "JBSWY3DP...",
//	  "qr_payload":   "otpauth://totp/Bastion:user@example.com?...",
//	  "backup_codes": ["A1B2C3D4E5", ...]
//	}
//
// ### POST /auth/mfa/confirm
//
// Turns the staged secret on after a valid TOTP code and revokes every other
// session. Backup codes do not confirm enrollment.
//
// Request body:
//
//	{ "code": "123456" }
//
// ### POST /auth/mfa/disable
//
// Requires the password and a valid one-time code, clears the MFA state and
// revokes every other session.
//
// Request body:
//
//	{ "password": "...", "code": "123456" }
//
// ## API Keys  (registered by APIKeyHandlers — requires an admin session)
//
// API keys are passed via the X-API-Key header. The raw secret is shown
// exactly once upon creation and only a keyed hash is stored.
//
// ### POST /api-keys
//
// Creates a new API key for the authenticated tenant.
//
// Request body:
//
//	{
//	  "type":            "secret" | "publishable",
//	  "permissions":     ["read", "write"],
//	  "ip_whitelist":    ["203.0.113.7", "10.0.0.0/8"],  // optional
//	  "expires_in_days": 90                              // optional
//	}
//
// Response 201:
//
//	{
//	  "api_key": {
//	    "id": "...", "tenant_id": "...", "type": "secret",
//	    "key_prefix": "sk_live_a1b2c3d4e5",
//	    "permissions": ["read", "write"], "created_at": "..."
//	  },
//	  "secret_key": "sk_live_<token>",
//	  "message": "⚠️ Save this key securely. It will not be shown again!"
//	}
//
// Error responses: 400 (APIKEY.INVALID_PERMISSIONS when the hierarchy is
// violated, e.g. write without read), 401, 403
//
// ### GET /api-keys
//
// Lists all API keys for the authenticated tenant (hashes are never returned).
//
// ### DELETE /api-keys/:id
//
// Revokes the key. Rows are soft-deleted and retained for audit.
// Response 204 on success.
//
// # Error Response Format
//
// All errors follow the errx structured format:
//
//	{
//	  "error":      "Session expired",
//	  "code":       "SESSION_EXPIRED",
//	  "type":       "AUTHORIZATION",
//	  "status":     401,
//	  "request_id": "..."
//	}
//
// Common error codes by module:
//
//	IAM_UNAUTHORIZED                — 401  missing / invalid credentials
//	IAM_FORBIDDEN                   — 403  valid credential, insufficient role
//	IAM_INVALID_TENANT              — 400  tenant id failed re-validation
//	IAM_RATE_LIMITED                — 429  sliding window exhausted (Retry-After set)
//
//	CREDENTIAL_INVALID_CREDENTIALS  — 401  covers every factor failure
//	CREDENTIAL_ACCOUNT_LOCKED       — 401  too many failed attempts
//
//	AUTH_CHALLENGE_EXPIRED          — 401  MFA challenge unknown or timed out
//	AUTH_CHALLENGE_STORE            — 503  cache service down during MFA login
//
//	MFA_INVALID_CODE                — 401
//	MFA_NOT_ENABLED                 — 400
//	MFA_ALREADY_ENABLED             — 409
//
//	SESSION_NOT_FOUND               — 401
//	SESSION_EXPIRED                 — 401
//
//	APIKEY_NOT_FOUND                — 404
//	APIKEY_INVALID                  — 401
//	APIKEY_REVOKED                  — 401
//	APIKEY_EXPIRED                  — 401
//	APIKEY_IP_NOT_ALLOWED           — 403
//	APIKEY_INVALID_PERMISSIONS      — 400
//
//	CSRF_MISSING                    — 403
//	CSRF_INVALID                    — 403
//	CSRF_THROTTLED                  — 429
//
// # Infrastructure Dependencies
//
// Required:
//   - PostgreSQL — credentials, sessions, api_keys
//
// Degraded without, required for MFA login:
//   - Redis — session cache, rate-limit windows, CSRF validations, MFA
//     challenges. Sessions fall back to Postgres and the rate limiter fails
//     open when Redis is down; pending MFA challenges cannot be stored, so
//     MFA logins fail closed.
//
// # Background Cleanup
//
// Use CleanupService to periodically remove expired sessions:
//
//	cleanup := sessionsrv.NewCleanupService(sessionStore, time.Hour)
//	cleanup.Start()
//	defer cleanup.Stop()
package iam
