package kernel

// ============================================================================
// Context Types
// ============================================================================

// AuthContext es el contexto de autenticación que se construye por request.
// Nunca se cachea ni se reutiliza entre requests: es el punto de aislamiento
// entre tenants bajo carga concurrente.
type AuthContext struct {
	UserID       UserID   `json:"user_id"`
	TenantID     TenantID `json:"tenant_id"`
	Role         Role     `json:"role"`
	SessionToken string   `json:"-"`
	IsAPIKey     bool     `json:"is_api_key"`
	Permissions  []string `json:"permissions,omitempty"`
}

// IsValid verifica si el AuthContext es válido
func (ac *AuthContext) IsValid() bool {
	if ac.IsAPIKey {
		return !ac.TenantID.IsEmpty()
	}
	return !ac.UserID.IsEmpty() && !ac.TenantID.IsEmpty() && ac.Role.IsValid()
}

// HasRole verifica si el contexto cumple el rol mínimo requerido
func (ac *AuthContext) HasRole(min Role) bool {
	return ac.Role.AtLeast(min)
}

// HasPermission verifica un permiso de API key (solo contextos IsAPIKey)
func (ac *AuthContext) HasPermission(perm string) bool {
	for _, p := range ac.Permissions {
		if p == perm {
			return true
		}
	}
	return false
}

// ============================================================================
// Context Keys
// ============================================================================

type ContextKey string

const (
	// AuthContextKey es la clave para almacenar AuthContext en los locals del request
	AuthContextKey ContextKey = "auth_context"

	// RequestIDKey es la clave para almacenar el ID de la petición
	RequestIDKey ContextKey = "request_id"
)
