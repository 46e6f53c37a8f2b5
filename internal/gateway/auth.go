package gateway

import (
	"crypto/subtle"
	"strings"

	"geass/internal/services"
)

// Role is the capability a caller needs for an operation.
type Role int

const (
	RoleClient Role = iota
	RoleAdmin
)

func (r Role) String() string {
	if r == RoleAdmin {
		return "admin"
	}
	return "client"
}

// Authorize checks token against the required role. The admin token also
// satisfies client-level checks.
func (g *Gateway) Authorize(token string, required Role) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return services.Wrap(services.ErrUnauthorized, "gateway", "authorize", "missing bearer token", nil)
	}
	if tokenEqual(token, g.adminToken) {
		return nil
	}
	if required == RoleClient && tokenEqual(token, g.apiToken) {
		return nil
	}
	return services.Wrap(services.ErrUnauthorized, "gateway", "authorize", "token lacks "+required.String()+" access", nil)
}

func tokenEqual(got string, want []byte) bool {
	if len(want) == 0 {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), want) == 1
}
