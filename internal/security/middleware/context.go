package middleware

import (
	"context"

	"github.com/firmdesk/firmdesk/internal/domain"
	"github.com/firmdesk/firmdesk/internal/security/auth"
	"github.com/firmdesk/firmdesk/internal/security/policy"
)

// Principal is the resolved caller attached to the request context once the
// authentication pipeline reaches its terminal authenticated state.
type Principal struct {
	User       *domain.User // nil for the platform superadmin sentinel
	Claims     *auth.Claims
	Superadmin bool
}

// PolicyIdentity projects the principal into the policy layer's identity.
func (p *Principal) PolicyIdentity() policy.Identity {
	id := policy.Identity{Superadmin: p.Superadmin}
	if p.Claims != nil {
		id.UserID = p.Claims.Subject
		id.Role = p.Claims.Role
		id.FirmID = p.Claims.FirmID
		id.DefaultClientID = p.Claims.DefaultClientID
	}
	if p.User != nil {
		id.UserID = p.User.ID
		id.Role = p.User.Role
		id.FirmID = p.User.FirmID
		id.DefaultClientID = p.User.DefaultClientID
	}
	return id
}

type principalContextKey struct{}

// ContextWithPrincipal attaches the resolved principal.
func ContextWithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, p)
}

// PrincipalFromContext returns the resolved principal, if any.
func PrincipalFromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalContextKey{}).(*Principal)
	return p, ok
}
