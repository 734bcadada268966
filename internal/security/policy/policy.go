package policy

import (
	"github.com/firmdesk/firmdesk/internal/domain"
)

// Identity is the authenticated caller as the policy layer sees it. It is
// deliberately decoupled from HTTP so policies are testable as plain
// functions.
type Identity struct {
	UserID          string
	Role            domain.Role
	FirmID          string // empty for the platform superadmin
	DefaultClientID string
	Superadmin      bool
}

// Resource describes the thing being acted on.
type Resource struct {
	Type    string
	ID      string
	FirmID  string
	OwnerID string
}

// Decision is an allow/deny with a machine-readable reason on deny.
type Decision struct {
	Allowed bool
	Reason  string
}

// Allow is the permitting decision.
var Allow = Decision{Allowed: true}

// Deny constructs a denying decision with a reason code.
func Deny(reason string) Decision {
	return Decision{Reason: reason}
}

// Policy is a pure predicate over (identity, resource).
type Policy func(Identity, Resource) Decision

// RequireRole allows only the listed roles.
func RequireRole(roles ...domain.Role) Policy {
	return func(id Identity, _ Resource) Decision {
		for _, r := range roles {
			if id.Role == r {
				return Allow
			}
		}
		return Deny("role_not_permitted")
	}
}

// SameFirm allows only when the identity and the resource belong to the same
// firm. Resources without a firm pass.
func SameFirm() Policy {
	return func(id Identity, res Resource) Decision {
		if res.FirmID == "" || id.FirmID == res.FirmID {
			return Allow
		}
		return Deny(domain.CodeCrossFirmAccessDenied)
	}
}

// OwnsResource allows only the owner of the resource. Resources without an
// owner pass.
func OwnsResource() Policy {
	return func(id Identity, res Resource) Decision {
		if res.OwnerID == "" || id.UserID == res.OwnerID {
			return Allow
		}
		return Deny("not_resource_owner")
	}
}

// DenySuperadminTenantData blocks the platform superadmin from tenant-scoped
// resources. The superadmin manages firms, never their data.
func DenySuperadminTenantData() Policy {
	return func(id Identity, res Resource) Decision {
		if id.Superadmin && res.FirmID != "" {
			return Deny("superadmin_tenant_data_denied")
		}
		return Allow
	}
}

// SuperadminOnly allows only the platform superadmin.
func SuperadminOnly() Policy {
	return func(id Identity, _ Resource) Decision {
		if id.Superadmin {
			return Allow
		}
		return Deny("superadmin_required")
	}
}

// All allows only when every policy allows; the first denial wins.
func All(policies ...Policy) Policy {
	return func(id Identity, res Resource) Decision {
		for _, p := range policies {
			if d := p(id, res); !d.Allowed {
				return d
			}
		}
		return Allow
	}
}

// Any allows when at least one policy allows; the last denial is reported.
func Any(policies ...Policy) Policy {
	return func(id Identity, res Resource) Decision {
		last := Deny("no_policy_matched")
		for _, p := range policies {
			d := p(id, res)
			if d.Allowed {
				return d
			}
			last = d
		}
		return last
	}
}
