package policy

import (
	"testing"

	"github.com/firmdesk/firmdesk/internal/domain"
)

func employee() Identity {
	return Identity{UserID: "user-1", Role: domain.RoleEmployee, FirmID: "firm-1"}
}

func superadmin() Identity {
	return Identity{UserID: "superadmin", Role: domain.RoleSuperAdmin, Superadmin: true}
}

func TestRequireRole(t *testing.T) {
	p := RequireRole(domain.RoleAdmin, domain.RoleEmployee)

	if d := p(employee(), Resource{}); !d.Allowed {
		t.Errorf("employee denied: %s", d.Reason)
	}
	if d := RequireRole(domain.RoleAdmin)(employee(), Resource{}); d.Allowed || d.Reason != "role_not_permitted" {
		t.Errorf("employee allowed past admin-only check: %+v", d)
	}
}

func TestSameFirm(t *testing.T) {
	p := SameFirm()

	if d := p(employee(), Resource{FirmID: "firm-1"}); !d.Allowed {
		t.Errorf("same-firm access denied: %s", d.Reason)
	}
	if d := p(employee(), Resource{FirmID: "firm-2"}); d.Allowed {
		t.Error("cross-firm access allowed")
	} else if d.Reason != domain.CodeCrossFirmAccessDenied {
		t.Errorf("reason = %q", d.Reason)
	}
	// Resources with no firm are not tenant data.
	if d := p(employee(), Resource{}); !d.Allowed {
		t.Errorf("firm-less resource denied: %s", d.Reason)
	}
}

func TestOwnsResource(t *testing.T) {
	p := OwnsResource()

	if d := p(employee(), Resource{OwnerID: "user-1"}); !d.Allowed {
		t.Errorf("owner denied: %s", d.Reason)
	}
	if d := p(employee(), Resource{OwnerID: "user-2"}); d.Allowed {
		t.Error("non-owner allowed")
	}
	if d := p(employee(), Resource{}); !d.Allowed {
		t.Errorf("ownerless resource denied: %s", d.Reason)
	}
}

func TestDenySuperadminTenantData(t *testing.T) {
	p := DenySuperadminTenantData()

	if d := p(superadmin(), Resource{FirmID: "firm-1"}); d.Allowed {
		t.Error("superadmin reached tenant data")
	}
	if d := p(superadmin(), Resource{}); !d.Allowed {
		t.Errorf("superadmin denied platform resource: %s", d.Reason)
	}
	if d := p(employee(), Resource{FirmID: "firm-1"}); !d.Allowed {
		t.Errorf("tenant user caught by superadmin rule: %s", d.Reason)
	}
}

func TestSuperadminOnly(t *testing.T) {
	p := SuperadminOnly()

	if d := p(superadmin(), Resource{}); !d.Allowed {
		t.Errorf("superadmin denied: %s", d.Reason)
	}
	if d := p(employee(), Resource{}); d.Allowed || d.Reason != "superadmin_required" {
		t.Errorf("employee passed superadmin gate: %+v", d)
	}
}

func TestAllShortCircuitsOnFirstDenial(t *testing.T) {
	p := All(SameFirm(), RequireRole(domain.RoleAdmin))

	d := p(employee(), Resource{FirmID: "firm-2"})
	if d.Allowed {
		t.Fatal("expected denial")
	}
	if d.Reason != domain.CodeCrossFirmAccessDenied {
		t.Errorf("expected the first denial to win, got %q", d.Reason)
	}

	admin := employee()
	admin.Role = domain.RoleAdmin
	if d := p(admin, Resource{FirmID: "firm-1"}); !d.Allowed {
		t.Errorf("all-pass denied: %s", d.Reason)
	}
}

func TestAnyReportsLastDenial(t *testing.T) {
	p := Any(SuperadminOnly(), RequireRole(domain.RoleAdmin))

	if d := p(employee(), Resource{}); d.Allowed {
		t.Fatal("expected denial")
	} else if d.Reason != "role_not_permitted" {
		t.Errorf("expected the last denial to be reported, got %q", d.Reason)
	}

	if d := p(superadmin(), Resource{}); !d.Allowed {
		t.Errorf("superadmin denied by Any: %s", d.Reason)
	}

	if d := Any()(employee(), Resource{}); d.Allowed || d.Reason != "no_policy_matched" {
		t.Errorf("empty Any = %+v", d)
	}
}
