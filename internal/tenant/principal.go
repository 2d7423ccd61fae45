package tenant

import "schoolhub/internal/model"

// Principal is the authenticated caller a query runs on behalf of.
type Principal struct {
	UserID   string
	TenantID string
	Role     string
}

func (p Principal) IsSuperAdmin() bool {
	return p.Role == model.RoleSuperAdmin
}

// SameTenant reports whether p belongs to tenantID. Roles are not consulted.
func SameTenant(p Principal, tenantID string) bool {
	return p.TenantID != "" && p.TenantID == tenantID
}

// CanAccessTenant additionally lets a super admin reach any tenant.
// Only the cross-tenant admin routes should call it.
func CanAccessTenant(p Principal, tenantID string) bool {
	if tenantID == "" {
		return false
	}
	if p.IsSuperAdmin() {
		return true
	}
	return SameTenant(p, tenantID)
}
