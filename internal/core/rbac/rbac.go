// Package rbac holds the row types shared by the catalog, the visibility
// store and the user authorization context.
package rbac

import "time"

const (
	TableOrganizations = "organizations"
	TablePermissions   = "permissions"
	TableRoles         = "dynamic_roles"
	TableRolePerms     = "role_permissions"
	TableAssignments   = "user_dynamic_roles"
	TablePageRules     = "page_visibility"
	TablePhoneSettings = "phone_visibility_settings"
	TableAuditLogs     = "audit_logs"
)

// SuperAdminRoleName is the reserved name of the global bypass role.
const SuperAdminRoleName = "super_admin"

type Organization struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Slug      string    `json:"slug"`
	CreatedAt time.Time `json:"created_at"`
}

type Permission struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	DisplayName string  `json:"display_name"`
	Category    string  `json:"category"`
	Description *string `json:"description,omitempty"`
}

type Role struct {
	ID             string    `json:"id"`
	OrganizationID *string   `json:"organization_id"`
	Name           string    `json:"name"`
	DisplayName    string    `json:"display_name"`
	Description    *string   `json:"description,omitempty"`
	IsSystemRole   bool      `json:"is_system_role"`
	IsOrgAdmin     bool      `json:"is_org_admin"`
	CreatedAt      time.Time `json:"created_at"`
}

// IsSuperAdmin requires both the reserved name and the system flag, so an
// organization cannot create its own bypass role by naming it super_admin.
func (r *Role) IsSuperAdmin() bool {
	return r != nil && r.Name == SuperAdminRoleName && r.IsSystemRole
}

func (r *Role) HasOrgAdmin() bool {
	return r.IsSuperAdmin() || (r != nil && r.IsOrgAdmin)
}

// OrgID returns the owning organization, or "" for system-wide roles.
func (r *Role) OrgID() string {
	if r == nil || r.OrganizationID == nil {
		return ""
	}
	return *r.OrganizationID
}

type RolePermission struct {
	ID           string `json:"id"`
	RoleID       string `json:"role_id"`
	PermissionID string `json:"permission_id"`
}

type UserRoleAssignment struct {
	ID             string `json:"id"`
	UserID         string `json:"user_id"`
	OrganizationID string `json:"organization_id"`
	RoleID         string `json:"role_id"`
}

type PageVisibilityRule struct {
	ID             string `json:"id"`
	OrganizationID string `json:"organization_id"`
	RoleID         string `json:"role_id"`
	PagePath       string `json:"page_path"`
	IsVisible      bool   `json:"is_visible"`
}

type PhoneVisibilitySetting struct {
	ID             string `json:"id"`
	OrganizationID string `json:"organization_id"`
	RoleID         string `json:"role_id"`
	VisibilityMode string `json:"visibility_mode"`
}

type AuditLog struct {
	ID             string    `json:"id"`
	OrganizationID *string   `json:"organization_id"`
	UserID         *string   `json:"user_id"`
	Action         string    `json:"action"`
	EntityType     string    `json:"entity_type"`
	EntityID       *string   `json:"entity_id"`
	OldValues      *string   `json:"old_values,omitempty"`
	NewValues      *string   `json:"new_values,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

type RoleWithPermissions struct {
	Role
	Permissions []Permission `json:"permissions"`
}
