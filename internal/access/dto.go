package access

import (
	"github.com/frahmantamala/crm-authz/internal/authz"
	"github.com/frahmantamala/crm-authz/internal/core/rbac"
	"github.com/frahmantamala/crm-authz/internal/masking"
)

// Page is one entry of the application navigation.
type Page struct {
	Path  string `json:"path"`
	Label string `json:"label"`
}

// NavigationPages are the pages a role's visibility rules can hide.
var NavigationPages = []Page{
	{Path: "/", Label: "Dashboard"},
	{Path: "/leads", Label: "Leads"},
	{Path: "/pipeline", Label: "Pipeline"},
	{Path: "/contacts", Label: "Contacts"},
	{Path: "/import", Label: "Import"},
	{Path: "/reports", Label: "Reports"},
	{Path: "/users", Label: "Users"},
	{Path: "/groups", Label: "Groups"},
	{Path: "/settings", Label: "Settings"},
}

type MeResponse struct {
	UserID           string       `json:"user_id"`
	OrganizationID   string       `json:"organization_id"`
	State            string       `json:"state"`
	Role             *rbac.Role   `json:"role,omitempty"`
	Permissions      []string     `json:"permissions"`
	IsSuperAdmin     bool         `json:"is_super_admin"`
	IsOrgAdmin       bool         `json:"is_org_admin"`
	PhoneVisibility  masking.Mode `json:"phone_visibility"`
	CanSeeFullNumber bool         `json:"can_see_full_number"`
}

func NewMeResponse(v authz.View) MeResponse {
	perms := v.PermissionNames()
	if perms == nil {
		perms = []string{}
	}
	return MeResponse{
		UserID:           v.UserID(),
		OrganizationID:   v.OrganizationID(),
		State:            v.State().String(),
		Role:             v.Role(),
		Permissions:      perms,
		IsSuperAdmin:     v.IsSuperAdmin(),
		IsOrgAdmin:       v.IsOrgAdmin(),
		PhoneVisibility:  v.VisibilityMode(),
		CanSeeFullNumber: v.CanSeeFullNumber(),
	}
}

type CheckResponse struct {
	Permission string `json:"permission"`
	Allowed    bool   `json:"allowed"`
}

type PageAccess struct {
	Page
	Visible bool `json:"visible"`
}

type PhoneFormatRequest struct {
	Phones []string `json:"phones" validate:"required,min=1,max=500"`
}

type PhoneFormatResponse struct {
	Mode   masking.Mode `json:"mode"`
	Phones []string     `json:"phones"`
}

type SetPermissionsRequest struct {
	PermissionIDs []string `json:"permission_ids" validate:"omitempty,dive,required"`
}

type SetPageVisibilityRequest struct {
	PagePath  string `json:"page_path" validate:"required,startswith=/,max=255"`
	IsVisible *bool  `json:"is_visible" validate:"required"`
}

type SetPhoneVisibilityRequest struct {
	Mode string `json:"visibility_mode" validate:"required,oneof=full masked hidden"`
}

type AssignRoleRequest struct {
	UserID string `json:"user_id" validate:"required,max=64"`
	RoleID string `json:"role_id" validate:"required,max=64"`
}

type PermissionsResponse struct {
	Permissions []rbac.Permission            `json:"permissions"`
	ByCategory  map[string][]rbac.Permission `json:"by_category"`
}

type OrganizationResponse struct {
	Organization rbac.Organization `json:"organization"`
	Roles        []rbac.Role       `json:"roles"`
}
