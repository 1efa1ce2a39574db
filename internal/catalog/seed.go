package catalog

import (
	"context"
	"time"

	"github.com/frahmantamala/crm-authz/internal"
	"github.com/frahmantamala/crm-authz/internal/core/rbac"
	"github.com/frahmantamala/crm-authz/internal/rowstore"
	"github.com/samber/lo"
)

type PermissionSeed struct {
	Name        string
	DisplayName string
	Category    string
	Description string
}

// DefaultPermissions is the permission catalog installed by the seed command.
var DefaultPermissions = []PermissionSeed{
	{"click_to_call", "Click to call", "telephony", "Place calls from lead and contact pages"},
	{"import.csv", "Import CSV", "leads", "Import leads from CSV files"},
	{"leads.view", "View leads", "leads", "See leads of the organization"},
	{"leads.create", "Create leads", "leads", "Add new leads"},
	{"leads.edit", "Edit leads", "leads", "Change existing leads"},
	{"leads.delete", "Delete leads", "leads", "Remove leads"},
	{"contacts.view", "View contacts", "contacts", "See contacts of the organization"},
	{"reports.view", "View reports", "reports", "Open the reports page"},
	{"settings.branding", "Branding settings", "settings", "Change the CRM name, logo and theme"},
	{"settings.phone_visibility", "Phone visibility settings", "settings", "Choose how phone numbers render per role"},
	{"settings.telephony", "Telephony settings", "settings", "Configure telephony providers"},
	{"users.manage", "Manage users", "users", "Invite users and assign roles"},
}

// SeedPermissions inserts the permissions that are missing by name and leaves
// existing ones untouched. It returns how many were created.
func SeedPermissions(ctx context.Context, gw rowstore.Gateway, seeds []PermissionSeed) (int, error) {
	rows, err := gw.Select(ctx, rbac.TablePermissions, rowstore.Filter{}, rowstore.Columns("name"))
	if err != nil {
		return 0, internal.NewRemoteReadError("fetch permissions", err)
	}
	existing := lo.SliceToMap(rows, func(r rowstore.Row) (string, struct{}) {
		name, _ := r["name"].(string)
		return name, struct{}{}
	})

	created := 0
	for _, s := range seeds {
		if _, ok := existing[s.Name]; ok {
			continue
		}
		if _, err := gw.Insert(ctx, rbac.TablePermissions, rowstore.Row{
			"name":         s.Name,
			"display_name": s.DisplayName,
			"category":     s.Category,
			"description":  s.Description,
		}); err != nil {
			return created, internal.NewRemoteWriteError("seed permission "+s.Name, err)
		}
		created++
	}
	return created, nil
}

// EnsureSuperAdminRole returns the platform-wide super admin role, creating it
// when it does not exist yet.
func EnsureSuperAdminRole(ctx context.Context, gw rowstore.Gateway) (rbac.Role, error) {
	rows, err := gw.Select(ctx, rbac.TableRoles,
		rowstore.Filter{"name": rbac.SuperAdminRoleName, "is_system_role": true, "organization_id": nil},
		rowstore.Limit(1))
	if err != nil {
		return rbac.Role{}, internal.NewRemoteReadError("fetch super admin role", err)
	}
	if len(rows) == 0 {
		now := time.Now().UTC()
		row, err := gw.Insert(ctx, rbac.TableRoles, rowstore.Row{
			"organization_id": nil,
			"name":            rbac.SuperAdminRoleName,
			"display_name":    "Super Admin",
			"description":     "Platform administrator with access to every organization",
			"is_system_role":  true,
			"is_org_admin":    true,
			"created_at":      now,
			"updated_at":      now,
		})
		if err != nil {
			return rbac.Role{}, internal.NewRemoteWriteError("create super admin role", err)
		}
		rows = []rowstore.Row{row}
	}

	var role rbac.Role
	if err := rowstore.Decode(rows[0], &role); err != nil {
		return rbac.Role{}, internal.NewRemoteReadError("decode super admin role", err)
	}
	return role, nil
}
