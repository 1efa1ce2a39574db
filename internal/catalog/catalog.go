package catalog

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/frahmantamala/crm-authz/internal"
	"github.com/frahmantamala/crm-authz/internal/core/rbac"
	"github.com/frahmantamala/crm-authz/internal/rowstore"
	"github.com/samber/lo"
)

// DefaultOrganizationRoles are seeded once when an organization is created.
var DefaultOrganizationRoles = []RoleInput{
	{Name: "admin", DisplayName: "Admin", Description: lo.ToPtr("Full access within the organization"), IsOrgAdmin: true},
	{Name: "manager", DisplayName: "Manager", Description: lo.ToPtr("Manages team leads and reports")},
	{Name: "agent", DisplayName: "Agent", Description: lo.ToPtr("Works assigned leads")},
}

type RoleInput struct {
	Name        string  `json:"name" validate:"required,max=64"`
	DisplayName string  `json:"display_name" validate:"required,max=128"`
	Description *string `json:"description,omitempty" validate:"omitempty,max=512"`
	IsOrgAdmin  bool    `json:"is_org_admin"`
}

// RolePatch updates only the fields that are set.
type RolePatch struct {
	DisplayName *string `json:"display_name,omitempty" validate:"omitempty,min=1,max=128"`
	Description *string `json:"description,omitempty" validate:"omitempty,max=512"`
	IsOrgAdmin  *bool   `json:"is_org_admin,omitempty"`
}

type snapshot struct {
	loaded      bool
	permissions []rbac.Permission
	roles       []rbac.RoleWithPermissions
	byID        map[string]int
}

var emptySnapshot = &snapshot{byID: map[string]int{}}

// Catalog caches every permission and every role visible to the organization,
// each role annotated with its granted permissions.
type Catalog struct {
	gw     rowstore.Gateway
	logger *slog.Logger

	mu    sync.RWMutex
	orgID string
	snap  *snapshot
}

func New(gw rowstore.Gateway, orgID string, logger *slog.Logger) *Catalog {
	return &Catalog{gw: gw, logger: logger, orgID: orgID, snap: emptySnapshot}
}

func (c *Catalog) OrganizationID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.orgID
}

// Refresh loads permissions, roles and grant edges in a fixed number of requests
// regardless of catalog size, and joins them in memory.
func (c *Catalog) Refresh(ctx context.Context) error {
	orgID := c.OrganizationID()

	permRows, err := c.gw.Select(ctx, rbac.TablePermissions, nil,
		rowstore.OrderBy("category"), rowstore.OrderBy("name"))
	if err != nil {
		c.logger.Error("failed to fetch permissions", "error", err)
		return internal.NewRemoteReadError("fetch permissions", err)
	}

	roleFilter := rowstore.Filter{"organization_id": nil}
	roleRows, err := c.gw.Select(ctx, rbac.TableRoles, roleFilter, rowstore.OrderBy("created_at"), rowstore.OrderBy("name"))
	if err != nil {
		c.logger.Error("failed to fetch system roles", "error", err)
		return internal.NewRemoteReadError("fetch roles", err)
	}
	if orgID != "" {
		orgRoleRows, err := c.gw.Select(ctx, rbac.TableRoles, rowstore.Filter{"organization_id": orgID},
			rowstore.OrderBy("created_at"), rowstore.OrderBy("name"))
		if err != nil {
			c.logger.Error("failed to fetch organization roles", "organization_id", orgID, "error", err)
			return internal.NewRemoteReadError("fetch roles", err)
		}
		roleRows = append(roleRows, orgRoleRows...)
	}

	permissions, err := rowstore.DecodeAll[rbac.Permission](permRows)
	if err != nil {
		return internal.NewRemoteReadError("decode permissions", err)
	}
	roles, err := rowstore.DecodeAll[rbac.Role](roleRows)
	if err != nil {
		return internal.NewRemoteReadError("decode roles", err)
	}

	roleIDs := lo.Map(roles, func(r rbac.Role, _ int) string { return r.ID })
	edgeRows, err := c.gw.Select(ctx, rbac.TableRolePerms, rowstore.Filter{"role_id": roleIDs})
	if err != nil {
		c.logger.Error("failed to fetch role permissions", "error", err)
		return internal.NewRemoteReadError("fetch role permissions", err)
	}
	edges, err := rowstore.DecodeAll[rbac.RolePermission](edgeRows)
	if err != nil {
		return internal.NewRemoteReadError("decode role permissions", err)
	}

	c.swap(orgID, buildSnapshot(permissions, roles, edges))
	return nil
}

func buildSnapshot(permissions []rbac.Permission, roles []rbac.Role, edges []rbac.RolePermission) *snapshot {
	permByID := lo.KeyBy(permissions, func(p rbac.Permission) string { return p.ID })
	edgesByRole := lo.GroupBy(edges, func(e rbac.RolePermission) string { return e.RoleID })

	snap := &snapshot{
		loaded:      true,
		permissions: permissions,
		roles:       make([]rbac.RoleWithPermissions, 0, len(roles)),
		byID:        make(map[string]int, len(roles)),
	}
	for _, role := range roles {
		granted := lo.FilterMap(edgesByRole[role.ID], func(e rbac.RolePermission, _ int) (rbac.Permission, bool) {
			p, ok := permByID[e.PermissionID]
			return p, ok
		})
		snap.byID[role.ID] = len(snap.roles)
		snap.roles = append(snap.roles, rbac.RoleWithPermissions{Role: role, Permissions: granted})
	}
	return snap
}

func (c *Catalog) swap(orgID string, snap *snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.orgID != orgID {
		return
	}
	c.snap = snap
}

func (c *Catalog) current() *snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap
}

// Loaded reports whether a Refresh has succeeded for the current organization.
func (c *Catalog) Loaded() bool {
	return c.current().loaded
}

func (c *Catalog) Permissions() []rbac.Permission {
	return append([]rbac.Permission(nil), c.current().permissions...)
}

// PermissionsByCategory groups the catalog for permission pickers.
func (c *Catalog) PermissionsByCategory() map[string][]rbac.Permission {
	return lo.GroupBy(c.current().permissions, func(p rbac.Permission) string { return p.Category })
}

func (c *Catalog) Roles() []rbac.RoleWithPermissions {
	return append([]rbac.RoleWithPermissions(nil), c.current().roles...)
}

// OrganizationRoles excludes system roles, which organizations cannot edit.
func (c *Catalog) OrganizationRoles() []rbac.RoleWithPermissions {
	return lo.Filter(c.current().roles, func(r rbac.RoleWithPermissions, _ int) bool { return !r.IsSystemRole })
}

func (c *Catalog) Role(id string) (rbac.RoleWithPermissions, bool) {
	snap := c.current()
	i, ok := snap.byID[id]
	if !ok {
		return rbac.RoleWithPermissions{}, false
	}
	return snap.roles[i], true
}

// CreateRole adds a role to the active organization.
func (c *Catalog) CreateRole(ctx context.Context, in RoleInput) (rbac.Role, error) {
	orgID := c.OrganizationID()
	if orgID == "" {
		return rbac.Role{}, internal.ErrNoActiveOrganization
	}
	role, err := insertRole(ctx, c.gw, orgID, in)
	if err != nil {
		c.logger.Error("failed to create role", "organization_id", orgID, "name", in.Name, "error", err)
		return rbac.Role{}, err
	}
	c.refreshAfterWrite(ctx)
	return role, nil
}

func insertRole(ctx context.Context, gw rowstore.Gateway, orgID string, in RoleInput) (rbac.Role, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return rbac.Role{}, internal.NewValidationFieldError("name", "name is required", internal.ErrCodeInvalidRoleName)
	}
	if name == rbac.SuperAdminRoleName {
		return rbac.Role{}, internal.NewValidationFieldError("name", "name is reserved", internal.ErrCodeInvalidRoleName)
	}

	existing, err := gw.Select(ctx, rbac.TableRoles, rowstore.Filter{"organization_id": orgID, "name": name},
		rowstore.Columns("id"), rowstore.Limit(1))
	if err != nil {
		return rbac.Role{}, internal.NewRemoteWriteError("create role", err)
	}
	if len(existing) > 0 {
		return rbac.Role{}, internal.NewConflictError("a role with this name already exists", internal.ErrCodeRoleNameTaken)
	}

	now := time.Now().UTC()
	row, err := gw.Insert(ctx, rbac.TableRoles, rowstore.Row{
		"organization_id": orgID,
		"name":            name,
		"display_name":    in.DisplayName,
		"description":     in.Description,
		"is_system_role":  false,
		"is_org_admin":    in.IsOrgAdmin,
		"created_at":      now,
		"updated_at":      now,
	})
	if err != nil {
		return rbac.Role{}, internal.NewRemoteWriteError("create role", err)
	}

	var role rbac.Role
	if err := rowstore.Decode(row, &role); err != nil {
		return rbac.Role{}, internal.NewRemoteWriteError("create role", err)
	}
	return role, nil
}

func (c *Catalog) UpdateRole(ctx context.Context, roleID string, patch RolePatch) error {
	if err := c.checkMutable(ctx, roleID); err != nil {
		return err
	}

	row := rowstore.Row{"updated_at": time.Now().UTC()}
	if patch.DisplayName != nil {
		row["display_name"] = *patch.DisplayName
	}
	if patch.Description != nil {
		row["description"] = *patch.Description
	}
	if patch.IsOrgAdmin != nil {
		row["is_org_admin"] = *patch.IsOrgAdmin
	}

	if err := c.gw.Update(ctx, rbac.TableRoles, rowstore.Filter{"id": roleID}, row); err != nil {
		c.logger.Error("failed to update role", "role_id", roleID, "error", err)
		return internal.NewRemoteWriteError("update role", err)
	}
	c.refreshAfterWrite(ctx)
	return nil
}

// DeleteRole removes the role with its grant edges and visibility rules.
// Users assigned to it fall back to having no role.
func (c *Catalog) DeleteRole(ctx context.Context, roleID string) error {
	if err := c.checkMutable(ctx, roleID); err != nil {
		return err
	}

	err := c.gw.Transaction(ctx, func(tx rowstore.Gateway) error {
		for _, table := range []string{rbac.TableRolePerms, rbac.TablePageRules, rbac.TablePhoneSettings, rbac.TableAssignments} {
			if err := tx.Delete(ctx, table, rowstore.Filter{"role_id": roleID}); err != nil {
				return err
			}
		}
		return tx.Delete(ctx, rbac.TableRoles, rowstore.Filter{"id": roleID})
	})
	if err != nil {
		c.logger.Error("failed to delete role", "role_id", roleID, "error", err)
		return internal.NewRemoteWriteError("delete role", err)
	}
	c.refreshAfterWrite(ctx)
	return nil
}

// checkMutable rejects system roles and roles owned by another organization.
func (c *Catalog) checkMutable(ctx context.Context, roleID string) error {
	rows, err := c.gw.Select(ctx, rbac.TableRoles, rowstore.Filter{"id": roleID}, rowstore.Limit(1))
	if err != nil {
		c.logger.Error("failed to look up role", "role_id", roleID, "error", err)
		return internal.NewRemoteWriteError("look up role", err)
	}
	if len(rows) == 0 {
		return internal.ErrRoleNotFound
	}
	var role rbac.Role
	if err := rowstore.Decode(rows[0], &role); err != nil {
		return internal.NewRemoteWriteError("look up role", err)
	}
	if role.IsSystemRole {
		return internal.ErrSystemRoleImmutable
	}
	if orgID := c.OrganizationID(); orgID != "" && role.OrgID() != orgID {
		return internal.ErrRoleNotFound
	}
	return nil
}

// SetRolePermissions replaces the role's grant set. Delete and insert run in one
// transaction so a failed insert leaves the previous grants in place.
func (c *Catalog) SetRolePermissions(ctx context.Context, roleID string, permissionIDs []string) error {
	if err := c.checkMutable(ctx, roleID); err != nil {
		return err
	}
	ids := lo.Uniq(lo.Compact(permissionIDs))

	err := c.gw.Transaction(ctx, func(tx rowstore.Gateway) error {
		if err := tx.Delete(ctx, rbac.TableRolePerms, rowstore.Filter{"role_id": roleID}); err != nil {
			return err
		}
		for _, pid := range ids {
			if _, err := tx.Insert(ctx, rbac.TableRolePerms, rowstore.Row{"role_id": roleID, "permission_id": pid}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		c.logger.Error("failed to set role permissions", "role_id", roleID, "count", len(ids), "error", err)
		return internal.NewRemoteWriteError("set role permissions", err)
	}
	c.refreshAfterWrite(ctx)
	return nil
}

// SeedOrganizationRoles creates the default roles of a new organization. It is
// called from organization creation, never from Refresh.
func SeedOrganizationRoles(ctx context.Context, gw rowstore.Gateway, orgID string) ([]rbac.Role, error) {
	roles := make([]rbac.Role, 0, len(DefaultOrganizationRoles))
	for _, in := range DefaultOrganizationRoles {
		role, err := insertRole(ctx, gw, orgID, in)
		if err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, nil
}

func (c *Catalog) refreshAfterWrite(ctx context.Context) {
	_ = c.Refresh(ctx)
}
