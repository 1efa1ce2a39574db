// Package authz resolves the signed-in user's role inside the active
// organization and answers permission, page and phone questions from it.
package authz

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/frahmantamala/crm-authz/internal"
	"github.com/frahmantamala/crm-authz/internal/core/rbac"
	"github.com/frahmantamala/crm-authz/internal/masking"
	"github.com/frahmantamala/crm-authz/internal/rowstore"
	"github.com/frahmantamala/crm-authz/internal/visibility"
	"github.com/samber/lo"
)

type State int

const (
	Unresolved State = iota
	Resolved
	NoRole
)

func (s State) String() string {
	switch s {
	case Resolved:
		return "resolved"
	case NoRole:
		return "no_role"
	default:
		return "unresolved"
	}
}

// View is the read-only side handed to consumers. Only the owner of a
// Context can resolve or reset it.
type View interface {
	State() State
	UserID() string
	OrganizationID() string
	Role() *rbac.Role
	PermissionNames() []string
	HasPermission(name string) bool
	CanViewPage(path string) bool
	IsSuperAdmin() bool
	IsOrgAdmin() bool
	VisibilityMode() masking.Mode
	FormatPhoneNumber(phone string) string
	CanSeeFullNumber() bool
}

type resolution struct {
	state State
	role  *rbac.Role
	names []string
	perms map[string]struct{}
}

var unresolved = &resolution{state: Unresolved}

type Context struct {
	gw     rowstore.Gateway
	rules  visibility.Reader
	logger *slog.Logger

	mu         sync.RWMutex
	userID     string
	orgID      string
	generation uint64
	res        *resolution
}

var _ View = (*Context)(nil)

func NewContext(gw rowstore.Gateway, rules visibility.Reader, userID, orgID string, logger *slog.Logger) *Context {
	return &Context{
		gw:     gw,
		rules:  rules,
		logger: logger,
		userID: userID,
		orgID:  orgID,
		res:    unresolved,
	}
}

// Reset forgets the resolved role, as after re-authentication.
func (c *Context) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	c.res = unresolved
}

// SwitchTenant moves the context to another organization. Nothing resolved
// for the previous organization carries over.
func (c *Context) SwitchTenant(orgID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.orgID = orgID
	c.generation++
	c.res = unresolved
}

// Resolve looks up the user's single assignment in the active organization and
// the names of the permissions granted to that role. It never loads the catalog.
func (c *Context) Resolve(ctx context.Context) error {
	c.mu.RLock()
	userID, orgID, gen := c.userID, c.orgID, c.generation
	c.mu.RUnlock()

	res, err := c.resolve(ctx, userID, orgID)
	if err != nil {
		c.logger.Error("failed to resolve user role",
			"user_id", userID, "organization_id", orgID, "error", err)
		return internal.NewRemoteReadError("resolve user role", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generation == gen {
		c.res = res
	}
	return nil
}

func (c *Context) resolve(ctx context.Context, userID, orgID string) (*resolution, error) {
	if userID == "" || orgID == "" {
		return &resolution{state: NoRole}, nil
	}

	role, err := c.assignedRole(ctx, userID, orgID)
	if err != nil {
		return nil, err
	}
	if role == nil {
		// super_admin is never organization scoped: held anywhere, it holds here
		role, err = c.superAdminElsewhere(ctx, userID)
		if err != nil {
			return nil, err
		}
	}
	if role == nil {
		return &resolution{state: NoRole}, nil
	}

	edgeRows, err := c.gw.Select(ctx, rbac.TableRolePerms, rowstore.Filter{"role_id": role.ID},
		rowstore.Columns("permission_id"))
	if err != nil {
		return nil, err
	}
	edges, err := rowstore.DecodeAll[rbac.RolePermission](edgeRows)
	if err != nil {
		return nil, err
	}
	permIDs := lo.Uniq(lo.Map(edges, func(e rbac.RolePermission, _ int) string { return e.PermissionID }))

	var names []string
	if len(permIDs) > 0 {
		permRows, err := c.gw.Select(ctx, rbac.TablePermissions, rowstore.Filter{"id": permIDs},
			rowstore.Columns("name"))
		if err != nil {
			return nil, err
		}
		perms, err := rowstore.DecodeAll[rbac.Permission](permRows)
		if err != nil {
			return nil, err
		}
		names = lo.Map(perms, func(p rbac.Permission, _ int) string { return p.Name })
	}
	sort.Strings(names)

	return &resolution{
		state: Resolved,
		role:  role,
		names: names,
		perms: lo.SliceToMap(names, func(n string) (string, struct{}) { return n, struct{}{} }),
	}, nil
}

// assignedRole returns the role of the user's assignment in orgID, or nil.
func (c *Context) assignedRole(ctx context.Context, userID, orgID string) (*rbac.Role, error) {
	assignments, err := c.gw.Select(ctx, rbac.TableAssignments,
		rowstore.Filter{"user_id": userID, "organization_id": orgID}, rowstore.Limit(1))
	if err != nil {
		return nil, err
	}
	if len(assignments) == 0 {
		return nil, nil
	}
	var assignment rbac.UserRoleAssignment
	if err := rowstore.Decode(assignments[0], &assignment); err != nil {
		return nil, err
	}

	roleRows, err := c.gw.Select(ctx, rbac.TableRoles, rowstore.Filter{"id": assignment.RoleID}, rowstore.Limit(1))
	if err != nil {
		return nil, err
	}
	if len(roleRows) == 0 {
		return nil, nil
	}
	var role rbac.Role
	if err := rowstore.Decode(roleRows[0], &role); err != nil {
		return nil, err
	}
	if role.OrgID() != "" && role.OrgID() != orgID {
		c.logger.Warn("assignment points at a role of another organization",
			"user_id", userID, "organization_id", orgID, "role_id", role.ID)
		return nil, nil
	}
	return &role, nil
}

// superAdminElsewhere finds a super_admin assignment of the user in any
// organization. Only the system bypass role crosses tenants.
func (c *Context) superAdminElsewhere(ctx context.Context, userID string) (*rbac.Role, error) {
	rows, err := c.gw.Select(ctx, rbac.TableAssignments, rowstore.Filter{"user_id": userID},
		rowstore.Columns("role_id"))
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	assignments, err := rowstore.DecodeAll[rbac.UserRoleAssignment](rows)
	if err != nil {
		return nil, err
	}
	roleIDs := lo.Uniq(lo.Map(assignments, func(a rbac.UserRoleAssignment, _ int) string { return a.RoleID }))

	roleRows, err := c.gw.Select(ctx, rbac.TableRoles,
		rowstore.Filter{"id": roleIDs, "name": rbac.SuperAdminRoleName, "is_system_role": true},
		rowstore.Limit(1))
	if err != nil {
		return nil, err
	}
	if len(roleRows) == 0 {
		return nil, nil
	}
	var role rbac.Role
	if err := rowstore.Decode(roleRows[0], &role); err != nil {
		return nil, err
	}
	if !role.IsSuperAdmin() {
		return nil, nil
	}
	return &role, nil
}

func (c *Context) current() *resolution {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.res
}

func (c *Context) State() State {
	return c.current().state
}

func (c *Context) UserID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID
}

func (c *Context) OrganizationID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.orgID
}

// Role returns a copy of the resolved role, or nil.
func (c *Context) Role() *rbac.Role {
	r := c.current().role
	if r == nil {
		return nil
	}
	cp := *r
	return &cp
}

func (c *Context) PermissionNames() []string {
	return append([]string(nil), c.current().names...)
}

func (c *Context) IsSuperAdmin() bool {
	return c.current().role.IsSuperAdmin()
}

func (c *Context) IsOrgAdmin() bool {
	return c.current().role.HasOrgAdmin()
}

func (c *Context) HasPermission(name string) bool {
	res := c.current()
	if res.role.IsSuperAdmin() {
		return true
	}
	_, ok := res.perms[name]
	return ok
}

func (c *Context) CanViewPage(path string) bool {
	res := c.current()
	if res.role.IsSuperAdmin() {
		return true
	}
	if res.role == nil {
		return visibility.DefaultPageVisible
	}
	return c.rules.PageVisible(res.role.ID, path)
}

func (c *Context) VisibilityMode() masking.Mode {
	res := c.current()
	if res.role.IsSuperAdmin() {
		return masking.Full
	}
	if res.role == nil {
		return visibility.DefaultPhoneMode
	}
	return c.rules.PhoneMode(res.role.ID)
}

func (c *Context) FormatPhoneNumber(phone string) string {
	return masking.Mask(phone, c.VisibilityMode())
}

func (c *Context) CanSeeFullNumber() bool {
	return c.VisibilityMode() == masking.Full
}
