package access

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/frahmantamala/crm-authz/internal"
	"github.com/frahmantamala/crm-authz/internal/audit"
	"github.com/frahmantamala/crm-authz/internal/catalog"
	"github.com/frahmantamala/crm-authz/internal/core/events"
	"github.com/frahmantamala/crm-authz/internal/core/rbac"
	"github.com/frahmantamala/crm-authz/internal/masking"
	"github.com/frahmantamala/crm-authz/internal/observability"
	"github.com/frahmantamala/crm-authz/internal/rowstore"
	"github.com/frahmantamala/crm-authz/internal/session"
	"github.com/samber/lo"
)

const (
	OpCreateRole         = "create_role"
	OpUpdateRole         = "update_role"
	OpDeleteRole         = "delete_role"
	OpSetRolePermissions = "set_role_permissions"
	OpSetPageVisibility  = "set_page_visibility"
	OpSetPhoneVisibility = "set_phone_visibility"
	OpAssignRoleToUser   = "assign_role_to_user"
	OpCreateOrganization = "create_organization"
)

var slugPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{1,62}$`)

type SessionOptions struct {
	Size int
	TTL  time.Duration
}

// Service is the mutation surface of the access subsystem. Every mutation is
// followed by a refresh of exactly the state it can invalidate, and other cached
// sessions of the same organization are dropped so their next request reloads.
type Service struct {
	gw       rowstore.Gateway
	bus      *events.EventBus
	metrics  *observability.Metrics
	logger   *slog.Logger
	sessions *session.Registry[*Session]
}

func NewService(gw rowstore.Gateway, bus *events.EventBus, metrics *observability.Metrics, logger *slog.Logger, opts SessionOptions) *Service {
	if opts.Size <= 0 {
		opts.Size = internal.DefaultSessionCacheSize
	}
	if opts.TTL <= 0 {
		opts.TTL = internal.DefaultSessionTTL
	}
	s := &Service{gw: gw, bus: bus, metrics: metrics, logger: logger}
	s.sessions = session.NewRegistry[*Session](opts.Size, opts.TTL, func(session.Key, *Session) {
		metrics.ObserveSessionEviction()
	})
	return s
}

// Session returns the cached session of userID in orgID, opening it on a miss.
// A session whose initial load failed is returned but not cached, so the next
// request retries.
func (s *Service) Session(ctx context.Context, userID, orgID string) (*Session, error) {
	key := session.Key{UserID: userID, OrganizationID: orgID}
	if sess, ok := s.sessions.Get(key); ok {
		return sess, nil
	}

	var loaded *Session
	sess, err := s.sessions.GetOrOpen(ctx, key, func(ctx context.Context) (*Session, error) {
		loaded = NewSession(s.gw, userID, orgID, s.metrics, s.logger)
		if err := loaded.Load(ctx); err != nil {
			return nil, err
		}
		return loaded, nil
	})
	s.metrics.SetSessions(s.sessions.Len())
	if err != nil {
		s.logger.Warn("session loaded with stale state", "user_id", userID, "organization_id", orgID, "error", err)
		return loaded, nil
	}
	return sess, nil
}

// Forget drops a cached session, as on sign-out.
func (s *Service) Forget(userID, orgID string) {
	s.sessions.Invalidate(session.Key{UserID: userID, OrganizationID: orgID})
	s.metrics.SetSessions(s.sessions.Len())
}

func (s *Service) CreateRole(ctx context.Context, sess *Session, in catalog.RoleInput) (rbac.Role, error) {
	sess.mu.Lock()
	defer sess.mu.Unlock()

	role, err := sess.catalog.CreateRole(ctx, in)
	s.metrics.ObserveMutation(OpCreateRole, err)
	if err != nil {
		return rbac.Role{}, err
	}

	s.publish(ctx, events.NewRoleCreatedEvent(sess.OrganizationID(), sess.userID, role.ID, role.Name))
	s.invalidateOthers(sess)
	return role, nil
}

func (s *Service) UpdateRole(ctx context.Context, sess *Session, roleID string, patch catalog.RolePatch) error {
	sess.mu.Lock()
	defer sess.mu.Unlock()

	err := sess.catalog.UpdateRole(ctx, roleID, patch)
	s.metrics.ObserveMutation(OpUpdateRole, err)
	if err != nil {
		return err
	}

	changes := map[string]interface{}{}
	if patch.DisplayName != nil {
		changes["display_name"] = *patch.DisplayName
	}
	if patch.Description != nil {
		changes["description"] = *patch.Description
	}
	if patch.IsOrgAdmin != nil {
		changes["is_org_admin"] = *patch.IsOrgAdmin
	}
	s.publish(ctx, events.NewRoleUpdatedEvent(sess.OrganizationID(), sess.userID, roleID, changes))
	s.afterRoleChange(ctx, sess, roleID)
	return nil
}

func (s *Service) DeleteRole(ctx context.Context, sess *Session, roleID string) error {
	sess.mu.Lock()
	defer sess.mu.Unlock()

	err := sess.catalog.DeleteRole(ctx, roleID)
	s.metrics.ObserveMutation(OpDeleteRole, err)
	if err != nil {
		return err
	}

	s.publish(ctx, events.NewRoleDeletedEvent(sess.OrganizationID(), sess.userID, roleID))
	// rules of the deleted role went with it
	_ = sess.refreshRules(ctx)
	s.afterRoleChange(ctx, sess, roleID)
	return nil
}

func (s *Service) SetRolePermissions(ctx context.Context, sess *Session, roleID string, permissionIDs []string) error {
	sess.mu.Lock()
	defer sess.mu.Unlock()

	err := sess.catalog.SetRolePermissions(ctx, roleID, permissionIDs)
	s.metrics.ObserveMutation(OpSetRolePermissions, err)
	if err != nil {
		return err
	}

	s.publish(ctx, events.NewRolePermissionsSetEvent(sess.OrganizationID(), sess.userID, roleID,
		lo.Uniq(lo.Compact(permissionIDs))))
	s.afterRoleChange(ctx, sess, roleID)
	return nil
}

func (s *Service) SetPageVisibility(ctx context.Context, sess *Session, roleID, path string, visible bool) error {
	sess.mu.Lock()
	defer sess.mu.Unlock()

	err := sess.rules.SetPageVisibility(ctx, roleID, path, visible)
	s.metrics.ObserveMutation(OpSetPageVisibility, err)
	if err != nil {
		return err
	}

	s.publish(ctx, events.NewPageVisibilitySetEvent(sess.OrganizationID(), sess.userID, roleID, strings.TrimSpace(path), visible))
	s.invalidateOthers(sess)
	return nil
}

func (s *Service) SetPhoneVisibility(ctx context.Context, sess *Session, roleID string, mode masking.Mode) error {
	sess.mu.Lock()
	defer sess.mu.Unlock()

	err := sess.rules.SetPhoneVisibility(ctx, roleID, mode)
	s.metrics.ObserveMutation(OpSetPhoneVisibility, err)
	if err != nil {
		return err
	}

	s.publish(ctx, events.NewPhoneVisibilitySetEvent(sess.OrganizationID(), sess.userID, roleID, string(mode)))
	s.invalidateOthers(sess)
	return nil
}

// AssignRoleToUser gives userID exactly one role in the session's organization,
// updating the existing assignment when there is one.
func (s *Service) AssignRoleToUser(ctx context.Context, sess *Session, userID, roleID string) error {
	sess.mu.Lock()
	defer sess.mu.Unlock()

	err := s.assignRole(ctx, sess.OrganizationID(), userID, roleID, sess.View().IsSuperAdmin())
	s.metrics.ObserveMutation(OpAssignRoleToUser, err)
	if err != nil {
		return err
	}

	s.publish(ctx, events.NewRoleAssignedEvent(sess.OrganizationID(), sess.userID, userID, roleID))
	if userID == sess.userID {
		_ = sess.resolve(ctx)
	} else {
		s.sessions.Invalidate(session.Key{UserID: userID, OrganizationID: sess.OrganizationID()})
	}
	return nil
}

// AssignRoleInOrganization assigns outside of any session, as the seed command
// does for the first super admin.
func (s *Service) AssignRoleInOrganization(ctx context.Context, actorID, orgID, userID, roleID string) error {
	err := s.assignRole(ctx, orgID, userID, roleID, true)
	s.metrics.ObserveMutation(OpAssignRoleToUser, err)
	if err != nil {
		return err
	}
	s.publish(ctx, events.NewRoleAssignedEvent(orgID, actorID, userID, roleID))
	s.sessions.Invalidate(session.Key{UserID: userID, OrganizationID: orgID})
	return nil
}

// assignRole upserts the assignment. System roles, super_admin among them, are
// only handed out when allowSystem is set.
func (s *Service) assignRole(ctx context.Context, orgID, userID, roleID string, allowSystem bool) error {
	if orgID == "" {
		return internal.ErrNoActiveOrganization
	}
	if strings.TrimSpace(userID) == "" {
		return internal.NewValidationFieldError("user_id", "user_id is required", internal.ErrCodeValidationFailed)
	}

	roles, err := s.gw.Select(ctx, rbac.TableRoles, rowstore.Filter{"id": roleID}, rowstore.Limit(1))
	if err != nil {
		s.logger.Error("failed to look up role", "role_id", roleID, "error", err)
		return internal.NewRemoteWriteError("assign role", err)
	}
	if len(roles) == 0 {
		return internal.ErrRoleNotFound
	}
	var role rbac.Role
	if err := rowstore.Decode(roles[0], &role); err != nil {
		return internal.NewRemoteWriteError("assign role", err)
	}
	if role.IsSystemRole {
		if !allowSystem {
			s.logger.Warn("refused system role assignment", "role_id", roleID, "user_id", userID, "organization_id", orgID)
			return internal.ErrPermissionDenied
		}
	} else if role.OrgID() != orgID {
		return internal.ErrRoleNotFound
	}

	existing, err := s.gw.Select(ctx, rbac.TableAssignments,
		rowstore.Filter{"user_id": userID, "organization_id": orgID},
		rowstore.Columns("id"), rowstore.Limit(1))
	if err != nil {
		s.logger.Error("failed to look up assignment", "user_id", userID, "organization_id", orgID, "error", err)
		return internal.NewRemoteWriteError("assign role", err)
	}

	now := time.Now().UTC()
	if len(existing) > 0 {
		err = s.gw.Update(ctx, rbac.TableAssignments, rowstore.Filter{"id": existing[0]["id"]},
			rowstore.Row{"role_id": roleID, "updated_at": now})
	} else {
		_, err = s.gw.Insert(ctx, rbac.TableAssignments, rowstore.Row{
			"user_id":         userID,
			"organization_id": orgID,
			"role_id":         roleID,
			"created_at":      now,
			"updated_at":      now,
		})
	}
	if err != nil {
		s.logger.Error("failed to write assignment", "user_id", userID, "organization_id", orgID, "error", err)
		return internal.NewRemoteWriteError("assign role", err)
	}
	return nil
}

type OrganizationInput struct {
	Name string `json:"name" validate:"required,max=128"`
	Slug string `json:"slug" validate:"required,max=63"`
}

// CreateOrganization inserts the organization and seeds its default roles in
// one transaction.
func (s *Service) CreateOrganization(ctx context.Context, actorID string, in OrganizationInput) (rbac.Organization, []rbac.Role, error) {
	org, roles, err := s.createOrganization(ctx, in)
	s.metrics.ObserveMutation(OpCreateOrganization, err)
	if err != nil {
		return rbac.Organization{}, nil, err
	}
	s.publish(ctx, events.NewOrganizationCreatedEvent(org.ID, actorID, org.Name, org.Slug))
	return org, roles, nil
}

func (s *Service) createOrganization(ctx context.Context, in OrganizationInput) (rbac.Organization, []rbac.Role, error) {
	name := strings.TrimSpace(in.Name)
	slug := strings.ToLower(strings.TrimSpace(in.Slug))
	if name == "" {
		return rbac.Organization{}, nil, internal.NewValidationFieldError("name", "name is required", internal.ErrCodeValidationFailed)
	}
	if !slugPattern.MatchString(slug) {
		return rbac.Organization{}, nil, internal.NewValidationFieldError("slug",
			"slug must be lowercase letters, digits and dashes", internal.ErrCodeValidationFailed)
	}

	existing, err := s.gw.Select(ctx, rbac.TableOrganizations, rowstore.Filter{"slug": slug}, rowstore.Limit(1))
	if err != nil {
		return rbac.Organization{}, nil, internal.NewRemoteWriteError("create organization", err)
	}
	if len(existing) > 0 {
		return rbac.Organization{}, nil, internal.NewConflictError("organization slug already taken", internal.ErrCodeOrganizationSlugTaken)
	}

	var (
		org   rbac.Organization
		roles []rbac.Role
	)
	err = s.gw.Transaction(ctx, func(tx rowstore.Gateway) error {
		row, err := tx.Insert(ctx, rbac.TableOrganizations, rowstore.Row{
			"name":       name,
			"slug":       slug,
			"created_at": time.Now().UTC(),
		})
		if err != nil {
			return err
		}
		if err := rowstore.Decode(row, &org); err != nil {
			return err
		}
		roles, err = catalog.SeedOrganizationRoles(ctx, tx, org.ID)
		return err
	})
	if err != nil {
		s.logger.Error("failed to create organization", "slug", slug, "error", err)
		if appErr, ok := internal.IsAppError(err); ok {
			return rbac.Organization{}, nil, appErr
		}
		return rbac.Organization{}, nil, internal.NewRemoteWriteError("create organization", err)
	}
	return org, roles, nil
}

// AuditTrail returns the newest audit entries of the session's organization.
func (s *Service) AuditTrail(ctx context.Context, sess *Session, limit int) ([]rbac.AuditLog, error) {
	logs, err := audit.Recent(ctx, s.gw, sess.OrganizationID(), limit)
	if err != nil {
		s.logger.Error("failed to read audit trail", "organization_id", sess.OrganizationID(), "error", err)
		return nil, internal.NewRemoteReadError("read audit trail", err)
	}
	return logs, nil
}

// Refresh reloads everything the session holds.
func (s *Service) Refresh(ctx context.Context, sess *Session) error {
	return sess.Refresh(ctx)
}

// afterRoleChange re-resolves the caller when its own role changed and drops
// other sessions of the organization.
func (s *Service) afterRoleChange(ctx context.Context, sess *Session, roleID string) {
	if sess.ownsRole(roleID) {
		_ = sess.resolve(ctx)
	}
	s.invalidateOthers(sess)
}

func (s *Service) invalidateOthers(sess *Session) {
	if n := s.sessions.InvalidateOrganization(sess.OrganizationID(), sess.Key()); n > 0 {
		s.logger.Debug("dropped cached sessions after mutation", "organization_id", sess.OrganizationID(), "count", n)
	}
	s.metrics.SetSessions(s.sessions.Len())
}

func (s *Service) publish(ctx context.Context, event events.Event) {
	if s.bus == nil {
		return
	}
	if err := s.bus.Publish(ctx, event); err != nil {
		s.logger.Error("failed to publish access event", "event_type", event.EventType(), "error", err)
	}
}
