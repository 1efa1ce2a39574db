package visibility

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/frahmantamala/crm-authz/internal"
	"github.com/frahmantamala/crm-authz/internal/core/rbac"
	"github.com/frahmantamala/crm-authz/internal/masking"
	"github.com/frahmantamala/crm-authz/internal/rowstore"
)

// Default answers for roles without an explicit rule. Pages fail open,
// phone numbers fail closed.
const (
	DefaultPageVisible = true
	DefaultPhoneMode   = masking.Masked
)

// Reader is the lookup side of the store handed to the authorization context.
type Reader interface {
	PageVisible(roleID, path string) bool
	PhoneMode(roleID string) masking.Mode
}

type pageKey struct {
	roleID string
	path   string
}

// snapshot is never mutated after it is built.
type snapshot struct {
	pageRules     []rbac.PageVisibilityRule
	phoneSettings []rbac.PhoneVisibilitySetting
	pages         map[pageKey]bool
	phone         map[string]masking.Mode
}

func newSnapshot(pageRules []rbac.PageVisibilityRule, phoneSettings []rbac.PhoneVisibilitySetting) *snapshot {
	s := &snapshot{
		pageRules:     pageRules,
		phoneSettings: phoneSettings,
		pages:         make(map[pageKey]bool, len(pageRules)),
		phone:         make(map[string]masking.Mode, len(phoneSettings)),
	}
	for _, r := range pageRules {
		s.pages[pageKey{roleID: r.RoleID, path: r.PagePath}] = r.IsVisible
	}
	for _, p := range phoneSettings {
		mode, err := masking.ParseMode(p.VisibilityMode)
		if err != nil {
			// an unreadable mode must not widen exposure
			mode = DefaultPhoneMode
		}
		s.phone[p.RoleID] = mode
	}
	return s
}

var emptySnapshot = newSnapshot(nil, nil)

// Store caches the page and phone visibility rules of one organization.
type Store struct {
	gw     rowstore.Gateway
	logger *slog.Logger

	mu    sync.RWMutex
	orgID string
	snap  *snapshot
}

func NewStore(gw rowstore.Gateway, orgID string, logger *slog.Logger) *Store {
	return &Store{
		gw:     gw,
		logger: logger,
		orgID:  orgID,
		snap:   emptySnapshot,
	}
}

func (s *Store) OrganizationID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.orgID
}

// Refresh re-fetches both rule sets of the active organization and replaces the
// cached snapshot. On failure the previous snapshot stays in place.
func (s *Store) Refresh(ctx context.Context) error {
	orgID := s.OrganizationID()
	if orgID == "" {
		s.swap(orgID, emptySnapshot)
		return nil
	}

	pageRows, err := s.gw.Select(ctx, rbac.TablePageRules, rowstore.Filter{"organization_id": orgID})
	if err != nil {
		s.logger.Error("failed to fetch page visibility", "organization_id", orgID, "error", err)
		return internal.NewRemoteReadError("fetch page visibility", err)
	}
	phoneRows, err := s.gw.Select(ctx, rbac.TablePhoneSettings, rowstore.Filter{"organization_id": orgID})
	if err != nil {
		s.logger.Error("failed to fetch phone visibility settings", "organization_id", orgID, "error", err)
		return internal.NewRemoteReadError("fetch phone visibility settings", err)
	}

	pageRules, err := rowstore.DecodeAll[rbac.PageVisibilityRule](pageRows)
	if err != nil {
		s.logger.Error("failed to decode page visibility", "organization_id", orgID, "error", err)
		return internal.NewRemoteReadError("decode page visibility", err)
	}
	phoneSettings, err := rowstore.DecodeAll[rbac.PhoneVisibilitySetting](phoneRows)
	if err != nil {
		s.logger.Error("failed to decode phone visibility settings", "organization_id", orgID, "error", err)
		return internal.NewRemoteReadError("decode phone visibility settings", err)
	}

	s.swap(orgID, newSnapshot(pageRules, phoneSettings))
	return nil
}

// swap installs snap unless the organization changed while it was being fetched.
func (s *Store) swap(orgID string, snap *snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.orgID != orgID {
		return
	}
	s.snap = snap
}

func (s *Store) current() *snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

func (s *Store) PageVisible(roleID, path string) bool {
	visible, ok := s.current().pages[pageKey{roleID: roleID, path: path}]
	if !ok {
		return DefaultPageVisible
	}
	return visible
}

func (s *Store) PhoneMode(roleID string) masking.Mode {
	mode, ok := s.current().phone[roleID]
	if !ok {
		return DefaultPhoneMode
	}
	return mode
}

// RolePhoneMode reports the configured mode for roleID and whether a row exists.
func (s *Store) RolePhoneMode(roleID string) (masking.Mode, bool) {
	mode, ok := s.current().phone[roleID]
	if !ok {
		return DefaultPhoneMode, false
	}
	return mode, true
}

func (s *Store) PageRules() []rbac.PageVisibilityRule {
	return append([]rbac.PageVisibilityRule(nil), s.current().pageRules...)
}

func (s *Store) RolePageRules(roleID string) []rbac.PageVisibilityRule {
	var out []rbac.PageVisibilityRule
	for _, r := range s.current().pageRules {
		if r.RoleID == roleID {
			out = append(out, r)
		}
	}
	return out
}

func (s *Store) PhoneSettings() []rbac.PhoneVisibilitySetting {
	return append([]rbac.PhoneVisibilitySetting(nil), s.current().phoneSettings...)
}

// SetPageVisibility upserts the (role, path) rule. The role must belong to the
// active organization; roles without one cannot carry page rules.
func (s *Store) SetPageVisibility(ctx context.Context, roleID, path string, visible bool) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return internal.NewValidationFieldError("page_path", "page_path is required", internal.ErrCodeInvalidPagePath)
	}
	if roleID == "" {
		return internal.ErrRoleNotFound
	}
	orgID, err := s.ownRole(ctx, roleID, "update page visibility")
	if err != nil {
		return err
	}

	existing, err := s.gw.Select(ctx, rbac.TablePageRules,
		rowstore.Filter{"role_id": roleID, "organization_id": orgID, "page_path": path},
		rowstore.Columns("id"), rowstore.Limit(1))
	if err != nil {
		s.logger.Error("failed to look up page visibility", "role_id", roleID, "page_path", path, "error", err)
		return internal.NewRemoteWriteError("update page visibility", err)
	}

	now := time.Now().UTC()
	if len(existing) > 0 {
		err = s.gw.Update(ctx, rbac.TablePageRules,
			rowstore.Filter{"id": existing[0]["id"]},
			rowstore.Row{"is_visible": visible, "updated_at": now})
	} else {
		_, err = s.gw.Insert(ctx, rbac.TablePageRules, rowstore.Row{
			"organization_id": orgID,
			"role_id":         roleID,
			"page_path":       path,
			"is_visible":      visible,
			"created_at":      now,
			"updated_at":      now,
		})
	}
	if err != nil {
		s.logger.Error("failed to write page visibility", "role_id", roleID, "page_path", path, "error", err)
		return internal.NewRemoteWriteError("update page visibility", err)
	}

	s.refreshAfterWrite(ctx)
	return nil
}

// ownRole returns the active organization when roleID belongs to it. System
// roles have no organization; roles of other organizations read as missing.
func (s *Store) ownRole(ctx context.Context, roleID, op string) (string, error) {
	rows, err := s.gw.Select(ctx, rbac.TableRoles, rowstore.Filter{"id": roleID},
		rowstore.Columns("id", "organization_id", "is_system_role"), rowstore.Limit(1))
	if err != nil {
		s.logger.Error("failed to look up role organization", "role_id", roleID, "error", err)
		return "", internal.NewRemoteWriteError(op, err)
	}
	if len(rows) == 0 {
		return "", internal.ErrRoleNotFound
	}
	var role rbac.Role
	if err := rowstore.Decode(rows[0], &role); err != nil {
		return "", internal.NewRemoteWriteError(op, err)
	}
	if role.OrgID() == "" {
		return "", internal.ErrNoOrganizationForRole
	}
	orgID := s.OrganizationID()
	if orgID == "" {
		return "", internal.ErrNoActiveOrganization
	}
	if role.OrgID() != orgID {
		s.logger.Warn("refused visibility write for a role of another organization",
			"role_id", roleID, "role_organization_id", role.OrgID(), "organization_id", orgID)
		return "", internal.ErrRoleNotFound
	}
	return orgID, nil
}

// SetPhoneVisibility upserts the (role, active organization) setting.
func (s *Store) SetPhoneVisibility(ctx context.Context, roleID string, mode masking.Mode) error {
	if !mode.Valid() {
		return internal.ErrInvalidVisibilityMode
	}
	if roleID == "" {
		return internal.ErrRoleNotFound
	}
	if s.OrganizationID() == "" {
		return internal.ErrNoActiveOrganization
	}
	orgID, err := s.ownRole(ctx, roleID, "update phone visibility")
	if err != nil {
		return err
	}

	existing, err := s.gw.Select(ctx, rbac.TablePhoneSettings,
		rowstore.Filter{"role_id": roleID, "organization_id": orgID},
		rowstore.Columns("id"), rowstore.Limit(1))
	if err != nil {
		s.logger.Error("failed to look up phone visibility", "role_id", roleID, "error", err)
		return internal.NewRemoteWriteError("update phone visibility", err)
	}

	now := time.Now().UTC()
	if len(existing) > 0 {
		err = s.gw.Update(ctx, rbac.TablePhoneSettings,
			rowstore.Filter{"id": existing[0]["id"]},
			rowstore.Row{"visibility_mode": string(mode), "updated_at": now})
	} else {
		_, err = s.gw.Insert(ctx, rbac.TablePhoneSettings, rowstore.Row{
			"organization_id": orgID,
			"role_id":         roleID,
			"visibility_mode": string(mode),
			"created_at":      now,
			"updated_at":      now,
		})
	}
	if err != nil {
		s.logger.Error("failed to write phone visibility", "role_id", roleID, "mode", mode, "error", err)
		return internal.NewRemoteWriteError("update phone visibility", err)
	}

	s.refreshAfterWrite(ctx)
	return nil
}

// refreshAfterWrite never fails the write it follows; Refresh already logged.
func (s *Store) refreshAfterWrite(ctx context.Context) {
	_ = s.Refresh(ctx)
}
