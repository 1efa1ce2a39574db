package access

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/frahmantamala/crm-authz/internal/authz"
	"github.com/frahmantamala/crm-authz/internal/catalog"
	"github.com/frahmantamala/crm-authz/internal/core/rbac"
	"github.com/frahmantamala/crm-authz/internal/masking"
	"github.com/frahmantamala/crm-authz/internal/observability"
	"github.com/frahmantamala/crm-authz/internal/rowstore"
	"github.com/frahmantamala/crm-authz/internal/session"
	"github.com/frahmantamala/crm-authz/internal/visibility"
)

// CatalogView is the read side of the role catalog.
type CatalogView interface {
	Loaded() bool
	Permissions() []rbac.Permission
	PermissionsByCategory() map[string][]rbac.Permission
	Roles() []rbac.RoleWithPermissions
	OrganizationRoles() []rbac.RoleWithPermissions
	Role(id string) (rbac.RoleWithPermissions, bool)
}

// RulesView is the read side of the visibility rule store.
type RulesView interface {
	visibility.Reader
	RolePhoneMode(roleID string) (masking.Mode, bool)
	PageRules() []rbac.PageVisibilityRule
	RolePageRules(roleID string) []rbac.PageVisibilityRule
	PhoneSettings() []rbac.PhoneVisibilitySetting
}

// Session owns the authorization state of one user in one organization.
// Readers get views; state only changes through the Service.
type Session struct {
	userID  string
	logger  *slog.Logger
	metrics *observability.Metrics

	mu      sync.Mutex
	catalog *catalog.Catalog
	rules   *visibility.Store
	authz   *authz.Context
}

func NewSession(gw rowstore.Gateway, userID, orgID string, metrics *observability.Metrics, logger *slog.Logger) *Session {
	logger = logger.With("user_id", userID)
	rules := visibility.NewStore(gw, orgID, logger)
	return &Session{
		userID:  userID,
		logger:  logger,
		metrics: metrics,
		catalog: catalog.New(gw, orgID, logger),
		rules:   rules,
		authz:   authz.NewContext(gw, rules, userID, orgID, logger),
	}
}

func (s *Session) UserID() string {
	return s.userID
}

func (s *Session) OrganizationID() string {
	return s.authz.OrganizationID()
}

func (s *Session) Key() session.Key {
	return session.Key{UserID: s.userID, OrganizationID: s.OrganizationID()}
}

func (s *Session) View() authz.View {
	return s.authz
}

func (s *Session) Rules() RulesView {
	return s.rules
}

// Catalog loads the role catalog on first use. Resolving a user never needs it,
// only administrative screens do.
func (s *Session) Catalog(ctx context.Context) (CatalogView, error) {
	if s.catalog.Loaded() {
		return s.catalog, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.catalog.Loaded() {
		if err := s.refreshCatalog(ctx); err != nil {
			return s.catalog, err
		}
	}
	return s.catalog, nil
}

// Load resolves the user's role and fetches the visibility rules.
func (s *Session) Load(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return errors.Join(s.refreshRules(ctx), s.resolve(ctx))
}

// Refresh re-fetches everything the session holds. Each part keeps its last
// snapshot if its own fetch fails.
func (s *Session) Refresh(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	errs := []error{s.refreshRules(ctx), s.resolve(ctx)}
	if s.catalog.Loaded() {
		errs = append(errs, s.refreshCatalog(ctx))
	}
	return errors.Join(errs...)
}

func (s *Session) resolve(ctx context.Context) error {
	if err := s.authz.Resolve(ctx); err != nil {
		s.metrics.ObserveRefreshFailure("authz")
		return err
	}
	return nil
}

func (s *Session) refreshRules(ctx context.Context) error {
	if err := s.rules.Refresh(ctx); err != nil {
		s.metrics.ObserveRefreshFailure("visibility")
		return err
	}
	return nil
}

func (s *Session) refreshCatalog(ctx context.Context) error {
	if err := s.catalog.Refresh(ctx); err != nil {
		s.metrics.ObserveRefreshFailure("catalog")
		return err
	}
	return nil
}

// ownsRole reports whether roleID is the role this session resolved to.
func (s *Session) ownsRole(roleID string) bool {
	r := s.authz.Role()
	return r != nil && r.ID == roleID
}
