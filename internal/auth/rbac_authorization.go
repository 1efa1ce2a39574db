package auth

import (
	"log/slog"
	"net/http"

	"github.com/frahmantamala/crm-authz/internal"
	"github.com/frahmantamala/crm-authz/internal/access"
	"github.com/frahmantamala/crm-authz/internal/authz"
	"github.com/frahmantamala/crm-authz/internal/observability"
	"github.com/frahmantamala/crm-authz/internal/transport"
)

// RBACAuthorization gates routes on the resolved authorization of the session
// attached by AuthMiddleware.
type RBACAuthorization struct {
	*transport.BaseHandler
	metrics *observability.Metrics
}

func NewRBACAuthorization(metrics *observability.Metrics, logger *slog.Logger) *RBACAuthorization {
	return &RBACAuthorization{
		BaseHandler: transport.NewBaseHandler(logger),
		metrics:     metrics,
	}
}

// Check wraps next so it only runs when allow accepts the caller's view.
func (ra *RBACAuthorization) Check(next http.HandlerFunc, check string, allow func(authz.View) bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, ok := access.SessionFromContext(r.Context())
		if !ok {
			ra.Logger.WarnContext(r.Context(), "authorization check failed: session not found in context")
			ra.HandleServiceError(w, internal.ErrUnauthorizedAccess)
			return
		}

		view := sess.View()
		allowed := allow(view)
		ra.metrics.ObserveDecision(check, allowed)
		if !allowed {
			ra.Logger.WarnContext(r.Context(), "access denied",
				"user_id", view.UserID(),
				"organization_id", view.OrganizationID(),
				"check", check,
				"state", view.State().String())
			if view.State() == authz.NoRole {
				ra.HandleServiceError(w, internal.ErrNoRoleAssigned)
				return
			}
			ra.HandleServiceError(w, internal.ErrPermissionDenied)
			return
		}

		next.ServeHTTP(w, r)
	}
}

func (ra *RBACAuthorization) middleware(check string, allow func(authz.View) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return ra.Check(next.ServeHTTP, check, allow)
	}
}

// Require admits callers holding permission. Super admins always pass.
func (ra *RBACAuthorization) Require(permission string) func(http.Handler) http.Handler {
	return ra.middleware("permission:"+permission, func(v authz.View) bool {
		return v.HasPermission(permission)
	})
}

// RequireAny admits callers holding at least one of permissions.
func (ra *RBACAuthorization) RequireAny(permissions ...string) func(http.Handler) http.Handler {
	return ra.middleware("any_permission", func(v authz.View) bool {
		for _, p := range permissions {
			if v.HasPermission(p) {
				return true
			}
		}
		return false
	})
}

func (ra *RBACAuthorization) RequireOrgAdmin() func(http.Handler) http.Handler {
	return ra.middleware("org_admin", authz.View.IsOrgAdmin)
}

func (ra *RBACAuthorization) RequireSuperAdmin() func(http.Handler) http.Handler {
	return ra.middleware("super_admin", authz.View.IsSuperAdmin)
}

// RequirePage admits callers whose role may open path.
func (ra *RBACAuthorization) RequirePage(path string) func(http.Handler) http.Handler {
	return ra.middleware("page:"+path, func(v authz.View) bool {
		return v.CanViewPage(path)
	})
}

// RequireResolved rejects callers without a role in the active organization.
func (ra *RBACAuthorization) RequireResolved() func(http.Handler) http.Handler {
	return ra.middleware("resolved", func(v authz.View) bool {
		return v.State() == authz.Resolved
	})
}
