package access

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/frahmantamala/crm-authz/internal"
	"github.com/frahmantamala/crm-authz/internal/catalog"
	"github.com/frahmantamala/crm-authz/internal/core/common/validation"
	"github.com/frahmantamala/crm-authz/internal/core/rbac"
	"github.com/frahmantamala/crm-authz/internal/masking"
	"github.com/frahmantamala/crm-authz/internal/transport"
	"github.com/frahmantamala/crm-authz/pkg/logger"
	"github.com/go-chi/chi"
	"github.com/samber/lo"
)

type ServiceAPI interface {
	CreateRole(ctx context.Context, sess *Session, in catalog.RoleInput) (rbac.Role, error)
	UpdateRole(ctx context.Context, sess *Session, roleID string, patch catalog.RolePatch) error
	DeleteRole(ctx context.Context, sess *Session, roleID string) error
	SetRolePermissions(ctx context.Context, sess *Session, roleID string, permissionIDs []string) error
	SetPageVisibility(ctx context.Context, sess *Session, roleID, path string, visible bool) error
	SetPhoneVisibility(ctx context.Context, sess *Session, roleID string, mode masking.Mode) error
	AssignRoleToUser(ctx context.Context, sess *Session, userID, roleID string) error
	CreateOrganization(ctx context.Context, actorID string, in OrganizationInput) (rbac.Organization, []rbac.Role, error)
	AuditTrail(ctx context.Context, sess *Session, limit int) ([]rbac.AuditLog, error)
	Refresh(ctx context.Context, sess *Session) error
}

type Handler struct {
	*transport.BaseHandler
	Service ServiceAPI
}

func NewHandler(service ServiceAPI) *Handler {
	lg := logger.LoggerWrapper()
	if lg == nil {
		lg = slog.Default()
	}
	return &Handler{
		BaseHandler: transport.NewBaseHandler(lg),
		Service:     service,
	}
}

func (h *Handler) session(w http.ResponseWriter, r *http.Request) (*Session, bool) {
	sess, ok := SessionFromContext(r.Context())
	if !ok {
		h.Logger.Error("session not found in context", "path", r.URL.Path)
		h.HandleServiceError(w, internal.ErrUnauthorizedAccess)
		return nil, false
	}
	return sess, true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := h.DecodeJSON(r, dst); err != nil {
		h.Logger.Warn("invalid request body", "path", r.URL.Path, "error", err)
		h.WriteError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	if appErr := validation.Struct(dst); appErr != nil {
		h.HandleServiceError(w, appErr)
		return false
	}
	return true
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	h.WriteJSON(w, http.StatusOK, NewMeResponse(sess.View()))
}

func (h *Handler) Check(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}

	permission := r.URL.Query().Get("permission")
	v := validation.NewValidator()
	v.Field("permission", permission).Required().MaxLength(128)
	if appErr := v.Validate(); appErr != nil {
		h.HandleServiceError(w, appErr)
		return
	}

	h.WriteJSON(w, http.StatusOK, CheckResponse{
		Permission: permission,
		Allowed:    sess.View().HasPermission(permission),
	})
}

func (h *Handler) Pages(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	view := sess.View()
	pages := lo.Map(NavigationPages, func(p Page, _ int) PageAccess {
		return PageAccess{Page: p, Visible: view.CanViewPage(p.Path)}
	})
	h.WriteJSON(w, http.StatusOK, map[string]interface{}{"pages": pages})
}

func (h *Handler) Permissions(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	cat, err := sess.Catalog(r.Context())
	if err != nil && !cat.Loaded() {
		h.HandleServiceError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, PermissionsResponse{
		Permissions: cat.Permissions(),
		ByCategory:  cat.PermissionsByCategory(),
	})
}

func (h *Handler) Roles(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	cat, err := sess.Catalog(r.Context())
	if err != nil && !cat.Loaded() {
		h.HandleServiceError(w, err)
		return
	}
	roles := cat.Roles()
	if !sess.View().IsSuperAdmin() {
		roles = cat.OrganizationRoles()
	}
	h.WriteJSON(w, http.StatusOK, map[string]interface{}{"roles": roles})
}

func (h *Handler) VisibilityRules(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	rules := sess.Rules()
	h.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"page_visibility":  rules.PageRules(),
		"phone_visibility": rules.PhoneSettings(),
	})
}

func (h *Handler) FormatPhones(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	var req PhoneFormatRequest
	if !h.decode(w, r, &req) {
		return
	}
	view := sess.View()
	h.WriteJSON(w, http.StatusOK, PhoneFormatResponse{
		Mode:   view.VisibilityMode(),
		Phones: lo.Map(req.Phones, func(p string, _ int) string { return view.FormatPhoneNumber(p) }),
	})
}

func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	if err := h.Service.Refresh(r.Context(), sess); err != nil {
		// the session keeps its last good state
		h.Logger.Warn("refresh incomplete", "user_id", sess.UserID(), "error", err)
	}
	h.WriteJSON(w, http.StatusOK, NewMeResponse(sess.View()))
}

func (h *Handler) CreateRole(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	var in catalog.RoleInput
	if !h.decode(w, r, &in) {
		return
	}

	role, err := h.Service.CreateRole(r.Context(), sess, in)
	if err != nil {
		h.Logger.Error("CreateRole: service error", "error", err, "user_id", sess.UserID())
		h.HandleServiceError(w, err)
		return
	}

	h.Logger.Info("CreateRole: role created", "role_id", role.ID, "name", role.Name, "user_id", sess.UserID())
	h.WriteJSON(w, http.StatusCreated, role)
}

func (h *Handler) UpdateRole(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	var patch catalog.RolePatch
	if !h.decode(w, r, &patch) {
		return
	}

	roleID := chi.URLParam(r, "id")
	if err := h.Service.UpdateRole(r.Context(), sess, roleID, patch); err != nil {
		h.Logger.Error("UpdateRole: service error", "error", err, "role_id", roleID)
		h.HandleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) DeleteRole(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	roleID := chi.URLParam(r, "id")
	if err := h.Service.DeleteRole(r.Context(), sess, roleID); err != nil {
		h.Logger.Error("DeleteRole: service error", "error", err, "role_id", roleID)
		h.HandleServiceError(w, err)
		return
	}
	h.Logger.Info("DeleteRole: role deleted", "role_id", roleID, "user_id", sess.UserID())
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) SetRolePermissions(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	var req SetPermissionsRequest
	if !h.decode(w, r, &req) {
		return
	}

	roleID := chi.URLParam(r, "id")
	if err := h.Service.SetRolePermissions(r.Context(), sess, roleID, req.PermissionIDs); err != nil {
		h.Logger.Error("SetRolePermissions: service error", "error", err, "role_id", roleID)
		h.HandleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) SetPageVisibility(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	var req SetPageVisibilityRequest
	if !h.decode(w, r, &req) {
		return
	}

	roleID := chi.URLParam(r, "id")
	if err := h.Service.SetPageVisibility(r.Context(), sess, roleID, req.PagePath, *req.IsVisible); err != nil {
		h.Logger.Error("SetPageVisibility: service error", "error", err, "role_id", roleID, "page_path", req.PagePath)
		h.HandleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) SetPhoneVisibility(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	var req SetPhoneVisibilityRequest
	if !h.decode(w, r, &req) {
		return
	}
	mode, err := masking.ParseMode(req.Mode)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}

	roleID := chi.URLParam(r, "id")
	if err := h.Service.SetPhoneVisibility(r.Context(), sess, roleID, mode); err != nil {
		h.Logger.Error("SetPhoneVisibility: service error", "error", err, "role_id", roleID)
		h.HandleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) AssignRole(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	var req AssignRoleRequest
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.Service.AssignRoleToUser(r.Context(), sess, req.UserID, req.RoleID); err != nil {
		h.Logger.Error("AssignRole: service error", "error", err, "assignee_id", req.UserID, "role_id", req.RoleID)
		h.HandleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) CreateOrganization(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	var in OrganizationInput
	if !h.decode(w, r, &in) {
		return
	}

	org, roles, err := h.Service.CreateOrganization(r.Context(), sess.UserID(), in)
	if err != nil {
		h.Logger.Error("CreateOrganization: service error", "error", err, "slug", in.Slug)
		h.HandleServiceError(w, err)
		return
	}

	h.Logger.Info("CreateOrganization: organization created", "organization_id", org.ID, "slug", org.Slug)
	h.WriteJSON(w, http.StatusCreated, OrganizationResponse{Organization: org, Roles: roles})
}

func (h *Handler) AuditTrail(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}

	limit := 50
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 200 {
			limit = l
		}
	}

	logs, err := h.Service.AuditTrail(r.Context(), sess, limit)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, map[string]interface{}{"entries": logs, "limit": limit})
}
