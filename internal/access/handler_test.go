package access_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"

	"github.com/frahmantamala/crm-authz/internal/access"
	"github.com/frahmantamala/crm-authz/internal/core/rbac"
	"github.com/go-chi/chi"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Handler", func() {
	var (
		f      *fixture
		router *chi.Mux
		caller string
	)

	BeforeEach(func() {
		f = newFixture()
		f.assign("user-admin", f.roles["admin"])
		f.assign("user-agent", f.roles["agent"])
		caller = "user-admin"

		h := access.NewHandler(f.svc)
		router = chi.NewRouter()
		router.Use(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				sess, err := f.svc.Session(r.Context(), caller, f.orgID)
				Expect(err).NotTo(HaveOccurred())
				next.ServeHTTP(w, r.WithContext(access.ContextWithSession(r.Context(), sess)))
			})
		})
		router.Get("/me", h.Me)
		router.Get("/check", h.Check)
		router.Get("/pages", h.Pages)
		router.Get("/roles", h.Roles)
		router.Get("/audit", h.AuditTrail)
		router.Post("/phone/format", h.FormatPhones)
		router.Post("/roles", h.CreateRole)
		router.Put("/roles/{id}/pages", h.SetPageVisibility)
		router.Put("/roles/{id}/phone", h.SetPhoneVisibility)
		router.Put("/assignments", h.AssignRole)
	})

	do := func(method, path string, body interface{}) *httptest.ResponseRecorder {
		var buf bytes.Buffer
		if body != nil {
			Expect(json.NewEncoder(&buf).Encode(body)).To(Succeed())
		}
		req := httptest.NewRequest(method, path, &buf)
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	It("describes the caller", func() {
		rec := do(http.MethodGet, "/me", nil)
		Expect(rec.Code).To(Equal(http.StatusOK))

		var me access.MeResponse
		Expect(json.Unmarshal(rec.Body.Bytes(), &me)).To(Succeed())
		Expect(me.State).To(Equal("resolved"))
		Expect(me.IsOrgAdmin).To(BeTrue())
		Expect(me.IsSuperAdmin).To(BeFalse())
		Expect(me.Role.Name).To(Equal("admin"))
	})

	It("answers permission checks", func() {
		rec := do(http.MethodGet, "/check?permission=leads.view", nil)
		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Body.String()).To(ContainSubstring(`"allowed":false`))

		rec = do(http.MethodGet, "/check", nil)
		Expect(rec.Code).To(Equal(http.StatusBadRequest))
	})

	It("lists navigation with the caller's visibility", func() {
		Expect(f.svc.SetPageVisibility(f.ctx, f.session("user-admin"), f.roles["agent"], "/reports", false)).To(Succeed())
		caller = "user-agent"

		rec := do(http.MethodGet, "/pages", nil)
		Expect(rec.Code).To(Equal(http.StatusOK))

		var body struct {
			Pages []access.PageAccess `json:"pages"`
		}
		Expect(json.Unmarshal(rec.Body.Bytes(), &body)).To(Succeed())
		Expect(body.Pages).To(HaveLen(len(access.NavigationPages)))
		for _, p := range body.Pages {
			Expect(p.Visible).To(Equal(p.Path != "/reports"), p.Path)
		}
	})

	It("formats phones with the caller's mode", func() {
		rec := do(http.MethodPost, "/phone/format", access.PhoneFormatRequest{Phones: []string{"+15551234567", "12345"}})
		Expect(rec.Code).To(Equal(http.StatusOK))

		var resp access.PhoneFormatResponse
		Expect(json.Unmarshal(rec.Body.Bytes(), &resp)).To(Succeed())
		Expect(string(resp.Mode)).To(Equal("masked"))
		Expect(resp.Phones).To(Equal([]string{"+15•••••••67", "•••••"}))
	})

	It("rejects an empty phone list", func() {
		rec := do(http.MethodPost, "/phone/format", map[string]interface{}{"phones": []string{}})
		Expect(rec.Code).To(Equal(http.StatusBadRequest))
		Expect(rec.Body.String()).To(ContainSubstring("phones"))
	})

	It("creates a role", func() {
		rec := do(http.MethodPost, "/roles", map[string]interface{}{"name": "team_lead", "display_name": "Team Lead"})
		Expect(rec.Code).To(Equal(http.StatusCreated))

		var role rbac.Role
		Expect(json.Unmarshal(rec.Body.Bytes(), &role)).To(Succeed())
		Expect(role.Name).To(Equal("team_lead"))
		Expect(role.IsSystemRole).To(BeFalse())

		rec = do(http.MethodGet, "/roles", nil)
		Expect(rec.Body.String()).To(ContainSubstring("team_lead"))
		Expect(rec.Body.String()).NotTo(ContainSubstring(rbac.SuperAdminRoleName))
	})

	It("maps a duplicate role name to a conflict", func() {
		rec := do(http.MethodPost, "/roles", map[string]interface{}{"name": "agent", "display_name": "Agent"})
		Expect(rec.Code).To(Equal(http.StatusConflict))
		Expect(rec.Body.String()).To(ContainSubstring("ROLE_NAME_TAKEN"))
	})

	It("rejects unknown fields and bad modes", func() {
		rec := do(http.MethodPost, "/roles", map[string]interface{}{"name": "x", "display_name": "X", "color": "red"})
		Expect(rec.Code).To(Equal(http.StatusBadRequest))

		rec = do(http.MethodPut, "/roles/"+f.roles["agent"]+"/phone", map[string]string{"visibility_mode": "partial"})
		Expect(rec.Code).To(Equal(http.StatusBadRequest))
	})

	It("sets page rules and phone modes", func() {
		rec := do(http.MethodPut, "/roles/"+f.roles["agent"]+"/pages", map[string]interface{}{"page_path": "/leads", "is_visible": false})
		Expect(rec.Code).To(Equal(http.StatusNoContent))

		rec = do(http.MethodPut, "/roles/"+f.roles["agent"]+"/phone", map[string]string{"visibility_mode": "hidden"})
		Expect(rec.Code).To(Equal(http.StatusNoContent))

		agent := f.session("user-agent").View()
		Expect(agent.CanViewPage("/leads")).To(BeFalse())
		Expect(agent.FormatPhoneNumber("+15551234567")).To(Equal("••••••••••"))
	})

	It("requires is_visible on page rules", func() {
		rec := do(http.MethodPut, "/roles/"+f.roles["agent"]+"/pages", map[string]interface{}{"page_path": "/leads"})
		Expect(rec.Code).To(Equal(http.StatusBadRequest))
		Expect(rec.Body.String()).To(ContainSubstring("is_visible"))
	})

	It("assigns roles", func() {
		rec := do(http.MethodPut, "/assignments", access.AssignRoleRequest{UserID: "user-agent", RoleID: f.roles["manager"]})
		Expect(rec.Code).To(Equal(http.StatusNoContent))
		Expect(f.session("user-agent").View().Role().Name).To(Equal("manager"))

		rec = do(http.MethodPut, "/assignments", access.AssignRoleRequest{UserID: "user-agent", RoleID: "missing"})
		Expect(rec.Code).To(Equal(http.StatusNotFound))
	})

	It("forbids org admins from assigning the super admin role", func() {
		rec := do(http.MethodPut, "/assignments", access.AssignRoleRequest{UserID: "user-admin", RoleID: f.superID})
		Expect(rec.Code).To(Equal(http.StatusForbidden))
		Expect(rec.Body.String()).To(ContainSubstring(`"code":"PERMISSION_DENIED"`))

		rec = do(http.MethodGet, "/me", nil)
		Expect(rec.Body.String()).To(ContainSubstring(`"is_super_admin":false`))
	})

	It("refuses visibility changes on roles of another organization", func() {
		_, roles, err := f.svc.CreateOrganization(f.ctx, "root", access.OrganizationInput{Name: "Globex", Slug: "globex"})
		Expect(err).NotTo(HaveOccurred())

		rec := do(http.MethodPut, "/roles/"+roles[0].ID+"/pages", map[string]interface{}{"page_path": "/leads", "is_visible": false})
		Expect(rec.Code).To(Equal(http.StatusNotFound))
		rec = do(http.MethodPut, "/roles/"+roles[0].ID+"/phone", map[string]string{"visibility_mode": "full"})
		Expect(rec.Code).To(Equal(http.StatusNotFound))
	})

	It("returns the audit trail", func() {
		Expect(do(http.MethodPut, "/roles/"+f.roles["agent"]+"/phone", map[string]string{"visibility_mode": "full"}).Code).
			To(Equal(http.StatusNoContent))
		f.bus.Wait()

		rec := do(http.MethodGet, "/audit?limit=5", nil)
		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Body.String()).To(ContainSubstring("authz.phone_visibility_set"))
	})
})
