package authz_test

import (
	"context"
	"testing"

	"github.com/frahmantamala/crm-authz/internal/authz"
	"github.com/frahmantamala/crm-authz/internal/core/rbac"
	"github.com/frahmantamala/crm-authz/internal/masking"
	"github.com/frahmantamala/crm-authz/internal/rowstore"
	"github.com/frahmantamala/crm-authz/internal/rowstore/rowstoretest"
	"github.com/frahmantamala/crm-authz/internal/visibility"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestAuthz(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Authz Suite")
}

var _ = Describe("Context", func() {
	var (
		ctx       context.Context
		gw        *rowstoretest.Gateway
		rules     *visibility.Store
		orgID     string
		otherOrg  string
		superID   string
		managerID string
		adminID   string
		perms     map[string]string
	)

	grant := func(roleID string, names ...string) {
		for _, n := range names {
			rowstoretest.MustInsert(ctx, gw, rbac.TableRolePerms, rowstore.Row{"role_id": roleID, "permission_id": perms[n]})
		}
	}

	assign := func(userID, org, roleID string) {
		rowstoretest.MustInsert(ctx, gw, rbac.TableAssignments, rowstore.Row{
			"user_id": userID, "organization_id": org, "role_id": roleID,
		})
	}

	resolved := func(userID string) *authz.Context {
		c := authz.NewContext(gw, rules, userID, orgID, rowstoretest.TestLogger())
		Expect(c.Resolve(ctx)).To(Succeed())
		return c
	}

	BeforeEach(func() {
		ctx = context.Background()
		_, inner, err := rowstoretest.NewSQLite()
		Expect(err).NotTo(HaveOccurred())
		gw = rowstoretest.Wrap(inner)

		orgID = rowstoretest.MustInsert(ctx, gw, rbac.TableOrganizations, rowstore.Row{"name": "Acme", "slug": "acme"})
		otherOrg = rowstoretest.MustInsert(ctx, gw, rbac.TableOrganizations, rowstore.Row{"name": "Globex", "slug": "globex"})
		superID = rowstoretest.MustInsert(ctx, gw, rbac.TableRoles, rowstore.Row{
			"name": rbac.SuperAdminRoleName, "display_name": "Super Admin", "is_system_role": true,
		})
		managerID = rowstoretest.MustInsert(ctx, gw, rbac.TableRoles, rowstore.Row{
			"organization_id": orgID, "name": "manager", "display_name": "Manager",
		})
		adminID = rowstoretest.MustInsert(ctx, gw, rbac.TableRoles, rowstore.Row{
			"organization_id": orgID, "name": "admin", "display_name": "Admin", "is_org_admin": true,
		})

		perms = map[string]string{}
		for _, n := range []string{"leads.view", "leads.edit", "leads.delete", "settings.phone_visibility"} {
			perms[n] = rowstoretest.MustInsert(ctx, gw, rbac.TablePermissions, rowstore.Row{
				"name": n, "display_name": n, "category": "leads",
			})
		}

		rules = visibility.NewStore(gw, orgID, rowstoretest.TestLogger())
		Expect(rules.Refresh(ctx)).To(Succeed())
	})

	Describe("a manager holding only leads.view", func() {
		var c *authz.Context

		BeforeEach(func() {
			grant(managerID, "leads.view")
			assign("user-manager", orgID, managerID)
			c = resolved("user-manager")
		})

		It("answers from the granted set", func() {
			Expect(c.State()).To(Equal(authz.Resolved))
			Expect(c.HasPermission("leads.view")).To(BeTrue())
			Expect(c.HasPermission("leads.delete")).To(BeFalse())
			Expect(c.IsOrgAdmin()).To(BeFalse())
			Expect(c.IsSuperAdmin()).To(BeFalse())
			Expect(c.PermissionNames()).To(Equal([]string{"leads.view"}))
		})

		It("sees pages without rules and masked phones by default", func() {
			Expect(c.CanViewPage("/reports")).To(BeTrue())
			Expect(c.VisibilityMode()).To(Equal(masking.Masked))
			Expect(c.FormatPhoneNumber("+15551234567")).To(Equal("+15•••••••67"))
			Expect(c.CanSeeFullNumber()).To(BeFalse())
		})

		It("follows the visibility rules of its role", func() {
			Expect(rules.SetPageVisibility(ctx, managerID, "/leads", false)).To(Succeed())
			Expect(rules.SetPhoneVisibility(ctx, managerID, masking.Hidden)).To(Succeed())

			Expect(c.CanViewPage("/leads")).To(BeFalse())
			Expect(c.FormatPhoneNumber("+15551234567")).To(Equal("••••••••••"))
		})

		It("needs a constant number of requests regardless of catalog size", func() {
			for i := 0; i < 20; i++ {
				rowstoretest.MustInsert(ctx, gw, rbac.TableRoles, rowstore.Row{
					"organization_id": orgID, "name": "filler" + string(rune('a'+i)), "display_name": "Filler",
				})
			}
			gw.ResetCalls()
			Expect(c.Resolve(ctx)).To(Succeed())
			Expect(gw.Calls("select")).To(Equal(4))
		})
	})

	Describe("the super admin", func() {
		var c *authz.Context

		BeforeEach(func() {
			assign("user-root", orgID, superID)
			// rule rows naming the bypass role must not restrict it
			rowstoretest.MustInsert(ctx, gw, rbac.TablePageRules, rowstore.Row{
				"organization_id": orgID, "role_id": superID, "page_path": "/leads", "is_visible": false,
			})
			rowstoretest.MustInsert(ctx, gw, rbac.TablePhoneSettings, rowstore.Row{
				"organization_id": orgID, "role_id": superID, "visibility_mode": "hidden",
			})
			Expect(rules.Refresh(ctx)).To(Succeed())
			c = resolved("user-root")
		})

		It("bypasses every check", func() {
			Expect(c.IsSuperAdmin()).To(BeTrue())
			Expect(c.IsOrgAdmin()).To(BeTrue())
			Expect(c.HasPermission("anything.at.all")).To(BeTrue())
			Expect(c.CanViewPage("/leads")).To(BeTrue())
			Expect(c.VisibilityMode()).To(Equal(masking.Full))
			Expect(c.FormatPhoneNumber("+15551234567")).To(Equal("+15551234567"))
		})

		It("keeps its standing in organizations where it holds no assignment", func() {
			elsewhere := authz.NewContext(gw, rules, "user-root", otherOrg, rowstoretest.TestLogger())
			Expect(elsewhere.Resolve(ctx)).To(Succeed())
			Expect(elsewhere.State()).To(Equal(authz.Resolved))
			Expect(elsewhere.IsSuperAdmin()).To(BeTrue())
			Expect(elsewhere.IsOrgAdmin()).To(BeTrue())
		})
	})

	It("never treats an organization role named super_admin as the bypass role", func() {
		fake := rowstoretest.MustInsert(ctx, gw, rbac.TableRoles, rowstore.Row{
			"organization_id": orgID, "name": rbac.SuperAdminRoleName, "display_name": "Fake",
		})
		assign("user-fake", orgID, fake)
		c := resolved("user-fake")

		Expect(c.State()).To(Equal(authz.Resolved))
		Expect(c.IsSuperAdmin()).To(BeFalse())
		Expect(c.HasPermission("leads.view")).To(BeFalse())
	})

	It("grants org admin standing from the role flag", func() {
		assign("user-admin", orgID, adminID)
		c := resolved("user-admin")
		Expect(c.IsOrgAdmin()).To(BeTrue())
		Expect(c.IsSuperAdmin()).To(BeFalse())
		Expect(c.HasPermission("leads.view")).To(BeFalse())
	})

	Describe("without an assignment", func() {
		It("lands in NoRole with restrictive answers", func() {
			c := resolved("user-nobody")
			Expect(c.State()).To(Equal(authz.NoRole))
			Expect(c.Role()).To(BeNil())
			Expect(c.HasPermission("leads.view")).To(BeFalse())
			Expect(c.IsSuperAdmin()).To(BeFalse())
			Expect(c.CanViewPage("/leads")).To(BeTrue())
			Expect(c.VisibilityMode()).To(Equal(masking.Masked))
		})

		It("does not carry org admin standing across organizations", func() {
			assign("user-admin", orgID, adminID)
			elsewhere := authz.NewContext(gw, rules, "user-admin", otherOrg, rowstoretest.TestLogger())
			Expect(elsewhere.Resolve(ctx)).To(Succeed())
			Expect(elsewhere.State()).To(Equal(authz.NoRole))
			Expect(elsewhere.IsOrgAdmin()).To(BeFalse())
		})

		It("ignores assignments in other organizations", func() {
			assign("user-elsewhere", otherOrg, managerID)
			c := resolved("user-elsewhere")
			Expect(c.State()).To(Equal(authz.NoRole))
		})
	})

	Describe("state transitions", func() {
		It("starts unresolved", func() {
			c := authz.NewContext(gw, rules, "user-manager", orgID, rowstoretest.TestLogger())
			Expect(c.State()).To(Equal(authz.Unresolved))
			Expect(c.HasPermission("leads.view")).To(BeFalse())
		})

		It("drops the role on tenant switch and re-resolves for the new tenant", func() {
			grant(managerID, "leads.view")
			assign("user-manager", orgID, managerID)
			c := resolved("user-manager")
			Expect(c.HasPermission("leads.view")).To(BeTrue())

			c.SwitchTenant(otherOrg)
			Expect(c.State()).To(Equal(authz.Unresolved))
			Expect(c.HasPermission("leads.view")).To(BeFalse())

			Expect(c.Resolve(ctx)).To(Succeed())
			Expect(c.State()).To(Equal(authz.NoRole))
		})

		It("drops the role on reset", func() {
			assign("user-manager", orgID, managerID)
			c := resolved("user-manager")
			c.Reset()
			Expect(c.State()).To(Equal(authz.Unresolved))
			Expect(c.Role()).To(BeNil())
		})

		It("keeps the last resolution when the store fails", func() {
			grant(managerID, "leads.view")
			assign("user-manager", orgID, managerID)
			c := resolved("user-manager")

			gw.SetShouldFail("select", true)
			Expect(c.Resolve(ctx)).NotTo(Succeed())
			Expect(c.State()).To(Equal(authz.Resolved))
			Expect(c.HasPermission("leads.view")).To(BeTrue())
		})
	})
})
