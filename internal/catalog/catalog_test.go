package catalog_test

import (
	"context"
	"errors"
	"testing"

	"github.com/frahmantamala/crm-authz/internal"
	"github.com/frahmantamala/crm-authz/internal/catalog"
	"github.com/frahmantamala/crm-authz/internal/core/rbac"
	"github.com/frahmantamala/crm-authz/internal/rowstore"
	"github.com/frahmantamala/crm-authz/internal/rowstore/rowstoretest"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/samber/lo"
)

func TestCatalog(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Catalog Suite")
}

var _ = Describe("Catalog", func() {
	var (
		ctx      context.Context
		gw       *rowstoretest.Gateway
		cat      *catalog.Catalog
		orgID    string
		otherOrg string
		superID  string
		perms    map[string]string
	)

	permNames := []string{"leads.view", "leads.edit", "reports.view", "click_to_call"}

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
		perms = map[string]string{}
		for _, name := range permNames {
			perms[name] = rowstoretest.MustInsert(ctx, gw, rbac.TablePermissions, rowstore.Row{
				"name": name, "display_name": name, "category": "general",
			})
		}

		_, err = catalog.SeedOrganizationRoles(ctx, gw, orgID)
		Expect(err).NotTo(HaveOccurred())
		_, err = catalog.SeedOrganizationRoles(ctx, gw, otherOrg)
		Expect(err).NotTo(HaveOccurred())

		cat = catalog.New(gw, orgID, rowstoretest.TestLogger())
		Expect(cat.Refresh(ctx)).To(Succeed())
	})

	roleNamed := func(name string) rbac.RoleWithPermissions {
		r, ok := lo.Find(cat.Roles(), func(r rbac.RoleWithPermissions) bool { return r.Name == name })
		Expect(ok).To(BeTrue(), "role %s not found", name)
		return r
	}

	Describe("Refresh", func() {
		It("lists system roles and the organization's roles only", func() {
			names := lo.Map(cat.Roles(), func(r rbac.RoleWithPermissions, _ int) string { return r.Name })
			Expect(names).To(ConsistOf(rbac.SuperAdminRoleName, "admin", "manager", "agent"))
			for _, r := range cat.Roles() {
				if !r.IsSystemRole {
					Expect(r.OrgID()).To(Equal(orgID))
				}
			}
		})

		It("excludes system roles from organization roles", func() {
			Expect(cat.OrganizationRoles()).To(HaveLen(3))
			_, ok := lo.Find(cat.OrganizationRoles(), func(r rbac.RoleWithPermissions) bool { return r.ID == superID })
			Expect(ok).To(BeFalse())
		})

		It("seeds admin as the only org admin", func() {
			Expect(roleNamed("admin").IsOrgAdmin).To(BeTrue())
			Expect(roleNamed("manager").IsOrgAdmin).To(BeFalse())
			Expect(roleNamed("agent").IsOrgAdmin).To(BeFalse())
		})

		It("uses a constant number of requests however many roles exist", func() {
			gw.ResetCalls()
			Expect(cat.Refresh(ctx)).To(Succeed())
			before := gw.TotalCalls()

			for i := 0; i < 5; i++ {
				_, err := cat.CreateRole(ctx, catalog.RoleInput{Name: "extra" + string(rune('a'+i)), DisplayName: "Extra"})
				Expect(err).NotTo(HaveOccurred())
			}
			gw.ResetCalls()
			Expect(cat.Refresh(ctx)).To(Succeed())
			Expect(gw.TotalCalls()).To(Equal(before))
		})

		It("keeps the previous snapshot when a fetch fails", func() {
			gw.SetShouldFail("select:"+rbac.TableRolePerms, true)
			Expect(cat.Refresh(ctx)).NotTo(Succeed())
			Expect(cat.Roles()).To(HaveLen(4))
		})

		It("groups permissions by category", func() {
			Expect(cat.PermissionsByCategory()["general"]).To(HaveLen(len(permNames)))
		})
	})

	Describe("SetRolePermissions", func() {
		It("replaces the grant set", func() {
			manager := roleNamed("manager")
			Expect(cat.SetRolePermissions(ctx, manager.ID, []string{perms["leads.view"], perms["leads.edit"]})).To(Succeed())
			Expect(cat.SetRolePermissions(ctx, manager.ID, []string{perms["reports.view"]})).To(Succeed())

			got, ok := cat.Role(manager.ID)
			Expect(ok).To(BeTrue())
			Expect(lo.Map(got.Permissions, func(p rbac.Permission, _ int) string { return p.Name })).
				To(ConsistOf("reports.view"))
		})

		It("clears grants without an insert for an empty list", func() {
			agent := roleNamed("agent")
			Expect(cat.SetRolePermissions(ctx, agent.ID, []string{perms["leads.view"]})).To(Succeed())

			gw.ResetCalls()
			Expect(cat.SetRolePermissions(ctx, agent.ID, nil)).To(Succeed())
			Expect(gw.Calls("insert")).To(BeZero())
			Expect(gw.Calls("delete")).To(Equal(1))

			got, _ := cat.Role(agent.ID)
			Expect(got.Permissions).To(BeEmpty())
		})

		It("collapses duplicate ids", func() {
			agent := roleNamed("agent")
			Expect(cat.SetRolePermissions(ctx, agent.ID,
				[]string{perms["leads.view"], perms["leads.view"], ""})).To(Succeed())
			got, _ := cat.Role(agent.ID)
			Expect(got.Permissions).To(HaveLen(1))
		})

		It("keeps the previous grants when the insert fails", func() {
			agent := roleNamed("agent")
			Expect(cat.SetRolePermissions(ctx, agent.ID, []string{perms["leads.view"]})).To(Succeed())

			gw.SetShouldFail("insert:"+rbac.TableRolePerms, true)
			err := cat.SetRolePermissions(ctx, agent.ID, []string{perms["reports.view"]})
			appErr, ok := internal.IsAppError(err)
			Expect(ok).To(BeTrue())
			Expect(appErr.Code).To(Equal(internal.ErrCodeRemoteWriteFailed))

			gw.SetShouldFail("insert:"+rbac.TableRolePerms, false)
			Expect(cat.Refresh(ctx)).To(Succeed())
			got, _ := cat.Role(agent.ID)
			Expect(lo.Map(got.Permissions, func(p rbac.Permission, _ int) string { return p.Name })).
				To(ConsistOf("leads.view"))
		})

		It("refuses to edit system roles", func() {
			err := cat.SetRolePermissions(ctx, superID, []string{perms["leads.view"]})
			Expect(errors.Is(err, internal.ErrSystemRoleImmutable)).To(BeTrue())
		})
	})

	Describe("CreateRole", func() {
		It("creates an organization scoped role and refreshes", func() {
			role, err := cat.CreateRole(ctx, catalog.RoleInput{Name: "team_lead", DisplayName: "Team Lead"})
			Expect(err).NotTo(HaveOccurred())
			Expect(role.OrgID()).To(Equal(orgID))
			Expect(role.IsSystemRole).To(BeFalse())

			_, ok := cat.Role(role.ID)
			Expect(ok).To(BeTrue())
		})

		It("cannot create a bypass role", func() {
			_, err := cat.CreateRole(ctx, catalog.RoleInput{Name: rbac.SuperAdminRoleName, DisplayName: "Sneaky"})
			appErr, ok := internal.IsAppError(err)
			Expect(ok).To(BeTrue())
			Expect(appErr.Code).To(Equal(internal.ErrCodeValidationFailed))
		})

		It("rejects duplicate names within the organization", func() {
			_, err := cat.CreateRole(ctx, catalog.RoleInput{Name: "agent", DisplayName: "Agent again"})
			appErr, ok := internal.IsAppError(err)
			Expect(ok).To(BeTrue())
			Expect(appErr.Code).To(Equal(internal.ErrCodeRoleNameTaken))
		})

		It("requires an active organization", func() {
			orphan := catalog.New(gw, "", rowstoretest.TestLogger())
			_, err := orphan.CreateRole(ctx, catalog.RoleInput{Name: "x", DisplayName: "X"})
			Expect(errors.Is(err, internal.ErrNoActiveOrganization)).To(BeTrue())
		})
	})

	Describe("UpdateRole", func() {
		It("patches only the given fields", func() {
			manager := roleNamed("manager")
			Expect(cat.UpdateRole(ctx, manager.ID, catalog.RolePatch{IsOrgAdmin: lo.ToPtr(true)})).To(Succeed())

			got, _ := cat.Role(manager.ID)
			Expect(got.IsOrgAdmin).To(BeTrue())
			Expect(got.DisplayName).To(Equal("Manager"))
		})

		It("does not touch roles of another organization", func() {
			other := catalog.New(gw, otherOrg, rowstoretest.TestLogger())
			Expect(other.Refresh(ctx)).To(Succeed())
			foreign, ok := lo.Find(other.Roles(), func(r rbac.RoleWithPermissions) bool { return r.Name == "agent" })
			Expect(ok).To(BeTrue())

			err := cat.UpdateRole(ctx, foreign.ID, catalog.RolePatch{DisplayName: lo.ToPtr("Hijacked")})
			Expect(errors.Is(err, internal.ErrRoleNotFound)).To(BeTrue())
		})
	})

	Describe("DeleteRole", func() {
		It("removes the role and its grants", func() {
			agent := roleNamed("agent")
			Expect(cat.SetRolePermissions(ctx, agent.ID, []string{perms["leads.view"]})).To(Succeed())
			Expect(cat.DeleteRole(ctx, agent.ID)).To(Succeed())

			_, ok := cat.Role(agent.ID)
			Expect(ok).To(BeFalse())
			edges, err := gw.Select(ctx, rbac.TableRolePerms, rowstore.Filter{"role_id": agent.ID})
			Expect(err).NotTo(HaveOccurred())
			Expect(edges).To(BeEmpty())
		})

		It("refuses to delete the bypass role", func() {
			Expect(errors.Is(cat.DeleteRole(ctx, superID), internal.ErrSystemRoleImmutable)).To(BeTrue())
		})

		It("reports unknown roles", func() {
			Expect(errors.Is(cat.DeleteRole(ctx, "missing"), internal.ErrRoleNotFound)).To(BeTrue())
		})
	})
})

var _ = Describe("seeding", func() {
	var (
		ctx context.Context
		gw  *rowstoretest.Gateway
	)

	BeforeEach(func() {
		ctx = context.Background()
		_, inner, err := rowstoretest.NewSQLite()
		Expect(err).NotTo(HaveOccurred())
		gw = rowstoretest.Wrap(inner)
	})

	It("installs missing permissions once", func() {
		n, err := catalog.SeedPermissions(ctx, gw, catalog.DefaultPermissions)
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(len(catalog.DefaultPermissions)))

		n, err = catalog.SeedPermissions(ctx, gw, catalog.DefaultPermissions)
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(BeZero())

		rows, err := gw.Select(ctx, rbac.TablePermissions, rowstore.Filter{"name": "settings.phone_visibility"})
		Expect(err).NotTo(HaveOccurred())
		Expect(rows).To(HaveLen(1))
	})

	It("creates the super admin role once", func() {
		first, err := catalog.EnsureSuperAdminRole(ctx, gw)
		Expect(err).NotTo(HaveOccurred())
		Expect(first.IsSuperAdmin()).To(BeTrue())

		second, err := catalog.EnsureSuperAdminRole(ctx, gw)
		Expect(err).NotTo(HaveOccurred())
		Expect(second.ID).To(Equal(first.ID))
	})
})
