package cmd

import (
	"context"
	"fmt"

	"github.com/frahmantamala/crm-authz/internal/access"
	"github.com/frahmantamala/crm-authz/internal/audit"
	"github.com/frahmantamala/crm-authz/internal/catalog"
	"github.com/frahmantamala/crm-authz/internal/core/events"
	"github.com/frahmantamala/crm-authz/internal/core/rbac"
	"github.com/frahmantamala/crm-authz/internal/rowstore"
	"github.com/frahmantamala/crm-authz/pkg/logger"
	"github.com/spf13/cobra"
)

var (
	seedOrgName    string
	seedOrgSlug    string
	seedSuperAdmin string
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the permission catalog and the super admin role",
	Long: `Install the permission catalog and the platform super admin role. With --org-slug
it also creates that organization with its default roles, and with --super-admin it
assigns the super admin role to that user in the organization.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		cfg, err := loadConfig(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		lg := logger.LoggerWrapper()

		st, err := openStore(cfg.Database, lg)
		if err != nil {
			return fmt.Errorf("failed to init db: %w", err)
		}
		defer st.Close()

		bus := events.NewEventBus(lg)
		audit.NewRecorder(st.Gateway, lg).RegisterEventHandlers(bus)
		defer bus.Wait()
		svc := access.NewService(st.Gateway, bus, nil, lg, access.SessionOptions{})

		return runSeed(ctx, cmd, st.Gateway, svc)
	},
}

func runSeed(ctx context.Context, cmd *cobra.Command, gw rowstore.Gateway, svc *access.Service) error {
	out := cmd.OutOrStdout()

	created, err := catalog.SeedPermissions(ctx, gw, catalog.DefaultPermissions)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "permissions: %d created, %d total\n", created, len(catalog.DefaultPermissions))

	superAdmin, err := catalog.EnsureSuperAdminRole(ctx, gw)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "super admin role: %s\n", superAdmin.ID)

	if seedOrgSlug == "" {
		if seedSuperAdmin != "" {
			return fmt.Errorf("--super-admin needs --org-slug")
		}
		return nil
	}

	org, err := ensureOrganization(ctx, gw, svc)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "organization %s: %s\n", org.Slug, org.ID)

	if seedSuperAdmin != "" {
		if err := svc.AssignRoleInOrganization(ctx, "seed", org.ID, seedSuperAdmin, superAdmin.ID); err != nil {
			return err
		}
		fmt.Fprintf(out, "assigned %s to %s\n", rbac.SuperAdminRoleName, seedSuperAdmin)
	}
	return nil
}

func ensureOrganization(ctx context.Context, gw rowstore.Gateway, svc *access.Service) (rbac.Organization, error) {
	rows, err := gw.Select(ctx, rbac.TableOrganizations, rowstore.Filter{"slug": seedOrgSlug}, rowstore.Limit(1))
	if err != nil {
		return rbac.Organization{}, err
	}
	if len(rows) > 0 {
		var org rbac.Organization
		return org, rowstore.Decode(rows[0], &org)
	}

	name := seedOrgName
	if name == "" {
		name = seedOrgSlug
	}
	org, _, err := svc.CreateOrganization(ctx, "seed", access.OrganizationInput{Name: name, Slug: seedOrgSlug})
	return org, err
}

func init() {
	seedCmd.Flags().StringVar(&seedOrgName, "org-name", "", "display name of the organization to create")
	seedCmd.Flags().StringVar(&seedOrgSlug, "org-slug", "", "slug of the organization to create or reuse")
	seedCmd.Flags().StringVar(&seedSuperAdmin, "super-admin", "", "user id to make super admin in the organization")
}
