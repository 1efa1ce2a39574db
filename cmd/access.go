package cmd

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/frahmantamala/crm-authz/internal/access"
	"github.com/frahmantamala/crm-authz/internal/masking"
	"github.com/frahmantamala/crm-authz/pkg/logger"
	"github.com/spf13/cobra"
)

var (
	maskMode        string
	checkUserID     string
	checkOrgID      string
	checkPermission string
	checkPage       string
)

var accessCmd = &cobra.Command{
	Use:   "access",
	Short: "Inspect access decisions",
}

var maskCmd = &cobra.Command{
	Use:   "mask [phones...]",
	Short: "Render phone numbers under a visibility mode",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mode, err := masking.ParseMode(maskMode)
		if err != nil {
			return err
		}
		for _, phone := range args {
			fmt.Fprintln(cmd.OutOrStdout(), masking.Mask(phone, mode))
		}
		return nil
	},
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Resolve a user in an organization and print what they may do",
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

		svc := access.NewService(st.Gateway, nil, nil, lg, access.SessionOptions{})
		sess, err := svc.Session(ctx, checkUserID, checkOrgID)
		if err != nil {
			return err
		}
		view := sess.View()
		out := cmd.OutOrStdout()

		switch {
		case checkPermission != "":
			fmt.Fprintf(out, "%s: %t\n", checkPermission, view.HasPermission(checkPermission))
		case checkPage != "":
			fmt.Fprintf(out, "%s: %t\n", checkPage, view.CanViewPage(checkPage))
		default:
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(access.NewMeResponse(view))
		}
		return nil
	},
}

func init() {
	maskCmd.Flags().StringVar(&maskMode, "mode", string(masking.Masked), "full, masked or hidden")

	checkCmd.Flags().StringVar(&checkUserID, "user", "", "user id")
	checkCmd.Flags().StringVar(&checkOrgID, "org", "", "organization id")
	checkCmd.Flags().StringVar(&checkPermission, "permission", "", "permission name to test")
	checkCmd.Flags().StringVar(&checkPage, "page", "", "page path to test")
	_ = checkCmd.MarkFlagRequired("user")
	_ = checkCmd.MarkFlagRequired("org")

	accessCmd.AddCommand(maskCmd, checkCmd)
}
