package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kirozen/kamctl/pkg/kamctl/auth"
	"github.com/kirozen/kamctl/pkg/kamctl/client"
	"github.com/kirozen/kamctl/pkg/kamctl/output"
	"github.com/kirozen/kamctl/pkg/kamctl/store"
)

func NewAccountCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Manage stored accounts",
	}
	cmd.AddCommand(
		newAccountListCommand(),
		newAccountDeleteCommand(),
		newAccountImportCommand(),
		newAccountExportCommand(),
		newAccountSyncCommand(),
		newAccountUsageCommand(),
	)
	return cmd
}

func newAccountListCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List stored accounts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			st, err := rt.openStore()
			if err != nil {
				return err
			}
			accounts := st.List()
			switch format := output.Format(rt.OutputFormat()); format {
			case output.FormatTable:
				output.WriteAccountTable(rt.Writer(), accounts)
				return nil
			case output.FormatWide:
				output.WriteAccountTableWide(rt.Writer(), accounts)
				return nil
			default:
				return output.WriteObject(rt.Writer(), format, accounts)
			}
		},
	}
}

func newAccountDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "delete ACCOUNT...",
		Aliases: []string{"rm"},
		Short:   "Delete stored accounts",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			st, err := rt.openStore()
			if err != nil {
				return err
			}
			ids := make([]string, 0, len(args))
			for _, key := range args {
				account, err := findAccount(st, key)
				if err != nil {
					return err
				}
				ids = append(ids, account.ID)
			}
			removed := st.DeleteMany(ids)
			_, _ = fmt.Fprintf(rt.Writer(), "Deleted %d account(s)\n", removed)
			return nil
		},
	}
}

func newAccountExportCommand() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export accounts as JSON",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			st, err := rt.openStore()
			if err != nil {
				return err
			}
			content, err := st.Export()
			if err != nil {
				return err
			}
			if file == "" {
				_, err = fmt.Fprintln(rt.Writer(), string(content))
				return err
			}
			if err := os.WriteFile(file, content, 0o600); err != nil {
				return fmt.Errorf("failed to write export: %w", err)
			}
			_, _ = fmt.Fprintf(rt.Writer(), "Exported %d account(s) to %s\n", len(st.List()), file)
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Write to a file instead of stdout")
	return cmd
}

func newAccountImportCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "import FILE",
		Short: "Import accounts from a JSON export",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			content, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read import file: %w", err)
			}
			var payload struct {
				Accounts []store.Account `json:"accounts"`
			}
			if err := json.Unmarshal(content, &payload); err != nil {
				return fmt.Errorf("failed to parse import file: %w", err)
			}
			st, err := rt.openStore()
			if err != nil {
				return err
			}
			added := st.Import(payload.Accounts)
			_, _ = fmt.Fprintf(rt.Writer(), "Imported %d account(s), skipped %d\n", added, len(payload.Accounts)-added)
			return nil
		},
	}
}

func newAccountSyncCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Sync account status with the backend",
		Long: "Probe every stored account against the usage service, updating its " +
			"status and filling in missing emails.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			st, err := rt.openStore()
			if err != nil {
				return err
			}
			usage := rt.usageClient()
			ctx := cmd.Context()
			var failed int
			for _, account := range st.List() {
				limits, err := usage.GetUsageLimits(ctx, account.AccessToken)
				switch {
				case err == nil:
					account.Status = store.StatusActive
					account.UsageData = limits.Raw
					if account.Email == "" && limits.UserInfo.Email != "" {
						account.Email = limits.UserInfo.Email
					}
				case errors.Is(err, client.ErrAccountSuspended):
					account.Status = store.StatusSuspended
				case errors.Is(err, client.ErrUnauthorized):
					failed++
					_, _ = fmt.Fprintf(rt.Writer(), "%s (%s): token expired, run 'kamctl auth refresh %s'\n",
						account.Email, account.Provider, account.ID)
					continue
				default:
					failed++
					rt.Logger().Warn("sync probe failed",
						zap.String("account", account.ID), zap.Error(err))
					continue
				}
				if err := st.Update(account); err != nil {
					return err
				}
				_, _ = fmt.Fprintf(rt.Writer(), "%s (%s): %s\n", account.Email, account.Provider, account.Status)
			}
			if failed > 0 {
				return fmt.Errorf("%d account(s) could not be synced", failed)
			}
			return nil
		},
	}
}

func newAccountUsageCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "usage ACCOUNT",
		Short: "Show usage and limits for an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			st, err := rt.openStore()
			if err != nil {
				return err
			}
			account, err := findAccount(st, args[0])
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			// Web accounts report through the portal; the rest through the
			// usage service.
			if account.AuthMethod == auth.MethodWebOAuth {
				pcfg, err := auth.LookupProvider(account.Provider)
				if err != nil {
					return err
				}
				report, err := rt.portalClient().GetUserUsageAndLimits(ctx, account.AccessToken, pcfg.Idp)
				if err != nil {
					return err
				}
				if raw, err := json.Marshal(report); err == nil {
					account.UsageData = raw
					if err := st.Update(account); err != nil {
						rt.Logger().Warn("failed to persist usage snapshot", zap.Error(err))
					}
				}
				return output.WriteObject(rt.Writer(), objectFormat(rt), report)
			}
			limits, err := rt.usageClient().GetUsageLimits(ctx, account.AccessToken)
			if err != nil {
				return err
			}
			account.UsageData = limits.Raw
			if err := st.Update(account); err != nil {
				rt.Logger().Warn("failed to persist usage snapshot", zap.Error(err))
			}
			if format := output.Format(rt.OutputFormat()); format == output.FormatTable || format == output.FormatWide {
				output.WriteUsageTable(rt.Writer(), account.Email, limits)
				return nil
			}
			return output.WriteObject(rt.Writer(), objectFormat(rt), limits)
		},
	}
}

// objectFormat maps table formats to JSON for payloads without a dedicated
// table renderer.
func objectFormat(rt *runtimeState) output.Format {
	format := output.Format(rt.OutputFormat())
	if format == output.FormatTable || format == output.FormatWide {
		return output.FormatJSON
	}
	return format
}
