package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/Veraticus/loansync/internal/cli"
)

func setupAccountsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "setup-accounts",
		Short: "Map loan groups to remote ledger accounts",
		Long: `Resolves every configured loan group to a remote account: explicit config
wins, then the saved mapping, then name matching against the remote's manual
accounts. Missing accounts are created unless --no-create is set. Without
--apply this only reports what would happen.`,
		RunE: runSetupAccounts,
	}

	cmd.Flags().Bool("apply", false, "create missing accounts and save the mapping")
	cmd.Flags().Bool("no-create", false, "never create accounts, only match existing ones")
	cmd.Flags().String("name-template", "", "account naming template, e.g. \"{provider}-{group}\"")

	return cmd
}

func runSetupAccounts(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	apply, _ := cmd.Flags().GetBool("apply")
	noCreate, _ := cmd.Flags().GetBool("no-create")
	if template, _ := cmd.Flags().GetString("name-template"); template != "" {
		cfg.Remote.AccountNameTemplate = template
	}

	remote, err := newRemote(cfg)
	if err != nil {
		return err
	}

	if !apply {
		fmt.Fprintln(out, cli.FormatWarning("Dry run: pass --apply to create accounts and save the mapping"))
		noCreate = true
	}

	resolved, err := resolveAccounts(ctx, cfg, remote, apply && !noCreate, apply)
	if err != nil {
		return err
	}

	groups := make([]string, 0, len(resolved))
	for g := range resolved {
		groups = append(groups, g)
	}
	sort.Strings(groups)

	fmt.Fprintln(out, cli.FormatTitle("Loan group mapping"))
	for _, g := range groups {
		fmt.Fprintln(out, cli.FormatSuccess(fmt.Sprintf("%-8s → %s", g, resolved[g])))
	}
	if apply {
		fmt.Fprintln(out, cli.FormatSuccess("Mapping saved to "+cfg.MappingPath()))
	}
	return nil
}

func listAccountsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list-accounts",
		Short: "List accounts in the remote ledger",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			remote, err := newRemote(cfg)
			if err != nil {
				return err
			}

			list, err := remote.ListAccounts(cmd.Context())
			if err != nil {
				return err
			}
			sort.Slice(list, func(i, j int) bool { return list[i].DisplayName < list[j].DisplayName })

			fmt.Fprint(cmd.OutOrStdout(), cli.RenderAccounts(list))
			return nil
		},
	}
}
