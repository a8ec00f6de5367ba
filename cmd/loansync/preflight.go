package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Veraticus/loansync/internal/cli"
	"github.com/Veraticus/loansync/internal/session"
)

func preflightCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "preflight",
		Short: "Verify configuration, storage, and remote access before a scheduled run",
		RunE:  runPreflight,
	}
}

func runPreflight(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	failures := 0

	fail := func(what string, err error) {
		failures++
		fmt.Fprintln(out, cli.FormatError(fmt.Sprintf("%s: %v", what, err)))
	}
	pass := func(what string) {
		fmt.Fprintln(out, cli.FormatSuccess(what))
	}

	fmt.Fprintln(out, cli.FormatTitle("Preflight checks"))

	cfg, err := loadConfig()
	if err != nil {
		fail("configuration", err)
		return fmt.Errorf("preflight failed")
	}
	pass(fmt.Sprintf("configuration: %d loan group(s), provider %s", len(cfg.Loans), cfg.Servicer.Provider))

	if store, err := openStore(cfg); err != nil {
		fail("ledger store", err)
	} else {
		count, countErr := store.Count(ctx)
		_ = store.Close()
		if countErr != nil {
			fail("ledger store", countErr)
		} else {
			pass(fmt.Sprintf("ledger store: %s (%d payment records)", cfg.LedgerPath(), count))
		}
	}

	if _, err := session.NewGuard(cfg.SessionDir()); err != nil {
		fail("session directory", err)
	} else {
		pass("session directory: " + cfg.SessionDir())
	}

	remote, err := newRemote(cfg)
	if err != nil {
		fail("remote ledger auth", err)
	} else if list, listErr := remote.ListAccounts(ctx); listErr != nil {
		fail("remote ledger", listErr)
	} else {
		pass(fmt.Sprintf("remote ledger: %d account(s) visible", len(list)))

		if _, resolveErr := resolveAccounts(ctx, cfg, remote, false, false); resolveErr != nil {
			fail("account mapping", resolveErr)
		} else {
			pass("account mapping: every loan group resolves")
		}
	}

	if failures > 0 {
		return fmt.Errorf("preflight failed: %d check(s) did not pass", failures)
	}
	fmt.Fprintln(out, cli.FormatSuccess("All checks passed"))
	return nil
}
