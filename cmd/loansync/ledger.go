package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Veraticus/loansync/internal/cli"
	"github.com/Veraticus/loansync/internal/storage"
)

func ledgerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Manage the local ledger store",
	}
	cmd.AddCommand(ledgerBackupCmd())
	cmd.AddCommand(ledgerRestoreCmd())
	cmd.AddCommand(ledgerResetCmd())
	return cmd
}

func ledgerBackupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "backup",
		Short: "Refresh the last-known-good snapshot of the ledger store",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			if err := store.Backup(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess("Backup written to "+cfg.LedgerPath()+".bak"))
			return nil
		},
	}
}

func ledgerRestoreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restore",
		Short: "Replace the ledger store with its backup snapshot",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			if err := storage.RestoreBackup(cfg.LedgerPath()); err != nil {
				return err
			}

			// Re-open to verify the restored store is usable.
			store, err := storage.Open(cfg.LedgerPath())
			if err != nil {
				return err
			}
			count, err := store.Count(cmd.Context())
			_ = store.Close()
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(
				fmt.Sprintf("Restored ledger store from backup (%d payment records)", count)))
			return nil
		},
	}
}

func ledgerResetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete all payment records from the ledger store",
		Long: `Deletes every payment record. The next sync will fall back to the remote
duplicate guard (run it with --check-remote) and backfill records from what it
finds there.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			force, _ := cmd.Flags().GetBool("force")
			if !force && !confirm(cmd, "This deletes all local payment records. Continue? [y/N] ") {
				fmt.Fprintln(cmd.OutOrStdout(), "Aborted.")
				return nil
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			if err := store.Reset(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess("Ledger store reset"))
			fmt.Fprintln(cmd.OutOrStdout(), cli.FormatWarning("Run the next sync with --check-remote to backfill from the remote ledger"))
			return nil
		},
	}
	cmd.Flags().Bool("force", false, "skip the confirmation prompt")
	return cmd
}

func confirm(cmd *cobra.Command, prompt string) bool {
	fmt.Fprint(cmd.OutOrStdout(), prompt)
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}
