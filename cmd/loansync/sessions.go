package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/Veraticus/loansync/internal/cli"
	"github.com/Veraticus/loansync/internal/session"
)

// The scraper that produces the facts feed keeps its login state through this
// session store. These commands let it (and the operator) inspect, import,
// and clear that state without touching the files directly.
func sessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Manage stored servicer login sessions",
	}
	cmd.AddCommand(sessionShowCmd())
	cmd.AddCommand(sessionImportCmd())
	cmd.AddCommand(sessionClearCmd())
	return cmd
}

func sessionGuard() (*session.Guard, string, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, "", err
	}
	guard, err := session.NewGuard(cfg.SessionDir())
	if err != nil {
		return nil, "", err
	}
	return guard, cfg.Servicer.Provider, nil
}

func sessionShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the stored session for the configured servicer",
		RunE: func(cmd *cobra.Command, _ []string) error {
			guard, provider, err := sessionGuard()
			if err != nil {
				return err
			}

			blob, err := guard.Load(provider)
			if err != nil {
				return err
			}
			if blob == nil {
				fmt.Fprintln(cmd.OutOrStdout(), cli.FormatWarning(
					"no stored session for "+provider+"; the next scrape will log in fresh"))
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf(
				"session for %s saved %s (%d bytes of state)",
				blob.Provider, blob.SavedAt.Format("2006-01-02 15:04:05 MST"), len(blob.State))))
			return nil
		},
	}
}

func sessionImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import [file]",
		Short: "Store session state from a file (or stdin) for the configured servicer",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			guard, provider, err := sessionGuard()
			if err != nil {
				return err
			}

			var state []byte
			if len(args) == 1 {
				state, err = os.ReadFile(args[0])
			} else {
				state, err = io.ReadAll(cmd.InOrStdin())
			}
			if err != nil {
				return fmt.Errorf("failed to read session state: %w", err)
			}

			if err := guard.Save(provider, state); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess("session stored for "+provider))
			return nil
		},
	}
}

func sessionClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Discard the stored session, forcing a fresh login next scrape",
		RunE: func(cmd *cobra.Command, _ []string) error {
			guard, provider, err := sessionGuard()
			if err != nil {
				return err
			}
			if err := guard.Discard(provider); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess("session cleared for "+provider))
			return nil
		},
	}
}
