package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Veraticus/loansync/internal/bundle"
	"github.com/Veraticus/loansync/internal/cli"
	"github.com/Veraticus/loansync/internal/config"
	"github.com/Veraticus/loansync/internal/engine"
	"github.com/Veraticus/loansync/internal/feed"
	"github.com/Veraticus/loansync/internal/model"
	"github.com/Veraticus/loansync/internal/service"
	"github.com/Veraticus/loansync/internal/storage"
)

func syncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Reconcile scraped loan facts into the remote ledger",
		Long: `Reads the scraped facts feed, plans which balances and payments need to
change, and applies the plan. Safe to re-run: payments already mirrored are
skipped via the local ledger store, and with --check-remote the remote ledger
is consulted as a second duplicate guard before any creation.`,
		RunE: runSync,
	}

	cmd.Flags().String("feed", "", "scraped facts feed file (JSON)")
	cmd.Flags().Bool("dry-run", false, "plan and report without mutating anything")
	cmd.Flags().Bool("check-remote", false, "consult the remote ledger for duplicates when the local store misses")
	cmd.Flags().String("payments-since", "", "ignore payment allocations before this date (YYYY-MM-DD)")
	_ = cmd.MarkFlagRequired("feed")

	return cmd
}

func runSync(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	feedPath, _ := cmd.Flags().GetString("feed")
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	checkRemote, _ := cmd.Flags().GetBool("check-remote")
	sinceRaw, _ := cmd.Flags().GetString("payments-since")

	since, err := parseDay(sinceRaw)
	if err != nil {
		return err
	}

	report, runErr := executeSync(cmd, cfg, feedPath, since, dryRun, checkRemote)
	if runErr != nil {
		if !dryRun {
			writeDebugBundle(cfg)
		}
		return runErr
	}

	fmt.Fprint(cmd.OutOrStdout(), cli.RenderReport(report))
	if report.PartialFailure() && !report.DryRun {
		return fmt.Errorf("%d payment(s) failed; they will be retried on the next run", report.Failed())
	}
	return nil
}

func executeSync(cmd *cobra.Command, cfg *config.Config, feedPath string, since time.Time, dryRun, checkRemote bool) (*model.RunReport, error) {
	ctx := cmd.Context()

	store, err := openStore(cfg)
	if err != nil {
		return nil, err
	}
	defer func() { _ = store.Close() }()

	remote, err := newRemote(cfg)
	if err != nil {
		return nil, err
	}

	facts := &feed.FileFeed{Path: config.ExpandPath(feedPath), Since: since}
	snapshots, allocations, err := facts.Facts(ctx)
	if err != nil {
		return nil, err
	}
	slog.Info("Loaded scraped facts", "snapshots", len(snapshots), "payments", len(allocations))

	accounts, err := resolveAccounts(ctx, cfg, remote, cfg.Remote.AutoCreateAccounts && !dryRun, !dryRun)
	if err != nil {
		return nil, err
	}

	var runID int64
	if !dryRun {
		if runID, err = store.BeginRun(ctx); err != nil {
			return nil, err
		}
	}

	var oracle service.DuplicateOracle
	if checkRemote {
		oracle = remote
	}

	planner := engine.NewPlanner(store, oracle)
	plan, err := planner.Plan(ctx, engine.PlanInput{
		Snapshots:   snapshots,
		Allocations: allocations,
		Accounts:    accounts,
		Merchant:    cfg.Remote.MerchantName,
	})
	if err != nil {
		finishRun(ctx, store, runID, dryRun, false, err.Error())
		return nil, err
	}

	if dryRun {
		fmt.Fprint(cmd.OutOrStdout(), cli.RenderPlan(plan))
	}

	executor := engine.NewExecutor(store, remote)
	if cfg.Remote.TransferCategory != "" && !dryRun {
		// Category is cosmetic; a lookup failure never blocks payments.
		if catID, catErr := remote.GetCategoryID(ctx, cfg.Remote.TransferCategory); catErr == nil {
			executor.CategoryID = catID
		} else {
			slog.Warn("Transfer category not found, creating uncategorized",
				"category", cfg.Remote.TransferCategory, "error", catErr)
		}
	}

	if !dryRun && len(plan.Payments) > 1 {
		bar := progressbar.NewOptions(len(plan.Payments),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionShowCount(),
			progressbar.OptionSetWidth(40),
			progressbar.OptionSetDescription("Applying payments..."),
		)
		executor.Progress = func(done, _ int) { _ = bar.Set(done) }
	}

	report, execErr := executor.Execute(ctx, plan, !dryRun)
	if execErr != nil {
		finishRun(ctx, store, runID, dryRun, false, execErr.Error())
		return report, execErr
	}

	msg := fmt.Sprintf("created=%d skipped=%d failed=%d invalid=%d",
		report.Created(), report.Skipped(), report.Failed(), report.Invalid())
	finishRun(ctx, store, runID, dryRun, !report.PartialFailure(), msg)
	return report, nil
}

// finishRun records the run outcome when one was begun. Failing to record
// history never fails the run itself.
func finishRun(ctx context.Context, store *storage.LedgerStore, runID int64, dryRun, ok bool, message string) {
	if dryRun || runID == 0 {
		return
	}
	if err := store.FinishRun(ctx, runID, ok, message); err != nil {
		slog.Warn("Failed to record run outcome", "run_id", runID, "error", err)
	}
}

func writeDebugBundle(cfg *config.Config) {
	logFile := config.ExpandPath(viper.GetString("logging.file"))
	path, err := bundle.Write(bundle.Options{
		Provider: cfg.Servicer.Provider,
		OutDir:   cfg.DataDir,
		LogFile:  logFile,
		DebugDir: debugDir(cfg),
	})
	if err != nil {
		slog.Debug("No debug bundle written", "error", err)
		return
	}
	slog.Info("Debug bundle written", "path", path)
}
