package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/Veraticus/loansync/internal/model"
	"github.com/Veraticus/loansync/internal/money"
)

const timeRound = 10 * time.Millisecond

// RenderPlan summarizes a plan before execution, mainly for dry runs.
func RenderPlan(plan *model.Plan) string {
	var b strings.Builder

	b.WriteString(FormatTitle("Reconciliation plan"))
	b.WriteString("\n")

	for _, bu := range plan.Balances {
		if bu.Skip {
			b.WriteString(SubtleStyle.Render(fmt.Sprintf("  balance %-8s skip: %s", bu.Group, bu.Reason)))
		} else {
			b.WriteString(fmt.Sprintf("  balance %-8s → %s", bu.Group, money.FormatCents(bu.TargetCents)))
		}
		b.WriteString("\n")
	}

	for _, d := range plan.Payments {
		line := fmt.Sprintf("  %s  %-8s %10s  %s",
			d.Allocation.Date.Format("2006-01-02"),
			d.Allocation.Group,
			money.FormatCents(d.Allocation.AmountCents),
			d.Type)
		switch d.Type {
		case model.DecisionCreate:
			b.WriteString(SuccessStyle.Render(line))
		case model.DecisionInvalid:
			b.WriteString(ErrorStyle.Render(line + "  " + d.Reason))
		default:
			b.WriteString(SubtleStyle.Render(line))
		}
		b.WriteString("\n")
	}

	b.WriteString(fmt.Sprintf("\n%d payment(s) to create, %d balance update(s)\n",
		plan.Creates(), len(plan.Balances)))
	return b.String()
}

// RenderReport renders the post-run report.
func RenderReport(report *model.RunReport) string {
	var b strings.Builder

	title := "Run complete"
	if report.DryRun {
		title = "Dry run complete (no changes were made)"
	}
	b.WriteString(FormatTitle(title))
	b.WriteString("\n")

	for _, br := range report.Balances {
		switch {
		case br.Err != "":
			b.WriteString(FormatError(fmt.Sprintf("balance %-8s %s: %s",
				br.Group, money.FormatCents(br.TargetCents), br.Err)))
		case br.Updated:
			b.WriteString(FormatSuccess(fmt.Sprintf("balance %-8s → %s",
				br.Group, money.FormatCents(br.TargetCents))))
		default:
			b.WriteString(SubtleStyle.Render(fmt.Sprintf("  balance %-8s skipped: %s", br.Group, br.Reason)))
		}
		b.WriteString("\n")
	}

	for _, pr := range report.Payments {
		line := fmt.Sprintf("%s  %-8s %10s  %s",
			pr.Date.Format("2006-01-02"), pr.Group, money.FormatCents(pr.AmountCents), pr.Outcome)
		switch pr.Outcome {
		case model.OutcomeCreated:
			b.WriteString(FormatSuccess(line))
		case model.OutcomeCreateFailed:
			b.WriteString(FormatError(line + "  " + pr.Reason))
		case model.OutcomeInvalid:
			b.WriteString(FormatWarning(line + "  " + pr.Reason))
		default:
			b.WriteString(SubtleStyle.Render("  " + line))
		}
		b.WriteString("\n")
	}

	summary := fmt.Sprintf("\n%d created, %d skipped, %d failed, %d invalid in %s\n",
		report.Created(), report.Skipped(), report.Failed(), report.Invalid(),
		report.FinishedAt.Sub(report.StartedAt).Round(timeRound))
	if report.PartialFailure() {
		b.WriteString(WarningStyle.Render(summary))
		b.WriteString(FormatWarning("Some payments failed; they will be retried on the next run."))
		b.WriteString("\n")
	} else {
		b.WriteString(summary)
	}
	return b.String()
}

// RenderAccounts renders the remote account table for list-accounts.
func RenderAccounts(accounts []model.RemoteAccount) string {
	var b strings.Builder
	b.WriteString(TableHeaderStyle.Render(fmt.Sprintf("%-34s %-26s %-12s %6s %14s",
		"ID", "Name", "Type", "Manual", "Balance")))
	b.WriteString("\n")
	for _, a := range accounts {
		manual := ""
		if a.IsManual {
			manual = "yes"
		}
		b.WriteString(fmt.Sprintf("%-34s %-26s %-12s %6s %14s\n",
			a.ID, a.DisplayName, a.TypeName, manual, money.FormatCents(a.BalanceCents)))
	}
	return b.String()
}
