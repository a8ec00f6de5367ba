package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Veraticus/loansync/internal/common"
	"github.com/Veraticus/loansync/internal/model"
	"github.com/Veraticus/loansync/internal/money"
	"github.com/Veraticus/loansync/internal/service"
)

// Executor applies a plan against the remote ledger. One executor serves both
// modes: when mutateRemote is false it produces the identical-shaped report
// without touching the store or the remote side.
type Executor struct {
	store  service.LedgerStore
	remote service.RemoteLedger
	// CategoryID, when set, is stamped on created transactions.
	CategoryID string
	// Progress, when set, is called after each payment decision is resolved.
	Progress func(done, total int)
}

// NewExecutor creates an executor over the given store and remote client.
func NewExecutor(store service.LedgerStore, remote service.RemoteLedger) *Executor {
	return &Executor{store: store, remote: remote}
}

// Execute applies the plan. Balance updates run first (independently
// idempotent overwrites), then CREATE decisions in planned order. A ledger
// record is committed only after the remote confirms creation, and payment N's
// record is never committed before payment N-1's outcome is determined, which
// bounds the gap a crash can leave to one in-flight payment.
//
// Per-payment remote failures are independent: they are logged, surfaced in
// the report, and retried naturally on the next run because no record was
// committed. A ledger store write failure is fatal and aborts the run.
func (e *Executor) Execute(ctx context.Context, plan *model.Plan, mutateRemote bool) (*model.RunReport, error) {
	report := &model.RunReport{
		StartedAt: time.Now(),
		DryRun:    !mutateRemote,
	}

	for _, upd := range plan.Balances {
		report.Balances = append(report.Balances, e.applyBalance(ctx, upd, mutateRemote))
	}

	total := len(plan.Payments)
	for i, d := range plan.Payments {
		res, err := e.applyPayment(ctx, d, plan.Merchant, mutateRemote)
		report.Payments = append(report.Payments, res)
		if e.Progress != nil {
			e.Progress(i+1, total)
		}
		if err != nil {
			// Fatal: idempotency bookkeeping can no longer be persisted.
			report.FinishedAt = time.Now()
			return report, err
		}
	}

	report.FinishedAt = time.Now()
	return report, nil
}

func (e *Executor) applyBalance(ctx context.Context, upd model.BalanceUpdate, mutateRemote bool) model.BalanceResult {
	res := model.BalanceResult{
		Group:       upd.Group,
		AccountID:   upd.AccountID,
		TargetCents: upd.TargetCents,
		Reason:      upd.Reason,
	}

	if upd.Skip {
		return res
	}
	if !mutateRemote {
		res.Updated = true
		res.Reason = "would update"
		return res
	}

	target := upd.TargetCents
	// Loan accounts are liabilities; if the remote shows the balance negative,
	// push a negative target so the sign convention is preserved.
	if existing, err := e.remote.GetAccountBalance(ctx, upd.AccountID); err == nil {
		if existing < 0 && target > 0 {
			target = -target
		}
	}

	if err := e.remote.UpdateAccountBalance(ctx, upd.AccountID, target); err != nil {
		slog.Error("Balance update failed", "group", upd.Group, "account", upd.AccountID, "error", err)
		res.Err = err.Error()
		return res
	}

	res.Updated = true
	res.TargetCents = target
	if err := e.store.SetLastBalanceDate(ctx, upd.Group, time.Now()); err != nil {
		// The update itself is idempotent; losing the throttle date only
		// costs one redundant overwrite tomorrow.
		slog.Warn("Failed to persist balance-update date", "group", upd.Group, "error", err)
	}
	return res
}

func (e *Executor) applyPayment(ctx context.Context, d model.Decision, merchant string, mutateRemote bool) (model.PaymentResult, error) {
	res := model.PaymentResult{
		Date:        d.Allocation.Date,
		Group:       d.Allocation.Group,
		Fingerprint: d.Fingerprint,
		Reason:      d.Reason,
		AmountCents: d.Allocation.AmountCents,
	}

	switch d.Type {
	case model.DecisionInvalid:
		res.Outcome = model.OutcomeInvalid
		return res, nil

	case model.DecisionSkipRecorded:
		res.Outcome = model.OutcomeSkipRecorded
		return res, nil

	case model.DecisionSkipDuplicate:
		res.Outcome = model.OutcomeSkipDuplicate
		res.RemoteTxnID = d.RemoteTxnID
		if !mutateRemote {
			return res, nil
		}
		// Self-repair: backfill the record with the discovered remote id so
		// future runs skip on the local store without re-querying the oracle.
		if err := e.commitRecord(ctx, d, d.RemoteTxnID); err != nil {
			return res, err
		}
		return res, nil

	case model.DecisionCreate:
		if !mutateRemote {
			res.Outcome = model.OutcomeCreated
			res.Reason = "would create"
			return res, nil
		}

		amount := d.Allocation.AmountCents
		// Mirror the liability sign heuristic: a payment against a
		// negative-balance account posts as a positive inflow.
		if existing, err := e.remote.GetAccountBalance(ctx, d.AccountID); err == nil {
			if existing > 0 && amount < 0 {
				amount = -amount
			}
		}

		txnID, err := e.remote.CreateTransaction(ctx, service.TransactionInput{
			AccountID:   d.AccountID,
			Date:        d.Allocation.Date,
			AmountCents: amount,
			Merchant:    merchant,
			CategoryID:  e.CategoryID,
			Notes:       paymentNotes(d.Allocation),
		})
		if err != nil {
			common.LogError(err, "Transaction creation failed, will retry next run", common.Fields{
				"group":  d.Allocation.Group,
				"date":   d.Allocation.Date.Format("2006-01-02"),
				"amount": money.FormatCents(d.Allocation.AmountCents),
			})
			res.Outcome = model.OutcomeCreateFailed
			res.Reason = err.Error()
			return res, nil
		}

		res.RemoteTxnID = txnID
		if err := e.commitRecord(ctx, d, txnID); err != nil {
			// The remote transaction exists but could not be recorded. Report
			// the creation, then abort before any further remote mutation.
			res.Outcome = model.OutcomeCreated
			return res, err
		}
		res.Outcome = model.OutcomeCreated
		return res, nil
	}

	return res, fmt.Errorf("unknown decision type %q", d.Type)
}

// commitRecord durably records a confirmed payment and refreshes the backup
// snapshot. Record failures are fatal; backup failures are not, because the
// previously committed backup is still intact.
func (e *Executor) commitRecord(ctx context.Context, d model.Decision, remoteTxnID string) error {
	rec := model.LedgerRecord{
		Fingerprint: d.Fingerprint,
		Group:       d.Allocation.Group,
		Date:        d.Allocation.Date,
		AmountCents: d.Allocation.AmountCents,
		TotalCents:  d.Allocation.PaymentTotalCents,
		RemoteTxnID: remoteTxnID,
		CreatedAt:   time.Now().UTC(),
	}

	if err := e.store.Record(ctx, rec); err != nil {
		return fmt.Errorf("fatal: failed to record confirmed payment %s: %w", d.Fingerprint, err)
	}

	if err := e.store.Backup(ctx); err != nil {
		slog.Warn("Failed to refresh ledger backup", "error", err)
	}
	return nil
}

func paymentNotes(a model.PaymentAllocation) string {
	notes := fmt.Sprintf("Servicer payment allocation. TotalPayment=%s Principal=%s Interest=%s",
		money.FormatCents(a.PaymentTotalCents),
		money.FormatCents(a.PrincipalCents),
		money.FormatCents(a.InterestCents))
	if a.Reference != "" {
		notes += " Ref=" + a.Reference
	}
	return notes
}
