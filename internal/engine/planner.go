// Package engine implements the idempotent reconciliation core: a pure
// planner that decides which mutations a run should apply, and an executor
// that applies them with at-most-once transaction creation.
package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/Veraticus/loansync/internal/model"
	"github.com/Veraticus/loansync/internal/service"
)

// ledgerReader is the read-only slice of the ledger store the planner needs.
// The planner never mutates records; only the executor does.
type ledgerReader interface {
	Has(ctx context.Context, fingerprint string) (bool, error)
	LastBalanceDate(ctx context.Context, group string) (time.Time, error)
}

// PlanInput carries one run's scraped facts plus the configuration the
// planner needs to map them onto the remote ledger.
type PlanInput struct {
	Today       time.Time
	Snapshots   []model.LoanSnapshot
	Allocations []model.PaymentAllocation
	// Accounts maps loan group -> remote account id.
	Accounts map[string]string
	// Merchant is the configured merchant label for payment transactions. It
	// participates in the fingerprint, so changing it re-keys history.
	Merchant string
}

// Planner is a pure decision function over (facts, local ledger, optional
// remote oracle). It performs no mutations, which keeps it fully testable in
// isolation; the oracle, when present, is only ever queried, and only after
// the local store misses.
type Planner struct {
	store  ledgerReader
	oracle service.DuplicateOracle
}

// NewPlanner creates a planner. oracle may be nil, in which case the local
// store is the only duplicate guard.
func NewPlanner(store ledgerReader, oracle service.DuplicateOracle) *Planner {
	return &Planner{store: store, oracle: oracle}
}

// Plan maps scraped facts to an ordered mutation plan. Payment decisions
// preserve ascending date order so a partial failure during execution leaves
// the next run to resume from the first unrecorded payment.
func (p *Planner) Plan(ctx context.Context, in PlanInput) (*model.Plan, error) {
	if in.Merchant == "" {
		return nil, fmt.Errorf("plan requires a merchant label")
	}

	today := in.Today
	if today.IsZero() {
		today = time.Now()
	}

	plan := &model.Plan{Merchant: in.Merchant}

	for _, snap := range in.Snapshots {
		plan.Balances = append(plan.Balances, p.planBalance(ctx, snap, in.Accounts, today))
	}

	allocs := make([]model.PaymentAllocation, len(in.Allocations))
	copy(allocs, in.Allocations)
	sort.SliceStable(allocs, func(i, j int) bool { return allocs[i].Date.Before(allocs[j].Date) })

	for _, alloc := range allocs {
		d, err := p.planPayment(ctx, alloc, in)
		if err != nil {
			return nil, err
		}
		plan.Payments = append(plan.Payments, d)
	}

	return plan, nil
}

func (p *Planner) planBalance(ctx context.Context, snap model.LoanSnapshot, accounts map[string]string, today time.Time) model.BalanceUpdate {
	upd := model.BalanceUpdate{
		Group:       snap.Group,
		TargetCents: snap.OutstandingCents,
	}

	acctID, ok := accounts[snap.Group]
	if !ok {
		upd.Skip = true
		upd.Reason = "no account mapping"
		return upd
	}
	upd.AccountID = acctID

	last, err := p.store.LastBalanceDate(ctx, snap.Group)
	if err == nil && sameDay(last, today) {
		upd.Skip = true
		upd.Reason = "already updated today"
	}
	return upd
}

func (p *Planner) planPayment(ctx context.Context, alloc model.PaymentAllocation, in PlanInput) (model.Decision, error) {
	d := model.Decision{Allocation: alloc}

	if err := alloc.Valid(); err != nil {
		d.Type = model.DecisionInvalid
		d.Reason = err.Error()
		return d, nil
	}

	acctID, ok := in.Accounts[alloc.Group]
	if !ok {
		d.Type = model.DecisionInvalid
		d.Reason = fmt.Sprintf("no account mapping for group %s", alloc.Group)
		return d, nil
	}
	d.AccountID = acctID
	d.Fingerprint = alloc.Fingerprint(in.Merchant)

	has, err := p.store.Has(ctx, d.Fingerprint)
	if err != nil {
		return d, fmt.Errorf("duplicate check against ledger store failed: %w", err)
	}
	if has {
		d.Type = model.DecisionSkipRecorded
		d.Reason = "already recorded"
		return d, nil
	}

	// Second line of defense, deliberately last: no remote round-trip when
	// the local ledger already has the answer.
	if p.oracle != nil {
		txnID, found, oErr := p.oracle.FindTransaction(ctx, acctID, alloc.Date, alloc.AmountCents, in.Merchant)
		if oErr != nil {
			return d, fmt.Errorf("remote duplicate check failed: %w", oErr)
		}
		if found {
			d.Type = model.DecisionSkipDuplicate
			d.Reason = "duplicate on remote"
			d.RemoteTxnID = txnID
			return d, nil
		}
	}

	d.Type = model.DecisionCreate
	d.Reason = "not recorded locally or remotely"
	return d, nil
}

func sameDay(a, b time.Time) bool {
	if a.IsZero() || b.IsZero() {
		return false
	}
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
