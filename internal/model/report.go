package model

import "time"

// DecisionType classifies what the planner decided for one allocation.
type DecisionType string

// Planner decisions, in the order the duplicate guard evaluates them.
const (
	DecisionInvalid       DecisionType = "INVALID"
	DecisionSkipRecorded  DecisionType = "SKIP_RECORDED"
	DecisionSkipDuplicate DecisionType = "SKIP_REMOTE_DUPLICATE"
	DecisionCreate        DecisionType = "CREATE"
)

// Decision is one planner verdict for a payment allocation.
type Decision struct {
	Allocation  PaymentAllocation
	Type        DecisionType
	Fingerprint string
	Reason      string
	AccountID   string
	// RemoteTxnID is set for SKIP_REMOTE_DUPLICATE decisions so the executor
	// can backfill a ledger record without re-creating anything.
	RemoteTxnID string
}

// BalanceUpdate is one planned account-balance overwrite. Balance updates are
// naturally idempotent and planned unconditionally, but throttled to once per
// calendar day per group.
type BalanceUpdate struct {
	Group       string
	AccountID   string
	TargetCents int64
	Skip        bool
	Reason      string
}

// Plan is the ordered mutation plan for one run. Payment decisions preserve
// scrape order (oldest first) so a partial failure leaves a clean resume
// point for the next run.
type Plan struct {
	Merchant string
	Balances []BalanceUpdate
	Payments []Decision
}

// Creates returns how many decisions in the plan would create a transaction.
func (p *Plan) Creates() int {
	n := 0
	for _, d := range p.Payments {
		if d.Type == DecisionCreate {
			n++
		}
	}
	return n
}

// PaymentOutcome is the executed fate of one payment decision.
type PaymentOutcome string

// Payment outcomes surfaced in the run report.
const (
	OutcomeCreated       PaymentOutcome = "CREATE-OK"
	OutcomeCreateFailed  PaymentOutcome = "CREATE-FAILED"
	OutcomeSkipRecorded  PaymentOutcome = "SKIP (already recorded)"
	OutcomeSkipDuplicate PaymentOutcome = "SKIP (duplicate on remote)"
	OutcomeInvalid       PaymentOutcome = "INVALID"
)

// PaymentResult is the outcome of one payment decision after execution.
type PaymentResult struct {
	Date        time.Time
	Group       string
	Outcome     PaymentOutcome
	Fingerprint string
	Reason      string
	RemoteTxnID string
	AmountCents int64
}

// BalanceResult is the outcome of one planned balance update.
type BalanceResult struct {
	Group       string
	AccountID   string
	TargetCents int64
	Updated     bool
	Reason      string
	Err         string
}

// RunReport is the single source of truth for what a run did (or, in dry-run
// mode, would have done). Dry-run reports are identical in shape.
type RunReport struct {
	StartedAt  time.Time
	FinishedAt time.Time
	DryRun     bool
	Balances   []BalanceResult
	Payments   []PaymentResult
}

// Created counts successfully created payment transactions.
func (r *RunReport) Created() int { return r.countPayments(OutcomeCreated) }

// Failed counts payment creations that failed and will retry next run.
func (r *RunReport) Failed() int { return r.countPayments(OutcomeCreateFailed) }

// Skipped counts payments skipped by either duplicate guard.
func (r *RunReport) Skipped() int {
	return r.countPayments(OutcomeSkipRecorded) + r.countPayments(OutcomeSkipDuplicate)
}

// Invalid counts allocations rejected at planning time.
func (r *RunReport) Invalid() int { return r.countPayments(OutcomeInvalid) }

// PartialFailure reports whether any independent per-payment failure occurred.
func (r *RunReport) PartialFailure() bool { return r.Failed() > 0 }

func (r *RunReport) countPayments(o PaymentOutcome) int {
	n := 0
	for _, p := range r.Payments {
		if p.Outcome == o {
			n++
		}
	}
	return n
}
