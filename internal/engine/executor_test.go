package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/Veraticus/loansync/internal/model"
	"github.com/Veraticus/loansync/internal/service"
	"github.com/Veraticus/loansync/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedAccounts(remote *MockRemote) {
	remote.Accounts["acct-aa"] = model.RemoteAccount{ID: "acct-aa", DisplayName: "Federal-AA", IsManual: true, BalanceCents: -304016}
	remote.Accounts["acct-ab"] = model.RemoteAccount{ID: "acct-ab", DisplayName: "Federal-AB", IsManual: true, BalanceCents: -150000}
}

func planFor(t *testing.T, store *storage.LedgerStore, remote service.DuplicateOracle, allocs []model.PaymentAllocation) *model.Plan {
	t.Helper()
	plan, err := NewPlanner(store, remote).Plan(context.Background(), PlanInput{
		Allocations: allocs,
		Accounts:    testAccounts(),
		Merchant:    testMerchant,
	})
	require.NoError(t, err)
	return plan
}

func TestExecutorCreatesAndRecords(t *testing.T) {
	store := newEngineStore(t)
	remote := NewMockRemote()
	seedAccounts(remote)
	ctx := context.Background()

	plan := planFor(t, store, nil, testAllocations())
	report, err := NewExecutor(store, remote).Execute(ctx, plan, true)
	require.NoError(t, err)

	assert.Equal(t, 2, report.Created())
	assert.Equal(t, 0, report.Failed())
	assert.Len(t, remote.CreatedTxns, 2)

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	// Re-running the same facts skips everything.
	plan = planFor(t, store, nil, testAllocations())
	report, err = NewExecutor(store, remote).Execute(ctx, plan, true)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Created())
	assert.Equal(t, 2, report.Skipped())
	assert.Len(t, remote.CreatedTxns, 2, "no new remote transactions on the second run")
}

func TestExecutorDryRunIsNeutral(t *testing.T) {
	store := newEngineStore(t)
	remote := NewMockRemote()
	seedAccounts(remote)
	ctx := context.Background()

	plan, err := NewPlanner(store, nil).Plan(ctx, PlanInput{
		Snapshots:   []model.LoanSnapshot{{Group: "AA", OutstandingCents: 304016}},
		Allocations: testAllocations(),
		Accounts:    testAccounts(),
		Merchant:    testMerchant,
	})
	require.NoError(t, err)

	report, err := NewExecutor(store, remote).Execute(ctx, plan, false)
	require.NoError(t, err)

	assert.True(t, report.DryRun)
	// Identical shape: every planned item appears in the report.
	assert.Len(t, report.Balances, 1)
	assert.Len(t, report.Payments, 2)
	assert.Equal(t, 2, report.Created(), "dry-run previews the creates")

	// Zero mutations anywhere.
	assert.Empty(t, remote.CreatedTxns)
	assert.Empty(t, remote.BalanceUpdates)
	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestExecutorPerPaymentFailuresAreIndependent(t *testing.T) {
	store := newEngineStore(t)
	remote := NewMockRemote()
	seedAccounts(remote)
	remote.FailCreateForAccount("acct-aa", errors.New("remote 500"))
	ctx := context.Background()

	plan := planFor(t, store, nil, testAllocations())
	report, err := NewExecutor(store, remote).Execute(ctx, plan, true)
	require.NoError(t, err, "per-payment failure is not a run failure")

	assert.Equal(t, 1, report.Created())
	assert.Equal(t, 1, report.Failed())
	assert.True(t, report.PartialFailure())

	// Only the confirmed payment was recorded; the failed one retries next run.
	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	remote.FailCreates = map[string]error{}
	plan = planFor(t, store, nil, testAllocations())
	require.Equal(t, 1, plan.Creates(), "only the failed payment is replanned")

	report, err = NewExecutor(store, remote).Execute(ctx, plan, true)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Created())
	assert.Equal(t, 1, report.Skipped())
}

// recordFailingStore fails Record after allowing a fixed number of commits,
// simulating a crash between remote confirmation and local bookkeeping.
type recordFailingStore struct {
	*storage.LedgerStore
	allow int
	seen  int
}

func (s *recordFailingStore) Record(ctx context.Context, rec model.LedgerRecord) error {
	s.seen++
	if s.seen > s.allow {
		return errors.New("disk full")
	}
	return s.LedgerStore.Record(ctx, rec)
}

func TestExecutorAbortsWhenRecordFails(t *testing.T) {
	store := newEngineStore(t)
	remote := NewMockRemote()
	seedAccounts(remote)
	ctx := context.Background()

	failing := &recordFailingStore{LedgerStore: store, allow: 1}

	plan := planFor(t, store, nil, testAllocations())
	report, err := NewExecutor(failing, remote).Execute(ctx, plan, true)
	require.Error(t, err, "losing idempotency bookkeeping is fatal")

	// Exactly records 1..k survive; the in-flight payment is the only gap.
	count, countErr := store.Count(ctx)
	require.NoError(t, countErr)
	assert.Equal(t, 1, count)
	assert.Len(t, report.Payments, 2, "the report still accounts for the in-flight payment")

	// Replaying from scratch creates only the unrecorded payment; the remote
	// duplicate oracle catches the one whose record was lost.
	plan = planFor(t, store, remote, testAllocations())
	assert.Equal(t, 0, plan.Creates())
	skips := 0
	for _, d := range plan.Payments {
		if d.Type == model.DecisionSkipRecorded || d.Type == model.DecisionSkipDuplicate {
			skips++
		}
	}
	assert.Equal(t, 2, skips)
}

func TestExecutorBackfillsRemoteDuplicates(t *testing.T) {
	store := newEngineStore(t)
	remote := NewMockRemote()
	seedAccounts(remote)
	ctx := context.Background()

	remote.AddExisting("acct-aa", day(2025, 1, 5), 12000, testMerchant, "txn-existing")

	alloc := testAllocations()[0]
	plan := planFor(t, store, remote, []model.PaymentAllocation{alloc})
	require.Equal(t, model.DecisionSkipDuplicate, plan.Payments[0].Type)

	report, err := NewExecutor(store, remote).Execute(ctx, plan, true)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Skipped())
	assert.Empty(t, remote.CreatedTxns, "backfill never re-creates")

	// Self-repair: a third run skips on the local store alone.
	findCallsBefore := remote.FindCalls
	plan = planFor(t, store, remote, []model.PaymentAllocation{alloc})
	assert.Equal(t, model.DecisionSkipRecorded, plan.Payments[0].Type)
	assert.Equal(t, findCallsBefore, remote.FindCalls, "no oracle query after backfill")
}

func TestExecutorBalanceSignHeuristic(t *testing.T) {
	store := newEngineStore(t)
	remote := NewMockRemote()
	seedAccounts(remote) // acct-aa shows a negative liability balance
	ctx := context.Background()

	plan := &model.Plan{
		Merchant: testMerchant,
		Balances: []model.BalanceUpdate{
			{Group: "AA", AccountID: "acct-aa", TargetCents: 304016},
		},
	}

	report, err := NewExecutor(store, remote).Execute(ctx, plan, true)
	require.NoError(t, err)

	require.Len(t, report.Balances, 1)
	assert.True(t, report.Balances[0].Updated)
	assert.Equal(t, int64(-304016), remote.BalanceUpdates["acct-aa"],
		"a liability shown negative stays negative")
}
