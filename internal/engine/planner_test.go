package engine

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/Veraticus/loansync/internal/model"
	"github.com/Veraticus/loansync/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testMerchant = "US Dept of Education"

func newEngineStore(t *testing.T) *storage.LedgerStore {
	t.Helper()
	store, err := storage.Open(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func testAllocations() []model.PaymentAllocation {
	return []model.PaymentAllocation{
		{Date: day(2025, 1, 5), Group: "AA", AmountCents: 12000, PaymentTotalCents: 20000},
		{Date: day(2025, 1, 5), Group: "AB", AmountCents: 8000, PaymentTotalCents: 20000},
	}
}

func testAccounts() map[string]string {
	return map[string]string{"AA": "acct-aa", "AB": "acct-ab"}
}

func TestPlannerCreatesAgainstEmptyStore(t *testing.T) {
	store := newEngineStore(t)
	planner := NewPlanner(store, nil)

	plan, err := planner.Plan(context.Background(), PlanInput{
		Allocations: testAllocations(),
		Accounts:    testAccounts(),
		Merchant:    testMerchant,
	})
	require.NoError(t, err)

	require.Len(t, plan.Payments, 2)
	for _, d := range plan.Payments {
		assert.Equal(t, model.DecisionCreate, d.Type)
		assert.NotEmpty(t, d.Fingerprint)
	}
	assert.Equal(t, 2, plan.Creates())
}

func TestPlannerIdempotence(t *testing.T) {
	store := newEngineStore(t)
	ctx := context.Background()

	// Commit the first run's fingerprints.
	for _, a := range testAllocations() {
		require.NoError(t, store.Record(ctx, model.LedgerRecord{
			Fingerprint: a.Fingerprint(testMerchant),
			Group:       a.Group,
			Date:        a.Date,
			AmountCents: a.AmountCents,
		}))
	}

	plan, err := NewPlanner(store, nil).Plan(ctx, PlanInput{
		Allocations: testAllocations(),
		Accounts:    testAccounts(),
		Merchant:    testMerchant,
	})
	require.NoError(t, err)

	require.Len(t, plan.Payments, 2)
	for _, d := range plan.Payments {
		assert.Equal(t, model.DecisionSkipRecorded, d.Type)
	}
	assert.Equal(t, 0, plan.Creates())
}

func TestPlannerOracleIsSecondLineOfDefense(t *testing.T) {
	store := newEngineStore(t)
	ctx := context.Background()
	remote := NewMockRemote()

	// The store was wiped, but the remote already has AA's payment.
	remote.AddExisting("acct-aa", day(2025, 1, 5), 12000, testMerchant, "txn-existing")

	plan, err := NewPlanner(store, remote).Plan(ctx, PlanInput{
		Allocations: testAllocations(),
		Accounts:    testAccounts(),
		Merchant:    testMerchant,
	})
	require.NoError(t, err)

	require.Len(t, plan.Payments, 2)
	assert.Equal(t, model.DecisionSkipDuplicate, plan.Payments[0].Type)
	assert.Equal(t, "txn-existing", plan.Payments[0].RemoteTxnID)
	assert.Equal(t, model.DecisionCreate, plan.Payments[1].Type)
}

func TestPlannerDoesNotQueryOracleOnLocalHit(t *testing.T) {
	store := newEngineStore(t)
	ctx := context.Background()
	remote := NewMockRemote()

	alloc := testAllocations()[0]
	require.NoError(t, store.Record(ctx, model.LedgerRecord{
		Fingerprint: alloc.Fingerprint(testMerchant),
		Group:       alloc.Group,
		Date:        alloc.Date,
		AmountCents: alloc.AmountCents,
	}))

	plan, err := NewPlanner(store, remote).Plan(ctx, PlanInput{
		Allocations: []model.PaymentAllocation{alloc},
		Accounts:    testAccounts(),
		Merchant:    testMerchant,
	})
	require.NoError(t, err)

	assert.Equal(t, model.DecisionSkipRecorded, plan.Payments[0].Type)
	assert.Equal(t, 0, remote.FindCalls, "local hit must not reach the oracle")
}

func TestPlannerRejectsInvalidAllocations(t *testing.T) {
	store := newEngineStore(t)
	planner := NewPlanner(store, nil)

	allocs := []model.PaymentAllocation{
		{Date: day(2025, 1, 5), Group: "AA", AmountCents: 0},
		{Group: "AA", AmountCents: 100},
		{Date: day(2025, 1, 5), Group: "ZZ", AmountCents: 100}, // unmapped group
	}

	plan, err := planner.Plan(context.Background(), PlanInput{
		Allocations: allocs,
		Accounts:    testAccounts(),
		Merchant:    testMerchant,
	})
	require.NoError(t, err)

	require.Len(t, plan.Payments, 3)
	for _, d := range plan.Payments {
		assert.Equal(t, model.DecisionInvalid, d.Type, "reason: %s", d.Reason)
	}
}

func TestPlannerPreservesAscendingDateOrder(t *testing.T) {
	store := newEngineStore(t)

	allocs := []model.PaymentAllocation{
		{Date: day(2025, 3, 1), Group: "AA", AmountCents: 300},
		{Date: day(2025, 1, 1), Group: "AA", AmountCents: 100},
		{Date: day(2025, 2, 1), Group: "AA", AmountCents: 200},
	}

	plan, err := NewPlanner(store, nil).Plan(context.Background(), PlanInput{
		Allocations: allocs,
		Accounts:    testAccounts(),
		Merchant:    testMerchant,
	})
	require.NoError(t, err)

	require.Len(t, plan.Payments, 3)
	assert.Equal(t, int64(100), plan.Payments[0].Allocation.AmountCents)
	assert.Equal(t, int64(200), plan.Payments[1].Allocation.AmountCents)
	assert.Equal(t, int64(300), plan.Payments[2].Allocation.AmountCents)
}

func TestPlannerMerchantChangeRekeysHistory(t *testing.T) {
	store := newEngineStore(t)
	ctx := context.Background()

	alloc := testAllocations()[0]
	require.NoError(t, store.Record(ctx, model.LedgerRecord{
		Fingerprint: alloc.Fingerprint("Old Merchant"),
		Group:       alloc.Group,
		Date:        alloc.Date,
		AmountCents: alloc.AmountCents,
	}))

	// Under a new merchant label the same payment fingerprints differently;
	// this is a documented limitation, not silently corrected.
	plan, err := NewPlanner(store, nil).Plan(ctx, PlanInput{
		Allocations: []model.PaymentAllocation{alloc},
		Accounts:    testAccounts(),
		Merchant:    "New Merchant",
	})
	require.NoError(t, err)
	assert.Equal(t, model.DecisionCreate, plan.Payments[0].Type)
}

func TestPlannerBalanceUpdates(t *testing.T) {
	store := newEngineStore(t)
	ctx := context.Background()
	today := day(2025, 6, 1)

	require.NoError(t, store.SetLastBalanceDate(ctx, "AA", today))

	snaps := []model.LoanSnapshot{
		{Group: "AA", OutstandingCents: 304016},
		{Group: "AB", OutstandingCents: 150000},
		{Group: "ZZ", OutstandingCents: 100}, // unmapped
	}

	plan, err := NewPlanner(store, nil).Plan(ctx, PlanInput{
		Today:     today,
		Snapshots: snaps,
		Accounts:  testAccounts(),
		Merchant:  testMerchant,
	})
	require.NoError(t, err)

	require.Len(t, plan.Balances, 3)
	assert.True(t, plan.Balances[0].Skip, "AA was already pushed today")
	assert.False(t, plan.Balances[1].Skip)
	assert.True(t, plan.Balances[2].Skip, "unmapped group has nowhere to go")
}
