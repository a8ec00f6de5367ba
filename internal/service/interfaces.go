// Package service defines the interfaces between the reconciliation engine
// and its collaborators.
package service

import (
	"context"
	"time"

	"github.com/Veraticus/loansync/internal/model"
)

// LedgerStore is the durable record of payments already mirrored into the
// remote ledger. Records are the idempotency bookkeeping: only the executor
// writes them, and only after remote confirmation.
type LedgerStore interface {
	// Has reports whether a record with the given fingerprint exists.
	Has(ctx context.Context, fingerprint string) (bool, error)
	// Record inserts a ledger record. Inserting an already-present
	// fingerprint is a no-op, not an error.
	Record(ctx context.Context, rec model.LedgerRecord) error
	// Backup refreshes the last-known-good snapshot of the store file.
	Backup(ctx context.Context) error

	// LastBalanceDate returns the day the group's remote balance was last
	// pushed, or the zero time when it never was.
	LastBalanceDate(ctx context.Context, group string) (time.Time, error)
	SetLastBalanceDate(ctx context.Context, group string, day time.Time) error

	// Run history, for diagnostics and the re-run retry contract.
	BeginRun(ctx context.Context) (int64, error)
	FinishRun(ctx context.Context, runID int64, ok bool, message string) error

	Close() error
}

// TransactionInput describes a payment transaction to create remotely.
type TransactionInput struct {
	Date        time.Time
	AccountID   string
	Merchant    string
	CategoryID  string
	Notes       string
	AmountCents int64
}

// RemoteLedger is the remote personal-finance ledger client. All mutations
// here are the executor's responsibility; the planner only reads.
type RemoteLedger interface {
	ListAccounts(ctx context.Context) ([]model.RemoteAccount, error)
	GetAccountBalance(ctx context.Context, accountID string) (int64, error)
	UpdateAccountBalance(ctx context.Context, accountID string, balanceCents int64) error
	// CreateTransaction returns the remote transaction identifier on success.
	CreateTransaction(ctx context.Context, in TransactionInput) (string, error)
	CreateManualAccount(ctx context.Context, name string) (string, error)
	GetCategoryID(ctx context.Context, name string) (string, error)
	DuplicateOracle
}

// DuplicateOracle answers whether a transaction matching (date, amount,
// merchant) already exists remotely. It is the second line of defense when
// local state has been lost or reset.
type DuplicateOracle interface {
	FindTransaction(ctx context.Context, accountID string, date time.Time, amountCents int64, merchant string) (string, bool, error)
}

// Feed produces the scraped facts for one run: snapshots and an ordered
// (oldest-first) sequence of payment allocations.
type Feed interface {
	Facts(ctx context.Context) ([]model.LoanSnapshot, []model.PaymentAllocation, error)
}

// RetryOptions configures retry behavior for remote operations.
type RetryOptions struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}
