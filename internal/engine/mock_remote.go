package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Veraticus/loansync/internal/model"
	"github.com/Veraticus/loansync/internal/service"
)

// MockRemote implements service.RemoteLedger for tests. It records every
// mutation and can be scripted to fail specific creations.
type MockRemote struct {
	mu sync.Mutex

	Accounts map[string]model.RemoteAccount
	// Existing transactions the oracle can find, keyed by
	// "accountID|date|amountCents|merchant".
	Existing map[string]string

	// FailCreates makes CreateTransaction fail for the listed account ids.
	FailCreates map[string]error

	CreatedTxns    []service.TransactionInput
	BalanceUpdates map[string]int64
	FindCalls      int

	nextTxnID int
}

// NewMockRemote returns an empty scripted remote ledger.
func NewMockRemote() *MockRemote {
	return &MockRemote{
		Accounts:       make(map[string]model.RemoteAccount),
		Existing:       make(map[string]string),
		FailCreates:    make(map[string]error),
		BalanceUpdates: make(map[string]int64),
	}
}

// AddExisting scripts an existing remote transaction for the oracle to find.
func (m *MockRemote) AddExisting(accountID string, date time.Time, amountCents int64, merchant, txnID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Existing[oracleKey(accountID, date, amountCents, merchant)] = txnID
}

func oracleKey(accountID string, date time.Time, amountCents int64, merchant string) string {
	return fmt.Sprintf("%s|%s|%d|%s", accountID, date.Format("2006-01-02"), amountCents, merchant)
}

func (m *MockRemote) ListAccounts(_ context.Context) ([]model.RemoteAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.RemoteAccount, 0, len(m.Accounts))
	for _, a := range m.Accounts {
		out = append(out, a)
	}
	return out, nil
}

func (m *MockRemote) GetAccountBalance(_ context.Context, accountID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.Accounts[accountID]; ok {
		return a.BalanceCents, nil
	}
	return 0, fmt.Errorf("account %s not found", accountID)
}

func (m *MockRemote) UpdateAccountBalance(_ context.Context, accountID string, balanceCents int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.BalanceUpdates[accountID] = balanceCents
	if a, ok := m.Accounts[accountID]; ok {
		a.BalanceCents = balanceCents
		m.Accounts[accountID] = a
	}
	return nil
}

func (m *MockRemote) CreateTransaction(_ context.Context, in service.TransactionInput) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err, ok := m.FailCreates[in.AccountID]; ok {
		return "", err
	}

	m.nextTxnID++
	id := fmt.Sprintf("txn-%d", m.nextTxnID)
	m.CreatedTxns = append(m.CreatedTxns, in)
	m.Existing[oracleKey(in.AccountID, in.Date, in.AmountCents, in.Merchant)] = id
	return id, nil
}

// FailCreateForAccount scripts CreateTransaction to fail for one account.
func (m *MockRemote) FailCreateForAccount(accountID string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FailCreates[accountID] = err
}

func (m *MockRemote) CreateManualAccount(_ context.Context, name string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := fmt.Sprintf("acct-%d", len(m.Accounts)+1)
	m.Accounts[id] = model.RemoteAccount{ID: id, DisplayName: name, IsManual: true}
	return id, nil
}

func (m *MockRemote) GetCategoryID(_ context.Context, name string) (string, error) {
	return "cat-" + name, nil
}

func (m *MockRemote) FindTransaction(_ context.Context, accountID string, date time.Time, amountCents int64, merchant string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FindCalls++
	id, ok := m.Existing[oracleKey(accountID, date, amountCents, merchant)]
	return id, ok, nil
}
