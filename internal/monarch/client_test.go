package monarch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/loansync/internal/common"
	"github.com/Veraticus/loansync/internal/service"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewClient("test-token",
		WithBaseURL(srv.URL),
		WithRetryOptions(service.RetryOptions{
			MaxAttempts:  3,
			InitialDelay: time.Millisecond,
			MaxDelay:     5 * time.Millisecond,
		}),
	)
	require.NoError(t, err)
	return c
}

func TestNewClientRequiresToken(t *testing.T) {
	_, err := NewClient("")
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrMissingConfig)
}

func TestListAccountsConvertsDollarsToCents(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/accounts", r.URL.Path)
		assert.Equal(t, "Token test-token", r.Header.Get("Authorization"))
		fmt.Fprint(w, `{"accounts":[
			{"id":"acct-1","displayName":"monarch-AA","type":{"name":"loan"},"isManual":true,"currentBalance":-3040.16},
			{"id":"acct-2","displayName":"Checking","type":{"name":"depository"},"isManual":false,"currentBalance":120.50}
		]}`)
	}))

	accounts, err := c.ListAccounts(context.Background())
	require.NoError(t, err)
	require.Len(t, accounts, 2)

	assert.Equal(t, "acct-1", accounts[0].ID)
	assert.Equal(t, int64(-304016), accounts[0].BalanceCents, "no float drift on cents")
	assert.True(t, accounts[0].IsManual)
	assert.Equal(t, int64(12050), accounts[1].BalanceCents)
}

func TestUpdateAccountBalanceSendsDollars(t *testing.T) {
	var got map[string]any
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/v1/accounts/acct-1/balance", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, `{}`)
	}))

	require.NoError(t, c.UpdateAccountBalance(context.Background(), "acct-1", -304016))
	assert.InDelta(t, -3040.16, got["currentBalance"], 0.0001)
}

func TestCreateTransactionReturnsRemoteID(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/transactions", r.URL.Path)

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "2025-01-05", body["date"])
		assert.Equal(t, "US Dept of Education", body["merchantName"])
		assert.InDelta(t, 120.00, body["amount"], 0.0001)

		fmt.Fprint(w, `{"transaction":{"id":"txn-abc"}}`)
	}))

	id, err := c.CreateTransaction(context.Background(), service.TransactionInput{
		Date:        time.Date(2025, 1, 5, 0, 0, 0, 0, time.UTC),
		AccountID:   "acct-1",
		Merchant:    "US Dept of Education",
		AmountCents: 12000,
	})
	require.NoError(t, err)
	assert.Equal(t, "txn-abc", id)
}

func TestFindTransactionMatchesExactTuple(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "acct-1", r.URL.Query().Get("accountId"))
		assert.Equal(t, "2025-01-05", r.URL.Query().Get("startDate"))
		fmt.Fprint(w, `{"transactions":[
			{"id":"txn-1","date":"2025-01-05","amount":120.00,"merchant":{"name":"Some Store"}},
			{"id":"txn-2","date":"2025-01-05","amount":120.00,"merchant":{"name":"US Dept of Education"}}
		],"hasMore":false}`)
	}))

	id, found, err := c.FindTransaction(context.Background(), "acct-1",
		time.Date(2025, 1, 5, 0, 0, 0, 0, time.UTC), 12000, "US Dept of Education")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "txn-2", id, "merchant name participates in the match")
}

func TestFindTransactionPagesUntilMatch(t *testing.T) {
	var pages atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page := pages.Add(1)
		if page == 1 {
			assert.Equal(t, "0", r.URL.Query().Get("offset"))
			fmt.Fprint(w, `{"transactions":[],"hasMore":true}`)
			return
		}
		assert.Equal(t, "200", r.URL.Query().Get("offset"))
		fmt.Fprint(w, `{"transactions":[
			{"id":"txn-9","date":"2025-01-05","amount":120.00,"merchant":{"name":"US Dept of Education"}}
		],"hasMore":false}`)
	}))

	id, found, err := c.FindTransaction(context.Background(), "acct-1",
		time.Date(2025, 1, 5, 0, 0, 0, 0, time.UTC), 12000, "US Dept of Education")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "txn-9", id)
	assert.Equal(t, int32(2), pages.Load())
}

func TestFindTransactionNoMatch(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"transactions":[],"hasMore":false}`)
	}))

	_, found, err := c.FindTransaction(context.Background(), "acct-1",
		time.Date(2025, 1, 5, 0, 0, 0, 0, time.UTC), 12000, "US Dept of Education")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRateLimitedRequestIsRetried(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, `{"accounts":[]}`)
	}))

	_, err := c.ListAccounts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestAuthFailureIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))

	_, err := c.ListAccounts(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrRemoteAuth)
	assert.Equal(t, int32(1), calls.Load())
}

func TestGetCategoryID(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"categories":[{"id":"cat-1","name":"Transfer"},{"id":"cat-2","name":"Groceries"}]}`)
	}))

	id, err := c.GetCategoryID(context.Background(), "Transfer")
	require.NoError(t, err)
	assert.Equal(t, "cat-1", id)

	_, err = c.GetCategoryID(context.Background(), "Nope")
	assert.ErrorIs(t, err, common.ErrNotFound)
}
