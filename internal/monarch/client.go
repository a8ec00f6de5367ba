// Package monarch is the HTTP client for the Monarch Money personal-finance
// ledger. It implements service.RemoteLedger: account listing, balance
// overwrites, manual transaction creation, and the duplicate-transaction
// search the planner uses as its second line of defense.
package monarch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Veraticus/loansync/internal/common"
	"github.com/Veraticus/loansync/internal/model"
	"github.com/Veraticus/loansync/internal/service"
)

const (
	defaultBaseURL = "https://api.monarchmoney.com"

	// Duplicate search pages through transactions newest-first; a match for
	// a student-loan payment should land in the first page or two.
	searchPageSize = 200
	searchMaxPages = 10
)

// Client talks to the Monarch REST API with token auth.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	retry      service.RetryOptions
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the API endpoint, mainly for tests.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpClient = h }
}

// WithRetryOptions overrides the retry policy for API calls.
func WithRetryOptions(opts service.RetryOptions) Option {
	return func(c *Client) { c.retry = opts }
}

// NewClient creates a Monarch API client.
func NewClient(token string, opts ...Option) (*Client, error) {
	if token == "" {
		return nil, fmt.Errorf("%w: monarch API token is required", common.ErrMissingConfig)
	}

	c := &Client{
		baseURL: defaultBaseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// API wire types. Monarch reports amounts as decimal dollars; everything
// internal is integer cents.
type apiAccount struct {
	ID             string  `json:"id"`
	DisplayName    string  `json:"displayName"`
	Type           apiType `json:"type"`
	IsManual       bool    `json:"isManual"`
	CurrentBalance float64 `json:"currentBalance"`
}

type apiType struct {
	Name string `json:"name"`
}

type apiTransaction struct {
	ID       string  `json:"id"`
	Date     string  `json:"date"`
	Amount   float64 `json:"amount"`
	Merchant struct {
		Name string `json:"name"`
	} `json:"merchant"`
}

type apiCategory struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ListAccounts returns every account visible to the token.
func (c *Client) ListAccounts(ctx context.Context) ([]model.RemoteAccount, error) {
	var resp struct {
		Accounts []apiAccount `json:"accounts"`
	}
	if err := c.get(ctx, "/v1/accounts", nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}

	out := make([]model.RemoteAccount, 0, len(resp.Accounts))
	for _, a := range resp.Accounts {
		out = append(out, model.RemoteAccount{
			ID:           a.ID,
			DisplayName:  a.DisplayName,
			TypeName:     a.Type.Name,
			IsManual:     a.IsManual,
			BalanceCents: dollarsToCents(a.CurrentBalance),
		})
	}
	return out, nil
}

// GetAccountBalance returns the account's current balance in cents, signed as
// Monarch reports it (liabilities are negative).
func (c *Client) GetAccountBalance(ctx context.Context, accountID string) (int64, error) {
	var resp struct {
		Account apiAccount `json:"account"`
	}
	if err := c.get(ctx, "/v1/accounts/"+url.PathEscape(accountID), nil, &resp); err != nil {
		return 0, fmt.Errorf("failed to get account %s: %w", accountID, err)
	}
	return dollarsToCents(resp.Account.CurrentBalance), nil
}

// UpdateAccountBalance overwrites the account's current balance.
func (c *Client) UpdateAccountBalance(ctx context.Context, accountID string, balanceCents int64) error {
	body := map[string]any{
		"currentBalance": centsToDollars(balanceCents),
	}
	if err := c.send(ctx, http.MethodPut, "/v1/accounts/"+url.PathEscape(accountID)+"/balance", body, nil); err != nil {
		return fmt.Errorf("failed to update balance for account %s: %w", accountID, err)
	}
	slog.Debug("Updated remote balance", "account", accountID, "balance_cents", balanceCents)
	return nil
}

// CreateTransaction creates a manual transaction and returns its remote id.
func (c *Client) CreateTransaction(ctx context.Context, in service.TransactionInput) (string, error) {
	body := map[string]any{
		"accountId":    in.AccountID,
		"date":         in.Date.Format("2006-01-02"),
		"amount":       centsToDollars(in.AmountCents),
		"merchantName": in.Merchant,
		"notes":        in.Notes,
	}
	if in.CategoryID != "" {
		body["categoryId"] = in.CategoryID
	}

	var resp struct {
		Transaction apiTransaction `json:"transaction"`
	}
	if err := c.send(ctx, http.MethodPost, "/v1/transactions", body, &resp); err != nil {
		return "", fmt.Errorf("failed to create transaction: %w", err)
	}
	if resp.Transaction.ID == "" {
		return "", fmt.Errorf("transaction created but no id returned")
	}
	return resp.Transaction.ID, nil
}

// CreateManualAccount creates a manual loan account and returns its id.
func (c *Client) CreateManualAccount(ctx context.Context, name string) (string, error) {
	body := map[string]any{
		"displayName":    name,
		"type":           "loan",
		"subtype":        "student_loan",
		"isManual":       true,
		"currentBalance": 0,
	}

	var resp struct {
		Account apiAccount `json:"account"`
	}
	if err := c.send(ctx, http.MethodPost, "/v1/accounts", body, &resp); err != nil {
		return "", fmt.Errorf("failed to create account %q: %w", name, err)
	}
	if resp.Account.ID == "" {
		return "", fmt.Errorf("account created but no id returned")
	}
	return resp.Account.ID, nil
}

// GetCategoryID resolves a category display name to its id.
func (c *Client) GetCategoryID(ctx context.Context, name string) (string, error) {
	var resp struct {
		Categories []apiCategory `json:"categories"`
	}
	if err := c.get(ctx, "/v1/categories", nil, &resp); err != nil {
		return "", fmt.Errorf("failed to list categories: %w", err)
	}
	for _, cat := range resp.Categories {
		if cat.Name == name {
			return cat.ID, nil
		}
	}
	return "", fmt.Errorf("%w: category %q", common.ErrNotFound, name)
}

// FindTransaction searches the account for a transaction with the exact date,
// amount, and merchant. It pages newest-first and stops at the first match.
func (c *Client) FindTransaction(ctx context.Context, accountID string, date time.Time, amountCents int64, merchant string) (string, bool, error) {
	day := date.Format("2006-01-02")

	for page := 0; page < searchMaxPages; page++ {
		params := url.Values{}
		params.Set("accountId", accountID)
		params.Set("startDate", day)
		params.Set("endDate", day)
		params.Set("limit", fmt.Sprintf("%d", searchPageSize))
		params.Set("offset", fmt.Sprintf("%d", page*searchPageSize))

		var resp struct {
			Transactions []apiTransaction `json:"transactions"`
			HasMore      bool             `json:"hasMore"`
		}
		if err := c.get(ctx, "/v1/transactions", params, &resp); err != nil {
			return "", false, fmt.Errorf("failed to search transactions: %w", err)
		}

		for _, tx := range resp.Transactions {
			if tx.Date == day && dollarsToCents(tx.Amount) == amountCents && tx.Merchant.Name == merchant {
				return tx.ID, true, nil
			}
		}

		if !resp.HasMore {
			break
		}
	}
	return "", false, nil
}

func (c *Client) get(ctx context.Context, path string, params url.Values, out any) error {
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	return c.do(ctx, http.MethodGet, u, nil, out)
}

func (c *Client) send(ctx context.Context, method, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}
	return c.do(ctx, method, c.baseURL+path, payload, out)
}

// do performs one API call with the retry policy. 429s and 5xx are retried;
// auth failures and other 4xx are terminal.
func (c *Client) do(ctx context.Context, method, u string, body []byte, out any) error {
	return common.WithRetry(ctx, func() error {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}

		req, err := http.NewRequestWithContext(ctx, method, u, reader)
		if err != nil {
			return &common.RetryableError{Err: err, Retryable: false}
		}
		req.Header.Set("Authorization", "Token "+c.token)
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("%w: %v", common.ErrRemoteConnection, err)
		}
		defer func() { _ = resp.Body.Close() }()

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			return common.ErrRateLimit
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return &common.RetryableError{
				Err:       fmt.Errorf("%w: status %d", common.ErrRemoteAuth, resp.StatusCode),
				Retryable: false,
			}
		case resp.StatusCode >= 500:
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return fmt.Errorf("monarch API error: %d - %s", resp.StatusCode, string(msg))
		case resp.StatusCode < 200 || resp.StatusCode >= 300:
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return &common.RetryableError{
				Err:       fmt.Errorf("monarch API error: %d - %s", resp.StatusCode, string(msg)),
				Retryable: false,
			}
		}

		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return &common.RetryableError{
				Err:       fmt.Errorf("failed to decode response: %w", err),
				Retryable: false,
			}
		}
		return nil
	}, c.retry)
}

// dollarsToCents converts an API dollar amount to integer cents without
// float drift ($3040.16 arrives as 3040.16).
func dollarsToCents(dollars float64) int64 {
	return decimal.NewFromFloat(dollars).Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

func centsToDollars(cents int64) float64 {
	f, _ := decimal.NewFromInt(cents).Div(decimal.NewFromInt(100)).Float64()
	return f
}
