package model

import "time"

// LoanSnapshot is the current state of one loan group as scraped from the
// servicer portal. Balances are currency minor units (cents).
type LoanSnapshot struct {
	ScrapedAt             time.Time  `json:"scraped_at"`
	DueDate               *time.Time `json:"due_date,omitempty"`
	LastPaymentDate       *time.Time `json:"last_payment_date,omitempty"`
	Group                 string     `json:"group"`
	PrincipalCents        int64      `json:"principal_cents"`
	AccruedInterestCents  int64      `json:"accrued_interest_cents"`
	OutstandingCents      int64      `json:"outstanding_cents"`
	DailyAccrualCents     int64      `json:"daily_accrual_cents,omitempty"`
	LastPaymentAmountCents int64     `json:"last_payment_amount_cents,omitempty"`
}

// RemoteAccount is an account in the remote personal-finance ledger.
type RemoteAccount struct {
	ID           string
	DisplayName  string
	TypeName     string
	IsManual     bool
	BalanceCents int64
}
