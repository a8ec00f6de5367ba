// Package model defines the core domain types shared across the application.
package model

import (
	"crypto/sha256"
	"fmt"
	"time"
)

// PaymentAllocation is one servicer payment as applied to a single loan group.
// Allocations are produced fresh each run by the scraper and are immutable.
type PaymentAllocation struct {
	Date              time.Time `json:"date"`
	Group             string    `json:"group"`
	Reference         string    `json:"reference,omitempty"`
	AmountCents       int64     `json:"amount_cents"`
	PrincipalCents    int64     `json:"principal_cents"`
	InterestCents     int64     `json:"interest_cents"`
	PaymentTotalCents int64     `json:"payment_total_cents"`
}

// Fingerprint derives the deterministic identity key used for duplicate
// detection. The merchant label is a configuration value, not a scraped one;
// changing it after the first run intentionally produces new fingerprints.
//
// Known limitation: two distinct payments posted the same day for the same
// amount within one loan group collide under this key.
func (a *PaymentAllocation) Fingerprint(merchant string) string {
	data := fmt.Sprintf("%s:%s:%d:%s",
		a.Group,
		a.Date.Format("2006-01-02"),
		a.AmountCents,
		merchant)
	sum := sha256.Sum256([]byte(data))
	return fmt.Sprintf("%x", sum)
}

// Valid reports whether the allocation can ever become a ledger transaction.
func (a *PaymentAllocation) Valid() error {
	if a.Group == "" {
		return fmt.Errorf("allocation missing loan group")
	}
	if a.Date.IsZero() {
		return fmt.Errorf("allocation missing posting date")
	}
	if a.AmountCents <= 0 {
		return fmt.Errorf("allocation amount must be positive, got %d", a.AmountCents)
	}
	return nil
}
