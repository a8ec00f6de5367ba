package model

import "time"

// LedgerRecord marks one payment as confirmed created in the remote ledger.
// A record exists iff the remote side acknowledged the transaction; records
// are inserted exactly once and never mutated.
type LedgerRecord struct {
	CreatedAt   time.Time
	Date        time.Time
	Fingerprint string
	Group       string
	RemoteTxnID string
	AmountCents int64
	TotalCents  int64
}
