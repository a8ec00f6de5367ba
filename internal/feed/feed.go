// Package feed loads the scraped-facts file that the servicer scraper hands
// to the reconciliation engine. The file is the boundary between scraping and
// reconciliation: snapshots of each loan group plus the payment history, as
// JSON, amounts already in cents.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/Veraticus/loansync/internal/model"
	"github.com/Veraticus/loansync/internal/money"
)

// currentVersion is the only feed schema this loader understands.
const currentVersion = 1

// Scrapers may emit amounts either as integer cents or as the servicer's
// display strings ("$3,040.16", possibly with surrounding text). The string
// form fills the cents field when the latter is absent.
type feedSnapshot struct {
	model.LoanSnapshot
	Principal       string `json:"principal,omitempty"`
	AccruedInterest string `json:"accrued_interest,omitempty"`
	Outstanding     string `json:"outstanding,omitempty"`
}

type feedPayment struct {
	model.PaymentAllocation
	Amount       string `json:"amount,omitempty"`
	Principal    string `json:"principal,omitempty"`
	Interest     string `json:"interest,omitempty"`
	PaymentTotal string `json:"payment_total,omitempty"`
}

type feedFile struct {
	Version   int            `json:"version"`
	Provider  string         `json:"provider"`
	ScrapedAt time.Time      `json:"scraped_at"`
	Snapshots []feedSnapshot `json:"snapshots"`
	Payments  []feedPayment  `json:"payments"`
}

// centsFromText parses a scraped display amount, tolerating surrounding text
// like "Outstanding Balance: $3,040.16".
func centsFromText(raw string) (int64, error) {
	if tok := money.FindFirst(raw); tok != "" {
		raw = tok
	}
	return money.ParseCents(raw)
}

// fillCents sets *cents from text when text is present and cents was not
// already given in integer form.
func fillCents(cents *int64, text string) error {
	if text == "" || *cents != 0 {
		return nil
	}
	v, err := centsFromText(text)
	if err != nil {
		return err
	}
	*cents = v
	return nil
}

// FileFeed reads scraped facts from a JSON file. Since, when set, drops
// payment allocations dated before it; snapshots always pass through.
type FileFeed struct {
	Path  string
	Since time.Time
}

// Facts implements service.Feed.
func (f *FileFeed) Facts(_ context.Context) ([]model.LoanSnapshot, []model.PaymentAllocation, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read feed file: %w", err)
	}

	var ff feedFile
	if err := json.Unmarshal(data, &ff); err != nil {
		return nil, nil, fmt.Errorf("invalid feed file %s: %w", f.Path, err)
	}
	if ff.Version != currentVersion {
		return nil, nil, fmt.Errorf("unsupported feed version %d in %s (want %d)", ff.Version, f.Path, currentVersion)
	}

	groups := make(map[string]bool, len(ff.Snapshots))
	snapshots := make([]model.LoanSnapshot, 0, len(ff.Snapshots))
	for i := range ff.Snapshots {
		s := &ff.Snapshots[i]
		g := strings.ToUpper(strings.TrimSpace(s.Group))
		if g == "" {
			return nil, nil, fmt.Errorf("feed snapshot %d has no loan group", i)
		}
		if groups[g] {
			return nil, nil, fmt.Errorf("feed has duplicate snapshot for loan group %s", g)
		}
		groups[g] = true
		s.LoanSnapshot.Group = g

		for _, fill := range []struct {
			cents *int64
			text  string
		}{
			{&s.PrincipalCents, s.Principal},
			{&s.AccruedInterestCents, s.AccruedInterest},
			{&s.OutstandingCents, s.Outstanding},
		} {
			if err := fillCents(fill.cents, fill.text); err != nil {
				return nil, nil, fmt.Errorf("feed snapshot %s: %w", g, err)
			}
		}
		snapshots = append(snapshots, s.LoanSnapshot)
	}

	payments := make([]model.PaymentAllocation, 0, len(ff.Payments))
	dropped := 0
	for i := range ff.Payments {
		fp := &ff.Payments[i]
		for _, fill := range []struct {
			cents *int64
			text  string
		}{
			{&fp.AmountCents, fp.Amount},
			{&fp.PrincipalCents, fp.Principal},
			{&fp.InterestCents, fp.Interest},
			{&fp.PaymentTotalCents, fp.PaymentTotal},
		} {
			if err := fillCents(fill.cents, fill.text); err != nil {
				return nil, nil, fmt.Errorf("feed payment %d: %w", i, err)
			}
		}

		p := fp.PaymentAllocation
		p.Group = strings.ToUpper(strings.TrimSpace(p.Group))
		if err := p.Valid(); err != nil {
			return nil, nil, fmt.Errorf("feed payment %d: %w", i, err)
		}
		if !groups[p.Group] {
			return nil, nil, fmt.Errorf("feed payment %d references unknown loan group %s", i, p.Group)
		}
		if !f.Since.IsZero() && p.Date.Before(f.Since) {
			dropped++
			continue
		}
		payments = append(payments, p)
	}

	// Oldest first so earlier payments resolve before later ones.
	sort.SliceStable(payments, func(i, j int) bool {
		return payments[i].Date.Before(payments[j].Date)
	})

	slog.Debug("Loaded scraped facts",
		"path", f.Path,
		"provider", ff.Provider,
		"snapshots", len(snapshots),
		"payments", len(payments),
		"dropped_before_cutoff", dropped)

	return snapshots, payments, nil
}
