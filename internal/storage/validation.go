package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Veraticus/loansync/internal/model"
)

// Validation errors.
var (
	ErrNilContext    = errors.New("context cannot be nil")
	ErrEmptyString   = errors.New("string parameter cannot be empty")
	ErrInvalidRecord = errors.New("invalid ledger record")
)

func validateContext(ctx context.Context) error {
	if ctx == nil {
		return ErrNilContext
	}
	return nil
}

func validateString(s string, paramName string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%w: %s", ErrEmptyString, paramName)
	}
	return nil
}

func validateRecord(rec *model.LedgerRecord) error {
	if rec == nil {
		return fmt.Errorf("%w: nil", ErrInvalidRecord)
	}
	if strings.TrimSpace(rec.Fingerprint) == "" {
		return fmt.Errorf("%w: missing fingerprint", ErrInvalidRecord)
	}
	if strings.TrimSpace(rec.Group) == "" {
		return fmt.Errorf("%w: missing group", ErrInvalidRecord)
	}
	if rec.Date.IsZero() {
		return fmt.Errorf("%w: missing payment date", ErrInvalidRecord)
	}
	return nil
}
