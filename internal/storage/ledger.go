// Package storage provides the durable ledger store: the on-disk record of
// every payment already mirrored into the remote ledger.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/Veraticus/loansync/internal/model"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// LedgerStore implements service.LedgerStore on SQLite.
type LedgerStore struct {
	db     *sql.DB
	dbPath string
}

// Open loads the ledger store, self-healing on corruption: an unreadable
// primary file is quarantined and the last-known-good backup restored; if the
// backup is also unusable, the store starts empty. Corruption never surfaces
// as an error because the remote duplicate oracle provides an independent
// second duplicate check. Only an unwritable filesystem is fatal.
func Open(dbPath string) (*LedgerStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create ledger directory: %w", err)
	}

	db, err := openOrRecover(dbPath)
	if err != nil {
		return nil, err
	}

	// SQLite doesn't benefit from multiple connections.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &LedgerStore{db: db, dbPath: dbPath}

	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate ledger store: %w", err)
	}

	// Make sure some backup exists for next time, even before the first
	// successful record.
	if _, statErr := os.Stat(backupPath(dbPath)); os.IsNotExist(statErr) {
		if backupErr := s.Backup(context.Background()); backupErr != nil {
			slog.Warn("Failed to write initial ledger backup", "error", backupErr)
		}
	}

	return s, nil
}

// openOrRecover opens the primary store file, falling back to the backup and
// then to a fresh empty store.
func openOrRecover(dbPath string) (*sql.DB, error) {
	if _, err := os.Stat(dbPath); err == nil {
		db, openErr := openSQLite(dbPath)
		if openErr == nil && healthy(db) {
			return db, nil
		}
		if db != nil {
			_ = db.Close()
		}

		slog.Warn("Ledger store unreadable or corrupt, attempting recovery", "path", dbPath)
		quarantine(dbPath)

		bak := backupPath(dbPath)
		if _, bakErr := os.Stat(bak); bakErr == nil {
			if copyErr := copyFile(bak, dbPath); copyErr == nil {
				db, openErr = openSQLite(dbPath)
				if openErr == nil && healthy(db) {
					slog.Warn("Restored ledger store from backup", "backup", bak)
					return db, nil
				}
				if db != nil {
					_ = db.Close()
				}
				quarantine(dbPath)
			}
			slog.Warn("Ledger backup unusable, starting with an empty store", "backup", bak)
		} else {
			slog.Warn("No ledger backup found, starting with an empty store")
		}
	}

	return openSQLite(dbPath)
}

func openSQLite(dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger store: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping ledger store: %w", err)
	}
	return db, nil
}

// Close closes the underlying database.
func (s *LedgerStore) Close() error {
	return s.db.Close()
}

// Path returns the primary store file path.
func (s *LedgerStore) Path() string {
	return s.dbPath
}

// Has reports whether a payment with the given fingerprint was already
// confirmed created remotely.
func (s *LedgerStore) Has(ctx context.Context, fingerprint string) (bool, error) {
	if err := validateContext(ctx); err != nil {
		return false, err
	}
	if err := validateString(fingerprint, "fingerprint"); err != nil {
		return false, err
	}

	var one int
	err := s.db.QueryRowContext(ctx,
		"SELECT 1 FROM ledger_records WHERE fingerprint = ? LIMIT 1", fingerprint).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to query ledger record: %w", err)
	}
	return true, nil
}

// Record inserts a ledger record for a remotely confirmed payment. Inserting
// an already-present fingerprint is a no-op. A write error here is fatal for
// the run: continuing without durable bookkeeping would break the at-most-once
// guarantee.
func (s *LedgerStore) Record(ctx context.Context, rec model.LedgerRecord) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateRecord(&rec); err != nil {
		return err
	}

	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO ledger_records
		(fingerprint, group_code, payment_date, amount_cents, total_cents, remote_txn_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.Fingerprint,
		rec.Group,
		rec.Date.Format("2006-01-02"),
		rec.AmountCents,
		rec.TotalCents,
		rec.RemoteTxnID,
		createdAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to record payment fingerprint: %w", err)
	}
	return nil
}

// Count returns the number of ledger records, used by tests and the reset
// command's confirmation output.
func (s *LedgerStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM ledger_records").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count ledger records: %w", err)
	}
	return n, nil
}

// Reset deletes all ledger records. Only an explicit operator action reaches
// this; nothing in a sync run ever deletes records.
func (s *LedgerStore) Reset(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM ledger_records"); err != nil {
		return fmt.Errorf("failed to reset ledger records: %w", err)
	}
	return nil
}

// LastBalanceDate returns the day the group's balance was last pushed.
func (s *LedgerStore) LastBalanceDate(ctx context.Context, group string) (time.Time, error) {
	if err := validateContext(ctx); err != nil {
		return time.Time{}, err
	}
	if err := validateString(group, "group"); err != nil {
		return time.Time{}, err
	}

	var day string
	err := s.db.QueryRowContext(ctx,
		"SELECT last_balance_date FROM balance_updates WHERE group_code = ?", group).Scan(&day)
	if err == sql.ErrNoRows {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to query balance date: %w", err)
	}

	t, err := time.Parse("2006-01-02", day)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse stored balance date %q: %w", day, err)
	}
	return t, nil
}

// SetLastBalanceDate records that the group's balance was pushed on day.
func (s *LedgerStore) SetLastBalanceDate(ctx context.Context, group string, day time.Time) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(group, "group"); err != nil {
		return err
	}

	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO balance_updates (group_code, last_balance_date, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(group_code) DO UPDATE SET
			last_balance_date = excluded.last_balance_date,
			updated_at = excluded.updated_at`,
		group, day.Format("2006-01-02"), now, now)
	if err != nil {
		return fmt.Errorf("failed to set balance date: %w", err)
	}
	return nil
}

// BeginRun inserts a run-history row and returns its id.
func (s *LedgerStore) BeginRun(ctx context.Context) (int64, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}

	res, err := s.db.ExecContext(ctx,
		"INSERT INTO runs (started_at) VALUES (?)", time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return 0, fmt.Errorf("failed to record run start: %w", err)
	}
	return res.LastInsertId()
}

// FinishRun closes out a run-history row.
func (s *LedgerStore) FinishRun(ctx context.Context, runID int64, ok bool, message string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	okInt := 0
	if ok {
		okInt = 1
	}
	_, err := s.db.ExecContext(ctx,
		"UPDATE runs SET finished_at = ?, ok = ?, message = ? WHERE id = ?",
		time.Now().UTC().Format(time.RFC3339), okInt, message, runID)
	if err != nil {
		return fmt.Errorf("failed to record run finish: %w", err)
	}
	return nil
}
