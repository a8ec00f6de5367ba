package storage

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// backupPath returns the last-known-good snapshot location for a store file.
func backupPath(dbPath string) string {
	return dbPath + ".bak"
}

// Backup refreshes the last-known-good snapshot of the store. The snapshot is
// written to a temp file and renamed into place, so the backup on disk is
// always a complete, previously-valid copy, never a partial one.
func (s *LedgerStore) Backup(ctx context.Context) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	bak := backupPath(s.dbPath)
	tmp := bak + ".tmp"
	_ = os.Remove(tmp)

	// VACUUM INTO produces a consistent single-file snapshot even with WAL
	// pages outstanding. Guard the interpolated path first.
	if strings.ContainsAny(tmp, `'";`) {
		return fmt.Errorf("invalid backup path: %q", tmp)
	}
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf("VACUUM INTO '%s'", tmp)); err != nil {
		// Older SQLite builds: checkpoint the WAL and fall back to a file copy.
		if _, cpErr := s.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); cpErr != nil {
			return fmt.Errorf("failed to checkpoint WAL for backup: %w", cpErr)
		}
		if copyErr := copyFile(s.dbPath, tmp); copyErr != nil {
			return fmt.Errorf("failed to snapshot ledger store: %w", copyErr)
		}
	}

	if err := os.Rename(tmp, bak); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to publish ledger backup: %w", err)
	}
	return nil
}

// RestoreBackup replaces the store file with its backup snapshot. The current
// file, if present, is quarantined first so nothing is destroyed. The store
// must not be open.
func RestoreBackup(dbPath string) error {
	bak := backupPath(dbPath)
	if _, err := os.Stat(bak); err != nil {
		return fmt.Errorf("no ledger backup at %s: %w", bak, err)
	}

	if _, err := os.Stat(dbPath); err == nil {
		quarantine(dbPath)
	}
	if err := copyFile(bak, dbPath); err != nil {
		return fmt.Errorf("failed to restore ledger backup: %w", err)
	}
	return nil
}

// healthy reports whether the open database passes SQLite's quick check.
func healthy(db *sql.DB) bool {
	// schema_version fails fast on "file is not a database".
	var v int
	if err := db.QueryRow("PRAGMA schema_version").Scan(&v); err != nil {
		return false
	}

	var result string
	if err := db.QueryRow("PRAGMA quick_check").Scan(&result); err != nil {
		return false
	}
	return result == "ok"
}

// quarantine moves a corrupt store file (and its WAL sidecars) aside with a
// timestamped suffix, preserving the bytes for diagnosis.
func quarantine(dbPath string) {
	stamp := time.Now().UTC().Format("20060102T150405Z")
	for _, p := range []string{dbPath, dbPath + "-wal", dbPath + "-shm"} {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		dst := p + ".corrupt-" + stamp
		if err := os.Rename(p, dst); err != nil {
			slog.Debug("Failed to quarantine ledger file", "path", p, "error", err)
			continue
		}
		slog.Warn("Quarantined corrupt ledger file", "path", p, "quarantine", dst)
	}
}

// copyFile copies src to dst through a temp file and an atomic rename.
func copyFile(src, dst string) error {
	tmp := dst + ".tmp"
	if !filepath.IsAbs(tmp) && strings.Contains(tmp, "..") {
		return fmt.Errorf("invalid file path: %q", tmp)
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := in.Close(); closeErr != nil {
			slog.Error("failed to close source file", "error", closeErr)
		}
	}()

	out, err := os.Create(tmp)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}

	return os.Rename(tmp, dst)
}
