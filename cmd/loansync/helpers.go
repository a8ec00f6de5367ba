package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Veraticus/loansync/internal/accounts"
	"github.com/Veraticus/loansync/internal/config"
	"github.com/Veraticus/loansync/internal/monarch"
	"github.com/Veraticus/loansync/internal/service"
	"github.com/Veraticus/loansync/internal/storage"
)

// loadConfig loads and validates the application configuration.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// openStore opens (or recovers) the durable ledger store.
func openStore(cfg *config.Config) (*storage.LedgerStore, error) {
	if err := os.MkdirAll(cfg.DataDir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	return storage.Open(cfg.LedgerPath())
}

// newRemote builds the remote ledger client from configuration.
func newRemote(cfg *config.Config) (service.RemoteLedger, error) {
	if err := cfg.RequireRemoteAuth(); err != nil {
		return nil, err
	}

	opts := []monarch.Option{}
	if cfg.Remote.BaseURL != "" {
		opts = append(opts, monarch.WithBaseURL(cfg.Remote.BaseURL))
	}
	return monarch.NewClient(cfg.Remote.Token, opts...)
}

// resolveAccounts maps every configured loan group to a remote account id.
// persist is false for dry runs and read-only commands, which must never
// touch the mapping file.
func resolveAccounts(ctx context.Context, cfg *config.Config, remote service.RemoteLedger, allowCreate, persist bool) (map[string]string, error) {
	r := &accounts.Resolver{
		Remote:          remote,
		MappingPath:     cfg.MappingPath(),
		Provider:        cfg.Servicer.Provider,
		ProviderDisplay: cfg.Servicer.ProviderDisplay,
		NameTemplate:    cfg.Remote.AccountNameTemplate,
	}
	return r.Resolve(ctx, cfg.Loans, allowCreate, persist)
}

// parseDay parses a YYYY-MM-DD flag value.
func parseDay(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	day, err := time.Parse("2006-01-02", value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q (want YYYY-MM-DD)", value)
	}
	return day, nil
}

// debugDir is where failed runs leave artifacts for the debug bundle.
func debugDir(cfg *config.Config) string {
	return filepath.Join(cfg.DataDir, "debug")
}
