package config

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/spf13/viper"

	"github.com/Veraticus/loansync/internal/common"
)

// Loan group codes are short servicer tokens like "AA" or "AB".
var groupRe = regexp.MustCompile(`^[A-Z0-9]{2,8}$`)

// Loan maps one servicer loan group to a remote ledger account.
type Loan struct {
	Group       string `mapstructure:"group"`
	AccountID   string `mapstructure:"account_id"`
	AccountName string `mapstructure:"account_name"`
}

// Servicer identifies the loan servicer portal the scraper talks to.
type Servicer struct {
	Provider        string `mapstructure:"provider"`
	ProviderDisplay string `mapstructure:"provider_display"`
	BaseURL         string `mapstructure:"base_url"`
}

// Remote configures the remote personal-finance ledger client.
type Remote struct {
	BaseURL             string `mapstructure:"base_url"`
	Token               string `mapstructure:"token"`
	MerchantName        string `mapstructure:"merchant_name"`
	TransferCategory    string `mapstructure:"transfer_category"`
	AccountNameTemplate string `mapstructure:"account_name_template"`
	AutoCreateAccounts  bool   `mapstructure:"auto_create_accounts"`
}

// Config is the application configuration, loaded through viper from
// ~/.config/loansync/config.yaml and LOANSYNC_* environment variables.
type Config struct {
	DataDir  string   `mapstructure:"data_dir"`
	Servicer Servicer `mapstructure:"servicer"`
	Remote   Remote   `mapstructure:"remote"`
	Loans    []Loan   `mapstructure:"loans"`
}

// Load unmarshals and validates the current viper state.
func Load() (*Config, error) {
	viper.SetDefault("data_dir", DefaultDataDir())
	viper.SetDefault("remote.merchant_name", "Student Loan Payment")
	viper.SetDefault("remote.transfer_category", "Transfer")
	viper.SetDefault("remote.account_name_template", "{provider}-{group}")

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrInvalidConfig, err)
	}

	cfg.DataDir = ExpandPath(cfg.DataDir)
	cfg.Servicer.Provider = strings.ToLower(strings.TrimSpace(cfg.Servicer.Provider))

	// Loan groups may also arrive as a comma-separated LOANSYNC_LOAN_GROUPS
	// value, the common .env-style setup.
	if raw := viper.GetString("loan_groups"); raw != "" && len(cfg.Loans) == 0 {
		for _, g := range ParseGroups(raw) {
			cfg.Loans = append(cfg.Loans, Loan{Group: g})
		}
	}

	seen := make(map[string]bool)
	valid := cfg.Loans[:0]
	for _, loan := range cfg.Loans {
		g := strings.ToUpper(strings.TrimSpace(loan.Group))
		if !groupRe.MatchString(g) || seen[g] {
			continue
		}
		loan.Group = g
		seen[g] = true
		valid = append(valid, loan)
	}
	cfg.Loans = valid

	return &cfg, nil
}

// Validate checks the fields a sync run depends on.
func (c *Config) Validate() error {
	if c.Servicer.Provider == "" {
		return fmt.Errorf("%w: servicer.provider", common.ErrMissingConfig)
	}
	if len(c.Loans) == 0 {
		return fmt.Errorf("%w: no loan groups configured (set loans or LOANSYNC_LOAN_GROUPS)", common.ErrMissingConfig)
	}
	if c.Remote.MerchantName == "" {
		return fmt.Errorf("%w: remote.merchant_name", common.ErrMissingConfig)
	}
	return nil
}

// RequireRemoteAuth checks that remote credentials are present, for commands
// that must talk to the remote ledger.
func (c *Config) RequireRemoteAuth() error {
	if c.Remote.Token == "" {
		return common.NewUserError(
			"missing remote ledger auth: set remote.token or LOANSYNC_REMOTE_TOKEN", common.ErrMissingConfig)
	}
	return nil
}

// LedgerPath is the ledger store file location.
func (c *Config) LedgerPath() string {
	return filepath.Join(c.DataDir, "ledger.db")
}

// SessionDir is where session blobs live.
func (c *Config) SessionDir() string {
	return filepath.Join(c.DataDir, "sessions")
}

// MappingPath is the loan-group account mapping file for the provider.
func (c *Config) MappingPath() string {
	provider := c.Servicer.Provider
	if provider == "" {
		provider = "servicer"
	}
	return filepath.Join(c.DataDir, fmt.Sprintf("accounts_%s.json", provider))
}

// ParseGroups parses a comma or whitespace separated group list, dropping
// junk tokens rather than failing.
func ParseGroups(raw string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, tok := range strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n'
	}) {
		g := strings.ToUpper(strings.TrimSpace(tok))
		if g == "" || !groupRe.MatchString(g) || seen[g] {
			continue
		}
		out = append(out, g)
		seen[g] = true
	}
	return out
}
