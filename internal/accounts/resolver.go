package accounts

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Veraticus/loansync/internal/config"
	"github.com/Veraticus/loansync/internal/model"
	"github.com/Veraticus/loansync/internal/service"
)

// Resolver resolves loan group -> remote account id, in priority order:
// explicit config id, persisted mapping file, explicit config name, then
// name-template heuristics against the remote's manual accounts. Missing
// groups can optionally be created as new manual accounts.
type Resolver struct {
	Remote          service.RemoteLedger
	MappingPath     string
	Provider        string
	ProviderDisplay string
	NameTemplate    string
}

// Resolve maps every configured loan group to an account id. When
// allowCreate is true, unmatched groups get a fresh manual account. When
// persist is true the mapping file is rewritten if ids or display names
// changed; dry runs pass false and leave the file untouched.
func (r *Resolver) Resolve(ctx context.Context, loans []config.Loan, allowCreate, persist bool) (map[string]string, error) {
	template := strings.TrimSpace(r.NameTemplate)
	if template == "" {
		template = DefaultNameTemplate
	}

	mapping := LoadMapping(r.MappingPath)

	remoteAccounts, err := r.Remote.ListAccounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list remote accounts: %w", err)
	}

	byID := make(map[string]model.RemoteAccount, len(remoteAccounts))
	var manual []model.RemoteAccount
	for _, a := range remoteAccounts {
		byID[a.ID] = a
		if a.IsManual {
			manual = append(manual, a)
		}
	}

	out := make(map[string]string, len(loans))
	var missing []string
	changed := false

	for _, loan := range loans {
		group := NormalizeGroup(loan.Group)
		if group == "" {
			continue
		}

		acctID := strings.TrimSpace(loan.AccountID)

		if acctID == "" {
			if m, ok := mapping[group]; ok {
				acctID = m.AccountID
			}
		}

		if acctID == "" && loan.AccountName != "" {
			acctID = findByExactName(manual, []string{loan.AccountName})
		}

		if acctID == "" {
			wanted := CandidateNames(template, group, r.Provider, r.ProviderDisplay)
			acctID = findByExactName(manual, wanted)
			if acctID == "" {
				var matchErr error
				acctID, matchErr = findByGroupToken(manual, group)
				if matchErr != nil {
					return nil, matchErr
				}
			}
		}

		if acctID == "" {
			if !allowCreate {
				missing = append(missing, group)
				continue
			}
			name := RenderName(template, group, r.Provider, r.ProviderDisplay)
			acctID, err = r.Remote.CreateManualAccount(ctx, name)
			if err != nil {
				return nil, fmt.Errorf("failed to create account for group %s: %w", group, err)
			}
			byID[acctID] = model.RemoteAccount{ID: acctID, DisplayName: name, IsManual: true}
			slog.Info("Created remote manual account", "group", group, "name", name, "account", acctID)
		}

		if _, ok := byID[acctID]; !ok {
			return nil, fmt.Errorf("remote account id not found for group %s: %s", group, acctID)
		}
		out[group] = acctID

		// Record id + current display name so renames stay traceable.
		dn := byID[acctID].DisplayName
		if prev, ok := mapping[group]; !ok || prev.AccountID != acctID || (dn != "" && prev.AccountName != dn) {
			mapping[group] = Mapping{AccountID: acctID, AccountName: dn}
			changed = true
		}
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("missing account mappings for loan groups %s; run setup-accounts to create or map them",
			strings.Join(missing, ", "))
	}

	if changed && persist {
		if err := SaveMapping(r.MappingPath, r.Provider, template, mapping); err != nil {
			return nil, err
		}
		slog.Info("Wrote loan account mapping", "path", r.MappingPath)
	}

	return out, nil
}

func findByExactName(accounts []model.RemoteAccount, wanted []string) string {
	want := make(map[string]bool, len(wanted))
	for _, n := range wanted {
		if n = strings.TrimSpace(n); n != "" {
			want[normalizeName(n)] = true
		}
	}

	var matches []model.RemoteAccount
	for _, a := range accounts {
		if want[normalizeName(a.DisplayName)] {
			matches = append(matches, a)
		}
	}
	if len(matches) == 1 {
		return matches[0].ID
	}
	// Ambiguity falls through to token matching, which raises its own error.
	return ""
}

func findByGroupToken(accounts []model.RemoteAccount, group string) (string, error) {
	var matches []model.RemoteAccount
	for _, a := range accounts {
		if NameContainsGroup(a.DisplayName, group) {
			matches = append(matches, a)
		}
	}
	switch len(matches) {
	case 0:
		return "", nil
	case 1:
		slog.Info("Auto-mapped loan group by token match",
			"group", group, "account_name", matches[0].DisplayName)
		return matches[0].ID, nil
	default:
		return "", fmt.Errorf("multiple remote accounts contain group token %s; run setup-accounts to choose one", group)
	}
}
