package accounts_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/loansync/internal/accounts"
	"github.com/Veraticus/loansync/internal/config"
	"github.com/Veraticus/loansync/internal/engine"
	"github.com/Veraticus/loansync/internal/model"
)

func newResolver(t *testing.T, remote *engine.MockRemote) *accounts.Resolver {
	t.Helper()
	return &accounts.Resolver{
		Remote:          remote,
		MappingPath:     filepath.Join(t.TempDir(), "accounts_monarch.json"),
		Provider:        "monarch",
		ProviderDisplay: "Monarch Money",
		NameTemplate:    accounts.DefaultNameTemplate,
	}
}

func TestResolvePrefersConfiguredAccountID(t *testing.T) {
	remote := engine.NewMockRemote()
	remote.Accounts["acct-9"] = model.RemoteAccount{ID: "acct-9", DisplayName: "Whatever", IsManual: true}

	r := newResolver(t, remote)
	got, err := r.Resolve(context.Background(), []config.Loan{
		{Group: "AA", AccountID: "acct-9"},
	}, false, false)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"AA": "acct-9"}, got)
}

func TestResolveConfiguredAccountIDMissingOnRemote(t *testing.T) {
	remote := engine.NewMockRemote()
	r := newResolver(t, remote)

	_, err := r.Resolve(context.Background(), []config.Loan{
		{Group: "AA", AccountID: "acct-gone"},
	}, false, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "acct-gone")
}

func TestResolveUsesPersistedMapping(t *testing.T) {
	remote := engine.NewMockRemote()
	remote.Accounts["acct-1"] = model.RemoteAccount{ID: "acct-1", DisplayName: "Renamed Account", IsManual: true}

	r := newResolver(t, remote)
	require.NoError(t, accounts.SaveMapping(r.MappingPath, "monarch", r.NameTemplate, map[string]accounts.Mapping{
		"AA": {AccountID: "acct-1", AccountName: "Old Name"},
	}))

	got, err := r.Resolve(context.Background(), []config.Loan{{Group: "AA"}}, false, false)
	require.NoError(t, err)
	assert.Equal(t, "acct-1", got["AA"], "mapping survives account renames because it keys by id")
}

func TestResolveMatchesCandidateNames(t *testing.T) {
	remote := engine.NewMockRemote()
	remote.Accounts["acct-1"] = model.RemoteAccount{ID: "acct-1", DisplayName: "Federal-AA", IsManual: true}
	remote.Accounts["acct-2"] = model.RemoteAccount{ID: "acct-2", DisplayName: "monarch-AB", IsManual: true}
	remote.Accounts["acct-3"] = model.RemoteAccount{ID: "acct-3", DisplayName: "Checking", IsManual: false}

	r := newResolver(t, remote)
	got, err := r.Resolve(context.Background(), []config.Loan{
		{Group: "AA"},
		{Group: "AB"},
	}, false, true)
	require.NoError(t, err)
	assert.Equal(t, "acct-1", got["AA"])
	assert.Equal(t, "acct-2", got["AB"])

	saved := accounts.LoadMapping(r.MappingPath)
	assert.Equal(t, "acct-1", saved["AA"].AccountID, "matches are persisted for next run")
	assert.Equal(t, "acct-2", saved["AB"].AccountID)
}

func TestResolveWithoutPersistLeavesMappingAbsent(t *testing.T) {
	remote := engine.NewMockRemote()
	remote.Accounts["acct-1"] = model.RemoteAccount{ID: "acct-1", DisplayName: "Dept of Ed loans (AA)", IsManual: true}

	r := newResolver(t, remote)
	got, err := r.Resolve(context.Background(), []config.Loan{{Group: "AA"}}, false, false)
	require.NoError(t, err)
	assert.Equal(t, "acct-1", got["AA"])

	_, statErr := os.Stat(r.MappingPath)
	assert.True(t, os.IsNotExist(statErr), "read-only resolve must not write the mapping file")
}

func TestResolveWithoutPersistKeepsExistingMapping(t *testing.T) {
	remote := engine.NewMockRemote()
	remote.Accounts["acct-2"] = model.RemoteAccount{ID: "acct-2", DisplayName: "Renamed", IsManual: true}

	r := newResolver(t, remote)
	require.NoError(t, accounts.SaveMapping(r.MappingPath, "monarch", r.NameTemplate, map[string]accounts.Mapping{
		"AA": {AccountID: "acct-2", AccountName: "Old Name"},
	}))

	_, err := r.Resolve(context.Background(), []config.Loan{{Group: "AA"}}, false, false)
	require.NoError(t, err)

	saved := accounts.LoadMapping(r.MappingPath)
	assert.Equal(t, "Old Name", saved["AA"].AccountName, "rename refresh waits for a persisting run")
}

func TestResolveMatchesByGroupToken(t *testing.T) {
	remote := engine.NewMockRemote()
	remote.Accounts["acct-1"] = model.RemoteAccount{ID: "acct-1", DisplayName: "Dept of Ed loans (AA)", IsManual: true}

	r := newResolver(t, remote)
	got, err := r.Resolve(context.Background(), []config.Loan{{Group: "AA"}}, false, false)
	require.NoError(t, err)
	assert.Equal(t, "acct-1", got["AA"])
}

func TestResolveAmbiguousTokenMatchErrors(t *testing.T) {
	remote := engine.NewMockRemote()
	remote.Accounts["acct-1"] = model.RemoteAccount{ID: "acct-1", DisplayName: "Loans AA old", IsManual: true}
	remote.Accounts["acct-2"] = model.RemoteAccount{ID: "acct-2", DisplayName: "Loans AA new", IsManual: true}

	r := newResolver(t, remote)
	_, err := r.Resolve(context.Background(), []config.Loan{{Group: "AA"}}, false, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "multiple remote accounts")
}

func TestResolveMissingGroupWithoutCreate(t *testing.T) {
	remote := engine.NewMockRemote()
	r := newResolver(t, remote)

	_, err := r.Resolve(context.Background(), []config.Loan{{Group: "AA"}, {Group: "AB"}}, false, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AA, AB")
	assert.Contains(t, err.Error(), "setup-accounts")
}

func TestResolveCreatesMissingAccounts(t *testing.T) {
	remote := engine.NewMockRemote()
	r := newResolver(t, remote)

	got, err := r.Resolve(context.Background(), []config.Loan{{Group: "AA"}}, true, true)
	require.NoError(t, err)

	id := got["AA"]
	require.NotEmpty(t, id)
	assert.Equal(t, "monarch-AA", remote.Accounts[id].DisplayName)
	assert.True(t, remote.Accounts[id].IsManual)

	saved := accounts.LoadMapping(r.MappingPath)
	assert.Equal(t, id, saved["AA"].AccountID)
}

func TestResolveIgnoresNonManualAccounts(t *testing.T) {
	remote := engine.NewMockRemote()
	remote.Accounts["acct-1"] = model.RemoteAccount{ID: "acct-1", DisplayName: "Federal-AA", IsManual: false}

	r := newResolver(t, remote)
	_, err := r.Resolve(context.Background(), []config.Loan{{Group: "AA"}}, false, false)
	require.Error(t, err, "linked accounts are never auto-mapped")
}
