package session

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGuardLoadMissing(t *testing.T) {
	g, err := NewGuard(t.TempDir())
	require.NoError(t, err)

	blob, err := g.Load("nelnet")
	require.NoError(t, err)
	assert.Nil(t, blob)
}

func TestGuardSaveAndLoad(t *testing.T) {
	g, err := NewGuard(t.TempDir())
	require.NoError(t, err)

	state := json.RawMessage(`{"cookies":[{"name":"sid","value":"abc"}]}`)
	require.NoError(t, g.Save("nelnet", state))

	blob, err := g.Load("nelnet")
	require.NoError(t, err)
	require.NotNil(t, blob)
	assert.Equal(t, "nelnet", blob.Provider)
	assert.JSONEq(t, string(state), string(blob.State))
	assert.False(t, blob.SavedAt.IsZero())
}

func TestGuardQuarantinesCorruptBlob(t *testing.T) {
	dir := t.TempDir()
	g, err := NewGuard(dir)
	require.NoError(t, err)

	path := filepath.Join(dir, "session_nelnet.json")
	require.NoError(t, os.WriteFile(path, []byte("{truncated"), 0600))

	blob, err := g.Load("nelnet")
	require.NoError(t, err)
	assert.Nil(t, blob, "corrupt blob must read as absent")

	// Original bytes preserved under a quarantine name.
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
	matches, err := filepath.Glob(path + ".corrupt-*")
	require.NoError(t, err)
	require.Len(t, matches, 1)

	kept, err := os.ReadFile(matches[0])
	require.NoError(t, err)
	assert.Equal(t, "{truncated", string(kept))
}

func TestGuardSaveBacksUpPreviousBlob(t *testing.T) {
	dir := t.TempDir()
	g, err := NewGuard(dir)
	require.NoError(t, err)

	require.NoError(t, g.Save("nelnet", json.RawMessage(`{"v":1}`)))
	require.NoError(t, g.Save("nelnet", json.RawMessage(`{"v":2}`)))

	bak, err := os.ReadFile(filepath.Join(dir, "session_nelnet.json.bak"))
	require.NoError(t, err)

	var prev Blob
	require.NoError(t, json.Unmarshal(bak, &prev))
	assert.JSONEq(t, `{"v":1}`, string(prev.State))

	blob, err := g.Load("nelnet")
	require.NoError(t, err)
	require.NotNil(t, blob)
	assert.JSONEq(t, `{"v":2}`, string(blob.State))
}

func TestGuardRejectsEmptyState(t *testing.T) {
	g, err := NewGuard(t.TempDir())
	require.NoError(t, err)

	assert.Error(t, g.Save("nelnet", nil))
}

func TestGuardDiscard(t *testing.T) {
	g, err := NewGuard(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, g.Save("nelnet", json.RawMessage(`{"v":1}`)))
	require.NoError(t, g.Discard("nelnet"))
	require.NoError(t, g.Discard("nelnet")) // idempotent

	blob, err := g.Load("nelnet")
	require.NoError(t, err)
	assert.Nil(t, blob)
}
