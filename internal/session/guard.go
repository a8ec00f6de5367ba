// Package session validates and self-heals the serialized browser/API session
// blobs used to skip repeated logins. Sessions are a performance optimization:
// losing one degrades to a fresh (slower) login, never to a hard failure.
package session

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/natefinch/atomic"
)

// Blob is a stored session artifact for one provider. The State payload is
// opaque to the guard; it only has to be well-formed JSON.
type Blob struct {
	SavedAt  time.Time       `json:"saved_at"`
	Provider string          `json:"provider"`
	State    json.RawMessage `json:"state"`
}

// Guard manages per-provider session blobs under a single directory.
type Guard struct {
	dir string
}

// NewGuard creates a session guard rooted at dir.
func NewGuard(dir string) (*Guard, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create session directory: %w", err)
	}
	return &Guard{dir: dir}, nil
}

func (g *Guard) path(providerID string) string {
	return filepath.Join(g.dir, fmt.Sprintf("session_%s.json", providerID))
}

// Load reads the stored blob for a provider. A missing blob returns (nil, nil).
// A corrupt blob is quarantined for diagnosis and also returns (nil, nil),
// signaling the caller to start a fresh unauthenticated session.
func (g *Guard) Load(providerID string) (*Blob, error) {
	path := g.path(providerID)

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session blob: %w", err)
	}

	var blob Blob
	if err := json.Unmarshal(data, &blob); err != nil || len(blob.State) == 0 {
		g.quarantine(path)
		return nil, nil
	}

	return &blob, nil
}

// Save stores a new blob for a provider, backing up the previous good blob
// first and writing the new one atomically. A half-written session file is
// never observable.
func (g *Guard) Save(providerID string, state json.RawMessage) error {
	if len(state) == 0 {
		return fmt.Errorf("refusing to save empty session state for provider %s", providerID)
	}

	blob := Blob{
		Provider: providerID,
		SavedAt:  time.Now().UTC(),
		State:    state,
	}

	data, err := json.MarshalIndent(blob, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode session blob: %w", err)
	}

	path := g.path(providerID)

	// Keep the previous good blob as .bak before overwriting.
	if prev, readErr := os.ReadFile(path); readErr == nil && json.Valid(prev) {
		if bakErr := atomic.WriteFile(path+".bak", bytes.NewReader(prev)); bakErr != nil {
			slog.Warn("Failed to back up previous session blob", "provider", providerID, "error", bakErr)
		}
	}

	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write session blob: %w", err)
	}
	return nil
}

// Discard removes a provider's blob, forcing the next run to log in fresh.
func (g *Guard) Discard(providerID string) error {
	err := os.Remove(g.path(providerID))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to discard session blob: %w", err)
	}
	return nil
}

func (g *Guard) quarantine(path string) {
	stamp := time.Now().UTC().Format("20060102T150405Z")
	dst := path + ".corrupt-" + stamp
	if err := os.Rename(path, dst); err != nil {
		slog.Debug("Failed to quarantine session blob", "path", path, "error", err)
		return
	}
	slog.Warn("Quarantined corrupt session blob, a fresh login will be required",
		"path", path, "quarantine", dst)
}
