package accounts

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

// Mapping binds one loan group to a remote account. The id is the stable key;
// the name is only recorded so renames can be noticed.
type Mapping struct {
	AccountID   string `json:"account_id"`
	AccountName string `json:"account_name,omitempty"`
}

type mappingFile struct {
	Version      int                `json:"version"`
	Provider     string             `json:"provider"`
	NameTemplate string             `json:"name_template"`
	UpdatedAt    time.Time          `json:"updated_at"`
	Groups       map[string]Mapping `json:"groups"`
}

// LoadMapping reads a mapping file. A missing file is an empty mapping. A
// corrupt file is quarantined as .bad and also reads as empty; the resolver
// will rebuild it from the remote account list.
func LoadMapping(path string) map[string]Mapping {
	data, err := os.ReadFile(path)
	if err != nil {
		return map[string]Mapping{}
	}

	var f mappingFile
	if err := json.Unmarshal(data, &f); err != nil {
		bad := path + ".bad"
		if renameErr := os.Rename(path, bad); renameErr != nil {
			slog.Debug("Failed to quarantine invalid mapping file", "path", path, "error", renameErr)
		} else {
			slog.Warn("Invalid account mapping JSON, quarantined", "quarantine", bad)
		}
		return map[string]Mapping{}
	}

	out := make(map[string]Mapping, len(f.Groups))
	for group, m := range f.Groups {
		if m.AccountID == "" {
			continue
		}
		out[NormalizeGroup(group)] = m
	}
	return out
}

// SaveMapping writes the mapping file atomically.
func SaveMapping(path, provider, nameTemplate string, groups map[string]Mapping) error {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("failed to create mapping directory: %w", err)
	}

	clean := make(map[string]Mapping, len(groups))
	for group, m := range groups {
		if m.AccountID == "" {
			continue
		}
		clean[NormalizeGroup(group)] = m
	}

	f := mappingFile{
		Version:      1,
		Provider:     provider,
		NameTemplate: nameTemplate,
		UpdatedAt:    time.Now().UTC(),
		Groups:       clean,
	}

	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode mapping: %w", err)
	}

	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write mapping file: %w", err)
	}
	return nil
}
