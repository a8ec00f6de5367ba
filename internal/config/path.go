// Package config provides configuration loading and validation.
package config

import (
	"os"
	"path/filepath"
	"strings"
)

// ExpandPath expands ~ and environment variables in a file path.
func ExpandPath(path string) string {
	if path == "" {
		return path
	}

	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(home, path[2:])
		}
	} else if path == "~" {
		home, err := os.UserHomeDir()
		if err == nil {
			path = home
		}
	}

	return os.ExpandEnv(path)
}

// DefaultDataDir is where the ledger store, session blobs, and account
// mapping live unless overridden.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".loansync"
	}
	return filepath.Join(home, ".local", "share", "loansync")
}
