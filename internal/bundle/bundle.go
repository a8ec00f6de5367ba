// Package bundle collects diagnostics into a single zip after a failed run:
// the log file plus anything the run left in the debug directory.
package bundle

import (
	"archive/zip"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Options names the artifacts to collect.
type Options struct {
	// Provider tags the archive name, e.g. "mohela".
	Provider string
	// OutDir receives the archive. Defaults to the current directory.
	OutDir string
	// LogFile is included when it exists.
	LogFile string
	// DebugDir's contents are included recursively when it exists.
	DebugDir string
}

// Write creates the debug archive and returns its path. Artifacts that do not
// exist are skipped; an archive with zero entries is an error.
func Write(opts Options) (string, error) {
	provider := strings.TrimSpace(opts.Provider)
	if provider == "" {
		provider = "unknown"
	}
	outDir := opts.OutDir
	if outDir == "" {
		outDir = "."
	}

	stamp := time.Now().Format("20060102-150405")
	path := filepath.Join(outDir, fmt.Sprintf("loansync_debug_%s_%s.zip", provider, stamp))

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create debug bundle: %w", err)
	}
	defer func() { _ = f.Close() }()

	zw := zip.NewWriter(f)
	entries := 0

	if opts.LogFile != "" {
		ok, err := addFile(zw, opts.LogFile, filepath.Base(opts.LogFile))
		if err != nil {
			return "", err
		}
		if ok {
			entries++
		}
	}

	if opts.DebugDir != "" {
		n, err := addDir(zw, opts.DebugDir)
		if err != nil {
			return "", err
		}
		entries += n
	}

	if err := zw.Close(); err != nil {
		return "", fmt.Errorf("failed to finalize debug bundle: %w", err)
	}

	if entries == 0 {
		_ = os.Remove(path)
		return "", fmt.Errorf("no debug artifacts found to bundle")
	}

	slog.Info("Wrote debug bundle", "path", path, "entries", entries)
	return path, nil
}

func addFile(zw *zip.Writer, src, name string) (bool, error) {
	in, err := os.Open(src)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer func() { _ = in.Close() }()

	w, err := zw.Create(name)
	if err != nil {
		return false, fmt.Errorf("failed to add %s to bundle: %w", name, err)
	}
	if _, err := io.Copy(w, in); err != nil {
		return false, fmt.Errorf("failed to copy %s into bundle: %w", name, err)
	}
	return true, nil
}

func addDir(zw *zip.Writer, dir string) (int, error) {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return 0, nil
	}

	count := 0
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		ok, err := addFile(zw, path, filepath.ToSlash(filepath.Join("debug", rel)))
		if err != nil {
			return err
		}
		if ok {
			count++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to walk debug dir %s: %w", dir, err)
	}
	return count, nil
}
