package patch

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// Result reports the outcome of ApplyFile.
type Result struct {
	Path    string
	DryRun  bool
	Created bool
	Hunks   int
}

// Message is the text shown to the model for a successful call.
func (r *Result) Message() string {
	if r.DryRun {
		return fmt.Sprintf("Patch can be applied cleanly to %s (dry_run=true).", r.Path)
	}
	return fmt.Sprintf("Successfully applied patch to %s.", r.Path)
}

// ApplyFile applies patchText to the file at path. A missing file is treated
// as empty. With dryRun set the patch is fully applied in memory and nothing
// is written. On any error the file is left untouched.
func ApplyFile(path, patchText string, dryRun bool) (*Result, error) {
	hunks, err := Parse(patchText)
	if err != nil {
		return nil, err
	}

	mode := fs.FileMode(0o644)
	created := false
	content, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		created = true
	case err != nil:
		return nil, fmt.Errorf("reading %s: %w", path, err)
	default:
		if info, err := os.Stat(path); err == nil {
			mode = info.Mode().Perm()
		}
	}

	updated, err := Apply(content, hunks)
	if err != nil {
		return nil, err
	}

	result := &Result{Path: path, DryRun: dryRun, Created: created, Hunks: len(hunks)}
	if dryRun {
		return result, nil
	}
	if err := writeAtomic(path, updated, mode); err != nil {
		return nil, err
	}
	return result, nil
}

// writeAtomic writes data to a temp file next to path and renames it into
// place.
func writeAtomic(path string, data []byte, mode fs.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating directory %s: %w", dir, err)
	}

	tmpFile, err := os.CreateTemp(dir, "."+filepath.Base(path)+".patch-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return fmt.Errorf("writing patched content: %w", err)
	}
	if err := tmpFile.Chmod(mode); err != nil {
		tmpFile.Close()
		return fmt.Errorf("setting file mode: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("renaming patched file to %s: %w", path, err)
	}

	success = true
	return nil
}
