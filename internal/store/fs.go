package store

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// Process-wide registry of per-file write locks. Two Store values opened on
// the same path share one mutex, so their mutations never interleave.
var (
	locksMu sync.Mutex
	locks   = make(map[string]*sync.Mutex)
)

// lockFor returns the mutex guarding the file at the cleaned absolute path.
func lockFor(path string) *sync.Mutex {
	locksMu.Lock()
	defer locksMu.Unlock()

	mu, ok := locks[path]
	if !ok {
		mu = &sync.Mutex{}
		locks[path] = mu
	}
	return mu
}

// writeAtomic replaces path with data. The bytes go to a temporary file in
// the same directory, are synced, and the temp file is renamed over the
// target. A reader sees either the old file or the new one, never a mix.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	mode := fs.FileMode(0o644)
	if info, err := os.Stat(path); err == nil {
		mode = info.Mode().Perm()
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("stat data file: %w", err)
	}

	tempFile, err := os.CreateTemp(dir, "."+filepath.Base(path)+"-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tempPath := tempFile.Name()

	// Ensure cleanup on failure
	success := false
	defer func() {
		if !success {
			os.Remove(tempPath)
		}
	}()

	if _, err := tempFile.Write(data); err != nil {
		tempFile.Close()
		return fmt.Errorf("write data file: %w", err)
	}

	if err := tempFile.Sync(); err != nil {
		tempFile.Close()
		return fmt.Errorf("sync data file: %w", err)
	}

	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("close data file: %w", err)
	}

	if err := os.Chmod(tempPath, mode); err != nil {
		return fmt.Errorf("chmod data file: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("rename data file: %w", err)
	}

	success = true
	return nil
}
