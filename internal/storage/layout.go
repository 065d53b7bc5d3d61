package storage

import (
	"fmt"
	"os"
	"path/filepath"
)

// The data directory holds everything a run produces:
//
//	<data-dir>/bookforge.db    structured rows (SQLite)
//	<data-dir>/checkpoints/    one JSON checkpoint per unfinished book
//	<data-dir>/books/<id>/     manuscript and report blobs
//
// The FileSystem store is rooted at the data directory, so blob keys
// are the checkpoints/ and books/ paths above.

// DefaultDataDir resolves the per-user data directory, honoring
// XDG_DATA_HOME when set.
func DefaultDataDir() (string, error) {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "bookforge"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".local", "share", "bookforge"), nil
}

// DatabasePath returns the SQLite file inside a data directory.
func DatabasePath(dataDir string) string {
	return filepath.Join(dataDir, "bookforge.db")
}
