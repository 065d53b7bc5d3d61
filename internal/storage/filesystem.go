// Package storage provides the two persistence backends of the
// pipeline: a FileSystem blob store for checkpoints, manuscripts, and
// reports, and a SQLite store for the structured book rows.
package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FileSystem stores blobs under a base directory. Keys are
// slash-separated relative paths; anything that resolves outside the
// base directory is rejected.
type FileSystem struct {
	baseDir string
}

func NewFileSystem(baseDir string) *FileSystem {
	return &FileSystem{
		baseDir: baseDir,
	}
}

// resolve validates a key and maps it to an absolute path inside baseDir.
func (fs *FileSystem) resolve(key string) (string, error) {
	cleaned := filepath.Clean(filepath.FromSlash(key))

	if strings.Contains(cleaned, "..") {
		return "", fmt.Errorf("key %q: contains parent directory reference", key)
	}
	if filepath.IsAbs(cleaned) {
		return "", fmt.Errorf("key %q: absolute paths not allowed", key)
	}

	fullPath := filepath.Join(fs.baseDir, cleaned)

	// Re-check the joined path; Join can collapse tricky inputs.
	if !strings.HasPrefix(fullPath, fs.baseDir+string(filepath.Separator)) && fullPath != fs.baseDir {
		return "", fmt.Errorf("key %q: outside base directory", key)
	}

	return fullPath, nil
}

// Save writes data atomically: the bytes land in a temp file first and
// are renamed into place, so readers never observe a torn write and a
// crash mid-save leaves the previous version intact.
func (fs *FileSystem) Save(ctx context.Context, key string, data []byte) error {
	fullPath, err := fs.resolve(key)
	if err != nil {
		return err
	}

	dir := filepath.Dir(fullPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing %s: %w", key, err)
	}
	if err := tmp.Chmod(0644); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("writing %s: %w", key, err)
	}

	if err := os.Rename(tmpName, fullPath); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("writing %s: %w", key, err)
	}

	return nil
}

func (fs *FileSystem) Load(ctx context.Context, key string) ([]byte, error) {
	fullPath, err := fs.resolve(key)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(fullPath)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", key, err)
	}

	return data, nil
}

// List returns the keys matching a glob pattern, relative to the base
// directory and slash-separated regardless of platform.
func (fs *FileSystem) List(ctx context.Context, pattern string) ([]string, error) {
	cleaned := filepath.Clean(filepath.FromSlash(pattern))
	if strings.Contains(cleaned, "..") {
		return nil, fmt.Errorf("pattern %q: contains parent directory reference", pattern)
	}
	if filepath.IsAbs(cleaned) {
		return nil, fmt.Errorf("pattern %q: absolute paths not allowed", pattern)
	}

	matches, err := filepath.Glob(filepath.Join(fs.baseDir, cleaned))
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", pattern, err)
	}

	var keys []string
	for _, match := range matches {
		if !strings.HasPrefix(match, fs.baseDir+string(filepath.Separator)) && match != fs.baseDir {
			continue
		}
		rel, err := filepath.Rel(fs.baseDir, match)
		if err != nil {
			continue
		}
		keys = append(keys, filepath.ToSlash(rel))
	}

	return keys, nil
}

func (fs *FileSystem) Exists(ctx context.Context, key string) bool {
	fullPath, err := fs.resolve(key)
	if err != nil {
		return false
	}

	_, err = os.Stat(fullPath)
	return err == nil
}

func (fs *FileSystem) Delete(ctx context.Context, key string) error {
	fullPath, err := fs.resolve(key)
	if err != nil {
		return err
	}

	if err := os.Remove(fullPath); err != nil {
		return fmt.Errorf("deleting %s: %w", key, err)
	}

	return nil
}
