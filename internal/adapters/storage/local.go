// Package storage provides mosaic publishing adapters.
package storage

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/jobrunner/s2mosaic/internal/domain"
	"github.com/jobrunner/s2mosaic/internal/ports/output"
)

// LocalStorage implements Publisher for a local directory.
type LocalStorage struct {
	basePath string
}

// NewLocalStorage creates a new local storage adapter.
func NewLocalStorage(basePath string) *LocalStorage {
	return &LocalStorage{basePath: basePath}
}

// Type implements Publisher.
func (s *LocalStorage) Type() output.StorageType {
	return output.StorageTypeLocal
}

// Exists checks if a file exists.
func (s *LocalStorage) Exists(ctx context.Context, key string) (bool, error) {
	_, err := os.Stat(s.FullPath(key))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, &domain.StorageError{Operation: "exists", Key: key, Err: err}
}

// Upload copies the file into the base directory (no-op if it already lives
// there).
func (s *LocalStorage) Upload(ctx context.Context, key string, path string) error {
	if err := s.copyFile(path, s.FullPath(key)); err != nil {
		return &domain.StorageError{Operation: "upload", Key: key, Err: err}
	}
	return nil
}

func (s *LocalStorage) copyFile(path, dest string) error {
	// If source and dest are the same, nothing to do
	if filepath.Clean(path) == dest {
		return nil
	}

	// Create destination directory if needed
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}

	src, err := os.Open(path) //#nosec G304 -- path is a mosaic written by this process
	if err != nil {
		return err
	}
	defer func() { _ = src.Close() }()

	tmp := dest + ".partial"
	dst, err := os.Create(tmp) //#nosec G304 -- tmp is inside the configured base path
	if err != nil {
		return err
	}

	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := dst.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dest)
}

// FullPath returns the full path for a key.
func (s *LocalStorage) FullPath(key string) string {
	return filepath.Join(s.basePath, key)
}
