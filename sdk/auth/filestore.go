package auth

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/router-for-me/clipify/internal/misc"
	"github.com/router-for-me/clipify/internal/util"
)

const sealedFileExt = ".sealed"

var keyPattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// FileBackend persists sealed values as one 0600 file per key under a 0700 directory.
// Writes go through a temp file and rename, so a crash never leaves a half-written record.
type FileBackend struct {
	mu      sync.Mutex
	baseDir string
}

// NewFileBackend creates a backend rooted at dir.
func NewFileBackend(dir string) *FileBackend {
	return &FileBackend{baseDir: strings.TrimSpace(dir)}
}

// BaseDir returns the directory holding the sealed files.
func (s *FileBackend) BaseDir() string { return s.baseDir }

func (s *FileBackend) pathFor(key string) (string, error) {
	if s.baseDir == "" {
		return "", fmt.Errorf("auth filestore: directory not configured")
	}
	if !keyPattern.MatchString(key) {
		return "", fmt.Errorf("auth filestore: invalid key %q", key)
	}
	return filepath.Join(s.baseDir, key+sealedFileExt), nil
}

// Get reads the sealed value for key.
func (s *FileBackend) Get(_ context.Context, key string) ([]byte, error) {
	path, err := s.pathFor(key)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("auth filestore: read failed: %w", err)
	}
	return data, nil
}

// Put atomically replaces the value for key.
func (s *FileBackend) Put(_ context.Context, key string, value []byte) error {
	path, err := s.pathFor(key)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err = os.MkdirAll(s.baseDir, 0o700); err != nil {
		return fmt.Errorf("auth filestore: create dir failed: %w", err)
	}
	if err = util.WriteFileAtomic(path, value, 0o600); err != nil {
		return fmt.Errorf("auth filestore: %w", err)
	}
	misc.LogSavingCredentials(path)
	return nil
}

// Delete removes the file for key. Missing files are ignored.
func (s *FileBackend) Delete(_ context.Context, key string) error {
	path, err := s.pathFor(key)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err = os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("auth filestore: delete failed: %w", err)
	}
	return nil
}

// Clear removes every sealed file in the directory.
func (s *FileBackend) Clear(_ context.Context) error {
	if s.baseDir == "" {
		return fmt.Errorf("auth filestore: directory not configured")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("auth filestore: list failed: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), sealedFileExt) {
			continue
		}
		if errRemove := os.Remove(filepath.Join(s.baseDir, entry.Name())); errRemove != nil && !os.IsNotExist(errRemove) {
			return fmt.Errorf("auth filestore: delete failed: %w", errRemove)
		}
	}
	return nil
}
