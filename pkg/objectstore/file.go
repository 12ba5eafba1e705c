package objectstore

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

const fileLockName = ".planesync.lock"

// FileStore implements Store on a directory tree, one file per blob. Writes
// take an advisory lock on a file in the base directory so that several
// management nodes sharing the directory do not interleave writes.
//
// Paths are cleaned before use, so "/master" and "master" name the same file.
type FileStore struct {
	baseDir string

	// flock does not exclude goroutines sharing one handle
	mu   sync.Mutex
	lock *flock.Flock
}

// NewFileStore creates a store rooted at baseDir
func NewFileStore(baseDir string) (*FileStore, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	return &FileStore{
		baseDir: baseDir,
		lock:    flock.New(filepath.Join(baseDir, fileLockName)),
	}, nil
}

// Close releases the lock file handle
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lock.Close()
}

func (s *FileStore) file(path string) string {
	return filepath.Join(s.baseDir, filepath.FromSlash(strings.TrimLeft(path, "/")))
}

func (s *FileStore) withLock(fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.lock.Lock(); err != nil {
		return fmt.Errorf("failed to lock store: %w", err)
	}
	defer s.lock.Unlock()

	return fn()
}

// CreateSubPath creates the directory for subPath
func (s *FileStore) CreateSubPath(subPath string) error {
	if err := os.MkdirAll(s.file(subPath), 0755); err != nil {
		return fmt.Errorf("failed to create sub-path %s: %w", subPath, err)
	}
	return nil
}

// ListContentsWithSubPath lists the regular files directly under subPath
func (s *FileStore) ListContentsWithSubPath(subPath string) ([]string, error) {
	entries, err := os.ReadDir(s.file(subPath))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", subPath, err)
	}

	var paths []string
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		paths = append(paths, Join(strings.TrimRight(subPath, "/"), e.Name()))
	}
	return paths, nil
}

// NewAccessor returns an accessor for the blob at path
func (s *FileStore) NewAccessor(path string) BlobAccessor {
	return &fileAccessor{store: s, path: path, file: s.file(path)}
}

type fileAccessor struct {
	store *FileStore
	path  string
	file  string
}

func (a *fileAccessor) Path() string { return a.path }

func (a *fileAccessor) Put(content string) error {
	return a.store.withLock(func() error {
		if err := os.MkdirAll(filepath.Dir(a.file), 0755); err != nil {
			return err
		}
		// write-then-rename so readers never see a partial blob
		tmp, err := os.CreateTemp(filepath.Dir(a.file), "."+filepath.Base(a.file)+".tmp*")
		if err != nil {
			return fmt.Errorf("failed to write %s: %w", a.path, err)
		}
		if _, err := tmp.WriteString(content); err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
			return fmt.Errorf("failed to write %s: %w", a.path, err)
		}
		if err := tmp.Close(); err != nil {
			os.Remove(tmp.Name())
			return err
		}
		return os.Rename(tmp.Name(), a.file)
	})
}

func (a *fileAccessor) Append(content string) error {
	return a.store.withLock(func() error {
		if err := os.MkdirAll(filepath.Dir(a.file), 0755); err != nil {
			return err
		}
		f, err := os.OpenFile(a.file, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return fmt.Errorf("failed to append to %s: %w", a.path, err)
		}
		if _, err := f.WriteString(content); err != nil {
			f.Close()
			return fmt.Errorf("failed to append to %s: %w", a.path, err)
		}
		return f.Close()
	})
}

func (a *fileAccessor) Get() (string, error) {
	data, err := os.ReadFile(a.file)
	if errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("%w: %s", ErrNotFound, a.path)
	}
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (a *fileAccessor) Exists() (bool, error) {
	_, err := os.Stat(a.file)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return err == nil, err
}

func (a *fileAccessor) LastModified() (time.Time, error) {
	info, err := os.Stat(a.file)
	if errors.Is(err, fs.ErrNotExist) {
		return time.Time{}, fmt.Errorf("%w: %s", ErrNotFound, a.path)
	}
	if err != nil {
		return time.Time{}, err
	}
	return info.ModTime(), nil
}

func (a *fileAccessor) Delete() error {
	return a.store.withLock(func() error {
		err := os.Remove(a.file)
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	})
}
