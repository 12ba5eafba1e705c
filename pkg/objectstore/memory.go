package objectstore

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

type memoryBlob struct {
	content  string
	modified time.Time
}

// MemoryStore is a process-local Store. It is not durable.
type MemoryStore struct {
	mu       sync.RWMutex
	blobs    map[string]*memoryBlob
	subPaths map[string]bool
	closed   bool
	now      func() time.Time
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		blobs:    make(map[string]*memoryBlob),
		subPaths: make(map[string]bool),
		now:      time.Now,
	}
}

// Close discards every blob. Later operations fail with ErrClosed.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.blobs = make(map[string]*memoryBlob)
	return nil
}

func (s *MemoryStore) CreateSubPath(subPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.subPaths[strings.TrimRight(subPath, "/")] = true
	return nil
}

// HasSubPath reports whether CreateSubPath was called for subPath
func (s *MemoryStore) HasSubPath(subPath string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.subPaths[strings.TrimRight(subPath, "/")]
}

func (s *MemoryStore) ListContentsWithSubPath(subPath string) ([]string, error) {
	subPath = strings.TrimRight(subPath, "/")
	prefix := subPath + "/"

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	var paths []string
	for p := range s.blobs {
		if !strings.HasPrefix(p, prefix) {
			continue
		}
		if name := p[len(prefix):]; name != "" && !strings.Contains(name, "/") {
			paths = append(paths, p)
		}
	}
	sort.Strings(paths)
	return paths, nil
}

func (s *MemoryStore) NewAccessor(path string) BlobAccessor {
	return &memoryAccessor{store: s, path: path}
}

type memoryAccessor struct {
	store *MemoryStore
	path  string
}

func (a *memoryAccessor) Path() string { return a.path }

func (a *memoryAccessor) Put(content string) error {
	a.store.mu.Lock()
	defer a.store.mu.Unlock()
	if a.store.closed {
		return ErrClosed
	}
	a.store.blobs[a.path] = &memoryBlob{content: content, modified: a.store.now()}
	return nil
}

func (a *memoryAccessor) Append(content string) error {
	a.store.mu.Lock()
	defer a.store.mu.Unlock()
	if a.store.closed {
		return ErrClosed
	}
	b, ok := a.store.blobs[a.path]
	if !ok {
		b = &memoryBlob{}
		a.store.blobs[a.path] = b
	}
	b.content += content
	b.modified = a.store.now()
	return nil
}

func (a *memoryAccessor) Get() (string, error) {
	a.store.mu.RLock()
	defer a.store.mu.RUnlock()
	if a.store.closed {
		return "", ErrClosed
	}
	b, ok := a.store.blobs[a.path]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, a.path)
	}
	return b.content, nil
}

func (a *memoryAccessor) Exists() (bool, error) {
	a.store.mu.RLock()
	defer a.store.mu.RUnlock()
	if a.store.closed {
		return false, ErrClosed
	}
	_, ok := a.store.blobs[a.path]
	return ok, nil
}

func (a *memoryAccessor) LastModified() (time.Time, error) {
	a.store.mu.RLock()
	defer a.store.mu.RUnlock()
	b, ok := a.store.blobs[a.path]
	if !ok {
		return time.Time{}, fmt.Errorf("%w: %s", ErrNotFound, a.path)
	}
	return b.modified, nil
}

func (a *memoryAccessor) Delete() error {
	a.store.mu.Lock()
	defer a.store.mu.Unlock()
	if a.store.closed {
		return ErrClosed
	}
	delete(a.store.blobs, a.path)
	return nil
}
