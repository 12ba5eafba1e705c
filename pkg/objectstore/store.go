package objectstore

import (
	"errors"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned when a blob does not exist
	ErrNotFound = errors.New("objectstore: blob not found")

	// ErrWriteTimeout is returned when queued writes are not acknowledged in time
	ErrWriteTimeout = errors.New("objectstore: timed out waiting for writes")

	// ErrClosed is returned by stores after Close
	ErrClosed = errors.New("objectstore: store closed")
)

// Store is a durable blob store addressed by slash-separated paths
type Store interface {
	// CreateSubPath prepares a sub-path to hold blobs. It is idempotent.
	CreateSubPath(subPath string) error

	// NewAccessor returns a handle on the blob at path. The blob need not exist.
	NewAccessor(path string) BlobAccessor

	// ListContentsWithSubPath returns the paths of the blobs directly under
	// subPath, each in the form "<subPath>/<name>".
	ListContentsWithSubPath(subPath string) ([]string, error)

	// Close releases the store
	Close() error
}

// BlobAccessor performs synchronous operations on a single blob
type BlobAccessor interface {
	Path() string

	// Put replaces the blob content, creating the blob if needed
	Put(content string) error

	// Append adds content to the end of the blob, creating it if needed
	Append(content string) error

	// Get returns the blob content or ErrNotFound
	Get() (string, error)

	Exists() (bool, error)

	// LastModified returns the time of the last write or ErrNotFound
	LastModified() (time.Time, error)

	// Delete removes the blob. Deleting a missing blob is not an error.
	Delete() error
}

// Name returns the last element of a blob path
func Name(path string) string {
	path = strings.TrimRight(path, "/")
	if i := strings.LastIndex(path, "/"); i >= 0 {
		return path[i+1:]
	}
	return path
}

// Join joins a sub-path and a name with a single slash
func Join(subPath, name string) string {
	if subPath == "" {
		return name
	}
	return strings.TrimRight(subPath, "/") + "/" + name
}
