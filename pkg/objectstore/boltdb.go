package objectstore

import (
	"encoding/binary"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	// Bucket names
	bucketBlobs    = []byte("blobs")
	bucketModified = []byte("modified")
	bucketSubPaths = []byte("subpaths")
)

// DefaultBoltFile is the database file name created inside the data directory
const DefaultBoltFile = "planesync.db"

// BoltStore implements Store using BoltDB. Blob paths are prefixed with the
// store root and kept verbatim, so "/master" and "master" are distinct keys.
type BoltStore struct {
	db   *bolt.DB
	root string
	now  func() time.Time
}

// NewBoltStore opens (or creates) a BoltDB-backed store in dataDir
func NewBoltStore(dataDir, root string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, DefaultBoltFile)

	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketBlobs, bucketModified, bucketSubPaths} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db, root: strings.TrimRight(root, "/"), now: time.Now}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Backup writes a consistent copy of the whole database file to path
func (s *BoltStore) Backup(path string) error {
	return s.db.View(func(tx *bolt.Tx) error {
		return tx.CopyFile(path, 0600)
	})
}

func (s *BoltStore) key(path string) []byte {
	if s.root == "" {
		return []byte(path)
	}
	return []byte(s.root + "/" + path)
}

// CreateSubPath records the sub-path so that empty sub-paths survive restarts
func (s *BoltStore) CreateSubPath(subPath string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSubPaths).Put(s.key(subPath), []byte{1})
	})
}

// ListContentsWithSubPath returns the blobs directly under subPath
func (s *BoltStore) ListContentsWithSubPath(subPath string) ([]string, error) {
	subPath = strings.TrimRight(subPath, "/")
	prefix := append(s.key(subPath), '/')

	var paths []string
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketBlobs).Cursor()
		for k, _ := c.Seek(prefix); k != nil && strings.HasPrefix(string(k), string(prefix)); k, _ = c.Next() {
			name := string(k[len(prefix):])
			if name == "" || strings.Contains(name, "/") {
				continue
			}
			paths = append(paths, Join(subPath, name))
		}
		return nil
	})
	return paths, err
}

// NewAccessor returns an accessor for the blob at path
func (s *BoltStore) NewAccessor(path string) BlobAccessor {
	return &boltAccessor{store: s, path: path}
}

type boltAccessor struct {
	store *BoltStore
	path  string
}

func (a *boltAccessor) Path() string { return a.path }

func (a *boltAccessor) Put(content string) error {
	return a.write(func(_ []byte) []byte { return []byte(content) })
}

func (a *boltAccessor) Append(content string) error {
	return a.write(func(existing []byte) []byte {
		out := make([]byte, 0, len(existing)+len(content))
		out = append(out, existing...)
		return append(out, content...)
	})
}

func (a *boltAccessor) write(update func(existing []byte) []byte) error {
	key := a.store.key(a.path)
	return a.store.db.Update(func(tx *bolt.Tx) error {
		blobs := tx.Bucket(bucketBlobs)
		if err := blobs.Put(key, update(blobs.Get(key))); err != nil {
			return fmt.Errorf("failed to write %s: %w", a.path, err)
		}
		stamp := make([]byte, 8)
		binary.BigEndian.PutUint64(stamp, uint64(a.store.now().UnixNano()))
		return tx.Bucket(bucketModified).Put(key, stamp)
	})
}

func (a *boltAccessor) Get() (string, error) {
	var content string
	err := a.store.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketBlobs).Get(a.store.key(a.path))
		if data == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, a.path)
		}
		// data is only valid for the life of the transaction
		content = string(data)
		return nil
	})
	return content, err
}

func (a *boltAccessor) Exists() (bool, error) {
	var exists bool
	err := a.store.db.View(func(tx *bolt.Tx) error {
		exists = tx.Bucket(bucketBlobs).Get(a.store.key(a.path)) != nil
		return nil
	})
	return exists, err
}

func (a *boltAccessor) LastModified() (time.Time, error) {
	var modified time.Time
	err := a.store.db.View(func(tx *bolt.Tx) error {
		stamp := tx.Bucket(bucketModified).Get(a.store.key(a.path))
		if len(stamp) != 8 {
			return fmt.Errorf("%w: %s", ErrNotFound, a.path)
		}
		modified = time.Unix(0, int64(binary.BigEndian.Uint64(stamp)))
		return nil
	})
	return modified, err
}

func (a *boltAccessor) Delete() error {
	key := a.store.key(a.path)
	return a.store.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketBlobs).Delete(key); err != nil {
			return err
		}
		return tx.Bucket(bucketModified).Delete(key)
	})
}
