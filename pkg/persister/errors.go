package persister

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotRunning is returned by LoadSyncRecord once the persister is stopped
var ErrNotRunning = errors.New("persister: not running")

// ErrInvalidNodeID is returned for node ids that cannot name a blob under nodes/
var ErrInvalidNodeID = errors.New("persister: invalid node id")

// ValidateNodeID rejects ids that would not be listed back by the store: empty
// ids, ids containing '/', and ids starting with '.' (which includes "." and "..").
func ValidateNodeID(nodeID string) error {
	switch {
	case nodeID == "":
		return fmt.Errorf("%w: empty", ErrInvalidNodeID)
	case strings.ContainsRune(nodeID, '/'):
		return fmt.Errorf("%w: %q contains '/'", ErrInvalidNodeID, nodeID)
	case strings.HasPrefix(nodeID, "."):
		return fmt.Errorf("%w: %q starts with '.'", ErrInvalidNodeID, nodeID)
	}
	return nil
}

// CorruptRecordError reports a node blob that exists but cannot be read. It
// fails the whole load: store corruption is not treated as transient.
type CorruptRecordError struct {
	NodeID string
	Path   string
	Err    error
}

func (e *CorruptRecordError) Error() string {
	return fmt.Sprintf("corrupt sync record for node %s at %s: %v", e.NodeID, e.Path, e.Err)
}

func (e *CorruptRecordError) Unwrap() error {
	return e.Err
}
