package objectstore

import (
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/planesync/pkg/log"
	"github.com/cuemby/planesync/pkg/metrics"
	"github.com/rs/zerolog"
)

type opKind int

const (
	opPut opKind = iota
	opAppend
	opDelete
)

func (k opKind) String() string {
	switch k {
	case opPut:
		return "put"
	case opAppend:
		return "append"
	default:
		return "delete"
	}
}

type writeOp struct {
	kind    opKind
	content string
	seq     uint64
	done    chan error // set for synchronous ops only
}

type waiter struct {
	seq uint64
	ch  chan struct{}
}

// pendingView is what the accessor knows about the blob while writes are
// queued. It is discarded once every queued write has completed.
type pendingView struct {
	known   bool
	content string
	deleted bool
}

// LockingAccessor serializes writes to one blob. Put and Append queue the
// write and return immediately; queued writes run in order on a single
// goroutine that exits when the queue drains.
type LockingAccessor struct {
	delegate BlobAccessor
	logger   zerolog.Logger

	mu        sync.Mutex
	queue     []writeOp
	draining  bool
	issued    uint64
	completed uint64
	waiters   []waiter
	pending   pendingView

	// first write failure not yet reported by WaitForCurrentWrites
	unreported error
}

// NewLockingAccessor wraps delegate
func NewLockingAccessor(delegate BlobAccessor) *LockingAccessor {
	return &LockingAccessor{
		delegate: delegate,
		logger:   log.WithComponent("objectstore").With().Str("path", delegate.Path()).Logger(),
	}
}

// Path returns the blob path
func (a *LockingAccessor) Path() string {
	return a.delegate.Path()
}

// Put queues a replacement of the blob content
func (a *LockingAccessor) Put(content string) {
	a.enqueue(writeOp{kind: opPut, content: content})
}

// Append queues an append to the blob
func (a *LockingAccessor) Append(content string) {
	a.enqueue(writeOp{kind: opAppend, content: content})
}

// Delete removes the blob after every previously queued write has run. It
// blocks until the delete itself has been applied, or until timeout.
func (a *LockingAccessor) Delete(timeout time.Duration) error {
	done := make(chan error, 1)
	a.enqueue(writeOp{kind: opDelete, done: done})

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
		metrics.WriteTimeoutsTotal.WithLabelValues("delete").Inc()
		return fmt.Errorf("%w: delete %s after %s", ErrWriteTimeout, a.Path(), timeout)
	}
}

// Get returns the most recent content known to this accessor: the content
// implied by queued writes when it can be derived, otherwise the stored blob.
func (a *LockingAccessor) Get() (string, error) {
	a.mu.Lock()
	if a.issued > a.completed {
		if a.pending.deleted {
			a.mu.Unlock()
			return "", fmt.Errorf("%w: %s", ErrNotFound, a.Path())
		}
		if a.pending.known {
			content := a.pending.content
			a.mu.Unlock()
			return content, nil
		}
	}
	a.mu.Unlock()
	return a.delegate.Get()
}

// Exists reports whether the blob exists, taking queued writes into account
func (a *LockingAccessor) Exists() (bool, error) {
	a.mu.Lock()
	if a.issued > a.completed {
		if a.pending.deleted {
			a.mu.Unlock()
			return false, nil
		}
		if a.pending.known {
			a.mu.Unlock()
			return true, nil
		}
	}
	a.mu.Unlock()
	return a.delegate.Exists()
}

// LastModified returns the store's last-modified time for the blob
func (a *LockingAccessor) LastModified() (time.Time, error) {
	return a.delegate.LastModified()
}

// HasPendingWrites reports whether any queued write has not completed
func (a *LockingAccessor) HasPendingWrites() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.issued > a.completed
}

// WaitForCurrentWrites blocks until every write queued before the call has
// completed. It returns ErrWriteTimeout if that takes longer than timeout, and
// otherwise the first write failure not yet reported to a previous caller.
func (a *LockingAccessor) WaitForCurrentWrites(timeout time.Duration) error {
	a.mu.Lock()
	target := a.issued
	if a.completed >= target {
		err := a.takeUnreported()
		a.mu.Unlock()
		return err
	}
	ch := make(chan struct{})
	a.waiters = append(a.waiters, waiter{seq: target, ch: ch})
	a.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ch:
		a.mu.Lock()
		defer a.mu.Unlock()
		return a.takeUnreported()
	case <-timer.C:
		metrics.WriteTimeoutsTotal.WithLabelValues("wait").Inc()
		return fmt.Errorf("%w: %s after %s", ErrWriteTimeout, a.Path(), timeout)
	}
}

func (a *LockingAccessor) takeUnreported() error {
	err := a.unreported
	a.unreported = nil
	return err
}

func (a *LockingAccessor) enqueue(op writeOp) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.issued++
	op.seq = a.issued
	a.queue = append(a.queue, op)

	switch op.kind {
	case opPut:
		a.pending = pendingView{known: true, content: op.content}
	case opAppend:
		if a.pending.deleted {
			a.pending = pendingView{known: true, content: op.content}
		} else if a.pending.known {
			a.pending.content += op.content
		}
	case opDelete:
		a.pending = pendingView{deleted: true}
	}

	if !a.draining {
		a.draining = true
		go a.drain()
	}
}

func (a *LockingAccessor) drain() {
	for {
		a.mu.Lock()
		if len(a.queue) == 0 {
			a.draining = false
			a.mu.Unlock()
			return
		}
		op := a.queue[0]
		a.queue = a.queue[1:]
		a.mu.Unlock()

		err := a.apply(op)
		if err != nil {
			a.logger.Warn().Err(err).Str("op", op.kind.String()).Msg("store write failed")
		}
		if op.done != nil {
			op.done <- err
		}

		a.mu.Lock()
		a.completed = op.seq
		if err != nil && op.done == nil && a.unreported == nil {
			a.unreported = err
		}
		if a.completed == a.issued {
			a.pending = pendingView{}
		}
		a.notifyLocked()
		a.mu.Unlock()
	}
}

func (a *LockingAccessor) apply(op writeOp) error {
	switch op.kind {
	case opPut:
		return a.delegate.Put(op.content)
	case opAppend:
		return a.delegate.Append(op.content)
	default:
		return a.delegate.Delete()
	}
}

func (a *LockingAccessor) notifyLocked() {
	remaining := a.waiters[:0]
	for _, w := range a.waiters {
		if w.seq <= a.completed {
			close(w.ch)
			continue
		}
		remaining = append(remaining, w)
	}
	a.waiters = remaining
}
