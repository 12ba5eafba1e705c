package objectstore

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// gatedAccessor blocks every write until the gate is opened
type gatedAccessor struct {
	BlobAccessor
	gate    chan struct{}
	failPut error
}

func newGated(a BlobAccessor) *gatedAccessor {
	return &gatedAccessor{BlobAccessor: a, gate: make(chan struct{})}
}

func (g *gatedAccessor) open() { close(g.gate) }

func (g *gatedAccessor) Put(content string) error {
	<-g.gate
	if g.failPut != nil {
		return g.failPut
	}
	return g.BlobAccessor.Put(content)
}

func (g *gatedAccessor) Append(content string) error {
	<-g.gate
	return g.BlobAccessor.Append(content)
}

func (g *gatedAccessor) Delete() error {
	<-g.gate
	return g.BlobAccessor.Delete()
}

func TestLockingAccessor_PutIsAsync(t *testing.T) {
	store := NewMemoryStore()
	gated := newGated(store.NewAccessor("nodes/node-1"))
	a := NewLockingAccessor(gated)

	a.Put("v1")
	assert.True(t, a.HasPendingWrites())

	// queued value is visible before it is stored
	got, err := a.Get()
	require.NoError(t, err)
	assert.Equal(t, "v1", got)

	exists, err := a.Exists()
	require.NoError(t, err)
	assert.True(t, exists)

	stored, _ := store.NewAccessor("nodes/node-1").Exists()
	assert.False(t, stored)

	gated.open()
	require.NoError(t, a.WaitForCurrentWrites(time.Second))
	assert.False(t, a.HasPendingWrites())

	content, err := store.NewAccessor("nodes/node-1").Get()
	require.NoError(t, err)
	assert.Equal(t, "v1", content)
}

func TestLockingAccessor_WritesKeepOrder(t *testing.T) {
	store := NewMemoryStore()
	a := NewLockingAccessor(store.NewAccessor("change.log"))

	for _, line := range []string{"a\n", "b\n", "c\n"} {
		a.Append(line)
	}
	a.Put("reset\n")
	a.Append("d\n")

	require.NoError(t, a.WaitForCurrentWrites(time.Second))

	got, err := a.Get()
	require.NoError(t, err)
	assert.Equal(t, "reset\nd\n", got)
}

func TestLockingAccessor_WaitTimesOut(t *testing.T) {
	gated := newGated(NewMemoryStore().NewAccessor("master"))
	a := NewLockingAccessor(gated)
	defer gated.open()

	a.Put("node-1")
	err := a.WaitForCurrentWrites(20 * time.Millisecond)
	assert.ErrorIs(t, err, ErrWriteTimeout)
}

func TestLockingAccessor_ReportsWriteFailureOnce(t *testing.T) {
	gated := newGated(NewMemoryStore().NewAccessor("master"))
	gated.failPut = errors.New("disk full")
	gated.open()
	a := NewLockingAccessor(gated)

	a.Put("node-1")
	err := a.WaitForCurrentWrites(time.Second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")

	assert.NoError(t, a.WaitForCurrentWrites(time.Second))
}

func TestLockingAccessor_DeleteRunsAfterQueuedWrites(t *testing.T) {
	store := NewMemoryStore()
	gated := newGated(store.NewAccessor("nodes/node-1"))
	a := NewLockingAccessor(gated)

	a.Put("v1")

	errCh := make(chan error, 1)
	go func() { errCh <- a.Delete(time.Second) }()

	// wait for the delete to be queued behind the put
	require.Eventually(t, func() bool {
		_, err := a.Get()
		return errors.Is(err, ErrNotFound)
	}, time.Second, 5*time.Millisecond)

	gated.open()
	require.NoError(t, <-errCh)

	exists, err := store.NewAccessor("nodes/node-1").Exists()
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestLockingAccessor_DeleteTimesOut(t *testing.T) {
	gated := newGated(NewMemoryStore().NewAccessor("nodes/node-1"))
	a := NewLockingAccessor(gated)
	defer gated.open()

	err := a.Delete(20 * time.Millisecond)
	assert.ErrorIs(t, err, ErrWriteTimeout)
}

func TestLockingAccessor_ConcurrentWriters(t *testing.T) {
	store := NewMemoryStore()
	a := NewLockingAccessor(store.NewAccessor("change.log"))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				a.Append("x")
			}
		}()
	}
	wg.Wait()

	require.NoError(t, a.WaitForCurrentWrites(5*time.Second))
	got, err := store.NewAccessor("change.log").Get()
	require.NoError(t, err)
	assert.Len(t, got, 200)
}

func TestLockingAccessor_WaitWithNothingQueued(t *testing.T) {
	a := NewLockingAccessor(NewMemoryStore().NewAccessor("master"))
	assert.NoError(t, a.WaitForCurrentWrites(time.Millisecond))
}
