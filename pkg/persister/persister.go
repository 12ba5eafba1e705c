package persister

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cuemby/planesync/pkg/events"
	"github.com/cuemby/planesync/pkg/log"
	"github.com/cuemby/planesync/pkg/objectstore"
	"github.com/cuemby/planesync/pkg/serializer"
	"github.com/rs/zerolog"
)

const (
	// Store layout
	NodesSubPath  = "nodes"
	MasterPath    = "master"
	ChangeLogPath = "change.log"

	// Older deployments wrote the master pointer and change log with a leading slash
	legacyPrefix = "/"

	DefaultSyncWriteTimeout   = 10 * time.Second
	DefaultShutdownTimeout    = 5 * time.Second
	DefaultCheckpointLogFirst = 5
	DefaultCheckpointLogEvery = 1000

	// ChangeLogTimeLayout formats the timestamp that starts each change-log line
	ChangeLogTimeLayout = "2006-01-02 15:04:05.000"
)

// State is the lifecycle state of a Persister
type State int32

const (
	StateUninitialized State = iota
	StateInitializing
	StateReady
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Config holds the persister's runtime settings
type Config struct {
	// SyncWriteTimeout bounds each wait on a live write
	SyncWriteTimeout time.Duration

	// ShutdownTimeout bounds each per-accessor flush during Stop
	ShutdownTimeout time.Duration

	// PreferRecordTimestamp keeps the remote timestamp embedded in each record
	// instead of replacing it with the store's last-modified time. Tests use it
	// to simulate clock skew.
	PreferRecordTimestamp bool

	// Checkpoint summaries are logged for the first CheckpointLogFirst calls
	// and then every CheckpointLogEvery calls
	CheckpointLogFirst int
	CheckpointLogEvery int

	Serializer *serializer.Serializer
	Events     events.Publisher
	Clock      func() time.Time
}

// DefaultConfig returns the default settings
func DefaultConfig() Config {
	return Config{
		SyncWriteTimeout:   DefaultSyncWriteTimeout,
		ShutdownTimeout:    DefaultShutdownTimeout,
		CheckpointLogFirst: DefaultCheckpointLogFirst,
		CheckpointLogEvery: DefaultCheckpointLogEvery,
	}
}

func (c *Config) applyDefaults() {
	if c.SyncWriteTimeout <= 0 {
		c.SyncWriteTimeout = DefaultSyncWriteTimeout
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = DefaultShutdownTimeout
	}
	if c.CheckpointLogFirst < 0 {
		c.CheckpointLogFirst = 0
	}
	if c.CheckpointLogEvery <= 0 {
		c.CheckpointLogEvery = DefaultCheckpointLogEvery
	}
	if c.Serializer == nil {
		c.Serializer = serializer.New(nil)
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
}

// storePaths is resolved once per process, on first use
type storePaths struct {
	master    string
	changeLog string
	legacy    bool
}

func resolvePaths(store objectstore.Store) (storePaths, error) {
	exists, err := store.NewAccessor(legacyPrefix + MasterPath).Exists()
	if err != nil {
		return storePaths{}, fmt.Errorf("failed to probe legacy master path: %w", err)
	}
	if exists {
		return storePaths{
			master:    legacyPrefix + MasterPath,
			changeLog: legacyPrefix + ChangeLogPath,
			legacy:    true,
		}, nil
	}
	return storePaths{master: MasterPath, changeLog: ChangeLogPath}, nil
}

// Persister keeps the management plane sync record in an object store: one
// blob per node under nodes/, a master pointer blob and an append-only change
// log. It owns every accessor it writes through.
type Persister struct {
	store      objectstore.Store
	cfg        Config
	serializer *serializer.Serializer
	logger     zerolog.Logger

	state  atomic.Int32
	initMu sync.Mutex

	// set during initialization, read-only afterwards
	paths     storePaths
	master    *objectstore.LockingAccessor
	changeLog *objectstore.LockingAccessor

	// node id -> *objectstore.LockingAccessor
	nodeWriters sync.Map

	checkpoints atomic.Uint64
}

// New creates a Persister over store. Nothing is read or written until the
// first operation.
func New(store objectstore.Store, cfg Config) *Persister {
	cfg.applyDefaults()
	return &Persister{
		store:      store,
		cfg:        cfg,
		serializer: cfg.Serializer,
		logger:     log.WithComponent("persister"),
	}
}

// State returns the current lifecycle state
func (p *Persister) State() State {
	return State(p.state.Load())
}

// ensureReady performs the one-time initialization on first use
func (p *Persister) ensureReady() error {
	switch p.State() {
	case StateReady:
		return nil
	case StateStopped:
		return ErrNotRunning
	}

	p.initMu.Lock()
	defer p.initMu.Unlock()

	switch p.State() {
	case StateReady:
		return nil
	case StateStopped:
		return ErrNotRunning
	}
	p.state.Store(int32(StateInitializing))

	paths, err := resolvePaths(p.store)
	if err == nil {
		err = p.store.CreateSubPath(NodesSubPath)
	}
	if err != nil {
		p.state.CompareAndSwap(int32(StateInitializing), int32(StateUninitialized))
		return fmt.Errorf("failed to initialize sync record store: %w", err)
	}

	p.paths = paths
	p.master = objectstore.NewLockingAccessor(p.store.NewAccessor(paths.master))
	p.changeLog = objectstore.NewLockingAccessor(p.store.NewAccessor(paths.changeLog))

	if !p.state.CompareAndSwap(int32(StateInitializing), int32(StateReady)) {
		return ErrNotRunning
	}

	p.logger.Debug().
		Bool("legacy_paths", paths.legacy).
		Str("master_path", paths.master).
		Str("change_log_path", paths.changeLog).
		Msg("sync record store initialized")
	return nil
}

// nodeWriter returns the cached accessor for a node, creating it on first use
func (p *Persister) nodeWriter(nodeID string) *objectstore.LockingAccessor {
	if w, ok := p.nodeWriters.Load(nodeID); ok {
		return w.(*objectstore.LockingAccessor)
	}
	w, _ := p.nodeWriters.LoadOrStore(nodeID,
		objectstore.NewLockingAccessor(p.store.NewAccessor(objectstore.Join(NodesSubPath, nodeID))))
	return w.(*objectstore.LockingAccessor)
}

// accessors returns every accessor that may hold queued writes
func (p *Persister) accessors() []*objectstore.LockingAccessor {
	var out []*objectstore.LockingAccessor
	p.nodeWriters.Range(func(_, w any) bool {
		out = append(out, w.(*objectstore.LockingAccessor))
		return true
	})

	p.initMu.Lock()
	defer p.initMu.Unlock()
	if p.master != nil {
		out = append(out, p.master, p.changeLog)
	}
	return out
}

// Stop marks the persister stopped and flushes queued writes. Each accessor is
// given at most ShutdownTimeout; a flush that times out is logged and
// abandoned. Stop is idempotent.
func (p *Persister) Stop() {
	if State(p.state.Swap(int32(StateStopped))) == StateStopped {
		return
	}

	for _, a := range p.accessors() {
		if err := a.WaitForCurrentWrites(p.cfg.ShutdownTimeout); err != nil {
			p.logger.Warn().
				Err(err).
				Str("path", a.Path()).
				Dur("timeout", p.cfg.ShutdownTimeout).
				Msg("writes not flushed during shutdown")
		}
	}
	p.logger.Debug().Msg("sync record persister stopped")
}

// WaitForWritesCompleted blocks until every node, master and change-log
// accessor has no queued writes. It fails with objectstore.ErrWriteTimeout if
// that takes longer than timeout in total, or with the first write failure.
func (p *Persister) WaitForWritesCompleted(timeout time.Duration) error {
	if err := p.ensureReady(); err != nil && !errors.Is(err, ErrNotRunning) {
		return err
	}

	deadline := time.Now().Add(timeout)
	for _, a := range p.accessors() {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			if !a.HasPendingWrites() {
				continue
			}
			return fmt.Errorf("%w: %s after %s", objectstore.ErrWriteTimeout, a.Path(), timeout)
		}
		if err := a.WaitForCurrentWrites(remaining); err != nil {
			return err
		}
	}
	return nil
}
