// Package heartbeat keeps the local management node's record current in the
// sync record and optionally claims the master pointer when nobody holds it.
package heartbeat

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/planesync/pkg/log"
	"github.com/cuemby/planesync/pkg/metrics"
	"github.com/cuemby/planesync/pkg/types"
)

// DefaultInterval is used when Config.Interval is not set
const DefaultInterval = 5 * time.Second

// Persister is the part of *persister.Persister the loop drives
type Persister interface {
	LoadSyncRecord() (*types.PlaneRecord, error)
	Delta(delta *types.Delta) error
	Stop()
}

// Config describes the local node and how often it is published
type Config struct {
	NodeID   string
	Version  string
	URI      string
	Priority int
	Interval time.Duration

	// ClaimMaster sets this node as master whenever a tick finds none recorded
	ClaimMaster bool

	// Health receives store and persister component health; nil selects
	// metrics.Default()
	Health *metrics.HealthChecker
	Clock  func() time.Time
}

// Loop publishes the local node's record on every tick
type Loop struct {
	persister Persister
	cfg       Config
	logger    zerolog.Logger

	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
	started  bool

	mu   sync.Mutex
	last *types.PlaneRecord
}

// New creates a heartbeat loop for the node described by cfg
func New(p Persister, cfg Config) *Loop {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Health == nil {
		cfg.Health = metrics.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Loop{
		persister: p,
		cfg:       cfg,
		logger:    log.WithNodeID(cfg.NodeID).With().Str("component", "heartbeat").Logger(),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Start runs the first tick immediately and then one per interval
func (l *Loop) Start() {
	l.mu.Lock()
	l.started = true
	l.mu.Unlock()
	go l.run()
}

// Stop ends the loop, marks the node STOPPED, gives up the master pointer if
// this node holds it, and stops the persister. It is safe to call more than
// once.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() {
		close(l.stopCh)

		l.mu.Lock()
		started := l.started
		l.mu.Unlock()
		if started {
			<-l.doneCh
		}

		l.shutdown()
	})
}

// Last returns the sync record read by the most recent successful tick
func (l *Loop) Last() *types.PlaneRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.last
}

func (l *Loop) run() {
	defer close(l.doneCh)

	ticker := time.NewTicker(l.cfg.Interval)
	defer ticker.Stop()

	for {
		if err := l.Tick(); err != nil {
			l.logger.Warn().Err(err).Msg("heartbeat failed")
		}
		select {
		case <-ticker.C:
		case <-l.stopCh:
			return
		}
	}
}

// Tick performs one heartbeat: publish the local record, reload the plane and
// claim the master pointer if configured to and none is recorded
func (l *Loop) Tick() error {
	self := l.record(types.NodeStatusRunning)
	if err := l.persister.Delta(&types.Delta{UpsertNodes: []*types.NodeRecord{self}}); err != nil {
		l.cfg.Health.Update(metrics.ComponentStore, false, err.Error())
		return fmt.Errorf("failed to publish node record: %w", err)
	}
	l.cfg.Health.Update(metrics.ComponentStore, true, "")

	record, err := l.persister.LoadSyncRecord()
	if err != nil {
		l.cfg.Health.Update(metrics.ComponentPersister, false, err.Error())
		return fmt.Errorf("failed to load sync record: %w", err)
	}
	l.cfg.Health.Update(metrics.ComponentPersister, true, "")

	if l.cfg.ClaimMaster && !record.HasMaster() {
		if err := l.persister.Delta(&types.Delta{Master: types.SetMaster(l.cfg.NodeID)}); err != nil {
			return fmt.Errorf("failed to claim master: %w", err)
		}
		record.MasterNodeID = l.cfg.NodeID
		l.logger.Info().Msg("no master recorded, claimed master")
	}

	l.observe(record)

	l.mu.Lock()
	l.last = record
	l.mu.Unlock()
	return nil
}

func (l *Loop) observe(record *types.PlaneRecord) {
	counts := record.CountByStatus()
	for _, status := range types.AllNodeStatuses() {
		metrics.PlaneNodesTotal.WithLabelValues(string(status)).Set(float64(counts[status]))
	}
	if record.MasterNodeID == l.cfg.NodeID {
		metrics.IsMaster.Set(1)
	} else {
		metrics.IsMaster.Set(0)
	}
}

func (l *Loop) shutdown() {
	delta := &types.Delta{UpsertNodes: []*types.NodeRecord{l.record(types.NodeStatusStopped)}}
	if last := l.Last(); last != nil && last.MasterNodeID == l.cfg.NodeID {
		delta.Master = types.ClearMaster(l.cfg.NodeID)
	}

	if err := l.persister.Delta(delta); err != nil {
		l.logger.Warn().Err(err).Msg("failed to record shutdown")
	}
	l.persister.Stop()

	metrics.IsMaster.Set(0)
	l.cfg.Health.Update(metrics.ComponentPersister, false, "stopped")
	l.logger.Info().Msg("heartbeat stopped")
}

func (l *Loop) record(status types.NodeStatus) *types.NodeRecord {
	return &types.NodeRecord{
		NodeID:         l.cfg.NodeID,
		Status:         status,
		Version:        l.cfg.Version,
		URI:            l.cfg.URI,
		Priority:       l.cfg.Priority,
		LocalTimestamp: l.cfg.Clock(),
	}
}
