package heartbeat

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/planesync/pkg/metrics"
	"github.com/cuemby/planesync/pkg/objectstore"
	"github.com/cuemby/planesync/pkg/persister"
	"github.com/cuemby/planesync/pkg/types"
)

func newPersister(store objectstore.Store) *persister.Persister {
	cfg := persister.DefaultConfig()
	cfg.SyncWriteTimeout = 2 * time.Second
	cfg.ShutdownTimeout = 500 * time.Millisecond
	return persister.New(store, cfg)
}

func load(t *testing.T, store objectstore.Store) *types.PlaneRecord {
	t.Helper()
	p := newPersister(store)
	defer p.Stop()
	record, err := p.LoadSyncRecord()
	require.NoError(t, err)
	return record
}

func testLoop(p Persister, nodeID string, claim bool) *Loop {
	return New(p, Config{
		NodeID:      nodeID,
		Version:     "1.2.3",
		URI:         "https://" + nodeID,
		Interval:    10 * time.Millisecond,
		ClaimMaster: claim,
		Health:      metrics.NewHealthChecker(),
	})
}

func TestTick_PublishesRunningRecord(t *testing.T) {
	store := objectstore.NewMemoryStore()
	p := newPersister(store)
	defer p.Stop()

	loop := testLoop(p, "node-1", false)
	require.NoError(t, loop.Tick())

	record := load(t, store)
	require.Contains(t, record.Nodes, "node-1")
	node := record.Nodes["node-1"]
	assert.Equal(t, types.NodeStatusRunning, node.Status)
	assert.Equal(t, "1.2.3", node.Version)
	assert.Equal(t, "https://node-1", node.URI)
	assert.False(t, record.HasMaster())

	require.NotNil(t, loop.Last())
	assert.Equal(t, "ready", loop.cfg.Health.Readiness().Status)
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.PlaneNodesTotal.WithLabelValues(string(types.NodeStatusRunning))))
	assert.Equal(t, float64(0), testutil.ToFloat64(metrics.IsMaster))
}

func TestTick_ClaimMaster(t *testing.T) {
	tests := []struct {
		name       string
		claim      bool
		existing   string
		wantMaster string
	}{
		{name: "claims when none recorded", claim: true, wantMaster: "node-1"},
		{name: "does not claim when disabled", claim: false, wantMaster: ""},
		{name: "leaves existing master", claim: true, existing: "node-0", wantMaster: "node-0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := objectstore.NewMemoryStore()
			p := newPersister(store)
			defer p.Stop()

			if tt.existing != "" {
				require.NoError(t, p.Delta(&types.Delta{Master: types.SetMaster(tt.existing)}))
			}

			loop := testLoop(p, "node-1", tt.claim)
			require.NoError(t, loop.Tick())

			assert.Equal(t, tt.wantMaster, load(t, store).MasterNodeID)
			assert.Equal(t, tt.wantMaster, loop.Last().MasterNodeID)
		})
	}
}

func TestStartStop(t *testing.T) {
	store := objectstore.NewMemoryStore()
	p := newPersister(store)
	loop := testLoop(p, "node-1", true)

	loop.Start()
	require.Eventually(t, func() bool {
		last := loop.Last()
		return last != nil && last.MasterNodeID == "node-1"
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.IsMaster))

	loop.Stop()
	loop.Stop()

	assert.Equal(t, persister.StateStopped, p.State())
	assert.Equal(t, float64(0), testutil.ToFloat64(metrics.IsMaster))

	record := load(t, store)
	assert.Equal(t, types.NodeStatusStopped, record.Nodes["node-1"].Status)
	assert.False(t, record.HasMaster(), "master pointer released on shutdown")
}

func TestStop_StandbyLeavesMaster(t *testing.T) {
	store := objectstore.NewMemoryStore()
	p := newPersister(store)
	require.NoError(t, p.Delta(&types.Delta{Master: types.SetMaster("node-0")}))

	loop := testLoop(p, "node-1", true)
	require.NoError(t, loop.Tick())
	loop.Stop()

	record := load(t, store)
	assert.Equal(t, "node-0", record.MasterNodeID)
	assert.Equal(t, types.NodeStatusStopped, record.Nodes["node-1"].Status)
}

// fakePersister records deltas and fails on demand
type fakePersister struct {
	mu       sync.Mutex
	deltas   []*types.Delta
	stopped  bool
	deltaErr error
	loadErr  error
}

func (f *fakePersister) LoadSyncRecord() (*types.PlaneRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	return types.NewPlaneRecord(), nil
}

func (f *fakePersister) Delta(delta *types.Delta) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deltaErr != nil {
		return f.deltaErr
	}
	f.deltas = append(f.deltas, delta)
	return nil
}

func (f *fakePersister) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
}

func TestTick_ReportsStoreFailure(t *testing.T) {
	fake := &fakePersister{deltaErr: objectstore.ErrWriteTimeout}
	loop := testLoop(fake, "node-1", false)

	err := loop.Tick()
	require.ErrorIs(t, err, objectstore.ErrWriteTimeout)

	health := loop.cfg.Health.Health()
	assert.Equal(t, "unhealthy", health.Status)
	assert.Contains(t, health.Components[metrics.ComponentStore], "unhealthy")
	assert.Nil(t, loop.Last())
}

func TestTick_ReportsLoadFailure(t *testing.T) {
	fake := &fakePersister{loadErr: errors.New("corrupt")}
	loop := testLoop(fake, "node-1", true)

	require.Error(t, loop.Tick())

	readiness := loop.cfg.Health.Readiness()
	assert.Equal(t, "not_ready", readiness.Status)
	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.Len(t, fake.deltas, 1, "no master claim without a successful load")
}

func TestStop_WithoutStart(t *testing.T) {
	fake := &fakePersister{}
	loop := testLoop(fake, "node-1", false)

	loop.Stop()

	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.True(t, fake.stopped)
	require.Len(t, fake.deltas, 1)
	assert.Equal(t, types.NodeStatusStopped, fake.deltas[0].UpsertNodes[0].Status)
	assert.Equal(t, types.MasterNoChange, fake.deltas[0].Master.Kind)
}
