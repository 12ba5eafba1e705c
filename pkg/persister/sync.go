package persister

import (
	"errors"
	"fmt"
	"strings"

	"github.com/cuemby/planesync/pkg/events"
	"github.com/cuemby/planesync/pkg/metrics"
	"github.com/cuemby/planesync/pkg/objectstore"
	"github.com/cuemby/planesync/pkg/serializer"
	"github.com/cuemby/planesync/pkg/types"
)

// LoadSyncRecord reads the whole management plane from the store. Nothing is
// cached; every call re-reads the master pointer and every node blob.
//
// The master pointer is read before the node blobs so that a node promoted
// during the scan is never reported as master alongside a node record that
// predates its promotion.
func (p *Persister) LoadSyncRecord() (*types.PlaneRecord, error) {
	if err := p.ensureReady(); err != nil {
		return nil, err
	}

	timer := metrics.NewTimer()
	record, err := p.loadSyncRecord()
	timer.ObserveDuration(metrics.SyncRecordLoadDuration)
	if err != nil {
		metrics.SyncRecordLoadsTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	metrics.SyncRecordLoadsTotal.WithLabelValues("ok").Inc()
	return record, nil
}

func (p *Persister) loadSyncRecord() (*types.PlaneRecord, error) {
	record := types.NewPlaneRecord()

	master, err := p.master.Get()
	switch {
	case err == nil:
		record.MasterNodeID = strings.TrimSpace(master)
	case errors.Is(err, objectstore.ErrNotFound):
		// no master recorded yet
	default:
		return nil, fmt.Errorf("failed to read master: %w", err)
	}

	paths, err := p.store.ListContentsWithSubPath(NodesSubPath)
	if err != nil {
		return nil, fmt.Errorf("failed to list node records: %w", err)
	}

	for _, path := range paths {
		node, err := p.loadNode(path)
		if err != nil {
			return nil, err
		}
		if node == nil {
			continue
		}
		if _, dup := record.Nodes[node.NodeID]; dup {
			p.logger.Warn().Str("node_id", node.NodeID).Str("path", path).Msg("duplicate node record, keeping the last one read")
		}
		record.Nodes[node.NodeID] = node
	}

	return record, nil
}

// loadNode reads one node blob. It returns nil, nil when the blob has been
// deleted since it was listed.
func (p *Persister) loadNode(path string) (*types.NodeRecord, error) {
	nodeID := objectstore.Name(path)
	accessor := p.store.NewAccessor(path)

	skip := func() (*types.NodeRecord, error) {
		p.logger.Info().Str("node_id", nodeID).Str("path", path).Msg("node record deleted while loading, skipping")
		return nil, nil
	}

	content, err := accessor.Get()
	if errors.Is(err, objectstore.ErrNotFound) {
		return skip()
	}
	if err != nil {
		if gone(accessor) {
			return skip()
		}
		return nil, &CorruptRecordError{NodeID: nodeID, Path: path, Err: err}
	}

	if strings.TrimSpace(content) == "" {
		if gone(accessor) {
			return skip()
		}
		return nil, &CorruptRecordError{NodeID: nodeID, Path: path, Err: serializer.ErrEmptyRecord}
	}

	node, err := p.serializer.Deserialize(content)
	if err != nil {
		return nil, &CorruptRecordError{NodeID: nodeID, Path: path, Err: err}
	}

	if !p.cfg.PreferRecordTimestamp {
		modified, err := accessor.LastModified()
		if err != nil {
			if errors.Is(err, objectstore.ErrNotFound) {
				return skip()
			}
			return nil, &CorruptRecordError{NodeID: nodeID, Path: path, Err: err}
		}
		node.RemoteTimestamp = modified
	}

	return node, nil
}

// gone reports whether the blob is known not to exist. An error from the
// existence check counts as present, so the caller reports corruption.
func gone(accessor objectstore.BlobAccessor) bool {
	exists, err := accessor.Exists()
	return err == nil && !exists
}

// Delta applies upserts, then removals, then the master change. Each step is
// written and acknowledged independently; a failure stops the delta part way.
// Deltas received after Stop are logged and ignored.
func (p *Persister) Delta(delta *types.Delta) error {
	if delta == nil {
		return nil
	}
	if err := p.ensureReady(); err != nil {
		if errors.Is(err, ErrNotRunning) {
			p.logger.Debug().Stringer("delta", delta).Msg("persister not running, ignoring delta")
			metrics.DeltasTotal.WithLabelValues("skipped").Inc()
			return nil
		}
		return err
	}

	timer := metrics.NewTimer()
	err := p.applyDelta(delta)
	timer.ObserveDuration(metrics.DeltaDuration)
	if err != nil {
		metrics.DeltasTotal.WithLabelValues("error").Inc()
		return err
	}
	metrics.DeltasTotal.WithLabelValues("ok").Inc()
	return nil
}

func (p *Persister) applyDelta(delta *types.Delta) error {
	for _, node := range delta.UpsertNodes {
		if err := p.persist(node); err != nil {
			return err
		}
	}
	for _, nodeID := range delta.RemoveNodeIDs {
		if err := p.deleteNode(nodeID); err != nil {
			return err
		}
	}

	switch delta.Master.Kind {
	case types.MasterSet:
		if err := p.persistMaster(delta.Master.NodeID); err != nil {
			return err
		}
		metrics.MasterChangesTotal.WithLabelValues("set").Inc()
		p.publish(events.EventMasterChanged, "master set to "+delta.Master.NodeID, delta.Master.NodeID)
	case types.MasterClear:
		return p.clearMaster(delta.Master.NodeID)
	}
	return nil
}

// persist writes one node record and waits for the write to be acknowledged.
// The change-log lines it queues are not waited on.
func (p *Persister) persist(node *types.NodeRecord) error {
	if node == nil {
		return fmt.Errorf("%w: nil node record", ErrInvalidNodeID)
	}
	if err := ValidateNodeID(node.NodeID); err != nil {
		return err
	}

	writer := p.nodeWriter(node.NodeID)
	existed, err := writer.Exists()
	if err != nil {
		return fmt.Errorf("failed to check node %s: %w", node.NodeID, err)
	}

	content, err := p.serializer.Serialize(node)
	if err != nil {
		return err
	}

	writer.Put(content)
	if err := writer.WaitForCurrentWrites(p.cfg.SyncWriteTimeout); err != nil {
		return fmt.Errorf("failed to persist node %s: %w", node.NodeID, err)
	}
	metrics.NodeRecordWritesTotal.WithLabelValues("put").Inc()

	if !existed {
		p.appendChangeLog("created node " + node.NodeID)
		p.publish(events.EventNodeCreated, "created node "+node.NodeID, node.NodeID)
	}
	if node.Status.IsTerminal() {
		line := fmt.Sprintf("set node %s status to %s", node.NodeID, node.Status)
		p.appendChangeLog(line)
		p.publish(events.EventNodeTerminal, line, node.NodeID)
	}
	return nil
}

func (p *Persister) deleteNode(nodeID string) error {
	if err := ValidateNodeID(nodeID); err != nil {
		return err
	}
	if err := p.nodeWriter(nodeID).Delete(p.cfg.SyncWriteTimeout); err != nil {
		return fmt.Errorf("failed to delete node %s: %w", nodeID, err)
	}
	metrics.NodeRecordWritesTotal.WithLabelValues("delete").Inc()

	p.appendChangeLog("deleted node " + nodeID)
	p.publish(events.EventNodeDeleted, "deleted node "+nodeID, nodeID)
	return nil
}

// persistMaster overwrites the master pointer and records the change, waiting
// for both writes. Failures of earlier change-log appends nobody waited on are
// logged here rather than reported as a failure of this change.
func (p *Persister) persistMaster(nodeID string) error {
	if err := p.changeLog.WaitForCurrentWrites(p.cfg.SyncWriteTimeout); err != nil {
		p.logger.Warn().Err(err).Msg("earlier change-log append failed")
	}

	p.master.Put(nodeID)
	if err := p.master.WaitForCurrentWrites(p.cfg.SyncWriteTimeout); err != nil {
		return fmt.Errorf("failed to write master: %w", err)
	}

	p.appendChangeLog("set master to " + nodeID)
	if err := p.changeLog.WaitForCurrentWrites(p.cfg.SyncWriteTimeout); err != nil {
		return fmt.Errorf("failed to write change log: %w", err)
	}
	return nil
}

// clearMaster empties the master pointer if it still names expected. The
// check and the write are separate store operations, so another node can
// change the pointer in between; this is a best-effort guard, not a
// compare-and-swap.
func (p *Persister) clearMaster(expected string) error {
	current, err := p.master.Get()
	if err != nil && !errors.Is(err, objectstore.ErrNotFound) {
		return fmt.Errorf("failed to read master: %w", err)
	}

	current = strings.TrimSpace(current)
	expected = strings.TrimSpace(expected)
	if current != expected {
		p.logger.Warn().
			Str("expected", expected).
			Str("master", current).
			Msg("master changed before it could be cleared, leaving it in place")
		metrics.MasterChangesTotal.WithLabelValues("clear_skipped").Inc()
		return nil
	}

	if err := p.persistMaster(""); err != nil {
		return err
	}
	metrics.MasterChangesTotal.WithLabelValues("clear").Inc()
	p.publish(events.EventMasterCleared, "cleared master "+expected, expected)
	return nil
}

// Checkpoint persists every node of a full snapshot, typically after a
// resync. Placeholder nodes without an id are skipped. The master pointer in
// the snapshot is not written.
func (p *Persister) Checkpoint(record *types.PlaneRecord) error {
	if record == nil {
		return nil
	}
	if err := p.ensureReady(); err != nil {
		if errors.Is(err, ErrNotRunning) {
			p.logger.Debug().Msg("persister not running, ignoring checkpoint")
			return nil
		}
		return err
	}

	n := p.checkpoints.Add(1)
	if n <= uint64(p.cfg.CheckpointLogFirst) || n%uint64(p.cfg.CheckpointLogEvery) == 0 {
		p.logger.Debug().
			Uint64("checkpoint", n).
			Int("nodes", len(record.Nodes)).
			Str("master", record.MasterNodeID).
			Strs("node_ids", record.NodeIDs()).
			Msg("checkpointing sync record")
	}

	for _, nodeID := range record.NodeIDs() {
		node := record.Nodes[nodeID]
		if node == nil || node.NodeID == "" {
			// INITIALIZING placeholders have no id yet
			continue
		}
		if err := p.persist(node); err != nil {
			return err
		}
	}
	return nil
}

// ReadChangeLog returns the change-log lines in the order they were written
func (p *Persister) ReadChangeLog() ([]string, error) {
	if err := p.ensureReady(); err != nil && !errors.Is(err, ErrNotRunning) {
		return nil, err
	}

	p.initMu.Lock()
	changeLog := p.changeLog
	p.initMu.Unlock()
	if changeLog == nil {
		return nil, ErrNotRunning
	}

	content, err := changeLog.Get()
	if errors.Is(err, objectstore.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read change log: %w", err)
	}

	var lines []string
	for _, line := range strings.Split(content, "\n") {
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines, nil
}

func (p *Persister) appendChangeLog(event string) {
	p.changeLog.Append(p.cfg.Clock().Format(ChangeLogTimeLayout) + ": " + event + "\n")
	metrics.ChangeLogAppendsTotal.Inc()
}

func (p *Persister) publish(eventType events.EventType, message, nodeID string) {
	if p.cfg.Events == nil {
		return
	}
	p.cfg.Events.Publish(&events.Event{
		Type:     eventType,
		Message:  message,
		Metadata: map[string]string{"node_id": nodeID},
	})
}
