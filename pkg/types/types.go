package types

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// NodeStatus represents the lifecycle state of a management node
type NodeStatus string

const (
	NodeStatusInitializing NodeStatus = "INITIALIZING"
	NodeStatusStarting     NodeStatus = "STARTING"
	NodeStatusRunning      NodeStatus = "RUNNING"
	NodeStatusStopping     NodeStatus = "STOPPING"
	NodeStatusStopped      NodeStatus = "STOPPED"
	NodeStatusTerminated   NodeStatus = "TERMINATED"
	NodeStatusFailed       NodeStatus = "FAILED"
)

var knownStatuses = []NodeStatus{
	NodeStatusInitializing,
	NodeStatusStarting,
	NodeStatusRunning,
	NodeStatusStopping,
	NodeStatusStopped,
	NodeStatusTerminated,
	NodeStatusFailed,
}

// AllNodeStatuses returns every status in lifecycle order
func AllNodeStatuses() []NodeStatus {
	out := make([]NodeStatus, len(knownStatuses))
	copy(out, knownStatuses)
	return out
}

// ParseNodeStatus converts a case-insensitive name to a NodeStatus
func ParseNodeStatus(s string) (NodeStatus, error) {
	want := NodeStatus(strings.ToUpper(strings.TrimSpace(s)))
	for _, st := range knownStatuses {
		if st == want {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown node status: %q", s)
}

// IsTerminal reports whether the node will not come back without a restart.
// Transitions into a terminal status are recorded in the change log.
func (s NodeStatus) IsTerminal() bool {
	return s == NodeStatusTerminated || s == NodeStatusFailed
}

// NodeRecord is the durable status of one management node
type NodeRecord struct {
	NodeID   string     `yaml:"nodeId"`
	Status   NodeStatus `yaml:"status"`
	Version  string     `yaml:"version,omitempty"`
	URI      string     `yaml:"uri,omitempty"`
	Priority int        `yaml:"priority,omitempty"`

	// LocalTimestamp is taken from the writing node's own clock
	LocalTimestamp time.Time `yaml:"localTimestamp"`

	// RemoteTimestamp is the store's last-modified time for the node's blob.
	// It is overwritten on every load unless the persister is configured to
	// trust the value embedded in the record.
	RemoteTimestamp time.Time `yaml:"remoteTimestamp,omitempty"`
}

// Copy returns a shallow copy of the record
func (r *NodeRecord) Copy() *NodeRecord {
	if r == nil {
		return nil
	}
	c := *r
	return &c
}

func (r *NodeRecord) String() string {
	return fmt.Sprintf("%s[%s]", r.NodeID, r.Status)
}

// PlaneRecord is a snapshot of the whole management plane.
// An empty MasterNodeID means no master is recorded.
type PlaneRecord struct {
	MasterNodeID string
	Nodes        map[string]*NodeRecord
}

// NewPlaneRecord creates an empty snapshot
func NewPlaneRecord() *PlaneRecord {
	return &PlaneRecord{Nodes: make(map[string]*NodeRecord)}
}

// HasMaster reports whether a master id is recorded
func (p *PlaneRecord) HasMaster() bool {
	return p.MasterNodeID != ""
}

// Master returns the record of the master node. It returns nil when no master
// is recorded or when the master pointer references a node that is not present,
// which is allowed: the pointer and the node records are written independently.
func (p *PlaneRecord) Master() *NodeRecord {
	if p.MasterNodeID == "" {
		return nil
	}
	return p.Nodes[p.MasterNodeID]
}

// NodeIDs returns the ids of all nodes in sorted order
func (p *PlaneRecord) NodeIDs() []string {
	ids := make([]string, 0, len(p.Nodes))
	for id := range p.Nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// CountByStatus groups the nodes by status
func (p *PlaneRecord) CountByStatus() map[NodeStatus]int {
	counts := make(map[NodeStatus]int)
	for _, n := range p.Nodes {
		counts[n.Status]++
	}
	return counts
}

// MasterChangeKind selects what a delta does to the master pointer
type MasterChangeKind int

const (
	MasterNoChange MasterChangeKind = iota
	MasterSet
	MasterClear
)

func (k MasterChangeKind) String() string {
	switch k {
	case MasterSet:
		return "set"
	case MasterClear:
		return "clear"
	default:
		return "none"
	}
}

// MasterChange describes the change to the master pointer carried by a delta.
// For MasterSet NodeID is the new master. For MasterClear NodeID is the master
// the caller expects to be clearing.
type MasterChange struct {
	Kind   MasterChangeKind
	NodeID string
}

// NoMasterChange leaves the master pointer untouched
func NoMasterChange() MasterChange {
	return MasterChange{Kind: MasterNoChange}
}

// SetMaster unconditionally points the master at nodeID
func SetMaster(nodeID string) MasterChange {
	return MasterChange{Kind: MasterSet, NodeID: nodeID}
}

// ClearMaster clears the master pointer if it still names expectedCurrentID
func ClearMaster(expectedCurrentID string) MasterChange {
	return MasterChange{Kind: MasterClear, NodeID: expectedCurrentID}
}

// Delta is a unit of change to the sync record. Upserts are applied first,
// then removals, then the master change.
type Delta struct {
	UpsertNodes   []*NodeRecord
	RemoveNodeIDs []string
	Master        MasterChange
}

// IsEmpty reports whether applying the delta would do nothing
func (d *Delta) IsEmpty() bool {
	return len(d.UpsertNodes) == 0 && len(d.RemoveNodeIDs) == 0 && d.Master.Kind == MasterNoChange
}

func (d *Delta) String() string {
	upserts := make([]string, 0, len(d.UpsertNodes))
	for _, n := range d.UpsertNodes {
		upserts = append(upserts, n.String())
	}
	return fmt.Sprintf("delta{upsert=%v remove=%v master=%s:%s}",
		upserts, d.RemoveNodeIDs, d.Master.Kind, d.Master.NodeID)
}
