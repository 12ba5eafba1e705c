package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/planesync/pkg/types"
)

func TestParseDeltaFile(t *testing.T) {
	now := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)

	delta, err := parseDeltaFile([]byte(`
upsert:
  - nodeId: node-1
    status: running
    version: 1.4.0
    uri: https://node-1:8443
    priority: 2
remove: [node-3, node-4]
master:
  clear: node-3
`), now)
	require.NoError(t, err)

	require.Len(t, delta.UpsertNodes, 1)
	node := delta.UpsertNodes[0]
	assert.Equal(t, "node-1", node.NodeID)
	assert.Equal(t, types.NodeStatusRunning, node.Status)
	assert.Equal(t, 2, node.Priority)
	assert.Equal(t, now, node.LocalTimestamp)
	assert.Equal(t, []string{"node-3", "node-4"}, delta.RemoveNodeIDs)
	assert.Equal(t, types.ClearMaster("node-3"), delta.Master)
}

func TestParseDeltaFile_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{name: "malformed", yaml: "upsert: ["},
		{name: "missing node id", yaml: "upsert:\n  - status: RUNNING\n"},
		{name: "unknown status", yaml: "upsert:\n  - nodeId: a\n    status: SLEEPING\n"},
		{name: "empty removal", yaml: "remove: ['']\n"},
		{name: "set and clear", yaml: "master:\n  set: a\n  clear: b\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseDeltaFile([]byte(tt.yaml), time.Now())
			assert.Error(t, err)
		})
	}
}

func TestParseDeltaFile_Empty(t *testing.T) {
	delta, err := parseDeltaFile([]byte("{}"), time.Now())
	require.NoError(t, err)
	assert.True(t, delta.IsEmpty())
}
