package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/cuemby/planesync/pkg/types"
)

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Apply a delta from a YAML file",
	Long: `Apply a sync record delta from a YAML file.

Upserts are written first, then removals, then the master change.

Example:
  planesync apply -f delta.yaml

  # delta.yaml
  upsert:
    - nodeId: node-1
      status: RUNNING
      version: 1.4.0
      uri: https://node-1:8443
  remove: [node-3]
  master:
    set: node-1`,
	Args: cobra.NoArgs,
	RunE: runApply,
}

func init() {
	applyCmd.Flags().StringP("file", "f", "", "YAML file to apply (required)")
	_ = applyCmd.MarkFlagRequired("file")

	rootCmd.AddCommand(applyCmd)
}

// DeltaFile is the YAML form of a delta
type DeltaFile struct {
	Upsert []NodeSpec  `yaml:"upsert"`
	Remove []string    `yaml:"remove"`
	Master *MasterSpec `yaml:"master,omitempty"`
}

// NodeSpec describes one node to upsert
type NodeSpec struct {
	NodeID   string `yaml:"nodeId"`
	Status   string `yaml:"status"`
	Version  string `yaml:"version,omitempty"`
	URI      string `yaml:"uri,omitempty"`
	Priority int    `yaml:"priority,omitempty"`
}

// MasterSpec sets or clears the master; at most one field may be set
type MasterSpec struct {
	Set   string `yaml:"set,omitempty"`
	Clear string `yaml:"clear,omitempty"`
}

func runApply(cmd *cobra.Command, args []string) error {
	filename, _ := cmd.Flags().GetString("file")

	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	delta, err := parseDeltaFile(data, time.Now())
	if err != nil {
		return err
	}
	if delta.IsEmpty() {
		fmt.Println("Nothing to apply")
		return nil
	}
	return applyDelta(delta)
}

// parseDeltaFile converts a YAML delta into a types.Delta, stamping upserted
// records with now
func parseDeltaFile(data []byte, now time.Time) (*types.Delta, error) {
	var file DeltaFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	delta := &types.Delta{RemoveNodeIDs: file.Remove}
	for i, spec := range file.Upsert {
		if spec.NodeID == "" {
			return nil, fmt.Errorf("upsert[%d]: nodeId is required", i)
		}
		status, err := types.ParseNodeStatus(spec.Status)
		if err != nil {
			return nil, fmt.Errorf("upsert[%d]: %w", i, err)
		}
		delta.UpsertNodes = append(delta.UpsertNodes, &types.NodeRecord{
			NodeID:         spec.NodeID,
			Status:         status,
			Version:        spec.Version,
			URI:            spec.URI,
			Priority:       spec.Priority,
			LocalTimestamp: now,
		})
	}
	for i, id := range file.Remove {
		if id == "" {
			return nil, fmt.Errorf("remove[%d]: empty node id", i)
		}
	}

	if m := file.Master; m != nil {
		switch {
		case m.Set != "" && m.Clear != "":
			return nil, fmt.Errorf("master: set and clear are mutually exclusive")
		case m.Set != "":
			delta.Master = types.SetMaster(m.Set)
		case m.Clear != "":
			delta.Master = types.ClearMaster(m.Clear)
		}
	}
	return delta, nil
}
