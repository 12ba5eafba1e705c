package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/cuemby/planesync/pkg/config"
	"github.com/cuemby/planesync/pkg/log"
	"github.com/cuemby/planesync/pkg/objectstore"
	"github.com/cuemby/planesync/pkg/persister"
	"github.com/cuemby/planesync/pkg/probe"
	"github.com/cuemby/planesync/pkg/types"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// cfg is loaded before any subcommand runs
var cfg *config.Config

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "planesync",
	Short: "planesync - shared sync record for management node failover",
	Long: `planesync keeps the management plane sync record in an object store:
which management nodes exist, their status, and which one is master.

Every management node runs "planesync run" against the same store. The other
commands inspect or edit the record directly.`,
	Version:           Version,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"planesync version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	flags := rootCmd.PersistentFlags()
	flags.StringP("config", "c", "", "Path to a YAML configuration file")
	flags.String("node-id", "", "Local management node id (default: random)")
	flags.String("store", config.DriverBolt, "Object store driver (bolt, file, memory)")
	flags.String("store-path", "./planesync-data", "Data directory for the bolt or file store")
	flags.String("store-root", "", "Key prefix inside a bolt store")
	flags.String("log-level", "info", "Log level (debug, info, warn, error)")
	flags.Bool("log-json", false, "Log in JSON format")

	bindFlag(config.KeyNodeID, "node-id")
	bindFlag(config.KeyStoreDriver, "store")
	bindFlag(config.KeyStorePath, "store-path")
	bindFlag(config.KeyStoreRoot, "store-root")
	bindFlag(config.KeyLogLevel, "log-level")
	bindFlag(config.KeyLogJSON, "log-json")

	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(setMasterCmd)
	rootCmd.AddCommand(clearMasterCmd)
	rootCmd.AddCommand(removeNodeCmd)
	rootCmd.AddCommand(changelogCmd)
	rootCmd.AddCommand(migrateCmd)
}

func bindFlag(key, flag string) {
	if err := viper.BindPFlag(key, rootCmd.PersistentFlags().Lookup(flag)); err != nil {
		fmt.Fprintf(os.Stderr, "failed to bind flag %s: %v\n", flag, err)
		os.Exit(1)
	}
}

func loadConfig(cmd *cobra.Command, _ []string) error {
	path, _ := cmd.Flags().GetString("config")

	loaded, err := config.Load(viper.GetViper(), path)
	if err != nil {
		return err
	}
	if err := loaded.Validate(); err != nil {
		return err
	}

	log.Init(loaded.LoggerConfig())
	cfg = loaded
	return nil
}

// openStore opens the configured object store
func openStore() (objectstore.Store, error) {
	switch cfg.Store.Driver {
	case config.DriverBolt:
		return objectstore.NewBoltStore(cfg.Store.Path, cfg.Store.Root)
	case config.DriverFile:
		return objectstore.NewFileStore(cfg.Store.Path)
	case config.DriverMemory:
		return objectstore.NewMemoryStore(), nil
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
}

// withPersister opens the store, runs fn with a persister over it, and then
// flushes and closes both
func withPersister(fn func(p *persister.Persister) error) error {
	store, err := openStore()
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer store.Close()

	p := persister.New(store, cfg.PersisterConfig())

	fnErr := fn(p)
	if fnErr == nil {
		fnErr = p.WaitForWritesCompleted(cfg.SyncWriteTimeout)
	}
	p.Stop()
	return fnErr
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the management plane sync record",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		probeNodes, _ := cmd.Flags().GetBool("probe")
		return withPersister(func(p *persister.Persister) error {
			record, err := p.LoadSyncRecord()
			if err != nil {
				return err
			}
			printRecord(record)
			if probeNodes {
				printProbes(cmd.Context(), record)
			}
			return nil
		})
	},
}

func init() {
	statusCmd.Flags().Bool("probe", false, "Check that each node answers on its URI")
}

func printProbes(ctx context.Context, record *types.PlaneRecord) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, 2*probe.DefaultTimeout)
	defer cancel()

	results := probe.Nodes(ctx, record)
	fmt.Println()
	for _, id := range record.NodeIDs() {
		r := results[id]
		mark := "✗"
		if r.Reachable {
			mark = "✓"
		}
		fmt.Printf("%s %-36s  %s (%s)\n", mark, id, r.Message, r.Duration.Round(time.Millisecond))
	}
}

func printRecord(record *types.PlaneRecord) {
	master := record.MasterNodeID
	if master == "" {
		master = "<none>"
	}
	fmt.Printf("Master: %s\n", master)
	if record.HasMaster() && record.Master() == nil {
		fmt.Println("  (master has no node record)")
	}
	fmt.Printf("Nodes:  %d\n", len(record.Nodes))
	if len(record.Nodes) == 0 {
		return
	}

	fmt.Println()
	fmt.Printf("%-36s  %-12s  %-10s  %-8s  %s\n", "NODE", "STATUS", "VERSION", "PRIORITY", "LAST SEEN")
	for _, id := range record.NodeIDs() {
		n := record.Nodes[id]
		marker := ""
		if id == record.MasterNodeID {
			marker = " *"
		}
		fmt.Printf("%-36s  %-12s  %-10s  %-8d  %s\n",
			id+marker, n.Status, n.Version, n.Priority, n.RemoteTimestamp.Format("2006-01-02 15:04:05"))
	}

	counts := record.CountByStatus()
	var summary []string
	for _, st := range types.AllNodeStatuses() {
		if c := counts[st]; c > 0 {
			summary = append(summary, fmt.Sprintf("%s=%d", st, c))
		}
	}
	fmt.Printf("\n%s\n", strings.Join(summary, " "))
}

var setMasterCmd = &cobra.Command{
	Use:   "set-master NODE_ID",
	Short: "Point the master at a node unconditionally",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return applyDelta(&types.Delta{Master: types.SetMaster(args[0])})
	},
}

var clearMasterCmd = &cobra.Command{
	Use:   "clear-master EXPECTED_NODE_ID",
	Short: "Clear the master if it still names the given node",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return applyDelta(&types.Delta{Master: types.ClearMaster(args[0])})
	},
}

var removeNodeCmd = &cobra.Command{
	Use:   "remove-node NODE_ID...",
	Short: "Delete node records",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return applyDelta(&types.Delta{RemoveNodeIDs: args})
	},
}

func applyDelta(delta *types.Delta) error {
	return withPersister(func(p *persister.Persister) error {
		if err := p.Delta(delta); err != nil {
			return err
		}
		record, err := p.LoadSyncRecord()
		if err != nil {
			return err
		}
		fmt.Printf("✓ Applied %s\n\n", delta)
		printRecord(record)
		return nil
	})
}

var changelogCmd = &cobra.Command{
	Use:   "changelog",
	Short: "Print the change log",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		tail, _ := cmd.Flags().GetInt("tail")
		return withPersister(func(p *persister.Persister) error {
			lines, err := p.ReadChangeLog()
			if err != nil {
				return err
			}
			if tail > 0 && len(lines) > tail {
				lines = lines[len(lines)-tail:]
			}
			for _, line := range lines {
				fmt.Println(line)
			}
			return nil
		})
	},
}

func init() {
	changelogCmd.Flags().IntP("tail", "n", 0, "Only print the last N lines")
}
