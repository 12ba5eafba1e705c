package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/cuemby/planesync/pkg/config"
	"github.com/cuemby/planesync/pkg/objectstore"
	"github.com/cuemby/planesync/pkg/persister"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Move a legacy sync record to the current layout",
	Long: `Migrate moves the master pointer and change log written by older releases
at "/master" and "/change.log" to "master" and "change.log".

Stop every management node using the store before migrating. For bolt stores
the database file is backed up first unless --dry-run is given.`,
	Args: cobra.NoArgs,
	RunE: runMigrate,
}

func init() {
	migrateCmd.Flags().Bool("dry-run", false, "Show what would be migrated without making changes")
	migrateCmd.Flags().String("backup", "", "Backup path for a bolt store (default: <store-path>/planesync.db.backup)")
}

func runMigrate(cmd *cobra.Command, args []string) error {
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	backupPath, _ := cmd.Flags().GetString("backup")

	if cfg.Store.Driver == config.DriverFile {
		fmt.Println("✓ File stores do not distinguish legacy paths, nothing to migrate")
		return nil
	}

	store, err := openStore()
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer store.Close()

	if bolt, ok := store.(*objectstore.BoltStore); ok && !dryRun {
		if backupPath == "" {
			backupPath = filepath.Join(cfg.Store.Path, objectstore.DefaultBoltFile+".backup")
		}
		if err := bolt.Backup(backupPath); err != nil {
			return fmt.Errorf("failed to create backup: %w", err)
		}
		fmt.Printf("✓ Backup created: %s\n", backupPath)
	}

	report, err := persister.MigrateLegacyPaths(store, dryRun)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	if !report.Needed {
		fmt.Println("✓ Store already uses the current layout")
		return nil
	}
	if report.ConflictingMaster != "" {
		fmt.Printf("⚠ Both master blobs existed; replacing %q with legacy value %q\n", report.ConflictingMaster, report.Master)
	}

	if dryRun {
		fmt.Println("[DRY RUN] Would perform the following operations:")
		fmt.Printf("1. Write master %q to %s\n", report.Master, persister.MasterPath)
		fmt.Printf("2. Copy %d change-log lines to %s\n", report.ChangeLogLines, persister.ChangeLogPath)
		fmt.Printf("3. Delete /%s (/%s is kept for rollback)\n", persister.MasterPath, persister.ChangeLogPath)
		return nil
	}

	fmt.Printf("✓ Migrated master %q and %d change-log lines\n", report.Master, report.ChangeLogLines)
	return nil
}
