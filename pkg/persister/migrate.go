package persister

import (
	"errors"
	"fmt"
	"strings"

	"github.com/cuemby/planesync/pkg/log"
	"github.com/cuemby/planesync/pkg/objectstore"
)

// MigrationReport describes what MigrateLegacyPaths found and did
type MigrationReport struct {
	// Needed is false when the store has no legacy master blob
	Needed bool
	DryRun bool

	Master         string
	ChangeLogLines int

	// ConflictingMaster is set when both master blobs existed; the legacy
	// value wins because it is the one running nodes were using
	ConflictingMaster string
}

// MigrateLegacyPaths moves the master pointer and change log from the
// leading-slash paths to the current ones. The legacy change log is left in
// place for rollback; the legacy master blob is deleted, since its presence is
// what selects the legacy layout. No persister may be running against the
// store while it migrates.
//
// The store must keep "/master" and "master" as distinct blobs, as BoltStore
// and MemoryStore do. A FileStore cleans paths and never has a legacy layout.
func MigrateLegacyPaths(store objectstore.Store, dryRun bool) (*MigrationReport, error) {
	logger := log.WithComponent("migrate")
	report := &MigrationReport{DryRun: dryRun}

	legacyMaster := store.NewAccessor(legacyPrefix + MasterPath)
	master, err := legacyMaster.Get()
	if errors.Is(err, objectstore.ErrNotFound) {
		logger.Info().Msg("no legacy master blob, store already uses current paths")
		return report, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read legacy master: %w", err)
	}
	report.Needed = true
	report.Master = strings.TrimSpace(master)

	currentMaster := store.NewAccessor(MasterPath)
	if existing, err := currentMaster.Get(); err == nil {
		report.ConflictingMaster = strings.TrimSpace(existing)
		logger.Warn().
			Str("legacy_master", report.Master).
			Str("master", report.ConflictingMaster).
			Msg("both legacy and current master blobs exist, keeping the legacy value")
	} else if !errors.Is(err, objectstore.ErrNotFound) {
		return nil, fmt.Errorf("failed to read master: %w", err)
	}

	legacyLog, err := store.NewAccessor(legacyPrefix + ChangeLogPath).Get()
	if err != nil && !errors.Is(err, objectstore.ErrNotFound) {
		return nil, fmt.Errorf("failed to read legacy change log: %w", err)
	}
	report.ChangeLogLines = strings.Count(legacyLog, "\n")

	if dryRun {
		return report, nil
	}

	changeLog := store.NewAccessor(ChangeLogPath)
	current, err := changeLog.Get()
	if err != nil && !errors.Is(err, objectstore.ErrNotFound) {
		return nil, fmt.Errorf("failed to read change log: %w", err)
	}
	if legacyLog != "" {
		if err := changeLog.Put(legacyLog + current); err != nil {
			return nil, fmt.Errorf("failed to write change log: %w", err)
		}
	}
	if err := currentMaster.Put(report.Master); err != nil {
		return nil, fmt.Errorf("failed to write master: %w", err)
	}
	if err := legacyMaster.Delete(); err != nil {
		return nil, fmt.Errorf("failed to delete legacy master: %w", err)
	}

	logger.Info().
		Str("master", report.Master).
		Int("change_log_lines", report.ChangeLogLines).
		Msg("migrated sync record to current paths")
	return report, nil
}
