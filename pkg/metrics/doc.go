/*
Package metrics exposes Prometheus metrics and health endpoints for planesync.

All collectors are package-level variables registered with the default
registry in init, so any package can increment them without wiring. Handler
serves them in the Prometheus text format; HealthHandler, ReadyHandler and
LivenessHandler serve JSON health documents for the CLI's HTTP listener.

# Metrics Catalog

planesync_sync_record_loads_total{result}:
  - Counter of LoadSyncRecord calls, result is "ok" or "error"

planesync_sync_record_load_duration_seconds:
  - Histogram of full-plane load latency

planesync_deltas_total{result} / planesync_delta_duration_seconds:
  - Deltas applied ("ok", "error", "skipped" after stop) and their latency

planesync_node_record_writes_total{operation}:
  - "put" and "delete" of node records

planesync_master_changes_total{operation}:
  - "set", "clear" and "clear_skipped" (expected master did not match)

planesync_change_log_appends_total:
  - Lines queued for the change log

planesync_write_timeouts_total{operation}:
  - Bounded waits on store writes that expired

planesync_serialization_retries_total:
  - Record encode or decode attempts that were retried

planesync_plane_nodes_total{status} / planesync_is_master:
  - Last observed plane, refreshed by the heartbeat loop

# Timer Helper

	timer := metrics.NewTimer()
	record, err := p.LoadSyncRecord()
	timer.ObserveDuration(metrics.SyncRecordLoadDuration)
*/
package metrics
