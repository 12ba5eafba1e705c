package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Sync record metrics
	SyncRecordLoadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "planesync_sync_record_loads_total",
			Help: "Total number of sync record loads by result",
		},
		[]string{"result"},
	)

	SyncRecordLoadDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "planesync_sync_record_load_duration_seconds",
			Help:    "Time taken to load a full sync record in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	DeltasTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "planesync_deltas_total",
			Help: "Total number of deltas by result",
		},
		[]string{"result"},
	)

	DeltaDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "planesync_delta_duration_seconds",
			Help:    "Time taken to apply a delta in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	NodeRecordWritesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "planesync_node_record_writes_total",
			Help: "Total number of node record writes by operation",
		},
		[]string{"operation"},
	)

	MasterChangesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "planesync_master_changes_total",
			Help: "Total number of master pointer changes by operation (set, clear, clear_skipped)",
		},
		[]string{"operation"},
	)

	ChangeLogAppendsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "planesync_change_log_appends_total",
			Help: "Total number of lines appended to the change log",
		},
	)

	WriteTimeoutsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "planesync_write_timeouts_total",
			Help: "Total number of store write waits that timed out",
		},
		[]string{"operation"},
	)

	SerializationRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "planesync_serialization_retries_total",
			Help: "Total number of retried record encode or decode attempts",
		},
	)

	// Plane metrics, refreshed by the heartbeat loop
	PlaneNodesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "planesync_plane_nodes_total",
			Help: "Number of management nodes in the last loaded sync record by status",
		},
		[]string{"status"},
	)

	IsMaster = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "planesync_is_master",
			Help: "Whether this node is the recorded master (1 = master, 0 = standby)",
		},
	)
)

func init() {
	prometheus.MustRegister(SyncRecordLoadsTotal)
	prometheus.MustRegister(SyncRecordLoadDuration)
	prometheus.MustRegister(DeltasTotal)
	prometheus.MustRegister(DeltaDuration)
	prometheus.MustRegister(NodeRecordWritesTotal)
	prometheus.MustRegister(MasterChangesTotal)
	prometheus.MustRegister(ChangeLogAppendsTotal)
	prometheus.MustRegister(WriteTimeoutsTotal)
	prometheus.MustRegister(SerializationRetriesTotal)
	prometheus.MustRegister(PlaneNodesTotal)
	prometheus.MustRegister(IsMaster)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
