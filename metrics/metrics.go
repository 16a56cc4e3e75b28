package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	namespace = "libsql"
	subsystem = "server"
)

var (
	// FramesAppended counts committed WAL frames appended to the
	// replication log.
	FramesAppended = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "replication_frames_appended_total",
		Help:      "Number of committed WAL frames appended to the replication log",
	})

	// ProxiedWrites counts write batches forwarded to the primary by
	// write-proxy connections.
	ProxiedWrites = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "proxied_writes_total",
		Help:      "Number of write batches forwarded to the primary",
	})

	// ProxiedWriteDuration stores the round-trip time of forwarded
	// write batches.
	ProxiedWriteDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "proxied_write_duration_seconds",
		Help:      "Round-trip time of write batches forwarded to the primary",
	})

	// ConfigUpdates counts namespace configuration changes applied by
	// the metadata store.
	ConfigUpdates = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "config_updates_total",
		Help:      "Number of namespace configuration updates applied",
	})

	// OpenConnections tracks currently open tracked connections.
	OpenConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "open_connections",
		Help:      "Number of currently open database connections",
	})
)
