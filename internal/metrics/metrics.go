// Package metrics provides Prometheus counters for a deduplication run.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is a set of run counters on a private registry, so a run can be
// exported as a node-exporter textfile without touching global state.
type Metrics struct {
	registry *prometheus.Registry

	FilesLoaded     prometheus.Counter
	FilesDiscovered *prometheus.CounterVec
	FilesHashed     prometheus.Counter
	HashFailures    *prometheus.CounterVec
	BytesHashed     prometheus.Counter
	Checkpoints     *prometheus.CounterVec
	FilesMoved      prometheus.Counter
	PendingFiles    prometheus.Gauge
	DuplicateGroups prometheus.Gauge
	DuplicateFiles  prometheus.Gauge
	LastRunSeconds  prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		FilesLoaded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dedupe_files_loaded_total",
			Help: "Files restored from the snapshot",
		}),
		FilesDiscovered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dedupe_files_discovered_total",
			Help: "Files newly discovered on the filesystem",
		}, []string{"origin"}),
		FilesHashed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dedupe_files_hashed_total",
			Help: "Files successfully hashed",
		}),
		HashFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dedupe_hash_failures_total",
			Help: "Files that could not be hashed",
		}, []string{"reason"}),
		BytesHashed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dedupe_bytes_hashed_total",
			Help: "Bytes read while hashing",
		}),
		Checkpoints: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dedupe_checkpoints_total",
			Help: "Snapshot writes",
		}, []string{"status"}),
		FilesMoved: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dedupe_files_moved_total",
			Help: "Duplicates relocated to the destination tree",
		}),
		PendingFiles: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dedupe_pending_files",
			Help: "Files waiting to be hashed",
		}),
		DuplicateGroups: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dedupe_duplicate_groups",
			Help: "Digests shared by more than one file",
		}),
		DuplicateFiles: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dedupe_duplicate_files",
			Help: "Non-canonical files across all duplicate groups",
		}),
		LastRunSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dedupe_last_run_duration_seconds",
			Help: "Wall time of the last run",
		}),
	}

	m.registry.MustRegister(
		m.FilesLoaded,
		m.FilesDiscovered,
		m.FilesHashed,
		m.HashFailures,
		m.BytesHashed,
		m.Checkpoints,
		m.FilesMoved,
		m.PendingFiles,
		m.DuplicateGroups,
		m.DuplicateFiles,
		m.LastRunSeconds,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// WriteTextfile writes the current values in the Prometheus text format,
// replacing path atomically.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.registry)
}
