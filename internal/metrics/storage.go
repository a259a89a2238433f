package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	DiskPressureLevel = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "storage_disk_pressure_level",
		Help: "Current disk pressure level (0=normal, 1=warning, 2=critical, 3=emergency)",
	})

	DiskFreePercent = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "storage_disk_free_percent",
		Help: "Percentage of free space on the recording filesystem",
	})

	RetentionSweepsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "storage_retention_sweeps_total",
		Help: "Total number of retention sweeps executed",
	})

	RecordingsEvicted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storage_recordings_evicted_total",
		Help: "Total recordings deleted by the retention sweep",
	}, []string{"reason"})

	RetentionBytesFreed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "storage_retention_bytes_freed_total",
		Help: "Total bytes freed by the retention sweep",
	})
)
