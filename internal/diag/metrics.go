package diag

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus instruments for the scan orchestrator.
type Metrics struct {
	ActiveScans    prometheus.Gauge
	ScansTotal     prometheus.Counter
	ScansFailed    prometheus.Counter
	TaskResults    *prometheus.CounterVec
	ScanDuration   prometheus.Histogram
	Opportunities  prometheus.Counter
	StoreNearMiss  prometheus.Counter
	ProgressWrites prometheus.Counter
}

// NewMetrics creates and registers the orchestrator metrics on the given
// registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ActiveScans: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "oppscan_active_scans",
			Help: "Number of currently active scans",
		}),
		ScansTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "oppscan_scans_total",
			Help: "Total number of scans initiated",
		}),
		ScansFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "oppscan_scans_failed_total",
			Help: "Total number of scans that ended in failed status",
		}),
		TaskResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "oppscan_strategy_tasks_total",
			Help: "Strategy task settlements by family and status",
		}, []string{"family", "status"}),
		ScanDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "oppscan_scan_duration_seconds",
			Help:    "End-to-end scan duration in seconds",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 30, 60, 120},
		}),
		Opportunities: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "oppscan_opportunities_total",
			Help: "Total opportunities surfaced across all scans",
		}),
		StoreNearMiss: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "oppscan_store_near_miss_total",
			Help: "Scan lookups that missed the direct key but resolved via the recency index",
		}),
		ProgressWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "oppscan_progress_writes_total",
			Help: "Coalesced progress writes to the scan state store",
		}),
	}

	reg.MustRegister(
		m.ActiveScans, m.ScansTotal, m.ScansFailed, m.TaskResults,
		m.ScanDuration, m.Opportunities, m.StoreNearMiss, m.ProgressWrites,
	)
	return m
}
