// Package metrics wires gofastd's counters and gauges up to Prometheus,
// in the same registration style the dcache client uses: build a
// MetricSet of Vec collectors up front, register them against the
// default registry, and hand the set to whatever components need to
// record against it.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// MetricSet is every metric gofastd exposes.
type MetricSet struct {
	OpsTotal        *prometheus.CounterVec
	CacheBytes      prometheus.Gauge
	CacheEntries    prometheus.Gauge
	PoolWorkers     prometheus.Gauge
	PoolIdleWorkers prometheus.Gauge
	PoolQueueDepth  prometheus.Gauge
	Connections     prometheus.Gauge
	QueueRejections prometheus.Counter
	PipelineDepth   prometheus.Histogram
}

var opLabels = []string{"op"}

// New builds a MetricSet and registers it against prometheus's default
// registry. Registration failures (most commonly a duplicate register in
// tests that construct more than one MetricSet) are logged, not fatal —
// matching the dcache client's own register-then-warn pattern, since a
// broken metrics pipe should never take the cache server down with it.
func New(log zerolog.Logger) *MetricSet {
	m := &MetricSet{
		OpsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gofastd_ops_total",
			Help: "Protocol commands executed, by command kind.",
		}, opLabels),
		CacheBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gofastd_cache_bytes",
			Help: "Bytes currently held in the cache.",
		}),
		CacheEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gofastd_cache_entries",
			Help: "Number of keys currently held in the cache.",
		}),
		PoolWorkers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gofastd_pool_workers",
			Help: "Current total worker goroutines in the pool.",
		}),
		PoolIdleWorkers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gofastd_pool_idle_workers",
			Help: "Current idle worker goroutines in the pool.",
		}),
		PoolQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gofastd_pool_queue_depth",
			Help: "Tasks currently queued awaiting a worker.",
		}),
		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gofastd_connections",
			Help: "Currently open client connections.",
		}),
		QueueRejections: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gofastd_pool_queue_rejections_total",
			Help: "Commands that fell back to inline execution because the pool queue was full.",
		}),
		PipelineDepth: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "gofastd_pipeline_depth",
			Help:    "Number of complete commands extracted from a single socket read.",
			Buckets: prometheus.LinearBuckets(1, 1, 8),
		}),
	}

	for name, collector := range map[string]prometheus.Collector{
		"OpsTotal":        m.OpsTotal,
		"CacheBytes":      m.CacheBytes,
		"CacheEntries":    m.CacheEntries,
		"PoolWorkers":     m.PoolWorkers,
		"PoolIdleWorkers": m.PoolIdleWorkers,
		"PoolQueueDepth":  m.PoolQueueDepth,
		"Connections":     m.Connections,
		"QueueRejections": m.QueueRejections,
		"PipelineDepth":   m.PipelineDepth,
	} {
		if err := prometheus.Register(collector); err != nil {
			log.Warn().Err(err).Str("collector", name).Msg("failed to register prometheus collector")
		}
	}

	return m
}

// Handler returns the /metrics HTTP handler, for embedding in a caller-
// managed *http.Server (so it can be shut down gracefully alongside the
// rest of the process).
func Handler() http.Handler {
	return promhttp.Handler()
}
