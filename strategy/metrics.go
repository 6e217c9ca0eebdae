package strategy

import "github.com/prometheus/client_golang/prometheus"

// accessMetrics holds the metrics of an access strategy.
type accessMetrics struct {
	scheduleLatency *prometheus.HistogramVec
	tasks           *prometheus.CounterVec
}

func newAccessMetrics(strategy string) *accessMetrics {
	const (
		namespace = "shardkit"
		subsystem = "access"
	)

	constLabels := prometheus.Labels{"strategy": strategy}

	return &accessMetrics{
		scheduleLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   namespace,
			Subsystem:   subsystem,
			Name:        "schedule_latency_seconds",
			Help:        "Time between submitting a per-shard task and its start",
			Buckets:     prometheus.ExponentialBuckets(1e-6, 5, 9),
			ConstLabels: constLabels,
		}, []string{"operation"}),

		tasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   subsystem,
			Name:        "tasks_total",
			Help:        "Number of per-shard tasks by outcome",
			ConstLabels: constLabels,
		}, []string{"operation", "status"}),
	}
}

// PrometheusCollectors satisfies the prom.PrometheusCollector interface.
func (m *accessMetrics) PrometheusCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.scheduleLatency,
		m.tasks,
	}
}
