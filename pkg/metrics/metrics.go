// Package metrics exposes flowbench's Prometheus instrumentation.
//
// The per-operation hot path never touches these: latency is recorded
// into the lock-free histograms in pkg/histogram, and the monitor
// copies aggregate counters into these gauges once per tick. That
// keeps Prometheus scraping cheap regardless of op rate.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ReadOpsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "flowbench_read_ops_total",
		Help: "Total number of completed read operations across all workers",
	})

	WriteOpsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "flowbench_write_ops_total",
		Help: "Total number of completed write operations across all workers",
	})

	ReadBytesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "flowbench_read_bytes_total",
		Help: "Total bytes read across all workers",
	})

	WriteBytesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "flowbench_write_bytes_total",
		Help: "Total bytes written across all workers",
	})

	OpErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "flowbench_op_errors_total",
		Help: "Total per-operation errors by kind",
	}, []string{"kind"})

	QueueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "flowbench_queue_depth",
		Help: "Current in-flight queue depth by worker",
	}, []string{"worker_id"})

	LatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "flowbench_op_latency_seconds",
		Help:    "Per-operation latency in seconds, sampled independently of the internal fixed-bucket histogram",
		Buckets: prometheus.ExponentialBuckets(0.000001, 4, 14),
	}, []string{"op"})

	MonitorTickDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "flowbench_monitor_tick_duration_seconds",
		Help:    "Time taken to merge and emit one monitor snapshot",
		Buckets: prometheus.DefBuckets,
	})

	ProtocolRoundTrip = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "flowbench_protocol_round_trip_seconds",
		Help:    "Round trip time for distributed protocol message exchanges",
		Buckets: prometheus.DefBuckets,
	}, []string{"message"})

	NodesConnected = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "flowbench_nodes_connected",
		Help: "Number of node connections currently held by the coordinator",
	})

	WorkersActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "flowbench_workers_active",
		Help: "Number of workers currently issuing ops",
	})
)

func init() {
	prometheus.MustRegister(
		ReadOpsTotal,
		WriteOpsTotal,
		ReadBytesTotal,
		WriteBytesTotal,
		OpErrorsTotal,
		QueueDepth,
		LatencySeconds,
		MonitorTickDuration,
		ProtocolRoundTrip,
		NodesConnected,
		WorkersActive,
	)
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a small helper for timing an operation and observing its
// duration into a histogram, used outside the per-op hot path.
type Timer struct {
	start time.Time
}

func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
