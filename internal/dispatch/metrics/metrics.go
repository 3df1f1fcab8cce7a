package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the dispatch queue.
type Metrics struct {
	Enqueued   *prometheus.CounterVec
	Duplicates *prometheus.CounterVec
	Processed  *prometheus.CounterVec
	DeadLetter *prometheus.CounterVec
	QueueDepth prometheus.Gauge
	Latency    *prometheus.HistogramVec
}

func New() *Metrics {
	return &Metrics{
		Enqueued: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "auditoria_dispatch_enqueued_total",
			Help: "Jobs accepted into the dispatch queue by type",
		}, []string{"type"}),

		Duplicates: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "auditoria_dispatch_duplicates_total",
			Help: "Enqueue attempts rejected by idempotency key by type",
		}, []string{"type"}),

		Processed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "auditoria_dispatch_processed_total",
			Help: "Job attempts by type and outcome",
		}, []string{"type", "outcome"}), // outcome: "delivered", "retried", "exhausted"

		DeadLetter: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "auditoria_dispatch_dead_letter_total",
			Help: "Jobs moved to the dead-letter list by type",
		}, []string{"type"}),

		QueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "auditoria_dispatch_queue_depth",
			Help: "Jobs currently waiting in the dispatch queue",
		}),

		Latency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "auditoria_dispatch_handler_duration_seconds",
			Help:    "Duration of job handler execution by type",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"type"}),
	}
}

func (m *Metrics) IncrementEnqueued(jobType string) {
	if m != nil {
		m.Enqueued.WithLabelValues(jobType).Inc()
	}
}

func (m *Metrics) IncrementDuplicates(jobType string) {
	if m != nil {
		m.Duplicates.WithLabelValues(jobType).Inc()
	}
}

func (m *Metrics) IncrementProcessed(jobType, outcome string) {
	if m != nil {
		m.Processed.WithLabelValues(jobType, outcome).Inc()
	}
}

func (m *Metrics) IncrementDeadLetter(jobType string) {
	if m != nil {
		m.DeadLetter.WithLabelValues(jobType).Inc()
	}
}

func (m *Metrics) SetQueueDepth(depth int) {
	if m != nil {
		m.QueueDepth.Set(float64(depth))
	}
}

func (m *Metrics) ObserveHandlerLatency(jobType string, d time.Duration) {
	if m != nil {
		m.Latency.WithLabelValues(jobType).Observe(d.Seconds())
	}
}
