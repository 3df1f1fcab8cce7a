package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the trail outbox publisher.
type Metrics struct {
	Published    *prometheus.CounterVec
	DrainErrors  prometheus.Counter
	OutboxedLast prometheus.Gauge
}

func New() *Metrics {
	return &Metrics{
		Published: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "auditoria_trail_published_total",
			Help: "Trail entries published to the broker by category",
		}, []string{"category"}),

		DrainErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "auditoria_trail_drain_errors_total",
			Help: "Outbox drain passes that failed",
		}),

		OutboxedLast: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "auditoria_trail_last_batch_size",
			Help: "Entries drained on the most recent outbox pass",
		}),
	}
}

func (m *Metrics) IncrementPublished(category string) {
	if m != nil {
		m.Published.WithLabelValues(category).Inc()
	}
}

func (m *Metrics) IncrementDrainErrors() {
	if m != nil {
		m.DrainErrors.Inc()
	}
}

func (m *Metrics) SetLastBatchSize(n int) {
	if m != nil {
		m.OutboxedLast.Set(float64(n))
	}
}
