package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	TicksTotal    *prometheus.CounterVec
	JobsEnqueued  *prometheus.CounterVec
	AuditFailures *prometheus.CounterVec
}

func New() *Metrics {
	return &Metrics{
		TicksTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "auditoria_scheduler_ticks_total",
			Help: "Scheduler ticks executed by tick name",
		}, []string{"tick"}),

		JobsEnqueued: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "auditoria_scheduler_jobs_enqueued_total",
			Help: "Notification jobs enqueued by scheduler ticks",
		}, []string{"tick"}),

		AuditFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "auditoria_scheduler_audit_failures_total",
			Help: "Audits a tick failed to process; the tick itself continued",
		}, []string{"tick"}),
	}
}

func (m *Metrics) IncrementTicks(tick string) {
	if m != nil {
		m.TicksTotal.WithLabelValues(tick).Inc()
	}
}

func (m *Metrics) AddJobsEnqueued(tick string, n int) {
	if m != nil {
		m.JobsEnqueued.WithLabelValues(tick).Add(float64(n))
	}
}

func (m *Metrics) IncrementAuditFailures(tick string) {
	if m != nil {
		m.AuditFailures.WithLabelValues(tick).Inc()
	}
}
