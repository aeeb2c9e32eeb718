package lifecycle

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus metrics for the lifecycle manager.
type Metrics struct {
	SubmitsTotal    *prometheus.CounterVec
	RemovalsTotal   *prometheus.CounterVec
	SuppressedTotal prometheus.Counter
	ReplacedTotal   prometheus.Counter
	VisibleFor      *prometheus.HistogramVec
	Visible         prometheus.Gauge
	Pending         prometheus.Gauge
}

// NewMetrics registers and returns lifecycle metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SubmitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "approver_admissions_total",
			Help: "Notifications admitted by admission path.",
		}, []string{"path"}),
		RemovalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "approver_removals_total",
			Help: "Visible notifications removed by reason.",
		}, []string{"reason"}),
		SuppressedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "approver_debounce_suppressed_total",
			Help: "Deferred notifications cancelled before they became visible.",
		}),
		ReplacedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "approver_pending_replaced_total",
			Help: "Deferred notifications replaced by a later event with the same key.",
		}),
		VisibleFor: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "approver_visible_duration_seconds",
			Help:    "How long a notification stayed visible, by removal reason.",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10), // 0.25s .. ~128s
		}, []string{"reason"}),
		Visible: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "approver_visible_notifications",
			Help: "Notifications currently visible.",
		}),
		Pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "approver_pending_admissions",
			Help: "Notifications waiting out the debounce window.",
		}),
	}

	reg.MustRegister(
		m.SubmitsTotal,
		m.RemovalsTotal,
		m.SuppressedTotal,
		m.ReplacedTotal,
		m.VisibleFor,
		m.Visible,
		m.Pending,
	)

	return m
}

// Hooks returns manager Hooks that update the corresponding metrics.
func (m *Metrics) Hooks() Hooks {
	return Hooks{
		OnAdmit: func(path AdmitPath) {
			m.SubmitsTotal.WithLabelValues(string(path)).Inc()
		},
		OnRemove: func(reason RemoveReason, visibleFor time.Duration) {
			m.RemovalsTotal.WithLabelValues(string(reason)).Inc()
			m.VisibleFor.WithLabelValues(string(reason)).Observe(visibleFor.Seconds())
		},
		OnSuppress: func() {
			m.SuppressedTotal.Inc()
		},
		OnReplace: func() {
			m.ReplacedTotal.Inc()
		},
		OnState: func(visible, pending int) {
			m.Visible.Set(float64(visible))
			m.Pending.Set(float64(pending))
		},
	}
}
