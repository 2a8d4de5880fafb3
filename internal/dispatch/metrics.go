package dispatch

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors for dispatch. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	attempts  *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	exhausted *prometheus.CounterVec
}

// NewMetrics creates the dispatch collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		attempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nurture_dispatch_attempts_total",
				Help: "Upstream completion attempts by credential and outcome",
			},
			[]string{"credential", "outcome"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nurture_dispatch_attempt_duration_seconds",
				Help:    "Duration of upstream completion attempts",
				Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 15, 30, 60},
			},
			[]string{"model"},
		),
		exhausted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nurture_dispatch_exhausted_total",
				Help: "Dispatches that failed on every attempt",
			},
			[]string{"reason"},
		),
	}
	reg.MustRegister(m.attempts, m.duration, m.exhausted)
	return m
}

func (m *Metrics) observeAttempt(credential, model string, ok bool, elapsed time.Duration) {
	if m == nil {
		return
	}
	outcome := "success"
	if !ok {
		outcome = "error"
	}
	m.attempts.WithLabelValues(credential, outcome).Inc()
	m.duration.WithLabelValues(model).Observe(elapsed.Seconds())
}

func (m *Metrics) observeExhausted(timeout bool) {
	if m == nil {
		return
	}
	reason := "error"
	if timeout {
		reason = "timeout"
	}
	m.exhausted.WithLabelValues(reason).Inc()
}
