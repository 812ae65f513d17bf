package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the integrity verifier.
type Metrics struct {
	ChecksRun     *prometheus.CounterVec
	TamperReports prometheus.Counter
	CheckDuration prometheus.Histogram
}

// New creates a new Metrics instance with all verifier metrics registered.
func New() *Metrics {
	return &Metrics{
		ChecksRun: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "custodia_integrity_checks_total",
			Help: "Total number of integrity checks by outcome",
		}, []string{"outcome"}),
		TamperReports: promauto.NewCounter(prometheus.CounterOpts{
			Name: "custodia_tamper_reports_total",
			Help: "Total number of tamper reports filed",
		}),
		CheckDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "custodia_integrity_check_duration_seconds",
			Help:    "Duration of single-item integrity checks",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
	}
}

func (m *Metrics) RecordCheck(valid bool, start time.Time) {
	if m == nil {
		return
	}
	outcome := "valid"
	if !valid {
		outcome = "invalid"
	}
	m.ChecksRun.WithLabelValues(outcome).Inc()
	m.CheckDuration.Observe(time.Since(start).Seconds())
}

func (m *Metrics) IncrementTamperReports() {
	if m == nil {
		return
	}
	m.TamperReports.Inc()
}
