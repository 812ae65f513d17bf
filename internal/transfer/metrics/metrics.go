package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the transfer module.
type Metrics struct {
	TransfersInitiated prometheus.Counter
	TransfersCompleted prometheus.Counter
	TransfersRejected  prometheus.Counter
	TransfersForced    prometheus.Counter
	CompleteDuration   prometheus.Histogram
}

// New creates a new Metrics instance with all transfer metrics registered.
func New() *Metrics {
	return &Metrics{
		TransfersInitiated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "custodia_transfers_initiated_total",
			Help: "Total number of custody transfers initiated",
		}),
		TransfersCompleted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "custodia_transfers_completed_total",
			Help: "Total number of custody transfers completed",
		}),
		TransfersRejected: promauto.NewCounter(prometheus.CounterOpts{
			Name: "custodia_transfers_rejected_total",
			Help: "Total number of custody transfers rejected, forced rejections included",
		}),
		TransfersForced: promauto.NewCounter(prometheus.CounterOpts{
			Name: "custodia_transfers_force_rejected_total",
			Help: "Total number of administrative force rejections",
		}),
		CompleteDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "custodia_transfer_complete_duration_seconds",
			Help:    "Duration of transfer completion including the custody flip",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
	}
}

func (m *Metrics) IncrementInitiated() {
	if m == nil {
		return
	}
	m.TransfersInitiated.Inc()
}

func (m *Metrics) IncrementCompleted() {
	if m == nil {
		return
	}
	m.TransfersCompleted.Inc()
}

func (m *Metrics) IncrementRejected(forced bool) {
	if m == nil {
		return
	}
	m.TransfersRejected.Inc()
	if forced {
		m.TransfersForced.Inc()
	}
}

func (m *Metrics) ObserveComplete(start time.Time) {
	if m == nil {
		return
	}
	m.CompleteDuration.Observe(time.Since(start).Seconds())
}
