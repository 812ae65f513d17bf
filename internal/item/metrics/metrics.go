package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the registry module.
type Metrics struct {
	ItemsRegistered  prometheus.Counter
	ItemsDeactivated prometheus.Counter
	RegisterDuration prometheus.Histogram
}

// New creates a new Metrics instance with all registry metrics registered.
func New() *Metrics {
	return &Metrics{
		ItemsRegistered: promauto.NewCounter(prometheus.CounterOpts{
			Name: "custodia_items_registered_total",
			Help: "Total number of items registered",
		}),
		ItemsDeactivated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "custodia_items_deactivated_total",
			Help: "Total number of item deactivations (admin or integrity driven)",
		}),
		RegisterDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "custodia_register_duration_seconds",
			Help:    "Duration of Register operations (producer critical path)",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
	}
}

// IncrementRegistered records a successful registration.
func (m *Metrics) IncrementRegistered() {
	if m == nil {
		return
	}
	m.ItemsRegistered.Inc()
}

// IncrementDeactivated records an item deactivation.
func (m *Metrics) IncrementDeactivated() {
	if m == nil {
		return
	}
	m.ItemsDeactivated.Inc()
}

// ObserveRegister records the duration of a Register operation.
// Call with time.Now() at the start of the operation.
func (m *Metrics) ObserveRegister(start time.Time) {
	if m == nil {
		return
	}
	m.RegisterDuration.Observe(time.Since(start).Seconds())
}
