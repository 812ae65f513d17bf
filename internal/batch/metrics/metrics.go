package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the batch module.
type Metrics struct {
	BatchesCreated prometheus.Counter
	BatchesSplit   prometheus.Counter
	BatchesMerged  prometheus.Counter
	ItemsAttached  prometheus.Counter
}

// New creates a new Metrics instance with all batch metrics registered.
func New() *Metrics {
	return &Metrics{
		BatchesCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "custodia_batches_created_total",
			Help: "Total number of batches created",
		}),
		BatchesSplit: promauto.NewCounter(prometheus.CounterOpts{
			Name: "custodia_batches_split_total",
			Help: "Total number of split operations",
		}),
		BatchesMerged: promauto.NewCounter(prometheus.CounterOpts{
			Name: "custodia_batches_merged_total",
			Help: "Total number of merge operations",
		}),
		ItemsAttached: promauto.NewCounter(prometheus.CounterOpts{
			Name: "custodia_batch_items_attached_total",
			Help: "Total number of items attached to batches",
		}),
	}
}

func (m *Metrics) IncrementCreated() {
	if m == nil {
		return
	}
	m.BatchesCreated.Inc()
}

func (m *Metrics) IncrementSplit() {
	if m == nil {
		return
	}
	m.BatchesSplit.Inc()
}

func (m *Metrics) IncrementMerged() {
	if m == nil {
		return
	}
	m.BatchesMerged.Inc()
}

func (m *Metrics) IncrementAttached() {
	if m == nil {
		return
	}
	m.ItemsAttached.Inc()
}
