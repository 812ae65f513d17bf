package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the ledger module.
type Metrics struct {
	StagesAppended    prometheus.Counter
	AppendDuration    prometheus.Histogram
	ChainWalkDuration prometheus.Histogram
	TailCacheHits     prometheus.Counter
	TailCacheMisses   prometheus.Counter
}

// New creates a new Metrics instance with all ledger metrics registered.
func New() *Metrics {
	return &Metrics{
		StagesAppended: promauto.NewCounter(prometheus.CounterOpts{
			Name: "custodia_stages_appended_total",
			Help: "Total number of stage records appended",
		}),
		AppendDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "custodia_append_stage_duration_seconds",
			Help:    "Duration of AppendStage operations (custodian critical path)",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
		ChainWalkDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "custodia_chain_walk_duration_seconds",
			Help:    "Duration of full chain intactness walks",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
		TailCacheHits: promauto.NewCounter(prometheus.CounterOpts{
			Name: "custodia_tail_cache_hits_total",
			Help: "Tail digest reads served from the cache",
		}),
		TailCacheMisses: promauto.NewCounter(prometheus.CounterOpts{
			Name: "custodia_tail_cache_misses_total",
			Help: "Tail digest reads that fell back to the store",
		}),
	}
}

func (m *Metrics) IncrementAppended() {
	if m == nil {
		return
	}
	m.StagesAppended.Inc()
}

func (m *Metrics) ObserveAppend(start time.Time) {
	if m == nil {
		return
	}
	m.AppendDuration.Observe(time.Since(start).Seconds())
}

func (m *Metrics) ObserveChainWalk(start time.Time) {
	if m == nil {
		return
	}
	m.ChainWalkDuration.Observe(time.Since(start).Seconds())
}

func (m *Metrics) RecordTailCache(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.TailCacheHits.Inc()
	} else {
		m.TailCacheMisses.Inc()
	}
}
