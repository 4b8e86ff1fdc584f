package indexer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Events        *prometheus.CounterVec
	Subscriptions prometheus.Counter
	LastBlock     prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Events: f.NewCounterVec(prometheus.CounterOpts{
			Name: "orgregistry_indexer_events_total",
			Help: "Chaincode events seen by the indexer, by event name and result (applied, skipped, ignored, failed).",
		}, []string{"event", "result"}),
		Subscriptions: f.NewCounter(prometheus.CounterOpts{
			Name: "orgregistry_indexer_subscriptions_total",
			Help: "Event subscriptions opened, including resubscriptions after a dropped stream.",
		}),
		LastBlock: f.NewGauge(prometheus.GaugeOpts{
			Name: "orgregistry_indexer_last_block",
			Help: "Block number of the most recently handled event.",
		}),
	}
}

func (m *Metrics) observe(event, result string) {
	m.Events.WithLabelValues(event, result).Inc()
}
