package verifier

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus metrics of the verifier service.
type Metrics struct {
	Attestations   *prometheus.CounterVec
	VerifyDuration prometheus.Histogram
	CacheHits      prometheus.Counter
}

// NewMetrics creates and registers the metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Attestations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "orgregistry_verifier_attestations_total",
			Help: "Attestation requests by result (issued, rejected, malformed, error).",
		}, []string{"result"}),
		VerifyDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "orgregistry_verifier_groth16_verify_seconds",
			Help:    "Time spent in Groth16 verification.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
		CacheHits: f.NewCounter(prometheus.CounterOpts{
			Name: "orgregistry_verifier_cache_hits_total",
			Help: "Proofs accepted from the verified-proof cache without re-running Groth16.",
		}),
	}
}

func (m *Metrics) observe(result string) {
	m.Attestations.WithLabelValues(result).Inc()
}
