package access

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Tokens *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		Tokens: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "orgregistry_access_token_requests_total",
			Help: "Download token requests by result (issued, not_verified, stale, unknown_file, error).",
		}, []string{"result"}),
	}
}

func (m *Metrics) observe(result string) {
	m.Tokens.WithLabelValues(result).Inc()
}
