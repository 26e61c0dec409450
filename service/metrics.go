package service

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Result label values.
const (
	resultOK      = "ok"
	resultMissing = "missing"
	resultExpired = "expired"
	resultFormat  = "format"
	resultCrypto  = "crypto"
	resultSkipped = "skipped"
	resultFailed  = "failed"
)

// Metrics counts token traffic through a Service.
type Metrics struct {
	Decodes *prometheus.CounterVec
	Issued  *prometheus.CounterVec
	Cleared prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Decodes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ltpa",
			Name:      "token_decodes_total",
			Help:      "Inbound LTPA tokens by cookie version and outcome.",
		}, []string{"version", "result"}),
		Issued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ltpa",
			Name:      "tokens_issued_total",
			Help:      "LTPA cookies issued by version and outcome.",
		}, []string{"version", "result"}),
		Cleared: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ltpa",
			Name:      "token_clears_total",
			Help:      "Logout responses that cleared the LTPA cookies.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Decodes, m.Issued, m.Cleared)
	}
	return m
}

func (m *Metrics) decode(version, result string) {
	if m == nil {
		return
	}
	m.Decodes.WithLabelValues(version, result).Inc()
}

func (m *Metrics) issue(version, result string) {
	if m == nil {
		return
	}
	m.Issued.WithLabelValues(version, result).Inc()
}

func (m *Metrics) clear() {
	if m == nil {
		return
	}
	m.Cleared.Inc()
}
