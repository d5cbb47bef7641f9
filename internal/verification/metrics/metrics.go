package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"optout/internal/verification/models"
)

// Metrics holds Prometheus collectors for the verification workflow.
type Metrics struct {
	CodesIssued   *prometheus.CounterVec
	Refusals      *prometheus.CounterVec
	CodeChecks    *prometheus.CounterVec
	RetriesResets prometheus.Counter
	LookupLatency prometheus.Histogram
}

// New registers collectors on the default registry.
func New() *Metrics {
	return NewWith(prometheus.DefaultRegisterer)
}

// NewWith registers collectors on reg.
func NewWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		CodesIssued: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "optout_codes_issued_total",
			Help: "Validation codes issued, labeled by the workflow path that issued them",
		}, []string{"reason"}),
		Refusals: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "optout_verification_refusals_total",
			Help: "Verification requests refused, labeled by domain error code",
		}, []string{"code"}),
		CodeChecks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "optout_code_checks_total",
			Help: "Validation code checks, labeled by result",
		}, []string{"result"}),
		RetriesResets: factory.NewCounter(prometheus.CounterOpts{
			Name: "optout_retries_resets_total",
			Help: "Administrative retry budget resets",
		}),
		LookupLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "optout_lookup_latency_seconds",
			Help:    "Latency of patient registry lookups made by the workflow",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
	}
}

func (m *Metrics) IncrementCodesIssued(path models.IssuePath) {
	m.CodesIssued.WithLabelValues(string(path)).Inc()
}

func (m *Metrics) IncrementRefusals(code string) {
	m.Refusals.WithLabelValues(code).Inc()
}

func (m *Metrics) IncrementCodeChecks(result string) {
	m.CodeChecks.WithLabelValues(result).Inc()
}

func (m *Metrics) IncrementRetriesResets() {
	m.RetriesResets.Inc()
}

func (m *Metrics) ObserveLookupLatency(seconds float64) {
	m.LookupLatency.Observe(seconds)
}
