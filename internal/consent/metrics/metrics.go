package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus collectors for decision recording.
type Metrics struct {
	DecisionsRecorded *prometheus.CounterVec
	DecisionsRefused  *prometheus.CounterVec
}

// NewWith registers consent metrics on reg.
func NewWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		DecisionsRecorded: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "optout_decisions_recorded_total",
			Help: "Total number of opt-in/opt-out decisions recorded, labeled by choice",
		}, []string{"choice"}),
		DecisionsRefused: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "optout_decisions_refused_total",
			Help: "Total number of decision attempts refused, labeled by error code",
		}, []string{"code"}),
	}
}

// New registers consent metrics on the default registry.
func New() *Metrics {
	return NewWith(prometheus.DefaultRegisterer)
}

func (m *Metrics) IncrementDecisionsRecorded(choice string) {
	m.DecisionsRecorded.WithLabelValues(choice).Inc()
}

func (m *Metrics) IncrementDecisionsRefused(code string) {
	m.DecisionsRefused.WithLabelValues(code).Inc()
}
