package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus instruments for the presence engine.
type Metrics struct {
	SessionsStarted prometheus.Counter
	SessionsClosed  prometheus.Counter
	Markings        *prometheus.CounterVec
}

// New creates and registers all metrics on the default registry.
func New() *Metrics {
	return NewWith(prometheus.DefaultRegisterer)
}

// NewWith registers the metrics on a specific registerer; tests use this
// with a throwaway registry.
func NewWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		SessionsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "presence_sessions_started_total",
			Help: "Total attendance sessions started",
		}),
		SessionsClosed: factory.NewCounter(prometheus.CounterOpts{
			Name: "presence_sessions_closed_total",
			Help: "Total attendance sessions closed",
		}),
		Markings: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "presence_markings_total",
			Help: "Marking attempts by outcome",
		}, []string{"outcome"}),
	}
}

// ObserveMarking records one marking attempt with its outcome label.
func (m *Metrics) ObserveMarking(outcome string) {
	m.Markings.WithLabelValues(outcome).Inc()
}
