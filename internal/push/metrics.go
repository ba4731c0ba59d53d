package push

import "github.com/prometheus/client_golang/prometheus"

const (
	outcomeSent   = "sent"
	outcomeFailed = "failed"
	outcomeStale  = "stale"
)

// Metrics counts delivery outcomes. A nil *Metrics records nothing.
type Metrics struct {
	deliveries *prometheus.CounterVec
}

// NewMetrics registers the delivery counters with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "notify",
			Subsystem: "push",
			Name:      "deliveries_total",
			Help:      "Push delivery attempts by outcome.",
		}, []string{"outcome"}),
	}
	reg.MustRegister(m.deliveries)
	return m
}

func (m *Metrics) observe(outcome string) {
	if m == nil {
		return
	}
	m.deliveries.WithLabelValues(outcome).Inc()
}
