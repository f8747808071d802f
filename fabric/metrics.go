package fabric

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the fabric collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	fetchAttempts *prometheus.CounterVec
	publishes     *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them on reg when reg is non-nil.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		fetchAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "paylock",
			Subsystem: "fabric",
			Name:      "fetch_attempts_total",
			Help:      "Endpoint fetch attempts by endpoint and result.",
		}, []string{"endpoint", "result"}),
		publishes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "paylock",
			Subsystem: "fabric",
			Name:      "publish_total",
			Help:      "Publish calls by ingress and result.",
		}, []string{"ingress", "result"}),
	}
	if reg != nil {
		for _, c := range []prometheus.Collector{m.fetchAttempts, m.publishes} {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

func (m *Metrics) fetchAttempt(endpoint, result string) {
	if m == nil {
		return
	}
	m.fetchAttempts.WithLabelValues(endpoint, result).Inc()
}

func (m *Metrics) publish(ingress, result string) {
	if m == nil {
		return
	}
	m.publishes.WithLabelValues(ingress, result).Inc()
}
