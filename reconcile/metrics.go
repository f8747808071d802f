package reconcile

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the engine collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	passes      *prometheus.CounterVec
	syncingRows prometheus.Gauge
	deliveries  *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them on reg when reg is non-nil.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		passes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "paylock",
			Subsystem: "reconcile",
			Name:      "passes_total",
			Help:      "Reconciliation passes by result.",
		}, []string{"result"}),
		syncingRows: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "paylock",
			Subsystem: "reconcile",
			Name:      "syncing_rows",
			Help:      "Sale rows synthesized because the event index lags the ledger, in the latest projection.",
		}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "paylock",
			Subsystem: "reconcile",
			Name:      "deliveries_total",
			Help:      "Key deliveries by key source and result.",
		}, []string{"source", "result"}),
	}
	if reg != nil {
		for _, c := range []prometheus.Collector{m.passes, m.syncingRows, m.deliveries} {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

func (m *Metrics) pass(result string) {
	if m == nil {
		return
	}
	m.passes.WithLabelValues(result).Inc()
}

func (m *Metrics) syncing(n int) {
	if m == nil {
		return
	}
	m.syncingRows.Set(float64(n))
}

func (m *Metrics) delivery(source, result string) {
	if m == nil {
		return
	}
	m.deliveries.WithLabelValues(source, result).Inc()
}
