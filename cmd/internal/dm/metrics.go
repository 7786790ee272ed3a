package dm

import "github.com/prometheus/client_golang/prometheus"

type gatewayMetrics struct {
	requests *prometheus.CounterVec
	sessions prometheus.Gauge
}

// RegisterMetrics exposes request and session counters on reg.
func (g *WSGateway) RegisterMetrics(reg prometheus.Registerer) error {
	m := &gatewayMetrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "buildlink",
			Subsystem: "ws",
			Name:      "requests_total",
			Help:      "Request envelopes handled by the gateway, by type and result code.",
		}, []string{"type", "result"}),
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "buildlink",
			Subsystem: "ws",
			Name:      "sessions",
			Help:      "Open websocket sessions.",
		}),
	}
	for _, c := range []prometheus.Collector{m.requests, m.sessions} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	g.metrics = m
	return nil
}

func (m *gatewayMetrics) request(typ, result string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(typ, result).Inc()
}

func (m *gatewayMetrics) sessionOpened() {
	if m != nil {
		m.sessions.Inc()
	}
}

func (m *gatewayMetrics) sessionClosed() {
	if m != nil {
		m.sessions.Dec()
	}
}
