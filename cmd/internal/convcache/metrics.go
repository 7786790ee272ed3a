package convcache

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds optional Prometheus instruments for a Cache and its Messenger.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	fetches      *prometheus.CounterVec
	fetchSkipped prometheus.Counter
	sends        *prometheus.CounterVec
	entries      prometheus.Gauge
	evictions    prometheus.Counter
}

// NewMetrics creates the instruments and registers them with reg (if non-nil).
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "buildlink",
			Subsystem: "convcache",
			Name:      "fetch_total",
			Help:      "History fetches issued to the transport, by result.",
		}, []string{"result"}),
		fetchSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "buildlink",
			Subsystem: "convcache",
			Name:      "fetch_skipped_total",
			Help:      "EnsureLoaded calls answered without a transport call.",
		}),
		sends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "buildlink",
			Subsystem: "convcache",
			Name:      "send_total",
			Help:      "Message sends, by result.",
		}, []string{"result"}),
		entries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "buildlink",
			Subsystem: "convcache",
			Name:      "entries",
			Help:      "Conversations currently held in the cache.",
		}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "buildlink",
			Subsystem: "convcache",
			Name:      "evictions_total",
			Help:      "Conversations dropped by the eviction policy.",
		}),
	}

	if reg != nil {
		for _, c := range []prometheus.Collector{m.fetches, m.fetchSkipped, m.sends, m.entries, m.evictions} {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

func (m *Metrics) fetch(result string) {
	if m == nil {
		return
	}
	m.fetches.WithLabelValues(result).Inc()
}

func (m *Metrics) skipped() {
	if m == nil {
		return
	}
	m.fetchSkipped.Inc()
}

func (m *Metrics) send(result string) {
	if m == nil {
		return
	}
	m.sends.WithLabelValues(result).Inc()
}

func (m *Metrics) setEntries(n int) {
	if m == nil {
		return
	}
	m.entries.Set(float64(n))
}

func (m *Metrics) evicted(n int) {
	if m == nil || n == 0 {
		return
	}
	m.evictions.Add(float64(n))
}
