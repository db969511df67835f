package queue

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts queue activity per endpoint. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	writes    *prometheus.CounterVec
	coalesced *prometheus.CounterVec
	inFlight  *prometheus.GaugeVec
}

// NewMetrics creates the queue collectors and registers them with reg.
// A nil reg leaves them unregistered, which tests use for isolation.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		writes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "skyclock",
			Subsystem: "queue",
			Name:      "writes_total",
			Help:      "Writes sent to the server, by endpoint and result.",
		}, []string{"endpoint", "result"}),
		coalesced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "skyclock",
			Subsystem: "queue",
			Name:      "coalesced_total",
			Help:      "Edits replaced by a newer edit before they were sent.",
		}, []string{"endpoint"}),
		inFlight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "skyclock",
			Subsystem: "queue",
			Name:      "in_flight",
			Help:      "Writes currently awaiting a response (0 or 1 per endpoint).",
		}, []string{"endpoint"}),
	}
	if reg != nil {
		reg.MustRegister(m.writes, m.coalesced, m.inFlight)
	}
	return m
}

func (m *Metrics) write(endpoint string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.writes.WithLabelValues(endpoint, result).Inc()
}

func (m *Metrics) coalesce(endpoint string) {
	if m == nil {
		return
	}
	m.coalesced.WithLabelValues(endpoint).Inc()
}

func (m *Metrics) setInFlight(endpoint string, n int) {
	if m == nil {
		return
	}
	m.inFlight.WithLabelValues(endpoint).Set(float64(n))
}
