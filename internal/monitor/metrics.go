package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/apostoltudor/bdnsv/internal/backend"
)

// Metrics exports probe and status data as Prometheus collectors. Register
// it with WithNotifier.
type Metrics struct {
	status   *prometheus.GaugeVec
	latency  *prometheus.HistogramVec
	failures *prometheus.CounterVec
	changes  *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		status: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "storebench",
			Name:      "backend_status",
			Help:      "1 for the current status of each backend, 0 otherwise",
		}, []string{"backend", "status"}),
		latency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "storebench",
			Name:      "probe_latency_seconds",
			Help:      "Health probe latency",
			Buckets:   []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}, []string{"backend"}),
		failures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "storebench",
			Name:      "probe_failures_total",
			Help:      "Failed health probes by failure kind",
		}, []string{"backend", "kind"}),
		changes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "storebench",
			Name:      "status_changes_total",
			Help:      "Status transitions by target status",
		}, []string{"backend", "to"}),
	}
}

func (m *Metrics) RecordProbe(res backend.ProbeResult, current Status) {
	m.latency.WithLabelValues(res.Backend).Observe(res.Latency.Seconds())
	if !res.OK {
		m.failures.WithLabelValues(res.Backend, string(res.Kind)).Inc()
	}
	for _, s := range statuses {
		v := 0.0
		if s == current {
			v = 1
		}
		m.status.WithLabelValues(res.Backend, s.String()).Set(v)
	}
}

func (m *Metrics) Notify(change StatusChange) {
	m.changes.WithLabelValues(change.Backend, change.To.String()).Inc()
}
