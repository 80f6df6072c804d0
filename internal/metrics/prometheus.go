package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PromMetrics exports the same signals to Prometheus.
type PromMetrics struct {
	messaging *prometheus.CounterVec
	dispatch  *prometheus.CounterVec
	forward   *prometheus.CounterVec
	stored    *prometheus.CounterVec
	discovery *prometheus.HistogramVec
	workers   prometheus.Gauge
}

func NewPromMetrics(reg prometheus.Registerer) *PromMetrics {
	m := &PromMetrics{
		messaging: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_messaging_events_total",
			Help: "Messaging events grouped by kind",
		}, []string{"event"}),
		dispatch: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_dispatch_total",
			Help: "Outbound dispatches grouped by strategy and result",
		}, []string{"strategy", "result"}),
		forward: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_forward_total",
			Help: "Forwarding decisions grouped by result",
		}, []string{"result"}),
		stored: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_saf_stored_total",
			Help: "Messages staged for store-and-forward grouped by priority",
		}, []string{"priority"}),
		discovery: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "relay_discovery_duration_seconds",
			Help:    "Latency of peer discovery",
			Buckets: prometheus.DefBuckets,
		}, []string{"result"}),
		workers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "relay_active_workers",
			Help: "Per-peer delivery workers currently running",
		}),
	}
	reg.MustRegister(m.messaging, m.dispatch, m.forward, m.stored, m.discovery, m.workers)
	return m
}

func (m *PromMetrics) IncMessaging(event string) { m.messaging.WithLabelValues(event).Inc() }

func (m *PromMetrics) IncDispatch(strategy string, ok bool) {
	m.dispatch.WithLabelValues(strategy, result(ok)).Inc()
}

func (m *PromMetrics) IncForward(r string) { m.forward.WithLabelValues(r).Inc() }

func (m *PromMetrics) IncStored(priority string) { m.stored.WithLabelValues(priority).Inc() }

func (m *PromMetrics) ObserveDiscovery(duration time.Duration, ok bool) {
	m.discovery.WithLabelValues(result(ok)).Observe(duration.Seconds())
}

func (m *PromMetrics) SetActiveWorkers(n int) { m.workers.Set(float64(n)) }

func result(ok bool) string {
	if ok {
		return "ok"
	}
	return "fail"
}
