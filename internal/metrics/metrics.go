package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "schedulr"

// Metrics groups the collectors shared across packages.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	reg *prometheus.Registry

	subscriptions      *prometheus.GaugeVec
	snapshots          *prometheus.CounterVec
	subscriptionErrors *prometheus.CounterVec
	writes             *prometheus.CounterVec
	generations        *prometheus.CounterVec
	httpRequests       *prometheus.CounterVec
	sessions           prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		subscriptions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "docstore",
			Name:      "subscriptions_active",
			Help:      "Open document store subscriptions",
		}, []string{"collection"}),
		snapshots: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "docstore",
			Name:      "snapshots_total",
			Help:      "Snapshots delivered to subscribers",
		}, []string{"collection"}),
		subscriptionErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "docstore",
			Name:      "subscription_errors_total",
			Help:      "Subscription errors that degraded a view to fallback data",
		}, []string{"collection"}),
		writes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "docstore",
			Name:      "writes_total",
			Help:      "Document writes by operation and result",
		}, []string{"collection", "op", "result"}),
		generations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "textgen",
			Name:      "requests_total",
			Help:      "Text generation requests by call site and result",
		}, []string{"site", "result"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method and status code",
		}, []string{"method", "code"}),
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "sessions_active",
			Help:      "Connected realtime sessions",
		}),
	}
	m.reg.MustRegister(
		m.subscriptions,
		m.snapshots,
		m.subscriptionErrors,
		m.writes,
		m.generations,
		m.httpRequests,
		m.sessions,
		prometheus.NewGoCollector(),
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

func (m *Metrics) SubscriptionOpened(collection string) {
	if m == nil {
		return
	}
	m.subscriptions.WithLabelValues(collection).Inc()
}

func (m *Metrics) SubscriptionClosed(collection string) {
	if m == nil {
		return
	}
	m.subscriptions.WithLabelValues(collection).Dec()
}

func (m *Metrics) Snapshot(collection string) {
	if m == nil {
		return
	}
	m.snapshots.WithLabelValues(collection).Inc()
}

func (m *Metrics) SubscriptionError(collection string) {
	if m == nil {
		return
	}
	m.subscriptionErrors.WithLabelValues(collection).Inc()
}

func (m *Metrics) Write(collection, op string, err error) {
	if m == nil {
		return
	}
	m.writes.WithLabelValues(collection, op, result(err)).Inc()
}

func (m *Metrics) Generation(site string, err error) {
	if m == nil {
		return
	}
	m.generations.WithLabelValues(site, result(err)).Inc()
}

func (m *Metrics) HTTPRequest(method string, code int) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, strconv.Itoa(code)).Inc()
}

func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.sessions.Inc()
}

func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.sessions.Dec()
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
