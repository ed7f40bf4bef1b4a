package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/neilberkman/chatsync/internal/core/apperr"
)

// MetricsReporter counts events and failures, then forwards them to next
type MetricsReporter struct {
	next     Reporter
	registry *prometheus.Registry
	events   *prometheus.CounterVec
	failures *prometheus.CounterVec
}

// NewMetricsReporter registers counters on a private registry
func NewMetricsReporter(next Reporter) *MetricsReporter {
	if next == nil {
		next = Nop{}
	}
	m := &MetricsReporter{
		next:     next,
		registry: prometheus.NewRegistry(),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatsync",
			Name:      "events_total",
			Help:      "Core events by name.",
		}, []string{"event"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatsync",
			Name:      "failures_total",
			Help:      "Failed operations by op and error kind.",
		}, []string{"op", "kind"}),
	}
	m.registry.MustRegister(m.events, m.failures)
	return m
}

func (m *MetricsReporter) Event(name string, keyvals ...interface{}) {
	m.events.WithLabelValues(name).Inc()
	m.next.Event(name, keyvals...)
}

func (m *MetricsReporter) Failure(op string, err error, keyvals ...interface{}) {
	m.failures.WithLabelValues(op, apperr.KindOf(err).String()).Inc()
	m.next.Failure(op, err, keyvals...)
}

// Handler serves the registry in the Prometheus exposition format
func (m *MetricsReporter) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry
func (m *MetricsReporter) Registry() *prometheus.Registry {
	return m.registry
}
