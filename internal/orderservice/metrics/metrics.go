package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns a private registry so tests can create isolated instances
// without colliding on the global default.
type Metrics struct {
	registry *prometheus.Registry

	OrdersCreated     *prometheus.CounterVec
	StatusTransitions *prometheus.CounterVec
	EventsPublished   *prometheus.CounterVec
	Subscribers       prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		OrdersCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tavolino_orders_created_total",
			Help: "Orders created, by source (api or platform name).",
		}, []string{"source"}),
		StatusTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tavolino_status_transitions_total",
			Help: "Order status transitions, by target status.",
		}, []string{"status"}),
		EventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tavolino_events_published_total",
			Help: "Events published to the fan-out hub, by event type.",
		}, []string{"type"}),
		Subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tavolino_sse_subscribers",
			Help: "Currently connected SSE subscribers.",
		}),
	}

	m.registry.MustRegister(
		m.OrdersCreated,
		m.StatusTransitions,
		m.EventsPublished,
		m.Subscribers,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
