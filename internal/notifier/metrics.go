package notifier

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns a private registry, matching the order service's setup.
type Metrics struct {
	registry *prometheus.Registry

	EventsConsumed *prometheus.CounterVec
	Notifications  *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		EventsConsumed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tavolino_notifier_events_consumed_total",
			Help: "Events consumed from the order exchange, by event type.",
		}, []string{"type"}),
		Notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tavolino_notifications_total",
			Help: "Notification dispatch attempts, by channel and outcome.",
		}, []string{"channel", "status"}),
	}

	m.registry.MustRegister(m.EventsConsumed, m.Notifications)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
