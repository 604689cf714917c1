package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_ms",
			Help:    "Duration of HTTP requests in ms",
			Buckets: []float64{5, 10, 25, 50, 100, 200, 400, 800, 1600},
		},
		[]string{"method", "path"},
	)

	OutboxPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbox_published_total",
			Help: "Outbox entries acknowledged by the broker",
		},
		[]string{"event_type"},
	)

	OutboxFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbox_publish_failures_total",
			Help: "Outbox publish attempts that failed, by outcome (retry or stuck)",
		},
		[]string{"event_type", "outcome"},
	)

	OutboxBacklog = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "outbox_pending_entries",
		Help: "Outbox entries not yet published",
	})

	EventsHandled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "saga_events_handled_total",
			Help: "Broker events handled by the order saga, by result",
		},
		[]string{"event_type", "result"},
	)

	ReservationsExpired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "inventory_reservations_expired_total",
		Help: "Reservations released by the expiry sweep",
	})

	CartsAbandoned = promauto.NewCounter(prometheus.CounterOpts{
		Name: "carts_abandoned_total",
		Help: "Active carts abandoned by the stale cart sweep",
	})
)
