package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Realtime broker metrics
var (
	// ConnectedClients tracks the current number of registered websocket connections
	ConnectedClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "realtime_connected_clients",
			Help: "Current number of registered websocket connections",
		},
	)

	// EventsPublished tracks accepted publish requests by action
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_events_published_total",
			Help: "Publish requests accepted by the broker, by action tag",
		},
		[]string{"action"},
	)

	// EventsDelivered tracks envelopes queued to individual connections
	EventsDelivered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "realtime_events_delivered_total",
			Help: "Envelopes queued to individual connections during fan-out",
		},
	)

	// PublishRejected tracks publish requests refused by the broker
	PublishRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_publish_rejected_total",
			Help: "Publish requests refused by the broker, by reason",
		},
		[]string{"reason"},
	)

	// ClientsEvicted tracks connections removed without a clean close
	ClientsEvicted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_clients_evicted_total",
			Help: "Connections force-closed by the broker, by reason (dead/slow)",
		},
		[]string{"reason"},
	)

	// UpgradeRejected tracks websocket upgrade attempts refused before registration
	UpgradeRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_upgrade_rejected_total",
			Help: "Websocket upgrade attempts refused, by reason",
		},
		[]string{"reason"},
	)
)
