// Package metrics exposes Prometheus instrumentation for the gateway.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	WSConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gigdesk_ws_connections",
			Help: "Currently open websocket connections",
		},
	)

	WSEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gigdesk_ws_events_total",
			Help: "Total websocket events processed",
		},
		[]string{"event"},
	)

	MessagesSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gigdesk_messages_sent_total",
			Help: "Total chat messages persisted and fanned out",
		},
	)

	WSErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gigdesk_ws_errors_total",
			Help: "Total error events emitted to clients",
		},
		[]string{"kind"},
	)

	DeliveriesDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gigdesk_ws_deliveries_dropped_total",
			Help: "Frames dropped because a client send buffer was full",
		},
	)
)
