// Package metrics exposes engine counters for the /metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// OpenSessions tracks the number of currently open object views.
	OpenSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "viewer_open_sessions",
			Help: "Number of currently open object view sessions",
		},
	)

	// UpdatesDelivered counts data snapshots handed to renderers, by source.
	UpdatesDelivered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "viewer_updates_delivered_total",
			Help: "Total data snapshots delivered to session renderers",
		},
		[]string{"source"},
	)

	// ReconnectAttempts counts push-channel reconnect attempts.
	ReconnectAttempts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "viewer_transport_reconnect_attempts_total",
			Help: "Total push-channel reconnect attempts",
		},
	)

	// RefreshFailures counts per-server directory refresh failures.
	RefreshFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "viewer_directory_refresh_failures_total",
			Help: "Total per-server directory refresh failures",
		},
		[]string{"server"},
	)
)

// RecordUpdate increments the delivered-update counter for a source
// ("push" or "poll").
func RecordUpdate(source string) {
	UpdatesDelivered.WithLabelValues(source).Inc()
}

// RecordRefreshFailure increments the refresh failure counter for a server.
func RecordRefreshFailure(serverID string) {
	RefreshFailures.WithLabelValues(serverID).Inc()
}
