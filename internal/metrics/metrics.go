// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package metrics holds the Prometheus collectors for the session keeper and
// the development session server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Client-side session lifecycle metrics
var (
	// SessionTransitions counts timer transitions by target state.
	SessionTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "amlsession_transitions_total",
			Help: "Session timer transitions by target state",
		},
		[]string{"state"},
	)

	// SessionExpirations counts expiries by reason (inactivity, logout, rejected).
	SessionExpirations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "amlsession_expirations_total",
			Help: "Session expiries by reason",
		},
		[]string{"reason"},
	)

	// SyncRequests counts sync calls by operation and outcome.
	SyncRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "amlsession_sync_requests_total",
			Help: "Session sync calls by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)

	// SyncDuration tracks sync call latency in seconds.
	SyncDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "amlsession_sync_duration_seconds",
			Help:    "Session sync call duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"operation"},
	)

	// CircuitBreakerState tracks the sync client breaker (0=closed, 1=half-open, 2=open).
	CircuitBreakerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "amlsession_sync_circuit_breaker_state",
			Help: "Sync client circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
	)
)

// Server-side metrics
var (
	// ServerSessionsActive is the number of live server sessions.
	ServerSessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "amlsession_server_sessions_active",
			Help: "Number of live server-side sessions",
		},
	)

	// ServerRequests counts API requests by route and status code class.
	ServerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "amlsession_server_requests_total",
			Help: "Session API requests by route and status class",
		},
		[]string{"route", "status"},
	)

	// ServerLogins counts login attempts by outcome.
	ServerLogins = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "amlsession_server_logins_total",
			Help: "Login attempts by outcome",
		},
		[]string{"outcome"},
	)
)
