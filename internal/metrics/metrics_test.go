// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsRegistration(t *testing.T) {
	collectors := []prometheus.Collector{
		SessionTransitions,
		SessionExpirations,
		SyncRequests,
		SyncDuration,
		CircuitBreakerState,
		ServerSessionsActive,
		ServerRequests,
		ServerLogins,
	}

	for _, c := range collectors {
		require.NotNil(t, c)
	}
}

func TestSessionExpirations_CountsByReason(t *testing.T) {
	before := testutil.ToFloat64(SessionExpirations.WithLabelValues("logout"))
	SessionExpirations.WithLabelValues("logout").Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(SessionExpirations.WithLabelValues("logout")))
}

func TestCircuitBreakerState_Set(t *testing.T) {
	CircuitBreakerState.Set(2)
	assert.Equal(t, float64(2), testutil.ToFloat64(CircuitBreakerState))
	CircuitBreakerState.Set(0)
}
