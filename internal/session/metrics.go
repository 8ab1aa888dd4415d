// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FlowFarm Contributors

package session

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/flowfarm/flowfarm/internal/apierr"
)

// Outcome label for successful operations. Failures use the apierr kind.
const OutcomeSuccess = "success"

// Logins counts completed login attempts by outcome.
// Use RegisterMetrics to register this with a Prometheus registry.
var Logins = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "flowfarm_session_logins_total",
		Help: "Total number of login attempts by outcome",
	},
	[]string{"outcome"},
)

// Refreshes counts token refreshes by outcome. Joined flights count once.
// Use RegisterMetrics to register this with a Prometheus registry.
var Refreshes = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "flowfarm_session_refreshes_total",
		Help: "Total number of token refreshes by outcome",
	},
	[]string{"outcome"},
)

// Lockouts counts transitions into the locked phase.
var Lockouts = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "flowfarm_session_lockouts_total",
		Help: "Total number of login lockouts",
	},
)

// Invalidations counts sessions torn down because the server rejected them.
var Invalidations = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "flowfarm_session_invalidations_total",
		Help: "Total number of forced session invalidations",
	},
)

// Authenticated is 1 while a session is held.
var Authenticated = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "flowfarm_session_authenticated",
		Help: "Whether the client currently holds a session",
	},
)

// RegisterMetrics registers session metrics with the given Prometheus registry.
// Panics if registration fails (following prometheus convention).
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(Logins)
	reg.MustRegister(Refreshes)
	reg.MustRegister(Lockouts)
	reg.MustRegister(Invalidations)
	reg.MustRegister(Authenticated)
}

func outcomeOf(err error) string {
	if err == nil {
		return OutcomeSuccess
	}
	return string(apierr.KindOf(err))
}
