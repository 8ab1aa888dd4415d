// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FlowFarm Contributors

package transport

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels for request metrics.
const (
	OutcomeSuccess = "success"
)

// Requests counts gateway calls by method and outcome. The outcome is
// OutcomeSuccess or the failure kind.
// Use RegisterMetrics to register this with a Prometheus registry.
var Requests = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "flowfarm_transport_requests_total",
		Help: "Total number of remote calls by method and outcome",
	},
	[]string{"method", "outcome"},
)

// RequestDuration is the histogram for remote call latency.
// Use RegisterMetrics to register this with a Prometheus registry.
var RequestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "flowfarm_transport_request_duration_seconds",
		Help:    "Remote call duration in seconds",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"method"},
)

// Retries counts requests resent after a silent refresh.
var Retries = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "flowfarm_transport_auth_retries_total",
		Help: "Total number of requests retried after a 401 and a successful refresh",
	},
)

// PreemptiveRefreshes counts background refreshes started before expiry.
var PreemptiveRefreshes = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "flowfarm_transport_preemptive_refreshes_total",
		Help: "Total number of background token refreshes started by the gateway",
	},
)

// RegisterMetrics registers transport metrics with the given Prometheus registry.
// Panics if registration fails (following prometheus convention).
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(Requests)
	reg.MustRegister(RequestDuration)
	reg.MustRegister(Retries)
	reg.MustRegister(PreemptiveRefreshes)
}

// RecordRequest records one round-trip.
func RecordRequest(method, outcome string, duration time.Duration) {
	Requests.WithLabelValues(method, outcome).Inc()
	RequestDuration.WithLabelValues(method).Observe(duration.Seconds())
}
