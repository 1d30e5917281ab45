// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Storefront Contributors

package auth

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

// ResultSuccess is the result label for operations that returned no error.
const ResultSuccess = "success"

// OperationsTotal counts auth operations by operation and result kind.
// Use RegisterMetrics to register this with a Prometheus registry.
var OperationsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "storefront_auth_operations_total",
		Help: "Total number of auth operations by operation and result",
	},
	[]string{"operation", "result"},
)

// OperationDuration is the histogram for auth operation duration.
// Use RegisterMetrics to register this with a Prometheus registry.
var OperationDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "storefront_auth_operation_duration_seconds",
		Help:    "Auth operation duration in seconds",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"operation"},
)

// ResetChallengesPurged counts expired reset challenges cleared by the janitor.
var ResetChallengesPurged = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "storefront_reset_challenges_purged_total",
		Help: "Total number of expired password reset challenges cleared",
	},
)

// RegisterMetrics registers auth package metrics with the given Prometheus registry.
// Panics if registration fails (following prometheus convention).
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(OperationsTotal)
	reg.MustRegister(OperationDuration)
	reg.MustRegister(ResetChallengesPurged)
}

// resultLabel maps an operation error to its metric label.
func resultLabel(err error) string {
	if err == nil {
		return ResultSuccess
	}
	return strings.ToLower(strings.TrimPrefix(string(KindOf(err)), "AUTH_"))
}
