// SPDX-FileCopyrightText: 2026 Kalypss
//
// SPDX-License-Identifier: Apache-2.0

package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Pipeline decisions, labelled by outcome (allow/deny) and denial code
	// ("" for allowed requests).
	GatewayDecisions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "portfolio_gateway_decisions_total",
		Help: "Total number of gateway pipeline decisions",
	}, []string{"outcome", "code"})
	GatewayEvaluationDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "portfolio_gateway_evaluation_duration_seconds",
		Help:    "Time spent evaluating the gateway pipeline for a request",
		Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1},
	})
	SlowDownDelay = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "portfolio_gateway_slowdown_delay_seconds",
		Help:    "Artificial delay applied to responses by the slow-down policy",
		Buckets: []float64{.1, .5, 1, 2, 5, 10, 20},
	})
	RateLimitHits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "portfolio_gateway_rate_limit_hits_total",
		Help: "Total number of requests rejected by a rate-limit class",
	}, []string{"class"})

	// Security event stream
	SecurityEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "portfolio_gateway_security_events_total",
		Help: "Total number of security events recorded",
	}, []string{"type", "severity"})
	SecurityEventsDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "portfolio_gateway_security_events_dropped_total",
		Help: "Security events dropped by an asynchronous sink",
	}, []string{"sink", "reason"})
	SecuritySinkErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "portfolio_gateway_security_sink_errors_total",
		Help: "Errors returned by security event sinks",
	}, []string{"sink", "error_type"})

	// Gateway state
	BlockedClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "portfolio_gateway_blocked_clients",
		Help: "Number of client identifiers in the blocked set",
	})
	RevokedTokens = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "portfolio_gateway_revoked_tokens",
		Help: "Number of entries in the token revocation set",
	})
	TokensIssued = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "portfolio_gateway_tokens_issued_total",
		Help: "Total number of bearer tokens issued",
	})

	// Alerting
	AlertsFired = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "portfolio_gateway_alerts_fired_total",
		Help: "Total number of security alerts fired",
	}, []string{"kind"})
	AlertEventsUnrated = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "portfolio_gateway_alert_events_unrated_total",
		Help: "Events recorded for an alert kind without a configured threshold",
	}, []string{"kind"})
	AlertNotifications = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "portfolio_gateway_alert_notifications_total",
		Help: "Alert notification delivery attempts",
	}, []string{"notifier", "result"})
	AlertNotificationsDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "portfolio_gateway_alert_notifications_dropped_total",
		Help: "Alert notifications dropped before delivery",
	}, []string{"reason"})

	// Housekeeping and persistence
	HousekeepingRemoved = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "portfolio_gateway_housekeeping_removed_total",
		Help: "Entries removed by background housekeeping tasks",
	}, []string{"task"})
	CircuitBreakerState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "portfolio_gateway_circuit_breaker_state",
		Help: "Circuit breaker state per delivery target (0=closed, 1=open, 2=half-open)",
	}, []string{"name"})
	PersistenceErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "portfolio_gateway_persistence_errors_total",
		Help: "Errors writing gateway state to the persistence backend",
	}, []string{"op"})
)

func init() {
	prometheus.MustRegister(GatewayDecisions)
	prometheus.MustRegister(GatewayEvaluationDuration)
	prometheus.MustRegister(SlowDownDelay)
	prometheus.MustRegister(RateLimitHits)
	prometheus.MustRegister(SecurityEvents)
	prometheus.MustRegister(SecurityEventsDropped)
	prometheus.MustRegister(SecuritySinkErrors)
	prometheus.MustRegister(BlockedClients)
	prometheus.MustRegister(RevokedTokens)
	prometheus.MustRegister(TokensIssued)
	prometheus.MustRegister(AlertsFired)
	prometheus.MustRegister(AlertEventsUnrated)
	prometheus.MustRegister(AlertNotifications)
	prometheus.MustRegister(AlertNotificationsDropped)
	prometheus.MustRegister(HousekeepingRemoved)
	prometheus.MustRegister(CircuitBreakerState)
	prometheus.MustRegister(PersistenceErrors)
}

// MetricsHandler returns the Prometheus scrape handler.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
