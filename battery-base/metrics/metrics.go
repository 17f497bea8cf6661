// Package metrics registers the prometheus collectors of battery base on a dedicated
// registry, exposed by the service center server.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var DefaultRegistry = prometheus.NewRegistry()

func init() {
	DefaultRegistry.MustRegister(
		LedgerSubmissions, LedgerConfirmations, ConfirmationDuration,
		Verifications, WorkflowOutcomes, ReplacementRequests,
	)
}

// LedgerSubmissions counts transactions sent to the ledger by operation.
var LedgerSubmissions = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "batterybase_ledger_submissions_total",
		Help: "Transactions submitted to the ledger",
	},
	[]string{"op"},
)

// LedgerConfirmations counts confirmation outcomes.
var LedgerConfirmations = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "batterybase_ledger_confirmations_total",
		Help: "Ledger confirmation outcomes",
	},
	[]string{"op", "status"}, // confirmed | reverted | timeout | inferred
)

var ConfirmationDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "batterybase_ledger_confirmation_seconds",
		Help:    "Time from submission to confirmation",
		Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
	},
	[]string{"op"},
)

// Verifications counts verification verdicts.
var Verifications = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "batterybase_verifications_total",
		Help: "Battery verification verdicts",
	},
	[]string{"verdict"}, // verified | unregistered | mismatch | regressed | invalid_signature | unavailable
)

// WorkflowOutcomes counts replacement workflows by terminal state.
var WorkflowOutcomes = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "batterybase_replacement_workflows_total",
		Help: "Replacement workflows by terminal state",
	},
	[]string{"state"},
)

// ReplacementRequests counts requests handled by a service center.
var ReplacementRequests = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "batterybase_service_center_requests_total",
		Help: "Requests handled by the service center",
	},
	[]string{"kind", "result"}, // result: approved | denied | issued | replayed | failed | retry
)

func ObserveConfirmation(op, status string, submittedAt time.Time) {
	LedgerConfirmations.WithLabelValues(op, status).Inc()
	if status == "confirmed" {
		ConfirmationDuration.WithLabelValues(op).Observe(time.Since(submittedAt).Seconds())
	}
}

func Handler() http.Handler {
	return promhttp.HandlerFor(DefaultRegistry, promhttp.HandlerOpts{})
}
