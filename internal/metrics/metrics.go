// Package metrics exposes Prometheus collectors for the session lifecycle and
// the dispatch engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "waybill"

// States lists every lifecycle state label so the gauge can be zeroed.
var States = []string{"idle", "initializing", "awaiting_code", "ready", "disconnected", "failed"}

var (
	sessionState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "session_state",
		Help:      "1 for the current session lifecycle state, 0 otherwise.",
	}, []string{"state"})
	codesIssued = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "auth_codes_issued_total",
		Help:      "Authentication codes received from the channel.",
	})
	lifecycleRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "session_retries_total",
		Help:      "Automatic reconnect attempts by cause.",
	}, []string{"cause"})
	dispatchResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "dispatch_results_total",
		Help:      "Per-recipient dispatch outcomes by result code.",
	}, []string{"result"})
	dispatchBatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "dispatch_batches_total",
		Help:      "Dispatch batches by outcome.",
	}, []string{"outcome"})
)

// SetSessionState marks state as the single active lifecycle state.
func SetSessionState(state string) {
	for _, s := range States {
		v := 0.0
		if s == state {
			v = 1
		}
		sessionState.WithLabelValues(s).Set(v)
	}
}

// CodeIssued counts one authentication code.
func CodeIssued() { codesIssued.Inc() }

// Retry counts one automatic reconnect attempt.
func Retry(cause string) { lifecycleRetries.WithLabelValues(cause).Inc() }

// Per-recipient outcome labels besides the failure codes.
const (
	ResultSent     = "sent"
	ResultFiltered = "filtered"
)

// Result counts one per-recipient outcome: ResultSent, ResultFiltered, or
// the failure code.
func Result(code string) { dispatchResults.WithLabelValues(code).Inc() }

// Batch counts one completed or aborted batch.
func Batch(outcome string) { dispatchBatches.WithLabelValues(outcome).Inc() }

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
