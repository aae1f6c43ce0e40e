// Package metrics exposes Prometheus instrumentation for the token lifecycle.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var tokenRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "authcode_token_requests_total",
	Help: "Token endpoint requests by grant type and outcome",
}, []string{"grant", "status"})

var tokenRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "authcode_token_request_duration_seconds",
	Help:    "Time spent waiting for the token endpoint",
	Buckets: prometheus.ExponentialBucketsRange(0.005, 30, 15),
}, []string{"grant"})

var refreshWaiters = promauto.NewCounter(prometheus.CounterOpts{
	Name: "authcode_refresh_shared_total",
	Help: "Refresh callers whose result was shared with at least one other caller",
})

var requestReplays = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "authcode_request_replays_total",
	Help: "Requests answered with a 401, by replay outcome",
}, []string{"status"})

var logouts = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "authcode_logouts_total",
	Help: "Logout procedures run, by reason",
}, []string{"reason"})

// Outcome labels.
const (
	StatusOK    = "ok"
	StatusError = "error"

	// StatusRefreshFailed marks a 401 that was not replayed because the refresh failed.
	StatusRefreshFailed = "refresh_failed"
)

// ObserveTokenRequest records one token endpoint round trip.
func ObserveTokenRequest(grant string, err error, elapsed time.Duration) {
	status := StatusOK
	if err != nil {
		status = StatusError
	}
	tokenRequests.WithLabelValues(grant, status).Inc()
	tokenRequestDuration.WithLabelValues(grant).Observe(elapsed.Seconds())
}

// RefreshShared records a caller that received a shared refresh result.
func RefreshShared() {
	refreshWaiters.Inc()
}

// RequestReplayed records a replay after a 401; err is the refresh or replay error.
func RequestReplayed(err error) {
	status := StatusOK
	if err != nil {
		status = StatusError
	}
	requestReplays.WithLabelValues(status).Inc()
}

// RefreshBeforeReplayFailed records a 401 whose refresh failed, so no replay was sent.
func RefreshBeforeReplayFailed() {
	requestReplays.WithLabelValues(StatusRefreshFailed).Inc()
}

// Logout records a logout procedure.
func Logout(reason string) {
	logouts.WithLabelValues(reason).Inc()
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
