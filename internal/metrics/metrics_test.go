package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveTokenRequest(t *testing.T) {
	okBefore := testutil.ToFloat64(tokenRequests.WithLabelValues("refresh_token", StatusOK))
	errBefore := testutil.ToFloat64(tokenRequests.WithLabelValues("refresh_token", StatusError))

	ObserveTokenRequest("refresh_token", nil, 20*time.Millisecond)
	ObserveTokenRequest("refresh_token", errors.New("boom"), 20*time.Millisecond)
	ObserveTokenRequest("refresh_token", errors.New("boom"), 20*time.Millisecond)

	if got := testutil.ToFloat64(tokenRequests.WithLabelValues("refresh_token", StatusOK)) - okBefore; got != 1 {
		t.Fatalf("ok delta = %v, want 1", got)
	}
	if got := testutil.ToFloat64(tokenRequests.WithLabelValues("refresh_token", StatusError)) - errBefore; got != 2 {
		t.Fatalf("error delta = %v, want 2", got)
	}
}

func TestLogoutAndReplayCounters(t *testing.T) {
	before := testutil.ToFloat64(logouts.WithLabelValues("refresh_failed"))
	Logout("refresh_failed")
	if got := testutil.ToFloat64(logouts.WithLabelValues("refresh_failed")) - before; got != 1 {
		t.Fatalf("logout delta = %v, want 1", got)
	}

	replayBefore := testutil.ToFloat64(requestReplays.WithLabelValues(StatusOK))
	RequestReplayed(nil)
	if got := testutil.ToFloat64(requestReplays.WithLabelValues(StatusOK)) - replayBefore; got != 1 {
		t.Fatalf("replay delta = %v, want 1", got)
	}

	failedBefore := testutil.ToFloat64(requestReplays.WithLabelValues(StatusRefreshFailed))
	errBefore := testutil.ToFloat64(requestReplays.WithLabelValues(StatusError))
	RefreshBeforeReplayFailed()
	if got := testutil.ToFloat64(requestReplays.WithLabelValues(StatusRefreshFailed)) - failedBefore; got != 1 {
		t.Fatalf("refresh_failed delta = %v, want 1", got)
	}
	if got := testutil.ToFloat64(requestReplays.WithLabelValues(StatusError)) - errBefore; got != 0 {
		t.Fatalf("error delta = %v, want 0", got)
	}

	sharedBefore := testutil.ToFloat64(refreshWaiters)
	RefreshShared()
	if got := testutil.ToFloat64(refreshWaiters) - sharedBefore; got != 1 {
		t.Fatalf("shared delta = %v, want 1", got)
	}
}

func TestHandlerExposesCounters(t *testing.T) {
	Logout("user")

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if !strings.Contains(rec.Body.String(), "authcode_logouts_total") {
		t.Fatalf("metrics output missing authcode_logouts_total")
	}
}
