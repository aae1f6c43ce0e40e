package callback

import (
	"bytes"
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/forgo/authcode/internal/browser"
	"github.com/forgo/authcode/internal/flow"
	"github.com/forgo/authcode/internal/oauth"
	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newNavigator(t *testing.T) *browser.Navigator {
	t.Helper()
	nav, err := browser.NewNavigator("http://localhost:8085",
		browser.WithOutput(&bytes.Buffer{}),
		browser.WithOpener(func(string) error {
			t.Errorf("callback navigation opened a browser")
			return nil
		}),
		browser.WithClipboard(nil),
	)
	if err != nil {
		t.Fatalf("NewNavigator() error = %v", err)
	}
	return nav
}

func get(t *testing.T, s *Server, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestCallbackSuccessRedirectsToSuccessPage(t *testing.T) {
	t.Parallel()
	nav := newNavigator(t)

	var seen string
	s := NewServer(0, "/callback", func(ctx context.Context, location string) (flow.State, error) {
		seen = location
		return flow.StateAuthenticated, nav.Replace(ctx, "http://localhost:8085/reports/7")
	})

	rec := get(t, s, "/callback?code=abc123&state=xyz")
	if rec.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302", rec.Code)
	}
	if loc := rec.Header().Get("Location"); loc != "/success?route=%2Freports%2F7" {
		t.Fatalf("Location = %q", loc)
	}
	if seen != "/callback?code=abc123&state=xyz" {
		t.Fatalf("resume location = %q", seen)
	}

	result, err := s.WaitForCallback(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("WaitForCallback() error = %v", err)
	}
	if result.State != flow.StateAuthenticated || result.Route != "/reports/7" || result.Err != nil {
		t.Fatalf("result = %+v", result)
	}
}

func TestCallbackLogoutRedirectsToProvider(t *testing.T) {
	t.Parallel()
	nav := newNavigator(t)

	logoutURL := "https://idp.example.com/login/signout?fromURI=http%3A%2F%2Flocalhost%3A8085"
	s := NewServer(0, "/callback", func(ctx context.Context, _ string) (flow.State, error) {
		_ = nav.Replace(ctx, logoutURL)
		return flow.StateLoggedOut, oauth.ErrInvalidState
	})

	rec := get(t, s, "/callback?code=abc123&state=forged")
	if rec.Code != http.StatusFound || rec.Header().Get("Location") != logoutURL {
		t.Fatalf("response = %d %q", rec.Code, rec.Header().Get("Location"))
	}
	result, err := s.WaitForCallback(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("WaitForCallback() error = %v", err)
	}
	if !errors.Is(result.Err, oauth.ErrInvalidState) {
		t.Fatalf("result.Err = %v", result.Err)
	}
}

func TestCallbackErrorWithoutNavigation(t *testing.T) {
	t.Parallel()

	s := NewServer(0, "/callback", func(context.Context, string) (flow.State, error) {
		return flow.StateExchanging, errors.New("storage offline")
	})
	rec := get(t, s, "/callback?code=abc123")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "An unexpected error occurred") {
		t.Fatalf("failure page = %q", rec.Body.String())
	}
}

func TestCallbackRepeatSendsNoResult(t *testing.T) {
	t.Parallel()

	s := NewServer(0, "/callback", func(context.Context, string) (flow.State, error) {
		return flow.StateIdle, nil
	})
	rec := get(t, s, "/callback?code=abc123")
	if rec.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302", rec.Code)
	}
	if _, err := s.WaitForCallback(context.Background(), 20*time.Millisecond); !errors.Is(err, oauth.ErrCallbackTimeout) {
		t.Fatalf("WaitForCallback() error = %v, want ErrCallbackTimeout", err)
	}
}

func TestSuccessPageEscapesRoute(t *testing.T) {
	t.Parallel()

	s := NewServer(0, "/callback", nil)
	rec := get(t, s, "/success?route=%2F%3Cscript%3E")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "<script>") {
		t.Fatalf("success page did not escape route")
	}
	if !strings.Contains(rec.Body.String(), "/&lt;script&gt;") {
		t.Fatalf("success page missing escaped route: %q", rec.Body.String())
	}
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	s := NewServer(0, "/callback", nil)
	rec := get(t, s, "/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestStartStopAndPortInUse(t *testing.T) {
	t.Parallel()

	first := NewServer(0, "/callback", nil)
	if err := first.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer func() { _ = first.Stop(context.Background()) }()
	if !first.IsRunning() {
		t.Fatalf("IsRunning() = false after Start")
	}

	resp, err := http.Get("http://" + first.Addr() + "/success")
	if err != nil {
		t.Fatalf("GET /success error = %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /success status = %d", resp.StatusCode)
	}

	_, portText, _ := net.SplitHostPort(first.Addr())
	port, _ := strconv.Atoi(portText)
	second := NewServer(port, "/callback", nil)
	if err = second.Start(); !errors.Is(err, oauth.ErrPortInUse) {
		t.Fatalf("second Start() error = %v, want ErrPortInUse", err)
	}

	if err = first.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if first.IsRunning() {
		t.Fatalf("IsRunning() = true after Stop")
	}
}
