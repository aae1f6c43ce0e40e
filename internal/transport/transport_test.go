package transport

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/forgo/authcode/internal/oauth"
	"github.com/forgo/authcode/internal/refresh"
	"github.com/forgo/authcode/internal/session"
	"github.com/prometheus/client_golang/prometheus"
)

// fakeAPI accepts only the current access token.
type fakeAPI struct {
	mu      sync.Mutex
	auths   []string
	bodies  []string
	status  int
	current atomic.Value
}

func (a *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	a.mu.Lock()
	a.auths = append(a.auths, r.Header.Get("Authorization"))
	a.bodies = append(a.bodies, string(body))
	status := a.status
	a.mu.Unlock()

	if status != 0 {
		w.WriteHeader(status)
		return
	}
	valid, _ := a.current.Load().(string)
	if r.Header.Get("Authorization") != "Bearer "+valid {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"error":"invalid_token"}`)
		return
	}
	_, _ = io.WriteString(w, `{"ok":true}`)
}

func (a *fakeAPI) hits() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.auths...)
}

// rotatingRefresher stores a new token set and tells the API to accept it.
type rotatingRefresher struct {
	store *session.Store
	api   *fakeAPI
	calls atomic.Int32
	err   error
	delay time.Duration
}

func (r *rotatingRefresher) Refresh(ctx context.Context, refreshToken string) (oauth.TokenSet, error) {
	r.calls.Add(1)
	if r.delay > 0 {
		time.Sleep(r.delay)
	}
	if r.err != nil {
		return oauth.TokenSet{}, r.err
	}
	r.api.current.Store("AT2")
	return oauth.TokenSet{AccessToken: "AT2", RefreshToken: "RT2", IDToken: "IT2"}, nil
}

type clearingLogouter struct {
	store *session.Store
	calls atomic.Int32
}

func (l *clearingLogouter) Logout(ctx context.Context, _ string) error {
	l.calls.Add(1)
	_, err := l.store.Clear(ctx)
	return err
}

type setup struct {
	api       *fakeAPI
	store     *session.Store
	refresher *rotatingRefresher
	logouter  *clearingLogouter
	client    *http.Client
	url       string
}

func newSetup(t *testing.T) *setup {
	t.Helper()
	api := &fakeAPI{}
	api.current.Store("AT-fresh")
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	store := session.NewStore("", session.NewMemoryBackend(), session.NewMemoryBackend())
	if err := store.SetTokens(context.Background(), oauth.TokenSet{AccessToken: "AT", RefreshToken: "RT", IDToken: "IT"}); err != nil {
		t.Fatalf("SetTokens() error = %v", err)
	}
	refresher := &rotatingRefresher{store: store, api: api}
	logouter := &clearingLogouter{store: store}
	coord := refresh.NewCoordinator(store, refresher, logouter)

	return &setup{
		api:       api,
		store:     store,
		refresher: refresher,
		logouter:  logouter,
		client:    &http.Client{Transport: New(srv.Client().Transport, store, coord)},
		url:       srv.URL,
	}
}

func TestRoundTripInjectsBearer(t *testing.T) {
	t.Parallel()
	s := newSetup(t)
	s.api.current.Store("AT")

	req, _ := http.NewRequest(http.MethodGet, s.url+"/me", nil)
	req.Header.Set("Authorization", "Bearer stale-from-caller")
	resp, err := s.client.Do(req)
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if hits := s.api.hits(); len(hits) != 1 || hits[0] != "Bearer AT" {
		t.Fatalf("Authorization headers = %v", hits)
	}
	if req.Header.Get("Authorization") != "Bearer stale-from-caller" {
		t.Fatalf("caller's request was modified")
	}
	if s.refresher.calls.Load() != 0 {
		t.Fatalf("refresh ran without a 401")
	}
}

func TestRoundTripOmitsHeaderWithoutToken(t *testing.T) {
	t.Parallel()
	s := newSetup(t)
	_ = s.store.ClearTokens(context.Background())
	s.api.status = http.StatusOK

	resp, err := s.client.Get(s.url + "/public")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	_ = resp.Body.Close()
	if hits := s.api.hits(); len(hits) != 1 || hits[0] != "" {
		t.Fatalf("Authorization headers = %q, want none", hits)
	}
}

func TestRoundTripReplaysOnceAfterRefresh(t *testing.T) {
	t.Parallel()
	s := newSetup(t)

	resp, err := s.client.Post(s.url+"/orders", "application/json", strings.NewReader(`{"qty":2}`))
	if err != nil {
		t.Fatalf("Post() error = %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK || string(body) != `{"ok":true}` {
		t.Fatalf("response = %d %s", resp.StatusCode, body)
	}

	hits := s.api.hits()
	if len(hits) != 2 {
		t.Fatalf("API hits = %d, want 2", len(hits))
	}
	if hits[0] != "Bearer AT" || hits[1] != "Bearer AT2" {
		t.Fatalf("Authorization headers = %v", hits)
	}
	if s.api.bodies[0] != `{"qty":2}` || s.api.bodies[1] != `{"qty":2}` {
		t.Fatalf("bodies = %q, want the same body twice", s.api.bodies)
	}
	if s.refresher.calls.Load() != 1 {
		t.Fatalf("refresh calls = %d, want 1", s.refresher.calls.Load())
	}
}

type onceReader struct{ r io.Reader }

func (o *onceReader) Read(p []byte) (int, error) { return o.r.Read(p) }

func TestRoundTripBuffersBodyWithoutGetBody(t *testing.T) {
	t.Parallel()
	s := newSetup(t)

	req, _ := http.NewRequest(http.MethodPut, s.url+"/orders/1", &onceReader{r: strings.NewReader("payload")})
	if req.GetBody != nil {
		t.Fatalf("test precondition: GetBody should be nil")
	}
	resp, err := s.client.Do(req)
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	_ = resp.Body.Close()
	if s.api.bodies[0] != "payload" || s.api.bodies[1] != "payload" {
		t.Fatalf("bodies = %q", s.api.bodies)
	}
}

func TestRoundTripSecond401IsReturned(t *testing.T) {
	t.Parallel()
	s := newSetup(t)
	s.api.current.Store("never-valid")
	s.refresher.api = &fakeAPI{}

	resp, err := s.client.Get(s.url + "/me")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
	if hits := s.api.hits(); len(hits) != 2 {
		t.Fatalf("API hits = %d, want 2", len(hits))
	}
	if s.refresher.calls.Load() != 1 {
		t.Fatalf("refresh calls = %d, want 1", s.refresher.calls.Load())
	}
}

func TestRoundTripRefreshFailure(t *testing.T) {
	t.Parallel()
	s := newSetup(t)
	s.refresher.err = oauth.NewAuthenticationError(oauth.ErrRefreshFailed, oauth.NewOAuthError("invalid_grant", "", 400))
	failedBefore := replayCount(t, "refresh_failed")

	resp, err := s.client.Get(s.url + "/me")
	if err == nil {
		_ = resp.Body.Close()
		t.Fatalf("Get() expected error, got status %d", resp.StatusCode)
	}
	if !errors.Is(err, oauth.ErrRefreshFailed) {
		t.Fatalf("Get() error = %v, want ErrRefreshFailed", err)
	}
	if hits := s.api.hits(); len(hits) != 1 {
		t.Fatalf("API hits = %d, want 1 (no replay)", len(hits))
	}
	if _, ok, _ := s.store.Tokens(context.Background()); ok {
		t.Fatalf("tokens survived failed refresh")
	}
	if s.logouter.calls.Load() != 1 {
		t.Fatalf("logout calls = %d, want 1", s.logouter.calls.Load())
	}
	if got := replayCount(t, "refresh_failed") - failedBefore; got != 1 {
		t.Fatalf("refresh_failed replays delta = %v, want 1", got)
	}
}

// replayCount reads authcode_request_replays_total{status} from the default registry.
func replayCount(t *testing.T, status string) float64 {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	for _, family := range families {
		if family.GetName() != "authcode_request_replays_total" {
			continue
		}
		for _, m := range family.GetMetric() {
			for _, label := range m.GetLabel() {
				if label.GetName() == "status" && label.GetValue() == status {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func TestRoundTripPassesThroughOtherStatuses(t *testing.T) {
	t.Parallel()

	for _, status := range []int{http.StatusForbidden, http.StatusInternalServerError, http.StatusNotFound} {
		s := newSetup(t)
		s.api.status = status
		resp, err := s.client.Get(s.url + "/me")
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		_ = resp.Body.Close()
		if resp.StatusCode != status {
			t.Fatalf("status = %d, want %d", resp.StatusCode, status)
		}
		if len(s.api.hits()) != 1 || s.refresher.calls.Load() != 0 {
			t.Fatalf("status %d was retried", status)
		}
	}
}

func TestRoundTripConcurrent401sShareRefresh(t *testing.T) {
	t.Parallel()
	s := newSetup(t)
	s.refresher.delay = 100 * time.Millisecond

	const requests = 8
	var wg sync.WaitGroup
	statuses := make(chan int, requests)
	for i := 0; i < requests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := s.client.Get(s.url + "/me")
			if err != nil {
				statuses <- -1
				return
			}
			_ = resp.Body.Close()
			statuses <- resp.StatusCode
		}()
	}
	wg.Wait()
	close(statuses)

	for status := range statuses {
		if status != http.StatusOK {
			t.Fatalf("status = %d, want 200", status)
		}
	}
	if got := s.refresher.calls.Load(); got != 1 {
		t.Fatalf("refresh calls = %d, want 1", got)
	}
}
