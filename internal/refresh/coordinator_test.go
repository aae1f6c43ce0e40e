package refresh

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/forgo/authcode/internal/oauth"
	"github.com/forgo/authcode/internal/session"
)

type fakeRefresher struct {
	calls   atomic.Int32
	entered chan struct{}
	release chan struct{}
	tokens  oauth.TokenSet
	err     error
	seen    []string
	mu      sync.Mutex
}

func (f *fakeRefresher) Refresh(_ context.Context, refreshToken string) (oauth.TokenSet, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.seen = append(f.seen, refreshToken)
	f.mu.Unlock()
	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.release != nil {
		<-f.release
	}
	return f.tokens, f.err
}

type fakeLogouter struct {
	store   *session.Store
	mu      sync.Mutex
	reasons []string
}

func (f *fakeLogouter) Logout(ctx context.Context, reason string) error {
	f.mu.Lock()
	f.reasons = append(f.reasons, reason)
	f.mu.Unlock()
	_, err := f.store.Clear(ctx)
	return err
}

func (f *fakeLogouter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.reasons)
}

func newStoreWithTokens(t *testing.T) *session.Store {
	t.Helper()
	store := session.NewStore("", session.NewMemoryBackend(), session.NewMemoryBackend())
	if err := store.SetTokens(context.Background(), oauth.TokenSet{AccessToken: "AT", RefreshToken: "RT", IDToken: "IT"}); err != nil {
		t.Fatalf("SetTokens() error = %v", err)
	}
	return store
}

var rotated = oauth.TokenSet{AccessToken: "AT2", RefreshToken: "RT2", IDToken: "IT2"}

func TestEnsureRefreshedSingleFlight(t *testing.T) {
	t.Parallel()

	const callers = 16
	store := newStoreWithTokens(t)
	refresher := &fakeRefresher{
		tokens:  rotated,
		entered: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	logouter := &fakeLogouter{store: store}
	coord := NewCoordinator(store, refresher, logouter)

	var hooked atomic.Int32
	coord.SetTokenHook(func(context.Context, oauth.TokenSet) { hooked.Add(1) })

	var started sync.WaitGroup
	var done sync.WaitGroup
	errs := make(chan error, callers)
	started.Add(callers)
	done.Add(callers)
	for i := 0; i < callers; i++ {
		go func() {
			defer done.Done()
			started.Done()
			errs <- coord.EnsureRefreshed(context.Background())
		}()
	}

	started.Wait()
	<-refresher.entered
	if coord.State() != StateRefreshing {
		t.Fatalf("State() = %v during refresh, want %v", coord.State(), StateRefreshing)
	}
	// Let every goroutine reach the shared call before it settles.
	time.Sleep(50 * time.Millisecond)
	if n := len(errs); n != 0 {
		t.Fatalf("%d callers returned before the refresh settled", n)
	}
	close(refresher.release)
	done.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("EnsureRefreshed() error = %v", err)
		}
	}
	if got := refresher.calls.Load(); got != 1 {
		t.Fatalf("refresh calls = %d, want 1", got)
	}
	if refresher.seen[0] != "RT" {
		t.Fatalf("refreshed with %q, want %q", refresher.seen[0], "RT")
	}
	tokens, ok, _ := store.Tokens(context.Background())
	if !ok || tokens != rotated {
		t.Fatalf("stored tokens = %+v", tokens)
	}
	if hooked.Load() != 1 {
		t.Fatalf("token hook calls = %d, want 1", hooked.Load())
	}
	if coord.State() != StateIdle {
		t.Fatalf("State() = %v after refresh, want %v", coord.State(), StateIdle)
	}
	if logouter.count() != 0 {
		t.Fatalf("successful refresh logged out")
	}
}

func TestEnsureRefreshedSequentialCallsRefreshAgain(t *testing.T) {
	t.Parallel()

	store := newStoreWithTokens(t)
	refresher := &fakeRefresher{tokens: rotated}
	coord := NewCoordinator(store, refresher, &fakeLogouter{store: store})

	for i := 0; i < 2; i++ {
		if err := coord.EnsureRefreshed(context.Background()); err != nil {
			t.Fatalf("EnsureRefreshed() error = %v", err)
		}
	}
	if got := refresher.calls.Load(); got != 2 {
		t.Fatalf("refresh calls = %d, want 2", got)
	}
	if refresher.seen[1] != "RT2" {
		t.Fatalf("second refresh used %q, want rotated token", refresher.seen[1])
	}
	if coord.Attempts() != 2 {
		t.Fatalf("Attempts() = %d, want 2", coord.Attempts())
	}
}

func TestEnsureRefreshedFailureLogsOut(t *testing.T) {
	t.Parallel()

	store := newStoreWithTokens(t)
	refresher := &fakeRefresher{err: oauth.NewAuthenticationError(oauth.ErrRefreshFailed, oauth.NewOAuthError("invalid_grant", "", 400))}
	logouter := &fakeLogouter{store: store}
	coord := NewCoordinator(store, refresher, logouter)

	err := coord.EnsureRefreshed(context.Background())
	if !errors.Is(err, oauth.ErrRefreshFailed) {
		t.Fatalf("EnsureRefreshed() error = %v, want ErrRefreshFailed", err)
	}
	if logouter.count() != 1 || logouter.reasons[0] != "refresh_failed" {
		t.Fatalf("logout reasons = %v", logouter.reasons)
	}
	if _, ok, _ := store.Tokens(context.Background()); ok {
		t.Fatalf("tokens survived failed refresh")
	}
}

func TestEnsureRefreshedWithoutRefreshToken(t *testing.T) {
	t.Parallel()

	store := session.NewStore("", session.NewMemoryBackend(), session.NewMemoryBackend())
	refresher := &fakeRefresher{tokens: rotated}
	logouter := &fakeLogouter{store: store}
	coord := NewCoordinator(store, refresher, logouter)

	err := coord.EnsureRefreshed(context.Background())
	if !errors.Is(err, oauth.ErrNoRefreshToken) {
		t.Fatalf("EnsureRefreshed() error = %v, want ErrNoRefreshToken", err)
	}
	if refresher.calls.Load() != 0 {
		t.Fatalf("refresher called without a refresh token")
	}
	if logouter.count() != 1 {
		t.Fatalf("logout calls = %d, want 1", logouter.count())
	}
}

func TestEnsureRefreshedCallerCancellation(t *testing.T) {
	t.Parallel()

	store := newStoreWithTokens(t)
	refresher := &fakeRefresher{
		tokens:  rotated,
		entered: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	coord := NewCoordinator(store, refresher, &fakeLogouter{store: store})

	ctx, cancel := context.WithCancel(context.Background())
	result := make(chan error, 1)
	go func() { result <- coord.EnsureRefreshed(ctx) }()

	<-refresher.entered
	cancel()
	if err := <-result; !errors.Is(err, context.Canceled) {
		t.Fatalf("EnsureRefreshed() error = %v, want context.Canceled", err)
	}

	// The refresh keeps running for others and completes.
	waiter := make(chan error, 1)
	go func() { waiter <- coord.EnsureRefreshed(context.Background()) }()
	time.Sleep(20 * time.Millisecond)
	close(refresher.release)
	if err := <-waiter; err != nil {
		t.Fatalf("waiter EnsureRefreshed() error = %v", err)
	}
	if got := refresher.calls.Load(); got != 1 {
		t.Fatalf("refresh calls = %d, want 1", got)
	}
	if tokens, _, _ := store.Tokens(context.Background()); tokens != rotated {
		t.Fatalf("stored tokens = %+v, want rotated", tokens)
	}
}
