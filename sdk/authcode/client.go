// Package authcode is the embeddable entry point of the session manager. A
// Client owns one application session: its storage, authorization flow, refresh
// coordinator, and the HTTP client that authenticates API calls.
package authcode

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/forgo/authcode/internal/apis"
	"github.com/forgo/authcode/internal/browser"
	"github.com/forgo/authcode/internal/config"
	"github.com/forgo/authcode/internal/flow"
	"github.com/forgo/authcode/internal/logging"
	"github.com/forgo/authcode/internal/oauth"
	"github.com/forgo/authcode/internal/refresh"
	"github.com/forgo/authcode/internal/session"
	"github.com/forgo/authcode/internal/transport"
	"github.com/forgo/authcode/internal/util"
	"github.com/forgo/authcode/internal/watcher"
	log "github.com/sirupsen/logrus"
)

type FlowState = flow.State

const (
	StateIdle          = flow.StateIdle
	StateDisabled      = flow.StateDisabled
	StateAuthenticated = flow.StateAuthenticated
	StateExchanging    = flow.StateExchanging
	StateRedirecting   = flow.StateRedirecting
	StateLoggedOut     = flow.StateLoggedOut
)

type IdentityClaims = oauth.IdentityClaims
type APIClient = apis.Client
type StatusError = apis.StatusError

// UserAPI is handed to a UserLoader. The embedded client is bound to
// Options.UserAPIBaseURL; New builds authenticated clients for other services.
type UserAPI struct {
	*APIClient
	New func(baseURL string) (*APIClient, error)
}

// UserLoader fetches the application's view of the logged in user. It runs
// once for every distinct token set the client observes.
type UserLoader func(ctx context.Context, api UserAPI, claims *IdentityClaims) (any, error)

// Options customizes a Client. The zero value is usable.
type Options struct {
	// Navigator overrides the system browser navigator.
	Navigator flow.Navigator
	// TokenHTTPClient is used for token endpoint requests.
	TokenHTTPClient *http.Client
	// Base is the round tripper under the authenticating transport.
	Base http.RoundTripper
	// Store overrides the backends built from the configuration.
	Store *session.Store
	// UserLoader hydrates SessionState.User.
	UserLoader UserLoader
	// UserAPIBaseURL is the base URL handed to UserLoader. Defaults to the
	// provider base URL.
	UserAPIBaseURL string
	// DisableWatch turns off change notifications for the file backend.
	DisableWatch bool
}

// SessionState is the caller-visible login state.
type SessionState struct {
	LoggedIn bool
	Claims   *IdentityClaims
	User     any
}

// Client wires the session components together.
type Client struct {
	cfg         *config.Config
	store       *session.Store
	ownsStore   bool
	nav         flow.Navigator
	tokens      *oauth.TokenClient
	flow        *flow.Flow
	coordinator *refresh.Coordinator
	transport   *transport.Transport
	httpClient  *http.Client
	loader      UserLoader
	userAPI     *apis.Client
	watcher     *watcher.Watcher

	mu      sync.RWMutex
	state   SessionState
	applied oauth.TokenSet

	bg sync.WaitGroup
}

// New builds a Client for cfg. Storage backends are opened immediately.
func New(ctx context.Context, cfg *config.Config, opts Options) (*Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("authcode: config is nil")
	}
	c := &Client{cfg: cfg, loader: opts.UserLoader}

	c.store = opts.Store
	if c.store == nil {
		store, err := session.Open(ctx, cfg)
		if err != nil {
			return nil, err
		}
		c.store = store
		c.ownsStore = true
	}

	c.nav = opts.Navigator
	if c.nav == nil {
		nav, err := browser.NewNavigator(cfg.Origin, browser.WithoutBrowser(cfg.NoBrowser))
		if err != nil {
			c.closeStore()
			return nil, err
		}
		c.nav = nav
	}

	c.tokens = oauth.NewTokenClient(cfg, opts.TokenHTTPClient)
	c.flow = flow.New(cfg, c.store, c.tokens, c.nav, flow.WithTokenHook(c.onTokens))
	c.coordinator = refresh.NewCoordinator(c.store, c.tokens, c.flow)
	c.coordinator.SetTokenHook(c.onRefreshed)

	base := opts.Base
	if base == nil {
		base = util.SetProxy(&cfg.SDKConfig, &http.Client{}).Transport
	}
	c.transport = transport.New(base, c.store, c.coordinator)
	c.httpClient = &http.Client{Transport: c.transport}

	if c.loader != nil {
		baseURL := opts.UserAPIBaseURL
		if baseURL == "" {
			baseURL = cfg.Provider.BaseURL
		}
		api, err := apis.New(baseURL, c.httpClient)
		if err != nil {
			c.closeStore()
			return nil, fmt.Errorf("authcode: user api: %w", err)
		}
		c.userAPI = api
	}

	if !opts.DisableWatch && !cfg.Disabled {
		if fb, ok := c.store.SessionBackend().(*session.FileBackend); ok {
			w, err := watcher.NewWatcher([]string{fb.Path()}, func(string) {
				c.hydrate(logging.WithRequestID(context.Background(), logging.GenerateRequestID()))
			})
			if err != nil {
				log.Warnf("session file watching unavailable: %v", err)
			} else {
				c.watcher = w
			}
		}
	}
	return c, nil
}

// Start hydrates the session from storage and advances the authorization flow
// from the navigator's current location. In disabled mode it does nothing.
func (c *Client) Start(ctx context.Context) (FlowState, error) {
	if c.cfg.Disabled {
		return c.flow.Resume(ctx)
	}
	ctx, _ = logging.EnsureRequestID(ctx)
	c.hydrate(ctx)
	if c.watcher != nil {
		if err := c.watcher.Start(context.WithoutCancel(ctx)); err != nil {
			log.Warnf("failed to watch session storage: %v", err)
		}
	}
	return c.flow.Resume(ctx)
}

// Resume moves the navigator to location, a request URI on the application
// origin, and advances the flow. The callback server calls it for each
// redirect it receives.
func (c *Client) Resume(ctx context.Context, location string) (FlowState, error) {
	setter, ok := c.nav.(interface{ SetLocation(string) error })
	if !ok {
		return c.flow.Current(), fmt.Errorf("authcode: navigator cannot be moved to %q", location)
	}
	if err := setter.SetLocation(location); err != nil {
		return c.flow.Current(), err
	}
	ctx, _ = logging.EnsureRequestID(ctx)
	return c.flow.Resume(ctx)
}

// Hydrate recomputes the login state from storage without advancing the flow.
func (c *Client) Hydrate(ctx context.Context) SessionState {
	ctx, _ = logging.EnsureRequestID(ctx)
	c.hydrate(ctx)
	return c.State()
}

// State returns a snapshot of the login state.
func (c *Client) State() SessionState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// FlowState returns the state of the last flow transition.
func (c *Client) FlowState() FlowState { return c.flow.Current() }

// RefreshState reports whether a token refresh is in flight.
func (c *Client) RefreshState() refresh.State { return c.coordinator.State() }

// Logout clears the session and sends the navigator to the provider's logout page.
func (c *Client) Logout(ctx context.Context) error {
	ctx, _ = logging.EnsureRequestID(ctx)
	return c.flow.Logout(ctx, flow.ReasonUser)
}

// HTTPClient returns the client that authenticates requests with the stored
// access token and recovers from expired tokens.
func (c *Client) HTTPClient() *http.Client { return c.httpClient }

// API returns a JSON API client for baseURL that uses HTTPClient.
func (c *Client) API(baseURL string) (*APIClient, error) {
	return apis.New(baseURL, c.httpClient)
}

// Config returns the configuration the client was built with.
func (c *Client) Config() *config.Config { return c.cfg }

// Close stops background work and releases the storage backends.
func (c *Client) Close() error {
	var errs []error
	if c.watcher != nil {
		errs = append(errs, c.watcher.Stop())
	}
	c.bg.Wait()
	if c.ownsStore {
		errs = append(errs, c.store.Close())
	}
	return errors.Join(errs...)
}

func (c *Client) closeStore() {
	if c.ownsStore {
		_ = c.store.Close()
	}
}

func (c *Client) onTokens(ctx context.Context, tokens oauth.TokenSet) {
	c.apply(ctx, tokens)
}

// onRefreshed runs inside the shared refresh. Loading the user may issue API
// calls that themselves need a refresh, so it happens in the background.
func (c *Client) onRefreshed(ctx context.Context, tokens oauth.TokenSet) {
	c.bg.Add(1)
	go func() {
		defer c.bg.Done()
		c.apply(context.WithoutCancel(ctx), tokens)
	}()
}

// hydrate recomputes the login state from storage.
func (c *Client) hydrate(ctx context.Context) {
	tokens, _, err := c.store.Tokens(ctx)
	if err != nil {
		logging.Entry(ctx).Warnf("failed to read stored tokens: %v", err)
		return
	}
	c.apply(ctx, tokens)
}

func (c *Client) apply(ctx context.Context, tokens oauth.TokenSet) {
	if !tokens.Complete() {
		c.setState(SessionState{})
		return
	}
	// A refresh reaches apply from the token hook and again from the watcher
	// seeing this process's own write.
	c.mu.Lock()
	if tokens == c.applied {
		c.mu.Unlock()
		return
	}
	c.applied = tokens
	c.mu.Unlock()

	claims, _ := oauth.DecodeIDToken(tokens.IDToken)
	next := SessionState{LoggedIn: true, Claims: claims}
	if c.loader != nil {
		user, err := c.loader(ctx, UserAPI{APIClient: c.userAPI, New: c.API}, claims)
		if err != nil {
			logging.Entry(ctx).Warnf("failed to load user: %v", err)
			c.mu.Lock()
			if c.applied == tokens {
				c.applied = oauth.TokenSet{}
			}
			c.mu.Unlock()
		} else {
			next.User = user
		}
	}
	c.setState(next)
}

func (c *Client) setState(state SessionState) {
	c.mu.Lock()
	c.state = state
	if !state.LoggedIn {
		c.applied = oauth.TokenSet{}
	}
	c.mu.Unlock()
}
