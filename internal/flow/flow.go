// Package flow implements the authorization code flow with PKCE: it inspects
// the current location, starts an authorization attempt, exchanges the returned
// code for tokens, and runs the logout procedure when anything goes wrong.
package flow

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync/atomic"

	"github.com/forgo/authcode/internal/config"
	"github.com/forgo/authcode/internal/logging"
	"github.com/forgo/authcode/internal/metrics"
	"github.com/forgo/authcode/internal/misc"
	"github.com/forgo/authcode/internal/oauth"
	"github.com/forgo/authcode/internal/pkce"
	"github.com/forgo/authcode/internal/session"
	"golang.org/x/oauth2"
)

// State is the outcome of the last Resume or Logout.
type State int32

const (
	StateIdle State = iota
	StateDisabled
	StateAuthenticated
	StateExchanging
	StateRedirecting
	StateLoggedOut
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDisabled:
		return "disabled"
	case StateAuthenticated:
		return "authenticated"
	case StateExchanging:
		return "exchanging"
	case StateRedirecting:
		return "redirecting"
	case StateLoggedOut:
		return "logged_out"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Logout reasons, used in logs and metrics.
const (
	ReasonUser          = "user"
	ReasonProviderError = "provider_error"
	ReasonInvalidState  = "invalid_state"
	ReasonNoVerifier    = "missing_verifier"
	ReasonExchange      = "exchange_failed"
	ReasonRefresh       = "refresh_failed"
)

// CodeExchanger redeems an authorization code. *oauth.TokenClient satisfies it.
type CodeExchanger interface {
	ExchangeCode(ctx context.Context, code, verifier string) (oauth.TokenSet, error)
}

// TokenHook is notified after tokens are stored, and with an empty set after
// they are cleared.
type TokenHook func(ctx context.Context, tokens oauth.TokenSet)

// Option configures a Flow.
type Option func(*Flow)

// WithTokenHook registers hook for token updates.
func WithTokenHook(hook TokenHook) Option {
	return func(f *Flow) { f.hook = hook }
}

// Flow is the authorization state machine for one application session.
type Flow struct {
	cfg       *config.Config
	store     *session.Store
	exchanger CodeExchanger
	nav       Navigator
	oauthCfg  *oauth2.Config
	hook      TokenHook
	state     atomic.Int32
}

// New creates a Flow.
func New(cfg *config.Config, store *session.Store, exchanger CodeExchanger, nav Navigator, opts ...Option) *Flow {
	f := &Flow{
		cfg:       cfg,
		store:     store,
		exchanger: exchanger,
		nav:       nav,
		oauthCfg: &oauth2.Config{
			ClientID: cfg.Provider.ClientID,
			Endpoint: oauth2.Endpoint{
				AuthURL:  cfg.Endpoint(cfg.Provider.AuthorizeURL),
				TokenURL: cfg.Endpoint(cfg.Provider.TokenURL),
			},
			RedirectURL: cfg.RedirectURI(),
			Scopes:      cfg.Provider.ScopeList(),
		},
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// SetTokenHook replaces the token hook. It must be called before the flow is used.
func (f *Flow) SetTokenHook(hook TokenHook) { f.hook = hook }

// Current returns the state of the most recent transition.
func (f *Flow) Current() State { return State(f.state.Load()) }

func (f *Flow) setState(s State) State {
	f.state.Store(int32(s))
	return s
}

// Resume inspects the navigator's location and advances the flow by one step.
func (f *Flow) Resume(ctx context.Context) (State, error) {
	if f.cfg.Disabled {
		return f.setState(StateDisabled), nil
	}
	entry := logging.Entry(ctx)

	if _, ok, err := f.store.Tokens(ctx); err != nil {
		return f.Current(), fmt.Errorf("read tokens: %w", err)
	} else if ok {
		return f.setState(StateAuthenticated), nil
	}

	location := f.nav.Location()
	if location == nil {
		location = &url.URL{Path: "/"}
	}
	query := location.Query()

	if query.Has("error") {
		providerErr := oauth.NewOAuthError(query.Get("error"), query.Get("error_description"), 0)
		entry.WithField("reason", ReasonProviderError).Warnf("provider returned an error: %v", providerErr)
		errLogout := f.Logout(ctx, ReasonProviderError)
		return StateLoggedOut, errors.Join(oauth.NewAuthenticationError(oauth.ErrProviderRejected, providerErr), errLogout)
	}

	if location.Path == f.cfg.Provider.RedirectURL {
		code := query.Get("code")
		if code == "" {
			entry.Warn("callback reached without an authorization code")
			return f.setState(StateIdle), nil
		}
		previous, ok, err := f.store.PreviousCode(ctx)
		if err != nil {
			return f.Current(), fmt.Errorf("read previous code: %w", err)
		}
		if ok && previous == code {
			entry.Debug("authorization code already processed")
			return f.setState(StateIdle), nil
		}
		return f.exchange(ctx, code, query.Get("state"))
	}

	return f.authorize(ctx, location)
}

func (f *Flow) authorize(ctx context.Context, location *url.URL) (State, error) {
	if err := f.store.SavePreAuthRoute(ctx, location.Path); err != nil {
		return f.Current(), fmt.Errorf("save pre-auth route: %w", err)
	}
	key, err := pkce.Generate()
	if err != nil {
		return f.Current(), err
	}
	state, err := misc.GenerateRandomState()
	if err != nil {
		return f.Current(), err
	}
	if err = f.store.SetVerifier(ctx, key.Verifier); err != nil {
		return f.Current(), fmt.Errorf("store verifier: %w", err)
	}
	if err = f.store.SetState(ctx, state); err != nil {
		return f.Current(), fmt.Errorf("store state: %w", err)
	}

	target := f.AuthorizeURL(state, key.Challenge)
	logging.Entry(ctx).WithField("route", location.Path).Debug("redirecting to authorization endpoint")
	f.setState(StateRedirecting)
	if err = f.nav.Replace(ctx, target); err != nil {
		return StateRedirecting, fmt.Errorf("navigate to authorization endpoint: %w", err)
	}
	return StateRedirecting, nil
}

// AuthorizeURL builds the authorization endpoint URL. The scope list is
// space separated and encoded as %20.
func (f *Flow) AuthorizeURL(state, challenge string) string {
	authURL := f.oauthCfg.AuthCodeURL(
		state,
		oauth2.SetAuthURLParam("code_challenge", challenge),
		oauth2.SetAuthURLParam("code_challenge_method", pkce.Method),
	)
	// Encode renders spaces as "+"; a literal plus is already "%2B".
	return strings.ReplaceAll(authURL, "+", "%20")
}

func (f *Flow) exchange(ctx context.Context, code, returnedState string) (State, error) {
	f.setState(StateExchanging)
	entry := logging.Entry(ctx)

	if err := f.store.SetPreviousCode(ctx, code); err != nil {
		return f.Current(), fmt.Errorf("record authorization code: %w", err)
	}

	expected, ok, err := f.store.State(ctx)
	if err != nil {
		return f.Current(), fmt.Errorf("read state: %w", err)
	}
	if !ok || subtle.ConstantTimeCompare([]byte(expected), []byte(returnedState)) != 1 {
		entry.WithField("reason", ReasonInvalidState).Warn("authorization response state mismatch")
		return StateLoggedOut, errors.Join(oauth.ErrInvalidState, f.Logout(ctx, ReasonInvalidState))
	}

	verifier, ok, err := f.store.Verifier(ctx)
	if err != nil {
		return f.Current(), fmt.Errorf("read verifier: %w", err)
	}
	if !ok || verifier == "" {
		entry.WithField("reason", ReasonNoVerifier).Warn("no code verifier stored")
		return StateLoggedOut, errors.Join(oauth.ErrMissingVerifier, f.Logout(ctx, ReasonNoVerifier))
	}

	tokens, err := f.exchanger.ExchangeCode(ctx, code, verifier)
	if err != nil {
		return StateLoggedOut, errors.Join(err, f.Logout(ctx, ReasonExchange))
	}
	if err = f.store.SetTokens(ctx, tokens); err != nil {
		return StateLoggedOut, errors.Join(fmt.Errorf("store tokens: %w", err), f.Logout(ctx, ReasonExchange))
	}
	// Verifier and state are single use.
	if err = f.store.PersistentBackend().Delete(ctx, f.store.Key(session.KeyVerifier), f.store.Key(session.KeyState)); err != nil {
		entry.Warnf("failed to drop used verifier: %v", err)
	}
	f.notify(ctx, tokens)

	route, err := f.store.RevivePreAuthRoute(ctx, "/")
	if err != nil {
		entry.Warnf("failed to revive pre-auth route: %v", err)
	}
	entry.WithField("route", route).Info("authorization code exchanged")
	f.setState(StateAuthenticated)
	if err = f.nav.Replace(ctx, f.cfg.Origin+route); err != nil {
		return StateAuthenticated, fmt.Errorf("navigate to %s: %w", route, err)
	}
	return StateAuthenticated, nil
}

// Logout clears all stored authorization state, then sends the navigator to
// the provider's logout endpoint. Local state is cleared even when navigation
// fails.
func (f *Flow) Logout(ctx context.Context, reason string) error {
	entry := logging.Entry(ctx).WithField("reason", reason)
	hint, errClear := f.store.Clear(ctx)
	if errClear != nil {
		entry.WithError(errClear).Error("failed to clear session state")
	}
	metrics.Logout(reason)
	f.setState(StateLoggedOut)
	f.notify(ctx, oauth.TokenSet{})

	if f.cfg.Disabled {
		return errClear
	}
	target := f.LogoutURL(hint)
	entry.Info("logging out")
	if errNav := f.nav.Replace(ctx, target); errNav != nil {
		return errors.Join(errClear, fmt.Errorf("navigate to logout endpoint: %w", errNav))
	}
	return errClear
}

// LogoutURL returns the provider logout URL. With an identity token hint the
// OIDC logout endpoint is used, otherwise the provider's sign-out page.
func (f *Flow) LogoutURL(idTokenHint string) string {
	if idTokenHint != "" {
		params := url.Values{
			"id_token_hint":            {idTokenHint},
			"post_logout_redirect_uri": {f.cfg.Origin},
		}
		return f.cfg.Endpoint(f.cfg.Provider.LogoutURL) + "?" + params.Encode()
	}
	params := url.Values{"fromURI": {f.cfg.Origin}}
	return f.cfg.Endpoint(f.cfg.Provider.SignoutURL) + "?" + params.Encode()
}

func (f *Flow) notify(ctx context.Context, tokens oauth.TokenSet) {
	if f.hook == nil {
		return
	}
	f.hook(ctx, tokens)
}
