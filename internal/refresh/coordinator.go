// Package refresh renews the token set with the refresh_token grant. Concurrent
// callers share a single in-flight refresh and all observe its outcome.
package refresh

import (
	"context"
	"sync/atomic"

	"github.com/forgo/authcode/internal/logging"
	"github.com/forgo/authcode/internal/metrics"
	"github.com/forgo/authcode/internal/oauth"
	"github.com/forgo/authcode/internal/session"
	"golang.org/x/sync/singleflight"
)

// State reports whether a refresh is in flight.
type State int32

const (
	StateIdle State = iota
	StateRefreshing
)

func (s State) String() string {
	if s == StateRefreshing {
		return "refreshing"
	}
	return "idle"
}

const (
	flightKey     = "refresh"
	reasonRefresh = "refresh_failed"
)

// Refresher redeems a refresh token. *oauth.TokenClient satisfies it.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (oauth.TokenSet, error)
}

// Logouter runs the logout procedure. *flow.Flow satisfies it.
type Logouter interface {
	Logout(ctx context.Context, reason string) error
}

// Coordinator deduplicates refreshes process-wide. Share one instance between
// every transport of an application session.
type Coordinator struct {
	store     *session.Store
	refresher Refresher
	logouter  Logouter
	hook      func(ctx context.Context, tokens oauth.TokenSet)

	group    singleflight.Group
	state    atomic.Int32
	attempts atomic.Int64
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(store *session.Store, refresher Refresher, logouter Logouter) *Coordinator {
	return &Coordinator{store: store, refresher: refresher, logouter: logouter}
}

// SetTokenHook registers a callback invoked after each successful refresh.
func (c *Coordinator) SetTokenHook(hook func(ctx context.Context, tokens oauth.TokenSet)) {
	c.hook = hook
}

// State returns the current refresh state.
func (c *Coordinator) State() State { return State(c.state.Load()) }

// Attempts returns the number of refreshes started so far.
func (c *Coordinator) Attempts() int64 { return c.attempts.Load() }

// EnsureRefreshed starts a refresh, or joins the one already in flight, and
// waits for it to settle. The refresh itself is detached from ctx: a caller
// whose context ends stops waiting, but the refresh runs to completion for
// the remaining waiters.
func (c *Coordinator) EnsureRefreshed(ctx context.Context) error {
	detached := context.WithoutCancel(ctx)
	ch := c.group.DoChan(flightKey, func() (any, error) {
		c.state.Store(int32(StateRefreshing))
		defer c.state.Store(int32(StateIdle))
		return nil, c.refresh(detached)
	})

	select {
	case res := <-ch:
		if res.Shared {
			metrics.RefreshShared()
		}
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Coordinator) refresh(ctx context.Context) error {
	attempt := c.attempts.Add(1)
	entry := logging.Entry(ctx).WithField("attempt", attempt)
	entry.Debug("refreshing tokens")

	tokens, err := c.redeem(ctx)
	if err != nil {
		entry.WithError(err).Warn("token refresh failed, logging out")
		if errLogout := c.logouter.Logout(ctx, reasonRefresh); errLogout != nil {
			entry.WithError(errLogout).Warn("logout after failed refresh incomplete")
		}
		return err
	}

	if c.hook != nil {
		c.hook(ctx, tokens)
	}
	entry.Info("tokens refreshed")
	return nil
}

func (c *Coordinator) redeem(ctx context.Context) (oauth.TokenSet, error) {
	refreshToken, err := c.store.RefreshToken(ctx)
	if err != nil {
		return oauth.TokenSet{}, oauth.NewAuthenticationError(oauth.ErrRefreshFailed, err)
	}
	if refreshToken == "" {
		return oauth.TokenSet{}, oauth.ErrNoRefreshToken
	}
	tokens, err := c.refresher.Refresh(ctx, refreshToken)
	if err != nil {
		return oauth.TokenSet{}, err
	}
	if err = c.store.SetTokens(ctx, tokens); err != nil {
		return oauth.TokenSet{}, oauth.NewAuthenticationError(oauth.ErrRefreshFailed, err)
	}
	return tokens, nil
}
