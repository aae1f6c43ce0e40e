package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/forgo/authcode/internal/config"
	"github.com/forgo/authcode/internal/oauth"
	log "github.com/sirupsen/logrus"
)

// Key names, stored as "<namespace>::<name>".
const (
	KeyTokens       = "tokens"
	KeyVerifier     = "authCodeVerifier"
	KeyPreviousCode = "previousAuthCode"
	KeyPreAuthRoute = "preAuthRoute"
	KeyState        = "authState"
)

// storedTokens is the persisted shape of the token set.
type storedTokens struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	IDToken      string `json:"idToken"`
}

// Store is the typed view over the two scoped backends.
type Store struct {
	namespace  string
	session    Backend
	persistent Backend
}

// NewStore wraps the given backends. An empty namespace uses the default.
func NewStore(namespace string, session, persistent Backend) *Store {
	if strings.TrimSpace(namespace) == "" {
		namespace = config.DefaultNamespace
	}
	return &Store{namespace: namespace, session: session, persistent: persistent}
}

// Open builds both backends from cfg.
func Open(ctx context.Context, cfg *config.Config) (*Store, error) {
	sessionBackend, err := NewBackend(ctx, cfg.Storage.Session, ScopeSession)
	if err != nil {
		return nil, err
	}
	persistentBackend, err := NewBackend(ctx, cfg.Storage.Persistent, ScopePersistent)
	if err != nil {
		_ = sessionBackend.Close()
		return nil, err
	}
	return NewStore(cfg.Namespace, sessionBackend, persistentBackend), nil
}

// Key returns the namespaced storage key for name.
func (s *Store) Key(name string) string {
	return s.namespace + "::" + name
}

// SessionBackend exposes the session-scoped backend.
func (s *Store) SessionBackend() Backend { return s.session }

// PersistentBackend exposes the persistent-scoped backend.
func (s *Store) PersistentBackend() Backend { return s.persistent }

// Close closes both backends.
func (s *Store) Close() error {
	return errors.Join(s.session.Close(), s.persistent.Close())
}

// Tokens returns the stored token set. A value that does not decode to a
// complete set is reported as absent.
func (s *Store) Tokens(ctx context.Context) (oauth.TokenSet, bool, error) {
	raw, ok, err := s.session.Get(ctx, s.Key(KeyTokens))
	if err != nil || !ok {
		return oauth.TokenSet{}, false, err
	}
	var stored storedTokens
	if err = json.Unmarshal([]byte(raw), &stored); err != nil {
		log.WithField("key", KeyTokens).Warnf("discarding undecodable token set: %v", err)
		return oauth.TokenSet{}, false, nil
	}
	tokens := oauth.TokenSet{
		AccessToken:  stored.AccessToken,
		RefreshToken: stored.RefreshToken,
		IDToken:      stored.IDToken,
	}
	if !tokens.Complete() {
		return oauth.TokenSet{}, false, nil
	}
	return tokens, true, nil
}

// SetTokens replaces the token set in a single write.
func (s *Store) SetTokens(ctx context.Context, tokens oauth.TokenSet) error {
	if !tokens.Complete() {
		return oauth.ErrIncompleteTokenResponse
	}
	raw, err := json.Marshal(storedTokens{
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		IDToken:      tokens.IDToken,
	})
	if err != nil {
		return fmt.Errorf("session: encode tokens: %w", err)
	}
	return s.session.Set(ctx, s.Key(KeyTokens), string(raw))
}

// ClearTokens removes the token set.
func (s *Store) ClearTokens(ctx context.Context) error {
	return s.session.Delete(ctx, s.Key(KeyTokens))
}

// AccessToken returns the stored access token or "".
func (s *Store) AccessToken(ctx context.Context) (string, error) {
	tokens, _, err := s.Tokens(ctx)
	return tokens.AccessToken, err
}

// RefreshToken returns the stored refresh token or "".
func (s *Store) RefreshToken(ctx context.Context) (string, error) {
	tokens, _, err := s.Tokens(ctx)
	return tokens.RefreshToken, err
}

// IDToken returns the stored identity token or "".
func (s *Store) IDToken(ctx context.Context) (string, error) {
	tokens, _, err := s.Tokens(ctx)
	return tokens.IDToken, err
}

// Verifier returns the PKCE verifier of the pending authorization attempt.
func (s *Store) Verifier(ctx context.Context) (string, bool, error) {
	return s.persistent.Get(ctx, s.Key(KeyVerifier))
}

// SetVerifier stores the PKCE verifier for the next code exchange.
func (s *Store) SetVerifier(ctx context.Context, verifier string) error {
	return s.persistent.Set(ctx, s.Key(KeyVerifier), verifier)
}

// PreviousCode returns the last authorization code handed to the token endpoint.
func (s *Store) PreviousCode(ctx context.Context) (string, bool, error) {
	return s.persistent.Get(ctx, s.Key(KeyPreviousCode))
}

// SetPreviousCode records code as processed.
func (s *Store) SetPreviousCode(ctx context.Context, code string) error {
	return s.persistent.Set(ctx, s.Key(KeyPreviousCode), code)
}

// State returns the state nonce of the pending authorization attempt.
func (s *Store) State(ctx context.Context) (string, bool, error) {
	return s.persistent.Get(ctx, s.Key(KeyState))
}

// SetState stores the state nonce sent with the authorization request.
func (s *Store) SetState(ctx context.Context, state string) error {
	return s.persistent.Set(ctx, s.Key(KeyState), state)
}

// SavePreAuthRoute remembers route so the user returns there after login. Any
// previous route is dropped; the root route is not stored.
func (s *Store) SavePreAuthRoute(ctx context.Context, route string) error {
	key := s.Key(KeyPreAuthRoute)
	if err := s.persistent.Delete(ctx, key); err != nil {
		return err
	}
	route = strings.TrimSpace(route)
	if route == "" || route == "/" {
		return nil
	}
	return s.persistent.Set(ctx, key, route)
}

// RevivePreAuthRoute returns and removes the stored route, or fallback when none
// is stored.
func (s *Store) RevivePreAuthRoute(ctx context.Context, fallback string) (string, error) {
	key := s.Key(KeyPreAuthRoute)
	route, ok, err := s.persistent.Get(ctx, key)
	if err != nil {
		return fallback, err
	}
	if !ok || route == "" {
		return fallback, nil
	}
	if err = s.persistent.Delete(ctx, key); err != nil {
		return route, err
	}
	return route, nil
}

// Clear removes everything this package stores and returns the identity token
// that was stored, for use as a logout hint. Deletion is attempted on both
// scopes even when one fails.
func (s *Store) Clear(ctx context.Context) (string, error) {
	idToken, errRead := s.IDToken(ctx)
	errSession := s.session.Delete(ctx, s.Key(KeyTokens))
	errPersistent := s.persistent.Delete(ctx,
		s.Key(KeyVerifier),
		s.Key(KeyPreviousCode),
		s.Key(KeyPreAuthRoute),
		s.Key(KeyState),
	)
	return idToken, errors.Join(errRead, errSession, errPersistent)
}
