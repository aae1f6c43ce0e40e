// Package session persists the authorization state of one application session:
// the token set, the PKCE verifier, the last processed authorization code, the
// pending state nonce and the route to return to after login.
//
// Values live in two scopes. The session scope holds the tokens and goes away
// with the application session; the persistent scope survives across sessions.
// Each scope is served by a Backend selected in configuration.
package session

import (
	"context"
	"fmt"
	"strings"

	"github.com/forgo/authcode/internal/config"
)

// Scope distinguishes the two storage lifetimes.
type Scope string

const (
	// ScopeSession holds the token set.
	ScopeSession Scope = "session"
	// ScopePersistent holds verifier, previous code, state and pre-auth route.
	ScopePersistent Scope = "persistent"
)

// Backend is a string key/value store. Implementations must be safe for
// concurrent use and must write each key atomically.
type Backend interface {
	// Get returns the stored value and whether the key exists.
	Get(ctx context.Context, key string) (string, bool, error)
	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key, value string) error
	// Delete removes keys. Missing keys are not an error.
	Delete(ctx context.Context, keys ...string) error
	// Close releases connections held by the backend.
	Close() error
}

// NewBackend constructs the backend described by cfg for the given scope.
func NewBackend(ctx context.Context, cfg config.BackendConfig, scope Scope) (Backend, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Type)) {
	case "", config.BackendMemory:
		return NewMemoryBackend(), nil
	case config.BackendFile:
		return NewFileBackend(cfg.Dir, scope)
	case config.BackendPostgres:
		return NewPostgresBackend(ctx, PostgresConfig{
			DSN:    cfg.DSN,
			Schema: cfg.Schema,
			Table:  cfg.Table,
		}, scope)
	case config.BackendRedis:
		return NewRedisBackend(ctx, RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			TTL:      cfg.TTL,
		}, scope)
	case config.BackendObject:
		return NewObjectBackend(ctx, ObjectConfig{
			Endpoint:  cfg.Endpoint,
			Bucket:    cfg.Bucket,
			AccessKey: cfg.AccessKey,
			SecretKey: cfg.SecretKey,
			Region:    cfg.Region,
			Prefix:    cfg.Prefix,
			UseSSL:    cfg.UseSSL,
		}, scope)
	default:
		return nil, fmt.Errorf("session: unsupported backend type %q", cfg.Type)
	}
}
