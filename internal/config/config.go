// Package config provides configuration management for the authcode session manager.
// It handles loading and parsing YAML configuration files, applying environment
// overrides, and filling identity-provider endpoint defaults.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Identity-provider endpoint defaults. They match an Okta custom authorization
// server so that a bare base URL and client ID are enough to get started.
const (
	DefaultAuthorizeURL = "/oauth2/default/v1/authorize"
	DefaultTokenURL     = "/oauth2/default/v1/token"
	DefaultRedirectURL  = "/callback"
	DefaultLogoutURL    = "/oauth2/default/v1/logout"
	DefaultSignoutURL   = "/login/signout"
	DefaultNamespace    = "authcode"
	DefaultScopes       = "openid profile email offline_access"

	DefaultCallbackPort    = 8085
	DefaultCallbackTimeout = 5 * time.Minute
)

// Storage backend identifiers accepted in BackendConfig.Type.
const (
	BackendMemory   = "memory"
	BackendFile     = "file"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendObject   = "object"
)

// Config represents the application's configuration, loaded from a YAML file and
// optionally overridden by AUTHCODE_* environment variables.
type Config struct {
	SDKConfig `yaml:",inline"`

	// Provider describes the identity provider endpoints and client registration.
	Provider ProviderConfig `yaml:"provider" json:"provider" envPrefix:"PROVIDER_"`

	// Origin is the scheme://host[:port] the application is served from. The redirect
	// URI and post-logout redirect are derived from it.
	Origin string `yaml:"origin" json:"origin" env:"ORIGIN"`

	// Namespace prefixes every persisted key as "<namespace>::<key>".
	Namespace string `yaml:"namespace" json:"namespace" env:"NAMESPACE"`

	// Disabled turns the authorization flow into a no-op.
	Disabled bool `yaml:"disabled" json:"disabled" env:"DISABLED"`

	// NoBrowser prints (and copies) provider URLs instead of opening the system browser.
	NoBrowser bool `yaml:"no-browser" json:"no-browser" env:"NO_BROWSER"`

	// Storage configures the session-scoped and persistent-scoped backends.
	Storage StorageConfig `yaml:"storage" json:"storage" envPrefix:"STORAGE_"`

	// Callback configures the local redirect receiver.
	Callback CallbackConfig `yaml:"callback" json:"callback" envPrefix:"CALLBACK_"`

	// Logging configures log output.
	Logging LoggingConfig `yaml:"logging" json:"logging" envPrefix:"LOGGING_"`
}

// ProviderConfig holds the identity-provider settings. Endpoint fields are paths
// relative to BaseURL.
type ProviderConfig struct {
	BaseURL      string `yaml:"base-url" json:"base-url" env:"BASE_URL"`
	ClientID     string `yaml:"client-id" json:"client-id" env:"CLIENT_ID"`
	AuthorizeURL string `yaml:"authorize-url" json:"authorize-url" env:"AUTHORIZE_URL"`
	TokenURL     string `yaml:"token-url" json:"token-url" env:"TOKEN_URL"`
	RedirectURL  string `yaml:"redirect-url" json:"redirect-url" env:"REDIRECT_URL"`
	LogoutURL    string `yaml:"logout-url" json:"logout-url" env:"LOGOUT_URL"`
	SignoutURL   string `yaml:"signout-url" json:"signout-url" env:"SIGNOUT_URL"`
	// Scopes is a space separated scope list.
	Scopes string `yaml:"scopes" json:"scopes" env:"SCOPES"`
}

// StorageConfig pairs one backend per storage scope.
type StorageConfig struct {
	Session    BackendConfig `yaml:"session" json:"session" envPrefix:"SESSION_"`
	Persistent BackendConfig `yaml:"persistent" json:"persistent" envPrefix:"PERSISTENT_"`
}

// BackendConfig selects and configures a key/value backend.
type BackendConfig struct {
	Type string `yaml:"type" json:"type" env:"TYPE"`

	// Dir is the directory of the file backend. "~" is expanded.
	Dir string `yaml:"dir,omitempty" json:"dir,omitempty" env:"DIR"`

	DSN    string `yaml:"dsn,omitempty" json:"dsn,omitempty" env:"DSN"`
	Schema string `yaml:"schema,omitempty" json:"schema,omitempty" env:"SCHEMA"`
	Table  string `yaml:"table,omitempty" json:"table,omitempty" env:"TABLE"`

	RedisAddr     string        `yaml:"redis-addr,omitempty" json:"redis-addr,omitempty" env:"REDIS_ADDR"`
	RedisPassword string        `yaml:"redis-password,omitempty" json:"redis-password,omitempty" env:"REDIS_PASSWORD"`
	RedisDB       int           `yaml:"redis-db,omitempty" json:"redis-db,omitempty" env:"REDIS_DB"`
	TTL           time.Duration `yaml:"ttl,omitempty" json:"ttl,omitempty" env:"TTL"`

	Endpoint  string `yaml:"endpoint,omitempty" json:"endpoint,omitempty" env:"ENDPOINT"`
	Bucket    string `yaml:"bucket,omitempty" json:"bucket,omitempty" env:"BUCKET"`
	AccessKey string `yaml:"access-key,omitempty" json:"access-key,omitempty" env:"ACCESS_KEY"`
	SecretKey string `yaml:"secret-key,omitempty" json:"secret-key,omitempty" env:"SECRET_KEY"`
	Region    string `yaml:"region,omitempty" json:"region,omitempty" env:"REGION"`
	Prefix    string `yaml:"prefix,omitempty" json:"prefix,omitempty" env:"PREFIX"`
	UseSSL    bool   `yaml:"use-ssl,omitempty" json:"use-ssl,omitempty" env:"USE_SSL"`
}

// CallbackConfig configures the local server receiving the provider redirect.
type CallbackConfig struct {
	Port    int           `yaml:"port" json:"port" env:"PORT"`
	Timeout time.Duration `yaml:"timeout" json:"timeout" env:"TIMEOUT"`
}

// LoggingConfig configures log output.
type LoggingConfig struct {
	Debug  bool   `yaml:"debug" json:"debug" env:"DEBUG"`
	ToFile bool   `yaml:"to-file" json:"to-file" env:"TO_FILE"`
	Dir    string `yaml:"dir,omitempty" json:"dir,omitempty" env:"DIR"`
	// MaxSizeMB caps a single rotated log file.
	MaxSizeMB int `yaml:"max-size-mb,omitempty" json:"max-size-mb,omitempty" env:"MAX_SIZE_MB"`
}

// LoadConfig reads the YAML configuration file, applies environment overrides and
// defaults, and validates the result.
func LoadConfig(configFile string) (*Config, error) {
	return LoadConfigOptional(configFile, false)
}

// LoadConfigOptional behaves like LoadConfig but tolerates a missing file when optional
// is true, in which case configuration comes from the environment alone.
func LoadConfigOptional(configFile string, optional bool) (*Config, error) {
	cfg := &Config{}

	if strings.TrimSpace(configFile) != "" {
		data, err := os.ReadFile(configFile)
		switch {
		case err == nil:
			if err = yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		case optional && errors.Is(err, os.ErrNotExist):
		default:
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides cfg with AUTHCODE_* environment variables. Unset variables
// leave the existing values untouched.
func ApplyEnv(cfg *Config) error {
	if cfg == nil {
		return nil
	}
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: "AUTHCODE_"}); err != nil {
		return fmt.Errorf("failed to parse environment: %w", err)
	}
	return nil
}

// ApplyDefaults fills unset fields with their defaults.
func (c *Config) ApplyDefaults() {
	if c == nil {
		return
	}
	p := &c.Provider
	p.BaseURL = strings.TrimRight(strings.TrimSpace(p.BaseURL), "/")
	if p.AuthorizeURL == "" {
		p.AuthorizeURL = DefaultAuthorizeURL
	}
	if p.TokenURL == "" {
		p.TokenURL = DefaultTokenURL
	}
	if p.RedirectURL == "" {
		p.RedirectURL = DefaultRedirectURL
	}
	if p.LogoutURL == "" {
		p.LogoutURL = DefaultLogoutURL
	}
	if p.SignoutURL == "" {
		p.SignoutURL = DefaultSignoutURL
	}
	if strings.TrimSpace(p.Scopes) == "" {
		p.Scopes = DefaultScopes
	}

	if c.Namespace == "" {
		c.Namespace = DefaultNamespace
	}
	if c.Callback.Port <= 0 {
		c.Callback.Port = DefaultCallbackPort
	}
	if c.Callback.Timeout <= 0 {
		c.Callback.Timeout = DefaultCallbackTimeout
	}
	if strings.TrimSpace(c.Origin) == "" {
		c.Origin = fmt.Sprintf("http://localhost:%d", c.Callback.Port)
	}
	c.Origin = strings.TrimRight(strings.TrimSpace(c.Origin), "/")

	if c.Storage.Session.Type == "" {
		c.Storage.Session.Type = BackendMemory
	}
	if c.Storage.Persistent.Type == "" {
		c.Storage.Persistent.Type = BackendMemory
	}
}

// Validate reports the first configuration problem found.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config is nil")
	}
	if c.Disabled {
		return nil
	}
	if strings.TrimSpace(c.Provider.ClientID) == "" {
		return fmt.Errorf("provider.client-id is required")
	}
	if c.Provider.BaseURL == "" {
		return fmt.Errorf("provider.base-url is required")
	}
	if _, err := url.ParseRequestURI(c.Provider.BaseURL); err != nil {
		return fmt.Errorf("provider.base-url is invalid: %w", err)
	}
	origin, err := url.Parse(c.Origin)
	if err != nil || origin.Scheme == "" || origin.Host == "" {
		return fmt.Errorf("origin must be an absolute URL, got %q", c.Origin)
	}
	if !strings.HasPrefix(c.Provider.RedirectURL, "/") {
		return fmt.Errorf("provider.redirect-url must be a path, got %q", c.Provider.RedirectURL)
	}
	backends := []struct {
		name    string
		backend BackendConfig
	}{
		{"session", c.Storage.Session},
		{"persistent", c.Storage.Persistent},
	}
	for _, b := range backends {
		switch b.backend.Type {
		case BackendMemory, BackendFile, BackendPostgres, BackendRedis, BackendObject:
		default:
			return fmt.Errorf("storage.%s.type %q is not supported", b.name, b.backend.Type)
		}
	}
	return nil
}

// ScopeString returns the trimmed scope list, the form sent on refresh requests.
func (p ProviderConfig) ScopeString() string {
	return strings.TrimSpace(p.Scopes)
}

// ScopeList splits the scope string on whitespace.
func (p ProviderConfig) ScopeList() []string {
	return strings.Fields(p.Scopes)
}

// RedirectURI is the absolute redirect URI registered with the provider.
func (c *Config) RedirectURI() string {
	return c.Origin + c.Provider.RedirectURL
}

// Endpoint joins the provider base URL with a configured path.
func (c *Config) Endpoint(path string) string {
	return c.Provider.BaseURL + path
}
