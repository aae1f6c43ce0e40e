package cmd

import (
	"bytes"
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/forgo/authcode/internal/config"
	"github.com/forgo/authcode/internal/oauth"
	"github.com/forgo/authcode/internal/session"
	"github.com/golang-jwt/jwt/v5"
)

func TestCallTarget(t *testing.T) {
	tests := []struct {
		name       string
		args       []string
		data       string
		wantMethod string
		wantPath   string
	}{
		{name: "path only", args: []string{"/me"}, wantMethod: http.MethodGet, wantPath: "/me"},
		{name: "path with data", args: []string{"/items"}, data: `{"a":1}`, wantMethod: http.MethodPost, wantPath: "/items"},
		{name: "explicit method", args: []string{"delete", "/items/1"}, wantMethod: http.MethodDelete, wantPath: "/items/1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			callData = tt.data
			t.Cleanup(func() { callData = "" })
			method, path := callTarget(tt.args)
			if method != tt.wantMethod || path != tt.wantPath {
				t.Fatalf("callTarget(%v) = %q %q, want %q %q", tt.args, method, path, tt.wantMethod, tt.wantPath)
			}
		})
	}
}

func TestPrintStatus(t *testing.T) {
	cfg = &config.Config{}
	t.Cleanup(func() { cfg = nil })
	ctx := context.Background()
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	store := session.NewStore("", session.NewMemoryBackend(), session.NewMemoryBackend())

	var out bytes.Buffer
	if err := printStatus(ctx, &out, store, now); err != nil {
		t.Fatalf("printStatus() error = %v", err)
	}
	if got := out.String(); got != "Session: logged out\n" {
		t.Fatalf("printStatus() = %q", got)
	}

	idToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   "u-1",
		"email": "ada@example.com",
		"exp":   now.Add(-time.Minute).Unix(),
	}).SignedString([]byte("k"))
	if err != nil {
		t.Fatalf("SignedString() error = %v", err)
	}
	if err = store.SetTokens(ctx, oauth.TokenSet{AccessToken: "A", RefreshToken: "R", IDToken: idToken}); err != nil {
		t.Fatalf("SetTokens() error = %v", err)
	}
	out.Reset()
	if err = printStatus(ctx, &out, store, now); err != nil {
		t.Fatalf("printStatus() error = %v", err)
	}
	for _, want := range []string{"Session: logged in", "User: ada@example.com", "expired"} {
		if !strings.Contains(out.String(), want) {
			t.Fatalf("printStatus() = %q, missing %q", out.String(), want)
		}
	}
}

func TestPrintStatusDisabled(t *testing.T) {
	cfg = &config.Config{Disabled: true}
	t.Cleanup(func() { cfg = nil })

	var out bytes.Buffer
	if err := printStatus(context.Background(), &out, nil, time.Now()); err != nil {
		t.Fatalf("printStatus() error = %v", err)
	}
	if got := out.String(); got != "Authorization: disabled\n" {
		t.Fatalf("printStatus() = %q", got)
	}
}

func TestInitializeConfigPrefersFileStorage(t *testing.T) {
	t.Setenv("AUTHCODE_PROVIDER_BASE_URL", "https://idp.example.com")
	t.Setenv("AUTHCODE_PROVIDER_CLIENT_ID", "client-123")
	t.Setenv("AUTHCODE_STORAGE_SESSION_DIR", t.TempDir())
	t.Chdir(t.TempDir())
	configPath = ""
	t.Cleanup(func() { cfg = nil })

	if err := initializeConfig(rootCmd, nil); err != nil {
		t.Fatalf("initializeConfig() error = %v", err)
	}
	if cfg.Storage.Session.Type != config.BackendFile || cfg.Storage.Persistent.Type != config.BackendFile {
		t.Fatalf("storage types = %q/%q, want file", cfg.Storage.Session.Type, cfg.Storage.Persistent.Type)
	}
	if cfg.Provider.TokenURL != config.DefaultTokenURL {
		t.Fatalf("Provider.TokenURL = %q, want default", cfg.Provider.TokenURL)
	}
}
