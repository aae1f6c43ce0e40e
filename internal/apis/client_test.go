package apis

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNewRejectsRelativeBase(t *testing.T) {
	t.Parallel()

	if _, err := New("/api", nil); err == nil {
		t.Fatalf("New(/api) expected error")
	}
}

func TestNewRequestResolvesPath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		base string
		path string
		want string
	}{
		{"https://api.example.com", "/users/me", "https://api.example.com/users/me"},
		{"https://api.example.com/v1", "users/me", "https://api.example.com/v1/users/me"},
		{"https://api.example.com/v1/", "/users?limit=5", "https://api.example.com/v1/users?limit=5"},
	}
	for _, tt := range tests {
		client, err := New(tt.base, nil)
		if err != nil {
			t.Fatalf("New(%q) error = %v", tt.base, err)
		}
		req, err := client.NewRequest(context.Background(), http.MethodGet, tt.path, nil)
		if err != nil {
			t.Fatalf("NewRequest() error = %v", err)
		}
		if got := req.URL.String(); got != tt.want {
			t.Fatalf("NewRequest(%q, %q) url = %q, want %q", tt.base, tt.path, got, tt.want)
		}
	}
}

func TestGetAndPostJSON(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/me":
			_, _ = io.WriteString(w, `{"name":"Ada"}`)
		case "/v1/echo":
			if r.Header.Get("Content-Type") != "application/json" {
				w.WriteHeader(http.StatusUnsupportedMediaType)
				return
			}
			var in map[string]any
			_ = json.NewDecoder(r.Body).Decode(&in)
			in["echoed"] = true
			_ = json.NewEncoder(w).Encode(in)
		default:
			w.WriteHeader(http.StatusForbidden)
			_, _ = io.WriteString(w, `{"error":{"message":"not allowed"}}`)
		}
	}))
	defer srv.Close()

	client, err := New(srv.URL+"/v1", srv.Client())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ctx := context.Background()

	var me struct {
		Name string `json:"name"`
	}
	if err = client.GetJSON(ctx, "/me", &me); err != nil {
		t.Fatalf("GetJSON() error = %v", err)
	}
	if me.Name != "Ada" {
		t.Fatalf("GetJSON() name = %q", me.Name)
	}

	var echoed map[string]any
	if err = client.PostJSON(ctx, "echo", map[string]int{"qty": 2}, &echoed); err != nil {
		t.Fatalf("PostJSON() error = %v", err)
	}
	if echoed["echoed"] != true || echoed["qty"] != float64(2) {
		t.Fatalf("PostJSON() = %v", echoed)
	}

	err = client.GetJSON(ctx, "/admin", nil)
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("GetJSON(/admin) error = %v, want *StatusError", err)
	}
	if statusErr.StatusCode != http.StatusForbidden || statusErr.Message() != "not allowed" {
		t.Fatalf("StatusError = %d %q", statusErr.StatusCode, statusErr.Message())
	}
}

func TestStatusErrorMessageFallbacks(t *testing.T) {
	t.Parallel()

	tests := []struct {
		body string
		want string
	}{
		{`{"message":"quota exceeded"}`, "quota exceeded"},
		{`{"error":"invalid_token","error_description":"expired"}`, "expired"},
		{`{"error":"invalid_token"}`, "invalid_token"},
		{"plain failure\n", "plain failure"},
		{"", ""},
	}
	for _, tt := range tests {
		e := &StatusError{StatusCode: 400, Body: []byte(tt.body)}
		if got := e.Message(); got != tt.want {
			t.Fatalf("Message(%q) = %q, want %q", tt.body, got, tt.want)
		}
	}
}
