// Package apis builds clients for protected APIs. Every client sends through
// the token-injecting transport, so callers only deal with paths and payloads.
package apis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"
)

// maxErrorBody bounds how much of a failed response is kept on StatusError.
const maxErrorBody = 8 << 10

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
	Body       []byte
}

func (e *StatusError) Error() string {
	msg := e.Message()
	if msg == "" {
		return fmt.Sprintf("%s %s: status %d", e.Method, e.URL, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.URL, e.StatusCode, msg)
}

// Message extracts a human readable message from common JSON error shapes,
// falling back to the raw body.
func (e *StatusError) Message() string {
	if len(e.Body) == 0 {
		return ""
	}
	if gjson.ValidBytes(e.Body) {
		for _, path := range []string{"error.message", "message", "error_description", "errorSummary", "error"} {
			if v := gjson.GetBytes(e.Body, path); v.Exists() && v.Type == gjson.String && v.String() != "" {
				return v.String()
			}
		}
	}
	return strings.TrimSpace(string(e.Body))
}

// Client sends requests relative to a base URL.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
}

// New creates a Client for baseURL. httpClient should use the token-injecting
// transport; nil falls back to http.DefaultClient.
func New(baseURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return nil, fmt.Errorf("apis: invalid base url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("apis: base url must be absolute, got %q", baseURL)
	}
	if !strings.HasSuffix(parsed.Path, "/") {
		parsed.Path += "/"
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// BaseURL returns the base URL requests are resolved against.
func (c *Client) BaseURL() string { return c.baseURL.String() }

// HTTPClient exposes the underlying client.
func (c *Client) HTTPClient() *http.Client { return c.httpClient }

// NewRequest resolves path against the base URL. body may be nil, an io.Reader,
// or a value encoded as JSON.
func (c *Client) NewRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	ref, err := url.Parse(strings.TrimPrefix(path, "/"))
	if err != nil {
		return nil, fmt.Errorf("apis: invalid path %q: %w", path, err)
	}
	target := c.baseURL.ResolveReference(ref)

	var reader io.Reader
	isJSON := false
	switch b := body.(type) {
	case nil:
	case io.Reader:
		reader = b
	default:
		raw, errMarshal := json.Marshal(b)
		if errMarshal != nil {
			return nil, fmt.Errorf("apis: encode body: %w", errMarshal)
		}
		reader = bytes.NewReader(raw)
		isJSON = true
	}

	req, err := http.NewRequestWithContext(ctx, method, target.String(), reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if isJSON {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// Do sends req. Responses outside 2xx are consumed and returned as *StatusError.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return nil, &StatusError{
		Method:     req.Method,
		URL:        req.URL.String(),
		StatusCode: resp.StatusCode,
		Body:       body,
	}
}

// GetJSON issues a GET and decodes the JSON response into out.
func (c *Client) GetJSON(ctx context.Context, path string, out any) error {
	req, err := c.NewRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	return c.doJSON(req, out)
}

// PostJSON issues a POST with in encoded as JSON and decodes the response into out.
func (c *Client) PostJSON(ctx context.Context, path string, in, out any) error {
	req, err := c.NewRequest(ctx, http.MethodPost, path, in)
	if err != nil {
		return err
	}
	return c.doJSON(req, out)
}

func (c *Client) doJSON(req *http.Request, out any) error {
	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err = json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("apis: decode %s %s: %w", req.Method, req.URL.Path, err)
	}
	return nil
}
