// Package transport attaches the stored access token to outgoing requests and
// recovers from an expired token by refreshing once and replaying the request.
package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/forgo/authcode/internal/logging"
	"github.com/forgo/authcode/internal/metrics"
	"github.com/forgo/authcode/internal/util"
	log "github.com/sirupsen/logrus"
)

// TokenSource supplies the current access token. *session.Store satisfies it.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
}

// Refresher renews the stored tokens. *refresh.Coordinator satisfies it.
type Refresher interface {
	EnsureRefreshed(ctx context.Context) error
}

// Transport is an http.RoundTripper implementing bearer injection and the
// 401 refresh-and-replay protocol. A request is replayed at most once.
type Transport struct {
	base      http.RoundTripper
	tokens    TokenSource
	refresher Refresher
}

// New wraps base. A nil base uses http.DefaultTransport.
func New(base http.RoundTripper, tokens TokenSource, refresher Refresher) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &Transport{base: base, tokens: tokens, refresher: refresher}
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx, _ := logging.EnsureRequestID(req.Context())
	original, err := replayable(req.Clone(ctx))
	if err != nil {
		return nil, err
	}
	entry := logging.Entry(ctx).WithFields(log.Fields{
		"method": original.Method,
		"url":    util.MaskURL(original.URL.String()),
	})

	resp, err := t.send(original)
	if err != nil || resp.StatusCode != http.StatusUnauthorized {
		return resp, err
	}

	// The stale response is discarded; the caller sees the replay or the refresh error.
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
	original.Header.Del("Authorization")

	entry.Debug("request unauthorized, refreshing tokens")
	if err = t.refresher.EnsureRefreshed(ctx); err != nil {
		metrics.RefreshBeforeReplayFailed()
		return nil, fmt.Errorf("refresh after 401: %w", err)
	}

	retry, err := rewind(original)
	if err != nil {
		metrics.RequestReplayed(err)
		return nil, err
	}
	resp, err = t.send(retry)
	metrics.RequestReplayed(err)
	if err == nil {
		entry.WithField("status", resp.StatusCode).Debug("request replayed")
	}
	return resp, err
}

// send applies the before-send hook to a copy of req and hands it to the base
// transport.
func (t *Transport) send(req *http.Request) (*http.Response, error) {
	out := req.Clone(req.Context())
	out.Header.Del("Authorization")
	token, err := t.tokens.AccessToken(req.Context())
	if err != nil {
		logging.Entry(req.Context()).WithError(err).Warn("access token unavailable, sending without credentials")
	}
	if token != "" {
		out.Header.Set("Authorization", "Bearer "+token)
	}
	return t.base.RoundTrip(out)
}

// replayable makes sure req can produce its body twice. Bodies without
// GetBody are buffered once.
func replayable(req *http.Request) (*http.Request, error) {
	if req.Body == nil || req.Body == http.NoBody || req.GetBody != nil {
		return req, nil
	}
	data, err := io.ReadAll(req.Body)
	_ = req.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("buffer request body: %w", err)
	}
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	}
	req.Body, _ = req.GetBody()
	req.ContentLength = int64(len(data))
	return req, nil
}

func rewind(req *http.Request) (*http.Request, error) {
	retry := req.Clone(req.Context())
	if req.GetBody == nil {
		return retry, nil
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, fmt.Errorf("rewind request body: %w", err)
	}
	retry.Body = body
	return retry, nil
}
