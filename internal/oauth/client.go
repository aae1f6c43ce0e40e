// Package oauth talks to the identity provider's token endpoint. It performs the
// authorization_code and refresh_token grants, parses OAuth error bodies, and
// decodes identity tokens for display purposes.
package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/forgo/authcode/internal/config"
	"github.com/forgo/authcode/internal/logging"
	"github.com/forgo/authcode/internal/metrics"
	"github.com/forgo/authcode/internal/util"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// Grant types sent to the token endpoint.
const (
	GrantAuthorizationCode = "authorization_code"
	GrantRefreshToken      = "refresh_token"
)

// maxTokenResponseBytes bounds the token endpoint body read into memory.
const maxTokenResponseBytes = 1 << 20

// TokenClient performs token endpoint requests for one client registration.
type TokenClient struct {
	httpClient  *http.Client
	tokenURL    string
	clientID    string
	redirectURI string
	scope       string
	requestLog  bool
}

// NewTokenClient creates a TokenClient for cfg. A nil httpClient gets a default
// client with the configured proxy applied.
func NewTokenClient(cfg *config.Config, httpClient *http.Client) *TokenClient {
	if httpClient == nil {
		httpClient = util.SetProxy(&cfg.SDKConfig, &http.Client{})
	}
	return &TokenClient{
		httpClient:  httpClient,
		tokenURL:    cfg.Endpoint(cfg.Provider.TokenURL),
		clientID:    cfg.Provider.ClientID,
		redirectURI: cfg.RedirectURI(),
		scope:       cfg.Provider.ScopeString(),
		requestLog:  cfg.RequestLog,
	}
}

// ExchangeCode exchanges an authorization code and its PKCE verifier for a TokenSet.
func (c *TokenClient) ExchangeCode(ctx context.Context, code, verifier string) (TokenSet, error) {
	data := url.Values{
		"grant_type":    {GrantAuthorizationCode},
		"client_id":     {c.clientID},
		"redirect_uri":  {c.redirectURI},
		"code":          {code},
		"code_verifier": {verifier},
	}
	tokens, err := c.requestTokens(ctx, GrantAuthorizationCode, data)
	if err != nil {
		return TokenSet{}, NewAuthenticationError(ErrCodeExchangeFailed, err)
	}
	return tokens, nil
}

// Refresh redeems refreshToken for a new TokenSet.
func (c *TokenClient) Refresh(ctx context.Context, refreshToken string) (TokenSet, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return TokenSet{}, ErrNoRefreshToken
	}
	data := url.Values{
		"grant_type":    {GrantRefreshToken},
		"client_id":     {c.clientID},
		"refresh_token": {refreshToken},
		"scope":         {c.scope},
	}
	tokens, err := c.requestTokens(ctx, GrantRefreshToken, data)
	if err != nil {
		return TokenSet{}, NewAuthenticationError(ErrRefreshFailed, err)
	}
	return tokens, nil
}

func (c *TokenClient) requestTokens(ctx context.Context, grant string, data url.Values) (tokens TokenSet, err error) {
	opID := uuid.NewString()
	entry := logging.Entry(ctx).WithFields(log.Fields{"op": opID, "grant": grant})
	start := time.Now()
	defer func() {
		metrics.ObserveTokenRequest(grant, err, time.Since(start))
		if err != nil {
			entry.WithError(err).Warn("token request failed")
		} else {
			entry.Debug("token request succeeded")
		}
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return TokenSet{}, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return TokenSet{}, fmt.Errorf("token request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTokenResponseBytes))
	if err != nil {
		return TokenSet{}, fmt.Errorf("failed to read token response: %w", err)
	}
	entry = entry.WithField("status", resp.StatusCode)
	if c.requestLog {
		entry.Infof("POST %s", util.MaskURL(c.tokenURL))
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return TokenSet{}, fmt.Errorf("token request failed with status %d: %w", resp.StatusCode, parseOAuthError(resp.StatusCode, body))
	}

	var tokenResp tokenResponse
	if err = json.Unmarshal(body, &tokenResp); err != nil {
		return TokenSet{}, fmt.Errorf("failed to parse token response: %w", err)
	}

	tokens = TokenSet{
		AccessToken:  tokenResp.AccessToken,
		RefreshToken: tokenResp.RefreshToken,
		IDToken:      tokenResp.IDToken,
	}
	if !tokens.Complete() {
		return TokenSet{}, ErrIncompleteTokenResponse
	}
	return tokens, nil
}
