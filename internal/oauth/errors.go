package oauth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
)

// OAuthError represents an error response returned by the identity provider
// (RFC 6749 section 5.2).
type OAuthError struct {
	// Code is the OAuth error code.
	Code string `json:"error"`
	// Description is a human-readable description of the error.
	Description string `json:"error_description,omitempty"`
	// URI is a URI identifying a human-readable web page with information about the error.
	URI string `json:"error_uri,omitempty"`
	// StatusCode is the HTTP status code associated with the error.
	StatusCode int `json:"-"`
}

// Error returns a string representation of the OAuth error.
func (e *OAuthError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("OAuth error %s: %s", e.Code, e.Description)
	}
	return fmt.Sprintf("OAuth error: %s", e.Code)
}

// NewOAuthError creates a new OAuth error with the specified code, description, and status code.
func NewOAuthError(code, description string, statusCode int) *OAuthError {
	return &OAuthError{
		Code:        code,
		Description: description,
		StatusCode:  statusCode,
	}
}

// parseOAuthError builds an OAuthError from a non-2xx token endpoint response.
// Bodies that are not an OAuth error document still yield an error carrying the
// status and a truncated body.
func parseOAuthError(statusCode int, body []byte) *OAuthError {
	if gjson.ValidBytes(body) {
		parsed := gjson.ParseBytes(body)
		if code := parsed.Get("error").String(); code != "" {
			return &OAuthError{
				Code:        code,
				Description: parsed.Get("error_description").String(),
				URI:         parsed.Get("error_uri").String(),
				StatusCode:  statusCode,
			}
		}
		// Okta management style errors.
		if code := parsed.Get("errorCode").String(); code != "" {
			return NewOAuthError(code, parsed.Get("errorSummary").String(), statusCode)
		}
	}
	text := strings.TrimSpace(string(body))
	if len(text) > 256 {
		text = text[:256]
	}
	return NewOAuthError(fmt.Sprintf("http_%d", statusCode), text, statusCode)
}

// AuthenticationError represents authentication-related errors.
type AuthenticationError struct {
	// Type is the type of authentication error.
	Type string `json:"type"`
	// Message is a human-readable message describing the error.
	Message string `json:"message"`
	// Code is the HTTP status code associated with the error.
	Code int `json:"code"`
	// Cause is the underlying error that caused this authentication error.
	Cause error `json:"-"`
}

// Error returns a string representation of the authentication error.
func (e *AuthenticationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap exposes the cause to errors.Is and errors.As.
func (e *AuthenticationError) Unwrap() error { return e.Cause }

// Is matches authentication errors of the same type, so errors created with
// NewAuthenticationError compare equal to their base sentinel.
func (e *AuthenticationError) Is(target error) bool {
	var other *AuthenticationError
	if !errors.As(target, &other) {
		return false
	}
	return other == e || (other.Cause == nil && other.Type == e.Type)
}

// Common authentication error types.
var (
	// ErrProviderRejected is returned when the provider redirects back with an error parameter.
	ErrProviderRejected = &AuthenticationError{
		Type:    "provider_rejected",
		Message: "Identity provider returned an error",
		Code:    http.StatusUnauthorized,
	}

	// ErrInvalidState represents an error for invalid OAuth state parameter.
	ErrInvalidState = &AuthenticationError{
		Type:    "invalid_state",
		Message: "OAuth state parameter is invalid",
		Code:    http.StatusBadRequest,
	}

	// ErrMissingVerifier is returned when a code arrives but no PKCE verifier is stored.
	ErrMissingVerifier = &AuthenticationError{
		Type:    "missing_verifier",
		Message: "No PKCE code verifier stored for this authorization attempt",
		Code:    http.StatusBadRequest,
	}

	// ErrCodeExchangeFailed represents an error when exchanging authorization code for tokens fails.
	ErrCodeExchangeFailed = &AuthenticationError{
		Type:    "code_exchange_failed",
		Message: "Failed to exchange authorization code for tokens",
		Code:    http.StatusBadRequest,
	}

	// ErrRefreshFailed represents an error when the refresh token grant fails.
	ErrRefreshFailed = &AuthenticationError{
		Type:    "refresh_failed",
		Message: "Failed to refresh tokens",
		Code:    http.StatusUnauthorized,
	}

	// ErrNoRefreshToken is returned when a refresh is requested without a stored refresh token.
	ErrNoRefreshToken = &AuthenticationError{
		Type:    "no_refresh_token",
		Message: "No refresh token available",
		Code:    http.StatusUnauthorized,
	}

	// ErrIncompleteTokenResponse is returned when the token endpoint omits one of the three tokens.
	ErrIncompleteTokenResponse = &AuthenticationError{
		Type:    "incomplete_token_response",
		Message: "Token response is missing access, refresh or identity token",
		Code:    http.StatusBadGateway,
	}

	// ErrServerStartFailed represents an error when starting the OAuth callback server fails.
	ErrServerStartFailed = &AuthenticationError{
		Type:    "server_start_failed",
		Message: "Failed to start OAuth callback server",
		Code:    http.StatusInternalServerError,
	}

	// ErrPortInUse represents an error when the OAuth callback port is already in use.
	ErrPortInUse = &AuthenticationError{
		Type:    "port_in_use",
		Message: "OAuth callback port is already in use",
		Code:    13, // Special exit code for port-in-use
	}

	// ErrCallbackTimeout represents an error when waiting for OAuth callback times out.
	ErrCallbackTimeout = &AuthenticationError{
		Type:    "callback_timeout",
		Message: "Timeout waiting for OAuth callback",
		Code:    http.StatusRequestTimeout,
	}
)

// NewAuthenticationError creates a new authentication error with a cause based on a base error.
func NewAuthenticationError(baseErr *AuthenticationError, cause error) *AuthenticationError {
	return &AuthenticationError{
		Type:    baseErr.Type,
		Message: baseErr.Message,
		Code:    baseErr.Code,
		Cause:   cause,
	}
}

// IsAuthenticationError checks if an error is an authentication error.
func IsAuthenticationError(err error) bool {
	var authenticationError *AuthenticationError
	return errors.As(err, &authenticationError)
}

// IsOAuthError checks if an error is an OAuth error.
func IsOAuthError(err error) bool {
	var oAuthError *OAuthError
	return errors.As(err, &oAuthError)
}

// GetUserFriendlyMessage returns a user-friendly error message based on the error type.
// Provider error codes take precedence over the wrapping authentication error.
func GetUserFriendlyMessage(err error) string {
	var oauthErr *OAuthError
	if errors.As(err, &oauthErr) {
		switch oauthErr.Code {
		case "access_denied":
			return "Authentication was cancelled or denied."
		case "invalid_grant":
			return "Your session has expired. Please log in again."
		case "invalid_request":
			return "Invalid authentication request. Please try again."
		case "server_error", "temporarily_unavailable":
			return "Authentication server error. Please try again later."
		}
	}

	var authErr *AuthenticationError
	if errors.As(err, &authErr) {
		switch authErr.Type {
		case "no_refresh_token", "refresh_failed":
			return "Your session has expired. Please log in again."
		case "invalid_state":
			return "The login response did not match this login attempt. Please try again."
		case "port_in_use":
			return "The callback port is already in use. Close the application using it or choose another port."
		case "callback_timeout":
			return "Authentication timed out. Please try again."
		default:
			return "Authentication failed. Please try again."
		}
	}

	if oauthErr != nil {
		return fmt.Sprintf("Authentication failed: %s", oauthErr.Description)
	}
	return "An unexpected error occurred. Please try again."
}
