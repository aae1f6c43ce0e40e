package util

import (
	"net/url"
	"strings"
)

// HideSecret keeps the first and last few characters of a secret so log lines stay
// correlatable without exposing the value.
func HideSecret(secret string) string {
	if len(secret) > 8 {
		return secret[:4] + "..." + secret[len(secret)-4:]
	} else if len(secret) > 4 {
		return secret[:2] + "..." + secret[len(secret)-2:]
	} else if len(secret) > 2 {
		return secret[:1] + "..." + secret[len(secret)-1:]
	}
	return secret
}

// MaskAuthorizationHeader masks the credential part of an Authorization header value
// while preserving the scheme prefix, e.g. "Bearer eyJh...x9Q".
func MaskAuthorizationHeader(value string) string {
	parts := strings.SplitN(strings.TrimSpace(value), " ", 2)
	if len(parts) < 2 {
		return HideSecret(value)
	}
	return parts[0] + " " + HideSecret(parts[1])
}

// MaskSensitiveQuery masks sensitive query parameters (authorization codes, state
// nonces, verifiers and tokens) within a raw query string.
func MaskSensitiveQuery(raw string) string {
	if raw == "" {
		return ""
	}
	parts := strings.Split(raw, "&")
	changed := false
	for i, part := range parts {
		if part == "" {
			continue
		}
		keyPart := part
		valuePart := ""
		if idx := strings.Index(part, "="); idx >= 0 {
			keyPart = part[:idx]
			valuePart = part[idx+1:]
		}
		decodedKey, err := url.QueryUnescape(keyPart)
		if err != nil {
			decodedKey = keyPart
		}
		if !shouldMaskQueryParam(decodedKey) {
			continue
		}
		decodedValue, err := url.QueryUnescape(valuePart)
		if err != nil {
			decodedValue = valuePart
		}
		parts[i] = keyPart + "=" + url.QueryEscape(HideSecret(strings.TrimSpace(decodedValue)))
		changed = true
	}
	if !changed {
		return raw
	}
	return strings.Join(parts, "&")
}

// MaskURL returns rawURL with its query masked. Unparseable input is returned
// fully hidden.
func MaskURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return HideSecret(rawURL)
	}
	u.RawQuery = MaskSensitiveQuery(u.RawQuery)
	return u.String()
}

func shouldMaskQueryParam(key string) bool {
	key = strings.ToLower(strings.TrimSpace(key))
	if key == "" {
		return false
	}
	switch key {
	case "code", "state", "code_verifier", "code_challenge":
		return true
	}
	return strings.Contains(key, "token") || strings.Contains(key, "secret")
}
