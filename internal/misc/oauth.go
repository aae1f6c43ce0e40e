package misc

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
)

// GenerateRandomState generates a cryptographically secure random state parameter
// for OAuth2 flows to prevent CSRF attacks.
func GenerateRandomState() (string, error) {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return hex.EncodeToString(bytes), nil
}

// CallbackURL normalizes a pasted provider redirect into an absolute URL rooted
// at origin. Inputs may be a full URL, a path with query ("/callback?code=..."),
// or a bare query ("code=...&state=...").
func CallbackURL(origin, redirectPath, input string) (*url.URL, error) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return nil, fmt.Errorf("callback URL is empty")
	}

	base, err := url.Parse(origin)
	if err != nil {
		return nil, fmt.Errorf("invalid origin: %w", err)
	}

	candidate := trimmed
	switch {
	case strings.Contains(candidate, "://"):
	case strings.HasPrefix(candidate, "/"):
	case strings.HasPrefix(candidate, "?"):
		candidate = redirectPath + candidate
	case strings.Contains(candidate, "="):
		candidate = redirectPath + "?" + candidate
	default:
		return nil, fmt.Errorf("invalid callback URL")
	}

	ref, err := url.Parse(candidate)
	if err != nil {
		return nil, err
	}
	resolved := base.ResolveReference(ref)

	// Some providers answer with a fragment; fold it into the query.
	if resolved.Fragment != "" && resolved.RawQuery == "" {
		if _, errFrag := url.ParseQuery(resolved.Fragment); errFrag == nil {
			resolved.RawQuery = resolved.Fragment
			resolved.Fragment = ""
		}
	}

	query := resolved.Query()
	if strings.TrimSpace(query.Get("code")) == "" && strings.TrimSpace(query.Get("error")) == "" {
		return nil, fmt.Errorf("callback URL missing code")
	}
	return resolved, nil
}
