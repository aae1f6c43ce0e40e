package oauth

import (
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// IdentityClaims is the payload of an identity token. The signature is not
// verified: the token came straight from the token endpoint over TLS and is only
// used to display who is logged in.
type IdentityClaims struct {
	jwt.RegisteredClaims
	Email             string   `json:"email,omitempty"`
	EmailVerified     bool     `json:"email_verified,omitempty"`
	Name              string   `json:"name,omitempty"`
	PreferredUsername string   `json:"preferred_username,omitempty"`
	Groups            []string `json:"groups,omitempty"`

	// Raw holds every claim, including provider specific ones.
	Raw map[string]any `json:"-"`
}

// DisplayName picks the most human readable identifier available.
func (c *IdentityClaims) DisplayName() string {
	if c == nil {
		return ""
	}
	for _, v := range []string{c.Name, c.PreferredUsername, c.Email, c.Subject} {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// DecodeIDToken decodes the payload of an identity token. Malformed input yields
// (nil, false) rather than an error.
func DecodeIDToken(token string) (*IdentityClaims, bool) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, false
	}
	parser := jwt.NewParser()

	claims := &IdentityClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return nil, false
	}
	raw := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, raw); err != nil {
		return nil, false
	}
	claims.Raw = raw
	return claims, true
}
