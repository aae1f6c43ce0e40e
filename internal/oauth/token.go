package oauth

import "strings"

// TokenSet is the credential triple issued by the token endpoint. It is stored
// as a single value so the three tokens are always replaced together.
type TokenSet struct {
	// AccessToken is attached as a bearer token to outgoing API requests.
	AccessToken string
	// RefreshToken is exchanged for a new TokenSet once AccessToken is rejected.
	RefreshToken string
	// IDToken is the identity token, also used as id_token_hint on logout.
	IDToken string
}

// Complete reports whether all three tokens are present.
func (t TokenSet) Complete() bool {
	return strings.TrimSpace(t.AccessToken) != "" &&
		strings.TrimSpace(t.RefreshToken) != "" &&
		strings.TrimSpace(t.IDToken) != ""
}

// tokenResponse is the token endpoint success body.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	IDToken      string `json:"id_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	Scope        string `json:"scope"`
}
