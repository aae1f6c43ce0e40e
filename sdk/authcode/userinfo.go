package authcode

import (
	"context"
	"strings"
)

// DefaultUserInfoPath is the OIDC userinfo endpoint of the default authorization server.
const DefaultUserInfoPath = "/oauth2/default/v1/userinfo"

// UserInfoLoader returns a UserLoader that reads the OIDC userinfo document at
// path, relative to the user API base URL. The result is a map[string]any.
func UserInfoLoader(path string) UserLoader {
	if strings.TrimSpace(path) == "" {
		path = DefaultUserInfoPath
	}
	return func(ctx context.Context, api UserAPI, _ *IdentityClaims) (any, error) {
		info := map[string]any{}
		if err := api.GetJSON(ctx, path, &info); err != nil {
			return nil, err
		}
		return info, nil
	}
}
