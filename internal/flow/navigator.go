package flow

import (
	"context"
	"net/url"
)

// Navigator is the user agent driving the flow. Location is the URL the
// application is currently on; Replace sends the user agent to target without
// keeping the current location in history.
type Navigator interface {
	Location() *url.URL
	Replace(ctx context.Context, target string) error
}
