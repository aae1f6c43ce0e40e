package browser

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"sync"

	"github.com/atotto/clipboard"
	log "github.com/sirupsen/logrus"
)

// Navigator tracks the application's current location. Targets on the
// application origin move the location; anything else is a provider page and is
// opened in the system browser, or printed (and copied to the clipboard) when
// no browser should be used.
type Navigator struct {
	origin *url.URL

	mu       sync.Mutex
	location *url.URL

	noBrowser      bool
	out            io.Writer
	openURL        func(string) error
	writeClipboard func(string) error
}

// NavigatorOption configures a Navigator.
type NavigatorOption func(*Navigator)

// WithoutBrowser prints provider URLs instead of opening them.
func WithoutBrowser(disabled bool) NavigatorOption {
	return func(n *Navigator) { n.noBrowser = disabled }
}

// WithOutput sets where provider URLs are printed.
func WithOutput(w io.Writer) NavigatorOption {
	return func(n *Navigator) { n.out = w }
}

// WithOpener replaces the browser launcher.
func WithOpener(fn func(string) error) NavigatorOption {
	return func(n *Navigator) { n.openURL = fn }
}

// WithClipboard replaces the clipboard writer.
func WithClipboard(fn func(string) error) NavigatorOption {
	return func(n *Navigator) { n.writeClipboard = fn }
}

// NewNavigator creates a Navigator positioned at origin + "/".
func NewNavigator(origin string, opts ...NavigatorOption) (*Navigator, error) {
	parsed, err := url.Parse(origin)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("browser: origin must be an absolute URL, got %q", origin)
	}
	n := &Navigator{
		origin:         &url.URL{Scheme: parsed.Scheme, Host: parsed.Host},
		location:       &url.URL{Scheme: parsed.Scheme, Host: parsed.Host, Path: "/"},
		out:            os.Stdout,
		openURL:        OpenURL,
		writeClipboard: clipboard.WriteAll,
	}
	if !IsAvailable() {
		n.noBrowser = true
	}
	for _, opt := range opts {
		opt(n)
	}
	return n, nil
}

// Location returns a copy of the current location.
func (n *Navigator) Location() *url.URL {
	n.mu.Lock()
	defer n.mu.Unlock()
	u := *n.location
	return &u
}

// SetLocation moves the application to ref, resolved against the origin.
func (n *Navigator) SetLocation(ref string) error {
	parsed, err := url.Parse(ref)
	if err != nil {
		return fmt.Errorf("browser: invalid location %q: %w", ref, err)
	}
	resolved := n.origin.ResolveReference(parsed)
	if !n.sameOrigin(resolved) {
		return fmt.Errorf("browser: location %q is outside %s", ref, n.origin)
	}
	n.mu.Lock()
	n.location = resolved
	n.mu.Unlock()
	return nil
}

// Replace navigates to target.
func (n *Navigator) Replace(ctx context.Context, target string) error {
	parsed, err := url.Parse(target)
	if err != nil {
		return fmt.Errorf("browser: invalid target %q: %w", target, err)
	}
	resolved := n.origin.ResolveReference(parsed)
	internal := n.sameOrigin(resolved)
	if internal {
		n.mu.Lock()
		n.location = resolved
		n.mu.Unlock()
	}

	if capture := captureFrom(ctx); capture != nil {
		capture.record(resolved.String(), internal)
		return nil
	}
	if internal {
		return nil
	}
	return n.visit(resolved.String())
}

func (n *Navigator) visit(target string) error {
	if !n.noBrowser {
		err := n.openURL(target)
		if err == nil {
			return nil
		}
		log.Warnf("could not open browser: %v", err)
	}
	if n.writeClipboard != nil {
		if err := n.writeClipboard(target); err != nil {
			log.Debugf("clipboard unavailable: %v", err)
		} else {
			_, _ = fmt.Fprintln(n.out, "(URL copied to clipboard)")
		}
	}
	_, err := fmt.Fprintf(n.out, "Open this URL in your browser:\n\n%s\n\n", target)
	return err
}

func (n *Navigator) sameOrigin(u *url.URL) bool {
	return u.Scheme == n.origin.Scheme && u.Host == n.origin.Host
}
