package browser

import (
	"context"
	"sync"
)

type captureKey struct{}

// Capture records the navigations made while serving one callback request, so
// the server can answer the user agent with a redirect instead of opening a
// new browser window.
type Capture struct {
	mu       sync.Mutex
	targets  []string
	external string
}

// CaptureNavigation returns a context whose navigations are recorded by the
// returned Capture.
func CaptureNavigation(ctx context.Context) (context.Context, *Capture) {
	c := &Capture{}
	return context.WithValue(ctx, captureKey{}, c), c
}

func captureFrom(ctx context.Context) *Capture {
	if ctx == nil {
		return nil
	}
	c, _ := ctx.Value(captureKey{}).(*Capture)
	return c
}

func (c *Capture) record(target string, internal bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.targets = append(c.targets, target)
	if !internal {
		c.external = target
	}
}

// Targets returns every recorded navigation in order.
func (c *Capture) Targets() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.targets...)
}

// Last returns the most recent navigation, or "".
func (c *Capture) Last() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.targets) == 0 {
		return ""
	}
	return c.targets[len(c.targets)-1]
}

// External returns the most recent navigation that left the application origin.
func (c *Capture) External() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.external
}
