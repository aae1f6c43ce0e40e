// Package callback runs the local HTTP server that receives the identity
// provider's redirect and hands it to the authorization flow.
package callback

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/forgo/authcode/internal/browser"
	"github.com/forgo/authcode/internal/flow"
	"github.com/forgo/authcode/internal/logging"
	"github.com/forgo/authcode/internal/metrics"
	"github.com/forgo/authcode/internal/oauth"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// ResumeFunc moves the application to location (a request URI on the local
// origin) and advances the authorization flow.
type ResumeFunc func(ctx context.Context, location string) (flow.State, error)

// Result is the outcome of one callback request.
type Result struct {
	// State is the flow state after the callback was processed.
	State flow.State
	// Route is where the application went after a successful exchange.
	Route string
	// Err is set when the callback ended in a logout.
	Err error
}

// Server handles the local HTTP server for OAuth callbacks.
type Server struct {
	engine       *gin.Engine
	server       *http.Server
	listener     net.Listener
	port         int
	redirectPath string
	resume       ResumeFunc

	resultChan chan *Result
	errorChan  chan error

	mu      sync.Mutex
	running bool
}

// NewServer creates a callback server for redirectPath on port. Port 0 picks a
// free port.
func NewServer(port int, redirectPath string, resume ResumeFunc) *Server {
	s := &Server{
		port:         port,
		redirectPath: redirectPath,
		resume:       resume,
		resultChan:   make(chan *Result, 1),
		errorChan:    make(chan error, 1),
	}

	engine := gin.New()
	engine.Use(logging.GinLogrusLogger(), logging.GinLogrusRecovery())
	engine.GET(redirectPath, s.handleCallback)
	engine.GET("/success", s.handleSuccess)
	engine.GET("/metrics", func(c *gin.Context) {
		logging.SkipGinRequestLogging(c)
		gin.WrapH(metrics.Handler())(c)
	})
	s.engine = engine
	return s
}

// Handler exposes the router.
func (s *Server) Handler() http.Handler { return s.engine }

// Start listens on 127.0.0.1:<port> and serves in the background.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("server is already running")
	}

	listener, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", s.port))
	if err != nil {
		return oauth.NewAuthenticationError(oauth.ErrPortInUse, err)
	}
	s.listener = listener
	s.server = &http.Server{
		Handler:      s.engine,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	s.running = true

	go func(srv *http.Server) {
		if errServe := srv.Serve(listener); errServe != nil && !errors.Is(errServe, http.ErrServerClosed) {
			select {
			case s.errorChan <- oauth.NewAuthenticationError(oauth.ErrServerStartFailed, errServe):
			default:
			}
		}
	}(s.server)

	log.Debugf("callback server listening on %s", listener.Addr())
	return nil
}

// Addr returns the listening address once started.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop gracefully stops the callback server.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running || s.server == nil {
		return nil
	}

	log.Debug("Stopping OAuth callback server")
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err := s.server.Shutdown(shutdownCtx)
	s.running = false
	s.server = nil
	s.listener = nil
	return err
}

// IsRunning returns whether the server is currently running.
func (s *Server) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// WaitForCallback blocks until a callback completes, ctx ends, or timeout elapses.
func (s *Server) WaitForCallback(ctx context.Context, timeout time.Duration) (*Result, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case result := <-s.resultChan:
		return result, nil
	case err := <-s.errorChan:
		return nil, err
	case <-timer.C:
		return nil, oauth.ErrCallbackTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Server) handleCallback(c *gin.Context) {
	ctx, capture := browser.CaptureNavigation(c.Request.Context())
	state, err := s.resume(ctx, c.Request.URL.RequestURI())

	// A logout during the callback sends the user agent to the provider.
	if external := capture.External(); external != "" {
		s.sendResult(&Result{State: state, Err: err})
		c.Redirect(http.StatusFound, external)
		return
	}
	if err != nil {
		s.sendResult(&Result{State: state, Err: err})
		c.Data(http.StatusBadRequest, "text/html; charset=utf-8", []byte(renderPage(failureHTML, oauth.GetUserFriendlyMessage(err))))
		return
	}

	route := "/"
	if last := capture.Last(); last != "" {
		if parsed, errParse := url.Parse(last); errParse == nil && parsed.Path != "" {
			route = parsed.RequestURI()
		}
	}
	if state != flow.StateIdle {
		s.sendResult(&Result{State: state, Route: route})
	}
	c.Redirect(http.StatusFound, "/success?route="+url.QueryEscape(route))
}

func (s *Server) handleSuccess(c *gin.Context) {
	route := c.Query("route")
	if route == "" || !strings.HasPrefix(route, "/") {
		route = "/"
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(renderPage(successHTML, route)))
}

// sendResult delivers result without blocking the handler.
func (s *Server) sendResult(result *Result) {
	select {
	case s.resultChan <- result:
		log.Debug("OAuth result sent to channel")
	default:
		log.Warn("OAuth result channel is full, result dropped")
	}
}

func renderPage(template, detail string) string {
	return strings.Replace(template, "{{DETAIL}}", html.EscapeString(detail), 1)
}
