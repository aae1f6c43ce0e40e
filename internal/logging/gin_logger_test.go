package logging

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

func TestGinLogrusRecoveryRepanicsErrAbortHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)

	engine := gin.New()
	engine.Use(GinLogrusRecovery())
	engine.GET("/abort", func(c *gin.Context) {
		panic(http.ErrAbortHandler)
	})

	req := httptest.NewRequest(http.MethodGet, "/abort", nil)
	recorder := httptest.NewRecorder()

	defer func() {
		recovered := recover()
		if recovered == nil {
			t.Fatalf("expected panic, got nil")
		}
		err, ok := recovered.(error)
		if !ok {
			t.Fatalf("expected error panic, got %T", recovered)
		}
		if !errors.Is(err, http.ErrAbortHandler) {
			t.Fatalf("expected ErrAbortHandler, got %v", err)
		}
	}()

	engine.ServeHTTP(recorder, req)
}

func TestGinLogrusRecoveryHandlesRegularPanic(t *testing.T) {
	gin.SetMode(gin.TestMode)

	engine := gin.New()
	engine.Use(GinLogrusRecovery())
	engine.GET("/panic", func(c *gin.Context) {
		panic("boom")
	})

	req := httptest.NewRequest(http.MethodGet, "/panic", nil)
	recorder := httptest.NewRecorder()

	engine.ServeHTTP(recorder, req)
	if recorder.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", recorder.Code)
	}
}

func TestGinLogrusLoggerMasksAuthorizationCode(t *testing.T) {
	gin.SetMode(gin.TestMode)

	var buf bytes.Buffer
	prevOut := log.StandardLogger().Out
	prevFormatter := log.StandardLogger().Formatter
	log.SetOutput(&buf)
	log.SetFormatter(&LogFormatter{})
	t.Cleanup(func() {
		log.SetOutput(prevOut)
		log.SetFormatter(prevFormatter)
	})

	var seenID string
	engine := gin.New()
	engine.Use(GinLogrusLogger())
	engine.GET("/callback", func(c *gin.Context) {
		seenID = GetRequestID(c.Request.Context())
		c.Status(http.StatusFound)
	})

	req := httptest.NewRequest(http.MethodGet, "/callback?code=supersecretcode123&id_token_hint=abcdefghijkl", nil)
	engine.ServeHTTP(httptest.NewRecorder(), req)

	out := buf.String()
	if strings.Contains(out, "supersecretcode123") {
		t.Fatalf("log line leaked authorization code: %s", out)
	}
	if strings.Contains(out, "abcdefghijkl") {
		t.Fatalf("log line leaked id token hint: %s", out)
	}
	if seenID == "" || !strings.Contains(out, seenID) {
		t.Fatalf("request id %q missing from log line: %s", seenID, out)
	}
}
