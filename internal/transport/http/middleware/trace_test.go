package middleware_test

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"gopherai-cochat/internal/logger"
	"gopherai-cochat/internal/transport/http/middleware"
)

func tracedRouter(t *testing.T) (*gin.Engine, *[]slog.Attr) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	tp := logger.InitTracing()
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	var seen []slog.Attr
	router := gin.New()
	router.Use(middleware.Tracing())
	router.GET("/api/v1/workspaces/:id/messages", func(c *gin.Context) {
		seen = logger.AttrsFromCtx(c.Request.Context())
		c.Status(http.StatusOK)
	})
	return router, &seen
}

func attr(attrs []slog.Attr, key string) string {
	for _, a := range attrs {
		if a.Key == key {
			return a.Value.String()
		}
	}
	return ""
}

func TestTracingPutsSpanOnRequestContext(t *testing.T) {
	router, seen := tracedRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/workspaces/ws-1/messages", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	if attr(*seen, "trace_id") == "" || attr(*seen, "span_id") == "" {
		t.Fatalf("expected trace attrs in handler context, got %v", *seen)
	}
}

func TestTracingContinuesIncomingTraceparent(t *testing.T) {
	router, seen := tracedRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/workspaces/ws-1/messages", nil)
	req.Header.Set("traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")
	router.ServeHTTP(httptest.NewRecorder(), req)

	if got := attr(*seen, "trace_id"); got != "4bf92f3577b34da6a3ce929d0e0e4736" {
		t.Fatalf("expected caller's trace id, got %q", got)
	}
	if got := attr(*seen, "span_id"); got == "" || got == "00f067aa0ba902b7" {
		t.Fatalf("expected a new child span id, got %q", got)
	}
}
