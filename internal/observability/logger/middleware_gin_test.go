package logger

import (
	"net/http"
	"net/http/httptest"
	"testing"

	obscontext "github.com/MMatviiuk/medtrack/internal/observability/context"
	"github.com/MMatviiuk/medtrack/pkg/telemetry/correlation"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap/zapcore"
)

func TestGinMiddlewarePropagatesIDs(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(GinMiddleware(MiddlewareConfig{}))

	var gotOwner, gotCorrelation string
	r.GET("/ping", func(c *gin.Context) {
		gotOwner = obscontext.OwnerIDFromContext(c.Request.Context())
		gotCorrelation = correlation.ExtractCorrelationID(c.Request.Context())
		c.Status(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(RequestIDHeader, "req-1")
	req.Header.Set(correlation.Header, "corr-1")
	req.Header.Set(OwnerHeader, "42")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if got := w.Header().Get(RequestIDHeader); got != "req-1" {
		t.Fatalf("expected request id echoed, got %q", got)
	}
	if got := w.Header().Get(correlation.Header); got != "corr-1" {
		t.Fatalf("expected correlation id echoed, got %q", got)
	}
	if gotOwner != "42" || gotCorrelation != "corr-1" {
		t.Fatalf("unexpected context values owner=%q correlation=%q", gotOwner, gotCorrelation)
	}
}

func TestGinMiddlewareGeneratesIDs(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(GinMiddleware(MiddlewareConfig{}))
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))

	if w.Header().Get(RequestIDHeader) == "" {
		t.Fatal("expected generated request id")
	}
	if w.Header().Get(correlation.Header) == "" {
		t.Fatal("expected generated correlation id")
	}
}

func TestRequestLevel(t *testing.T) {
	cases := []struct {
		route     string
		status    int
		errorType string
		want      zapcore.Level
	}{
		{route: "/health", status: http.StatusOK, want: zapcore.DebugLevel},
		{route: "/metrics", status: http.StatusInternalServerError, want: zapcore.DebugLevel},
		{route: "/api/medications", status: http.StatusInternalServerError, want: zapcore.ErrorLevel},
		{route: "/api/medications", status: http.StatusBadRequest, errorType: "validation_error", want: zapcore.WarnLevel},
		{route: "/api/medications", status: http.StatusNotFound, errorType: "not_found", want: zapcore.InfoLevel},
		{route: "/api/medications", status: http.StatusCreated, want: zapcore.InfoLevel},
	}
	for _, tc := range cases {
		if got := requestLevel(tc.route, tc.status, tc.errorType); got != tc.want {
			t.Fatalf("%s %d %q: expected %v, got %v", tc.route, tc.status, tc.errorType, tc.want, got)
		}
	}
}
