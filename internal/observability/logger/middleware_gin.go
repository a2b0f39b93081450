package logger

import (
	"context"
	"net/http"
	"strings"
	"time"

	obscontext "github.com/MMatviiuk/medtrack/internal/observability/context"
	"github.com/MMatviiuk/medtrack/pkg/telemetry/correlation"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	// OwnerHeader carries the authenticated owner id set by the upstream auth layer.
	OwnerHeader = "X-Owner-Id"
	// RequestIDHeader is echoed back on every response.
	RequestIDHeader = "X-Request-Id"
)

// MiddlewareConfig controls request logging behavior.
type MiddlewareConfig struct {
	Debug           bool
	ErrorClassifier func(err error) (string, string)
}

// GinMiddleware seeds the request context with request, correlation and owner
// ids, then writes one http_request line once the handler chain returns.
func GinMiddleware(cfg MiddlewareConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Request = c.Request.WithContext(requestContext(c))

		c.Next()

		route := strings.TrimSpace(c.FullPath())
		if route == "" {
			route = "unknown"
		}
		status := c.Writer.Status()
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.String("route", route),
			zap.Int("status", status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			zap.Int64("bytes_in", max(c.Request.ContentLength, 0)),
			zap.Int("bytes_out", max(c.Writer.Size(), 0)),
		}

		errorType := ""
		if last := c.Errors.Last(); last != nil {
			var errorCode string
			if cfg.ErrorClassifier != nil {
				errorType, errorCode = cfg.ErrorClassifier(last.Err)
			}
			fields = append(fields, zap.String("error_type", errorType), zap.String("error_code", errorCode))
			if cfg.Debug {
				fields = append(fields, zap.Stack("stack"))
			}
		}

		log := FromContext(c.Request.Context())
		if ce := log.Check(requestLevel(route, status, errorType), "http_request"); ce != nil {
			ce.Write(fields...)
		}
	}
}

func requestContext(c *gin.Context) context.Context {
	ctx := obscontext.WithRequestID(c.Request.Context(), requestID(c))

	ctx = correlation.ContextWithCorrelationID(ctx, c.GetHeader(correlation.Header))
	ctx, correlationID := correlation.EnsureCorrelationID(ctx)
	c.Header(correlation.Header, correlationID)

	if ownerID := strings.TrimSpace(c.GetHeader(OwnerHeader)); ownerID != "" {
		ctx = obscontext.WithOwnerID(ctx, ownerID)
		ctx = obscontext.WithActor(ctx, "user", ownerID)
	}
	return ctx
}

// requestID reuses an inbound id when present so upstream proxies can join
// their logs with ours.
func requestID(c *gin.Context) string {
	id := strings.TrimSpace(c.GetHeader(RequestIDHeader))
	if id == "" {
		id = strings.TrimSpace(c.GetString("request_id"))
	}
	if id == "" {
		id = uuid.NewString()
	}
	c.Set("request_id", id)
	c.Header(RequestIDHeader, id)
	return id
}

func requestLevel(route string, status int, errorType string) zapcore.Level {
	switch {
	case strings.EqualFold(route, "/metrics"), strings.EqualFold(route, "/health"):
		return zapcore.DebugLevel
	case status >= http.StatusInternalServerError:
		return zapcore.ErrorLevel
	case status >= http.StatusBadRequest && errorType == "validation_error":
		return zapcore.WarnLevel
	default:
		return zapcore.InfoLevel
	}
}
