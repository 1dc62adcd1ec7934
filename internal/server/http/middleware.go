package http

import (
	"strings"
	"time"

	"imgrelay/internal/observability"

	"github.com/gin-gonic/gin"
	"github.com/segmentio/ksuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "X-Request-ID"

const maxRequestIDLength = 64

// RequestIDMiddleware reuses a well-formed inbound request id or mints one,
// stores it in the request context and echoes it on the response.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := strings.TrimSpace(c.GetHeader(RequestIDHeader))
		if requestID == "" || len(requestID) > maxRequestIDLength {
			requestID = ksuid.New().String()
		}
		ctx := observability.ContextWithRequestID(c.Request.Context(), requestID)
		c.Request = c.Request.WithContext(ctx)
		c.Header(RequestIDHeader, requestID)
		c.Next()
	}
}

// ObservabilityMiddleware traces each request, records route metrics and
// writes one access log line.
func ObservabilityMiddleware(logger *observability.Logger, metrics *observability.HTTPMetrics, tracer trace.Tracer) gin.HandlerFunc {
	logger = observability.OrNop(logger)
	if tracer == nil {
		tracer = observability.NoopTracer()
	}
	return func(c *gin.Context) {
		start := time.Now()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}

		ctx, span := tracer.Start(c.Request.Context(), observability.SpanHTTPServer, trace.WithAttributes(
			attribute.String("http.route", route),
			attribute.String("http.method", c.Request.Method),
		))
		defer span.End()
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		status := c.Writer.Status()
		latency := time.Since(start)
		span.SetAttributes(attribute.Int("http.status_code", status))
		if status >= 500 {
			span.SetStatus(codes.Error, "server error")
		}
		metrics.Observe(route, c.Request.Method, status, latency)

		fields := []any{
			"route", route,
			"method", c.Request.Method,
			"status", status,
			"latency_ms", float64(latency.Microseconds()) / 1000.0,
			"bytes", c.Writer.Size(),
			"client_ip", c.ClientIP(),
		}
		if status >= 500 {
			logger.WarnContext(ctx, "http request", fields...)
			return
		}
		logger.InfoContext(ctx, "http request", fields...)
	}
}
