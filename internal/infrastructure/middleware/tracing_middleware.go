package middleware

import (
	"time"

	"gridtune/pkg/tracing"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// TracingMiddleware opens one span per API request. Requests addressing a
// single stream carry its id as an attribute, so a trace can be narrowed
// to one stream across the ingest, evaluate and recommendation paths.
func TracingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.TraceHTTPRequest(c.Request.Context(), c.Request.Method, c.FullPath())
		defer span.End()

		if id := c.Param("id"); id != "" {
			span.SetAttributes(tracing.StreamIDKey.String(id))
		}
		span.SetAttributes(attribute.String("http.client_ip", c.ClientIP()))

		c.Request = c.Request.WithContext(ctx)

		start := time.Now()
		c.Next()

		span.SetAttributes(
			attribute.Int("http.status_code", c.Writer.Status()),
			tracing.DurationKey.Int64(time.Since(start).Milliseconds()),
		)
		if c.Writer.Status() >= 400 {
			span.SetStatus(codes.Error, c.Errors.String())
		} else {
			span.SetStatus(codes.Ok, "")
		}
	}
}
