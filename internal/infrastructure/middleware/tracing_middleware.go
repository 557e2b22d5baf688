package middleware

import (
	"net/http"
	"time"

	"hubcom/pkg/tracing"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
)

// TracingMiddleware opens a span per request. On relayPath the handler runs
// for the life of the socket, so that span measures the connection.
func TracingMiddleware(relayPath string) gin.HandlerFunc {
	return func(c *gin.Context) {
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		parent := otel.GetTextMapPropagator().Extract(c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))
		ctx, span := tracing.TraceHTTPRequest(parent, c.Request.Method, route)
		defer span.End()

		socket := c.Request.URL.Path == relayPath && c.IsWebsocket()
		span.SetAttributes(
			attribute.String("http.client_ip", c.ClientIP()),
			attribute.String("http.user_agent", c.Request.UserAgent()),
			attribute.Bool("relay.socket", socket),
		)
		c.Request = c.Request.WithContext(ctx)

		start := time.Now()
		c.Next()

		if socket {
			span.SetAttributes(attribute.Int64("relay.connection_ms", time.Since(start).Milliseconds()))
		} else {
			span.SetAttributes(attribute.Int("http.status_code", c.Writer.Status()))
		}
		if status := c.Writer.Status(); status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, c.Errors.String())
		}
	}
}
