package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/migrahosting-alt/mpanel-sub000/pkg/telemetry/correlation"
)

// RequestID tags every request with a correlation id, honoring one
// supplied by an upstream proxy, and threads it through the request
// context so downstream calls carry it.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		ctx, id := correlation.EnsureCorrelationID(
			correlation.ContextWithCorrelationID(c.Request.Context(), id))

		c.Request = c.Request.WithContext(ctx)
		c.Set("request_id", id)
		c.Writer.Header().Set("X-Request-ID", id)
		c.Next()
	}
}
