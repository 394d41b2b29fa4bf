package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/ErlanBelekov/table-sync/internal/runid"
)

// RequestID stores the X-Request-ID of the incoming request, or a new one,
// as the run ID of the request context and echoes it in the response.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = runid.New()
		}

		ctx := runid.WithRunID(c.Request.Context(), id)
		c.Request = c.Request.WithContext(ctx)
		c.Header("X-Request-ID", id)
		c.Next()
	}
}
