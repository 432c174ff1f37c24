package middleware

import (
	"github.com/gin-gonic/gin"
)

// SecurityHeaders sets the headers shared by every response. The
// unsubscribe confirmation page is the only HTML served and it has no scripts.
func SecurityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("Referrer-Policy", "no-referrer")
		c.Header("Content-Security-Policy", "default-src 'none'; img-src 'self' data:; style-src 'unsafe-inline'; frame-ancestors 'none'")
		c.Next()
	}
}
