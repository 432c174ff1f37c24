package middleware

import (
	"bytes"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/jwalitptl/mailing-scheduler/internal/handler"
	"github.com/jwalitptl/mailing-scheduler/pkg/security"
)

const HeaderWebhookSignature = "x-wc-webhook-signature"

// WebhookSignature verifies WooCommerce's base64 HMAC-SHA256 over the raw
// body and puts the body back for binding.
func WebhookSignature(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, handler.NewErrorResponse("unreadable request body"))
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))

		if !security.VerifyWebhook(secret, body, c.GetHeader(HeaderWebhookSignature)) {
			log.Warn().
				Str("request_id", c.GetString(ContextRequestID)).
				Str("path", c.Request.URL.Path).
				Msg("Rejected webhook with invalid signature")
			c.AbortWithStatusJSON(http.StatusUnauthorized, handler.NewErrorResponse("Invalid signature"))
			return
		}
		c.Next()
	}
}
