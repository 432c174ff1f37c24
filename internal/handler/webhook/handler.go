package webhook

import (
	"bytes"
	"context"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/jwalitptl/mailing-scheduler/internal/handler"
	"github.com/jwalitptl/mailing-scheduler/internal/middleware"
	"github.com/jwalitptl/mailing-scheduler/internal/model"
	"github.com/jwalitptl/mailing-scheduler/internal/service/ingest"
	"github.com/jwalitptl/mailing-scheduler/internal/service/stock"
	apperrors "github.com/jwalitptl/mailing-scheduler/pkg/errors"
	"github.com/jwalitptl/mailing-scheduler/pkg/security"
)

const (
	SourceWebhook = "woocommerce_webhook"
	SourceForm    = "website_form"
)

type OrderIngester interface {
	HandleOrder(ctx context.Context, order *model.WooOrder) (*ingest.OrderResult, error)
}

type StockServicer interface {
	Create(ctx context.Context, in *model.StockSubscription) (*stock.CreateResult, error)
	ProcessRestock(ctx context.Context, upd *model.StockUpdate) (*stock.RestockResult, error)
}

type Handler struct {
	orders OrderIngester
	stock  StockServicer
	secret string
}

func NewHandler(orders OrderIngester, stock StockServicer, secret string) *Handler {
	return &Handler{orders: orders, stock: stock, secret: secret}
}

// RegisterRoutes mounts the signed WooCommerce hooks on signed and the
// storefront form on public. Both groups live under /api/webhooks/woocommerce.
func (h *Handler) RegisterRoutes(signed, public *gin.RouterGroup) {
	signed.POST("/order-update", h.OrderUpdate)
	signed.POST("/stock-update", h.StockUpdate)
	public.POST("/stock-notifications", h.StockNotification)
}

// OrderUpdate answers 200 for configuration problems: WooCommerce disables a
// webhook after repeated failures and a missing template is not fixed by retrying.
func (h *Handler) OrderUpdate(c *gin.Context) {
	var order model.WooOrder
	if err := c.ShouldBindJSON(&order); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid order payload"))
		return
	}

	res, err := h.orders.HandleOrder(c.Request.Context(), &order)
	if apperrors.Is(err, apperrors.ErrConfig) {
		log.Error().Err(err).
			Str("request_id", c.GetString(middleware.ContextRequestID)).
			Int64("order_id", order.ID).
			Msg("Order webhook cannot be processed")
		c.JSON(http.StatusOK, gin.H{
			"status":  "error",
			"message": "Email template not found",
			"hint":    "Create a template named '" + model.TemplateReviewReminder + "'",
		})
		return
	}
	if err != nil {
		handler.RespondError(c, err)
		return
	}

	switch {
	case res.Ignored:
		c.JSON(http.StatusOK, gin.H{"status": "ignored", "reason": res.Reason})
	case res.AlreadyExisted:
		c.JSON(http.StatusOK, handler.NewMessageResponse("Follow-up email already scheduled for this order", res))
	default:
		c.JSON(http.StatusOK, handler.NewMessageResponse("Follow-up email scheduled", res))
	}
}

func (h *Handler) StockUpdate(c *gin.Context) {
	var upd model.StockUpdate
	if err := c.ShouldBindJSON(&upd); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid stock payload"))
		return
	}

	res, err := h.stock.ProcessRestock(c.Request.Context(), &upd)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewMessageResponse("Stock restock event processed", res))
}

type stockForm struct {
	model.StockSubscription
	Name string `json:"name"`
}

// StockNotification serves the storefront form. WooCommerce may also post
// here; a signature header, when present, must verify.
func (h *Handler) StockNotification(c *gin.Context) {
	source := SourceForm
	if sig := c.GetHeader(middleware.HeaderWebhookSignature); sig != "" {
		body, err := c.GetRawData()
		if err != nil || !security.VerifyWebhook(h.secret, body, sig) {
			c.JSON(http.StatusUnauthorized, handler.NewErrorResponse("Invalid signature"))
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))
		source = SourceWebhook
	}

	var form stockForm
	if err := c.ShouldBindJSON(&form); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("Invalid request data"))
		return
	}
	in := form.StockSubscription
	if in.FirstName == "" {
		in.FirstName = form.Name
	}
	if in.Metadata == nil {
		in.Metadata = map[string]interface{}{}
	}
	in.Metadata["source"] = source
	in.Metadata["ipAddress"] = c.ClientIP()
	in.Metadata["userAgent"] = c.Request.UserAgent()

	res, err := h.stock.Create(c.Request.Context(), &in)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewMessageResponse("Stock notification request received", res))
}
