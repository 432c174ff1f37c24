package stock

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/mailing-scheduler/internal/handler"
	"github.com/jwalitptl/mailing-scheduler/internal/model"
	"github.com/jwalitptl/mailing-scheduler/internal/service/delivery"
	stockService "github.com/jwalitptl/mailing-scheduler/internal/service/stock"
)

type StockServicer interface {
	Create(ctx context.Context, in *model.StockSubscription) (*stockService.CreateResult, error)
	Cancel(ctx context.Context, id int64) error
	SendNow(ctx context.Context, id int64) (*delivery.Result, error)
	GetSubscriberPending(ctx context.Context, subscriberID int64) ([]*model.StockRequest, error)
}

type Handler struct {
	svc StockServicer
}

func NewHandler(svc StockServicer) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	notifications := r.Group("/stock-notifications")
	{
		notifications.POST("", h.Create)
		notifications.POST("/:id/cancel", h.Cancel)
		notifications.POST("/:id/send-now", h.SendNow)
	}
	r.GET("/subscribers/:id/stock-notifications", h.ListForSubscriber)
}

func (h *Handler) Create(c *gin.Context) {
	var in model.StockSubscription
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid stock notification payload"))
		return
	}
	if in.Metadata == nil {
		in.Metadata = map[string]interface{}{}
	}
	in.Metadata["source"] = "admin"

	res, err := h.svc.Create(c.Request.Context(), &in)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	status := http.StatusCreated
	if res.AlreadyExisted {
		status = http.StatusOK
	}
	c.JSON(status, handler.NewSuccessResponse(res))
}

func (h *Handler) Cancel(c *gin.Context) {
	id, ok := handler.ParamID(c)
	if !ok {
		return
	}
	if err := h.svc.Cancel(c.Request.Context(), id); err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewMessageResponse("stock notification cancelled", gin.H{"id": id}))
}

func (h *Handler) SendNow(c *gin.Context) {
	id, ok := handler.ParamID(c)
	if !ok {
		return
	}
	res, err := h.svc.SendNow(c.Request.Context(), id)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(res))
}

func (h *Handler) ListForSubscriber(c *gin.Context) {
	id, ok := handler.ParamID(c)
	if !ok {
		return
	}
	pending, err := h.svc.GetSubscriberPending(c.Request.Context(), id)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(pending))
}
