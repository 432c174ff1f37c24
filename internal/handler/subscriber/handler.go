package subscriber

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/mailing-scheduler/internal/handler"
)

type Manager interface {
	UnsubscribeSubscriber(ctx context.Context, id int64, reason string) error
	Resubscribe(ctx context.Context, id int64) error
}

type Handler struct {
	svc Manager
}

func NewHandler(svc Manager) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	subscribers := r.Group("/subscribers")
	{
		subscribers.POST("/:id/unsubscribe", h.Unsubscribe)
		subscribers.POST("/:id/resubscribe", h.Resubscribe)
	}
}

type unsubscribeRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) Unsubscribe(c *gin.Context) {
	id, ok := handler.ParamID(c)
	if !ok {
		return
	}
	var req unsubscribeRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid payload"))
			return
		}
	}
	if err := h.svc.UnsubscribeSubscriber(c.Request.Context(), id, req.Reason); err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewMessageResponse("subscriber unsubscribed", gin.H{"id": id}))
}

func (h *Handler) Resubscribe(c *gin.Context) {
	id, ok := handler.ParamID(c)
	if !ok {
		return
	}
	if err := h.svc.Resubscribe(c.Request.Context(), id); err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewMessageResponse("subscriber resubscribed", gin.H{"id": id}))
}
