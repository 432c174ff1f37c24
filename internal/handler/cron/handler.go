package cron

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/mailing-scheduler/internal/handler"
	"github.com/jwalitptl/mailing-scheduler/internal/service/dispatcher"
)

type Dispatcher interface {
	ProcessScheduledEmails(ctx context.Context) (*dispatcher.Counts, error)
}

type Handler struct {
	dispatcher Dispatcher
}

func NewHandler(d Dispatcher) *Handler {
	return &Handler{dispatcher: d}
}

// RegisterRoutes expects r to be guarded by the cron API key.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/process-emails", h.ProcessEmails)
	r.POST("/process-emails", h.ProcessEmails)
}

type runResponse struct {
	Processed *dispatcher.Counts `json:"processed"`
	Duration  string             `json:"duration"`
}

func (h *Handler) ProcessEmails(c *gin.Context) {
	start := time.Now()
	counts, err := h.dispatcher.ProcessScheduledEmails(c.Request.Context())
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(runResponse{
		Processed: counts,
		Duration:  time.Since(start).Round(time.Millisecond).String(),
	}))
}
