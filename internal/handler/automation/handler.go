package automation

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/mailing-scheduler/internal/handler"
	"github.com/jwalitptl/mailing-scheduler/internal/model"
	automationService "github.com/jwalitptl/mailing-scheduler/internal/service/automation"
	"github.com/jwalitptl/mailing-scheduler/internal/service/delivery"
)

type Sender interface {
	SendNow(ctx context.Context, id int64) (*delivery.Result, error)
}

type Handler struct {
	svc    automationService.AutomationServicer
	sender Sender
}

func NewHandler(svc automationService.AutomationServicer, sender Sender) *Handler {
	return &Handler{svc: svc, sender: sender}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	automations := r.Group("/automations")
	{
		automations.GET("", h.List)
		automations.POST("/schedule", h.Schedule)
		automations.GET("/:id", h.Get)
		automations.POST("/:id/pause", h.Pause)
		automations.POST("/:id/resume", h.Resume)
		automations.POST("/:id/toggle", h.Toggle)
		automations.POST("/:id/send-now", h.SendNow)
	}
}

func (h *Handler) List(c *gin.Context) {
	filter := model.AutomationFilter{
		Status:      model.AutomationStatus(c.Query("status")),
		TriggerType: model.TriggerType(c.Query("triggerType")),
	}
	if limit := c.Query("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid limit"))
			return
		}
		filter.Limit = n
	}

	automations, err := h.svc.List(c.Request.Context(), filter)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(automations))
}

func (h *Handler) Get(c *gin.Context) {
	id, ok := handler.ParamID(c)
	if !ok {
		return
	}
	a, err := h.svc.Get(c.Request.Context(), id)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(a))
}

func (h *Handler) Schedule(c *gin.Context) {
	var req automationService.ScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid schedule payload"))
		return
	}
	res, err := h.svc.ScheduleEmail(c.Request.Context(), &req)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, handler.NewSuccessResponse(res))
}

func (h *Handler) Pause(c *gin.Context) {
	h.statusChange(c, h.svc.Pause, "automation paused")
}

func (h *Handler) Resume(c *gin.Context) {
	h.statusChange(c, h.svc.Resume, "automation resumed")
}

func (h *Handler) statusChange(c *gin.Context, fn func(context.Context, int64) error, msg string) {
	id, ok := handler.ParamID(c)
	if !ok {
		return
	}
	if err := fn(c.Request.Context(), id); err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewMessageResponse(msg, gin.H{"id": id}))
}

type toggleRequest struct {
	Status   model.AutomationStatus `json:"status" binding:"required"`
	IsActive bool                   `json:"isActive"`
}

func (h *Handler) Toggle(c *gin.Context) {
	id, ok := handler.ParamID(c)
	if !ok {
		return
	}
	var req toggleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("status is required"))
		return
	}
	if err := h.svc.Toggle(c.Request.Context(), id, req.Status, req.IsActive); err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewMessageResponse("automation updated", gin.H{"id": id, "status": req.Status, "isActive": req.IsActive}))
}

func (h *Handler) SendNow(c *gin.Context) {
	id, ok := handler.ParamID(c)
	if !ok {
		return
	}
	res, err := h.sender.SendNow(c.Request.Context(), id)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(res))
}
