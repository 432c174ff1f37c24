package tracking

import (
	"context"
	"encoding/base64"
	"html/template"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/render"
	"github.com/rs/zerolog/log"

	"github.com/jwalitptl/mailing-scheduler/internal/handler"
	"github.com/jwalitptl/mailing-scheduler/internal/middleware"
	"github.com/jwalitptl/mailing-scheduler/internal/model"
	trackingService "github.com/jwalitptl/mailing-scheduler/internal/service/tracking"
	apperrors "github.com/jwalitptl/mailing-scheduler/pkg/errors"
)

var pixel, _ = base64.StdEncoding.DecodeString("R0lGODlhAQABAIAAAAAAAP///yH5BAEAAAAALAAAAAABAAEAAAIBRAA7")

type Tracker interface {
	RecordOpen(ctx context.Context, trackingID string, client trackingService.Client) error
	RecordClick(ctx context.Context, trackingID, target string, client trackingService.Client) (string, error)
	UnsubscribeByTracking(ctx context.Context, trackingID string, subscriberID int64, source string, client trackingService.Client) (*model.Subscriber, error)
	UnsubscribeByEmail(ctx context.Context, email, reason, source string, client trackingService.Client) (*model.Subscriber, error)
}

type Handler struct {
	svc Tracker
}

func NewHandler(svc Tracker) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts the endpoints linked from outbound mail. r is the
// engine root; every route here is public.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	reviews := r.Group("/api/analytics/email-tracking/reviews")
	{
		reviews.GET("/open/:trackingId", h.Open)
		reviews.GET("/clicks/:trackingId", h.Click)
	}

	unsub := r.Group("/api/unsubscribe")
	{
		unsub.POST("/email", h.UnsubscribeEmail)
		unsub.POST("/list-unsubscribe", h.ListUnsubscribe)
		unsub.GET("/:trackingId", h.UnsubscribeLink)
	}

	r.GET("/unsubscribe", h.Preferences)
	r.POST("/unsubscribe", h.PreferencesSubmit)
}

func client(c *gin.Context) trackingService.Client {
	return trackingService.Client{UserAgent: c.Request.UserAgent(), Referrer: c.Request.Referer()}
}

// Open always serves the pixel; recording failures are only logged.
func (h *Handler) Open(c *gin.Context) {
	if err := h.svc.RecordOpen(c.Request.Context(), c.Param("trackingId"), client(c)); err != nil {
		logFailure(c, err, "Failed to record open")
	}
	c.Header("Cache-Control", "no-store, no-cache, must-revalidate, proxy-revalidate")
	c.Header("Pragma", "no-cache")
	c.Header("Expires", "0")
	c.Data(http.StatusOK, "image/gif", pixel)
}

func (h *Handler) Click(c *gin.Context) {
	redirect, err := h.svc.RecordClick(c.Request.Context(), c.Param("trackingId"), c.Query("url"), client(c))
	if err != nil {
		logFailure(c, err, "Failed to record click")
	}
	c.Redirect(http.StatusFound, redirect)
}

func (h *Handler) UnsubscribeLink(c *gin.Context) {
	sid, err := strconv.ParseInt(c.Query("sid"), 10, 64)
	if err != nil || sid <= 0 {
		h.page(c, http.StatusBadRequest, errorPage, pageData{Title: "Baja", Message: "El enlace de baja no es válido."})
		return
	}

	sub, err := h.svc.UnsubscribeByTracking(c.Request.Context(), c.Param("trackingId"), sid, c.Query("source"), client(c))
	if err != nil {
		h.unsubscribeFailed(c, err)
		return
	}
	h.confirmed(c, sub.Email)
}

type unsubscribeRequest struct {
	Email  string `json:"email" form:"email"`
	Reason string `json:"reason" form:"reason"`
	Source string `json:"source" form:"source"`
}

func (h *Handler) UnsubscribeEmail(c *gin.Context) {
	var req unsubscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("Invalid request data"))
		return
	}
	sub, err := h.svc.UnsubscribeByEmail(c.Request.Context(), req.Email, req.Reason, req.Source, client(c))
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewMessageResponse("Successfully unsubscribed", gin.H{"email": sub.Email}))
}

// ListUnsubscribe handles RFC 8058 one-click posts. Mail clients send a form
// body; the address is also carried in the URL the List-Unsubscribe header points to.
func (h *Handler) ListUnsubscribe(c *gin.Context) {
	email := c.Query("email")
	if email == "" {
		email = c.PostForm("email")
	}
	if email == "" {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("Email address is required"))
		return
	}
	if _, err := h.svc.UnsubscribeByEmail(c.Request.Context(), email, "", trackingService.SourceListUnsubscribe, client(c)); err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewMessageResponse("Subscriber has been unsubscribed successfully", nil))
}

func (h *Handler) Preferences(c *gin.Context) {
	h.page(c, http.StatusOK, preferencesPage, pageData{Title: "Darse de baja", Email: c.Query("email")})
}

func (h *Handler) PreferencesSubmit(c *gin.Context) {
	email := c.PostForm("email")
	sub, err := h.svc.UnsubscribeByEmail(c.Request.Context(), email, "", trackingService.SourceEmailLink, client(c))
	if err != nil {
		h.unsubscribeFailed(c, err)
		return
	}
	h.confirmed(c, sub.Email)
}

func (h *Handler) confirmed(c *gin.Context, email string) {
	h.page(c, http.StatusOK, confirmedPage, pageData{
		Title:          "Baja confirmada",
		Email:          email,
		PreferencesURL: "/unsubscribe?email=" + template.URLQueryEscaper(email),
	})
}

func (h *Handler) unsubscribeFailed(c *gin.Context, err error) {
	switch {
	case apperrors.Is(err, apperrors.ErrNotFound):
		h.page(c, http.StatusNotFound, errorPage, pageData{Title: "Baja", Message: "No encontramos ninguna suscripción con esos datos."})
	case apperrors.Is(err, apperrors.ErrBadRequest):
		h.page(c, http.StatusBadRequest, errorPage, pageData{Title: "Baja", Message: "La dirección de email no es válida."})
	default:
		logFailure(c, err, "Failed to unsubscribe")
		h.page(c, http.StatusInternalServerError, errorPage, pageData{Title: "Baja", Message: "Ha ocurrido un error. Inténtalo de nuevo más tarde."})
	}
}

func (h *Handler) page(c *gin.Context, status int, tpl *template.Template, data pageData) {
	c.Render(status, render.HTML{Template: tpl, Name: "layout", Data: data})
}

func logFailure(c *gin.Context, err error, msg string) {
	log.Error().Err(err).
		Str("request_id", c.GetString(middleware.ContextRequestID)).
		Str("path", c.FullPath()).
		Msg(msg)
}
