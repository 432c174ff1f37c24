package router

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/mailing-scheduler/internal/handler/health"
	"github.com/jwalitptl/mailing-scheduler/internal/middleware"
	"github.com/jwalitptl/mailing-scheduler/pkg/auth"
	"github.com/jwalitptl/mailing-scheduler/pkg/security"
)

type stub struct {
	method, path string
}

func (s stub) RegisterRoutes(r *gin.RouterGroup) {
	r.Handle(s.method, s.path, func(c *gin.Context) { c.String(http.StatusOK, "ok") })
}

type webhookStub struct{}

func (webhookStub) RegisterRoutes(signed, public *gin.RouterGroup) {
	signed.POST("/order-update", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	public.POST("/stock-notifications", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
}

func newTestRouter(t *testing.T) (*gin.Engine, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	jwtSvc, err := auth.NewJWTService("jwt", time.Hour)
	require.NoError(t, err)
	token, _, err := jwtSvc.GenerateAccessToken("admin")
	require.NoError(t, err)

	r := NewRouter(middleware.NewAuthMiddleware(jwtSvc), Handlers{
		Health:     health.NewHandler(nil),
		Webhooks:   webhookStub{},
		Cron:       stub{http.MethodPost, "/process-emails"},
		Tracking:   stub{http.MethodGet, "/api/analytics/email-tracking/reviews/open/:trackingId"},
		AdminLogin: stub{http.MethodPost, "/login"},
		Admin:      []Handler{stub{http.MethodGet, "/automations"}},
	}, Config{
		WebhookSecret: "wc",
		CronAPIKey:    "cron",
		PublicLimiter: middleware.NewRateLimiter(middleware.RateLimiterConfig{Rate: 100, Burst: 100}),
	})
	r.Setup()
	return r.Engine(), token
}

func serve(e *gin.Engine, req *http.Request) int {
	w := httptest.NewRecorder()
	e.ServeHTTP(w, req)
	return w.Code
}

func TestRouteGuards(t *testing.T) {
	e, token := newTestRouter(t)

	assert.Equal(t, http.StatusOK, serve(e, httptest.NewRequest(http.MethodGet, "/health/live", nil)))
	assert.Equal(t, http.StatusOK, serve(e, httptest.NewRequest(http.MethodGet, "/api/analytics/email-tracking/reviews/open/x", nil)))
	assert.Equal(t, http.StatusOK, serve(e, httptest.NewRequest(http.MethodPost, "/api/admin/login", nil)))
	assert.Equal(t, http.StatusOK, serve(e, httptest.NewRequest(http.MethodPost, "/api/webhooks/woocommerce/stock-notifications", nil)))

	body := `{"id":1}`
	unsigned := httptest.NewRequest(http.MethodPost, "/api/webhooks/woocommerce/order-update", strings.NewReader(body))
	assert.Equal(t, http.StatusUnauthorized, serve(e, unsigned))
	signed := httptest.NewRequest(http.MethodPost, "/api/webhooks/woocommerce/order-update", strings.NewReader(body))
	signed.Header.Set(middleware.HeaderWebhookSignature, security.SignWebhook("wc", []byte(body)))
	assert.Equal(t, http.StatusOK, serve(e, signed))

	assert.Equal(t, http.StatusUnauthorized, serve(e, httptest.NewRequest(http.MethodPost, "/api/cron/process-emails", nil)))
	cron := httptest.NewRequest(http.MethodPost, "/api/cron/process-emails", nil)
	cron.Header.Set("x-api-key", "cron")
	assert.Equal(t, http.StatusOK, serve(e, cron))

	assert.Equal(t, http.StatusUnauthorized, serve(e, httptest.NewRequest(http.MethodGet, "/api/admin/automations", nil)))
	admin := httptest.NewRequest(http.MethodGet, "/api/admin/automations", nil)
	admin.Header.Set("Authorization", "Bearer "+token)
	assert.Equal(t, http.StatusOK, serve(e, admin))
}

func TestStockFormPreflight(t *testing.T) {
	e, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/webhooks/woocommerce/stock-notifications", nil)
	req.Header.Set("Origin", "https://shop.example")
	w := httptest.NewRecorder()
	e.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
