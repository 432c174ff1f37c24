package prometheus

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestMiddlewareRecordsRouteTemplate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := New()
	r := gin.New()
	r.Use(h.Middleware())
	r.GET("/api/unsubscribe/:trackingId", func(c *gin.Context) { c.Status(http.StatusOK) })
	h.RegisterRoutes(&r.RouterGroup)

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/unsubscribe/abc", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/unsubscribe/def", nil))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `http_requests_total{method="GET",route="/api/unsubscribe/:trackingId",status="200"} 2`)
	assert.NotContains(t, w.Body.String(), `route="/api/unsubscribe/abc"`)
}
