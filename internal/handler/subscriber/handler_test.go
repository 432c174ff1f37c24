package subscriber

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/mailing-scheduler/internal/model"
	"github.com/jwalitptl/mailing-scheduler/internal/repository/memory"
	"github.com/jwalitptl/mailing-scheduler/internal/service/tracking"
	"github.com/jwalitptl/mailing-scheduler/pkg/logger"
)

func TestUnsubscribeAndResubscribe(t *testing.T) {
	gin.SetMode(gin.TestMode)
	store := memory.New()
	sub := store.AddSubscriber(model.Subscriber{Email: "ana@example.com", IsActive: true})

	r := gin.New()
	svc := tracking.NewService(store.Sends(), store.Subscribers(), store.EmailEvents(), logger.Nop())
	NewHandler(svc).RegisterRoutes(r.Group("/api/admin"))

	do := func(path, body string) int {
		req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
		if body != "" {
			req.Header.Set("Content-Type", "application/json")
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code
	}
	base := "/api/admin/subscribers/" + strconv.FormatInt(sub.ID, 10)

	require.Equal(t, http.StatusOK, do(base+"/unsubscribe", `{"reason":"complaint"}`))
	got, err := store.Subscribers().Get(context.Background(), sub.ID)
	require.NoError(t, err)
	assert.False(t, got.IsActive)
	assert.Equal(t, "complaint", got.UnsubscribeReason)

	require.Equal(t, http.StatusOK, do(base+"/resubscribe", ""))
	got, err = store.Subscribers().Get(context.Background(), sub.ID)
	require.NoError(t, err)
	assert.True(t, got.IsActive)
	assert.Nil(t, got.UnsubscribedAt)

	assert.Equal(t, http.StatusNotFound, do("/api/admin/subscribers/404/unsubscribe", ""))
	assert.Equal(t, http.StatusBadRequest, do("/api/admin/subscribers/x/resubscribe", ""))
	assert.Equal(t, http.StatusBadRequest, do(base+"/unsubscribe", `{`))
}
