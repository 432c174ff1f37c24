package tracking

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/mailing-scheduler/internal/model"
	"github.com/jwalitptl/mailing-scheduler/internal/repository/memory"
	trackingService "github.com/jwalitptl/mailing-scheduler/internal/service/tracking"
	"github.com/jwalitptl/mailing-scheduler/pkg/logger"
)

func setup(t *testing.T) (*gin.Engine, *memory.Store, *model.Subscriber) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := memory.New()
	sub := store.AddSubscriber(model.Subscriber{Email: "ana@example.com", IsActive: true})
	_, err := store.Sends().Create(context.Background(), &model.SendRecord{
		SubscriberID: sub.ID,
		LedgerKey:    "automation:1",
		TrackingID:   "trk",
		Status:       model.SendStatusSent,
	})
	require.NoError(t, err)

	svc := trackingService.NewService(store.Sends(), store.Subscribers(), store.EmailEvents(), logger.Nop())
	r := gin.New()
	NewHandler(svc).RegisterRoutes(&r.RouterGroup)
	return r, store, sub
}

func do(r *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func active(t *testing.T, store *memory.Store, id int64) bool {
	t.Helper()
	sub, err := store.Subscribers().Get(context.Background(), id)
	require.NoError(t, err)
	return sub.IsActive
}

func TestOpenServesPixel(t *testing.T) {
	r, store, _ := setup(t)

	for _, id := range []string{"trk", "unknown"} {
		w := do(r, httptest.NewRequest(http.MethodGet, "/api/analytics/email-tracking/reviews/open/"+id, nil))
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "image/gif", w.Header().Get("Content-Type"))
		assert.Contains(t, w.Header().Get("Cache-Control"), "no-store")
		assert.Equal(t, pixel, w.Body.Bytes())
	}

	assert.Len(t, store.EmailEventsOf(model.EmailEventOpen), 1)
	require.NotNil(t, store.SendRecords()[0].OpenedAt)
}

func TestClickRedirects(t *testing.T) {
	r, store, _ := setup(t)

	target := "https://shop.example/producto?id=7"
	w := do(r, httptest.NewRequest(http.MethodGet,
		"/api/analytics/email-tracking/reviews/clicks/trk?url="+url.QueryEscape(target), nil))
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, target, w.Header().Get("Location"))
	assert.Len(t, store.EmailEventsOf(model.EmailEventClick), 1)

	w = do(r, httptest.NewRequest(http.MethodGet,
		"/api/analytics/email-tracking/reviews/clicks/trk?url="+url.QueryEscape("javascript:alert(1)"), nil))
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/", w.Header().Get("Location"))
}

func TestUnsubscribeLink(t *testing.T) {
	r, store, sub := setup(t)

	w := do(r, httptest.NewRequest(http.MethodGet, "/api/unsubscribe/trk?source=email_link&sid="+strconv.FormatInt(sub.ID, 10), nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, w.Body.String(), "ana@example.com")
	assert.False(t, active(t, store, sub.ID))
	assert.Len(t, store.EmailEventsOf(model.EmailEventUnsubscribe), 1)
}

func TestUnsubscribeLinkErrors(t *testing.T) {
	r, _, _ := setup(t)

	w := do(r, httptest.NewRequest(http.MethodGet, "/api/unsubscribe/trk", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, httptest.NewRequest(http.MethodGet, "/api/unsubscribe/trk?sid=404", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestUnsubscribeByEmail(t *testing.T) {
	r, store, sub := setup(t)

	req := httptest.NewRequest(http.MethodPost, "/api/unsubscribe/email", strings.NewReader(`{"email":"ana@example.com","reason":"too_many"}`))
	req.Header.Set("Content-Type", "application/json")
	w := do(r, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.False(t, active(t, store, sub.ID))

	req = httptest.NewRequest(http.MethodPost, "/api/unsubscribe/email", strings.NewReader(`{"email":"ghost@example.com"}`))
	req.Header.Set("Content-Type", "application/json")
	assert.Equal(t, http.StatusNotFound, do(r, req).Code)

	req = httptest.NewRequest(http.MethodPost, "/api/unsubscribe/email", strings.NewReader(`{"email":"nope"}`))
	req.Header.Set("Content-Type", "application/json")
	assert.Equal(t, http.StatusBadRequest, do(r, req).Code)
}

func TestOneClickListUnsubscribe(t *testing.T) {
	r, store, sub := setup(t)

	req := httptest.NewRequest(http.MethodPost, "/api/unsubscribe/list-unsubscribe?email=ana%40example.com",
		strings.NewReader("List-Unsubscribe=One-Click"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := do(r, req)
	assert.Equal(t, http.StatusOK, w.Code)

	after, err := store.Subscribers().Get(context.Background(), sub.ID)
	require.NoError(t, err)
	assert.False(t, after.IsActive)
	assert.Equal(t, trackingService.SourceListUnsubscribe, after.CustomAttributes["unsubscribeSource"])

	req = httptest.NewRequest(http.MethodPost, "/api/unsubscribe/list-unsubscribe", strings.NewReader("List-Unsubscribe=One-Click"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	assert.Equal(t, http.StatusBadRequest, do(r, req).Code)
}

func TestPreferencesForm(t *testing.T) {
	r, store, sub := setup(t)

	w := do(r, httptest.NewRequest(http.MethodGet, "/unsubscribe?email=ana%40example.com", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `value="ana@example.com"`)

	req := httptest.NewRequest(http.MethodPost, "/unsubscribe", strings.NewReader("email=ana%40example.com"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w = do(r, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.False(t, active(t, store, sub.ID))
}
