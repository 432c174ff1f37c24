package delivery

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/mailing-scheduler/internal/email/emailtest"
	"github.com/jwalitptl/mailing-scheduler/internal/model"
	"github.com/jwalitptl/mailing-scheduler/internal/repository/memory"
	"github.com/jwalitptl/mailing-scheduler/pkg/logger"
	"github.com/jwalitptl/mailing-scheduler/pkg/metrics"
)

const baseURL = "https://shop.example"

type fixture struct {
	store     *memory.Store
	transport *emailtest.Recorder
	engine    *Engine
	settings  *model.EmailSettings
	sub       *model.Subscriber
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.New()
	rec := emailtest.NewRecorder()
	engine := NewEngine(
		store.Sends(),
		store.Subscribers(),
		store.EmailEvents(),
		rec,
		NewTracker(baseURL),
		logger.Nop(),
		metrics.New("test"),
	)
	return &fixture{
		store:     store,
		transport: rec,
		engine:    engine,
		settings: store.AddSettings(model.EmailSettings{
			ProviderType:     model.ProviderSMTP,
			DefaultFromName:  "Tienda",
			DefaultFromEmail: "hola@tienda.es",
			IsActive:         true,
		}),
		sub: store.AddSubscriber(model.Subscriber{
			Email:     "ana@example.com",
			FirstName: "Ana",
			LastName:  "García",
			IsActive:  true,
		}),
	}
}

func (f *fixture) automation(t *testing.T) (*model.Automation, *model.Step, *model.TriggerSettings) {
	t.Helper()
	ts := &model.TriggerSettings{
		SourceEventID: "1001",
		OrderID:       1001,
		ScheduledDate: time.Now().Add(-time.Minute),
		SubscriberID:  f.sub.ID,
		CustomerEmail: f.sub.Email,
	}
	raw, err := ts.Encode()
	require.NoError(t, err)
	a := f.store.AddAutomation(model.Automation{
		Name:            "Seguimiento Pedido #1001",
		TriggerType:     model.TriggerOrderCompleted,
		SourceEventID:   "1001",
		TriggerSettings: raw,
		Status:          model.AutomationStatusProcessing,
		IsActive:        true,
	})
	step := &model.Step{
		AutomationID: a.ID,
		StepOrder:    1,
		StepType:     model.StepSendEmail,
		Subject:      "Pedido {{orderId}}",
		Content:      `<html><body><p>Hola {{customerName}}</p><a href="https://shop.example/review">Opinar</a></body></html>`,
		IsActive:     true,
	}
	return a, step, ts
}

func TestRenderLeavesUnknownTokens(t *testing.T) {
	out := Render("Hola {{firstName}}, pedido {{orderId}} {{unknown}}", map[string]string{
		"firstName": "Ana",
		"orderId":   "42",
	})
	assert.Equal(t, "Hola Ana, pedido 42 {{unknown}}", out)
}

func TestAutomationVars(t *testing.T) {
	sub := &model.Subscriber{ID: 7, Email: "ana@example.com", LastName: "García"}
	now := time.Date(2026, 3, 5, 10, 0, 0, 0, time.UTC)

	vars := AutomationVars(sub, &model.TriggerSettings{SourceEventID: "abc"}, now)
	assert.Equal(t, "7", vars["subscriberId"])
	assert.Equal(t, "abc", vars["sourceEventId"])
	assert.Equal(t, "Cliente", vars["customerName"])
	assert.Equal(t, "05/03/2026", vars["currentDate"])
	assert.Equal(t, "2026", vars["currentYear"])
	_, hasOrder := vars["orderId"]
	assert.False(t, hasOrder)

	sub.FirstName = "Ana"
	vars = AutomationVars(sub, &model.TriggerSettings{SourceEventID: "42", OrderID: 42}, now)
	assert.Equal(t, "Ana", vars["customerName"])
	assert.Equal(t, "42", vars["orderId"])

	vars = AutomationVars(sub, &model.TriggerSettings{CustomerName: "Ana María"}, now)
	assert.Equal(t, "Ana María", vars["customerName"])
}

func TestRewriteLeavesMailtoAndUnsubscribeLinks(t *testing.T) {
	tr := NewTracker(baseURL)
	links := []string{
		`<a href="mailto:hola@tienda.es">Escríbenos</a>`,
		`<a href="https://shop.example/unsubscribe?email=a%40b.c">Baja</a>`,
		`<a href="https://other.example/api/tracking/xyz">t</a>`,
	}
	for _, link := range links {
		out := tr.Rewrite(link, "tid", 1, "a@b.c")
		assert.True(t, strings.HasPrefix(out, link), "link changed: %s", out)
	}
}

func TestRewriteTracksLinksAndAddsPixel(t *testing.T) {
	tr := NewTracker(baseURL)
	html := `<html><BODY><a class="btn" href='https://shop.example/p?id=1&x=2'>Ver</a></BODY></html>`

	out := tr.Rewrite(html, "tid-1", 9, "ana@example.com")

	wantClick := baseURL + "/api/analytics/email-tracking/reviews/clicks/tid-1?url=" + url.QueryEscape("https://shop.example/p?id=1&x=2")
	assert.Contains(t, out, `<a class="btn" href='`+wantClick+`'>Ver</a>`)
	assert.Contains(t, out, baseURL+"/api/unsubscribe/tid-1?sid=9&source=email_link")
	assert.Contains(t, out, baseURL+"/unsubscribe?email=ana%40example.com")

	pixel := `<img src="` + baseURL + `/api/analytics/email-tracking/reviews/open/tid-1" width="1" height="1" alt="" style="display:none;">`
	assert.Contains(t, out, pixel+"</BODY>")
}

func TestRewriteIsIdempotent(t *testing.T) {
	tr := NewTracker(baseURL)
	html := `<html><body><a href="https://shop.example/review">Opinar</a></body></html>`

	once := tr.Rewrite(html, "tid-2", 3, "ana@example.com")
	twice := tr.Rewrite(once, "tid-2", 3, "ana@example.com")

	assert.Equal(t, once, twice)
	assert.Equal(t, 1, strings.Count(twice, "darte de baja"))
}

func TestRewriteWithoutBodyAppends(t *testing.T) {
	out := NewTracker(baseURL).Rewrite("<p>hola</p>", "tid-3", 3, "ana@example.com")
	assert.True(t, strings.HasPrefix(out, "<p>hola</p>"))
	assert.True(t, strings.HasSuffix(out, `style="display:none;">`))
}

func TestHeaders(t *testing.T) {
	h := NewTracker(baseURL).Headers("hola@tienda.es", "ana@example.com")
	assert.Equal(t,
		"<mailto:hola@tienda.es?subject=unsubscribe>, <https://shop.example/api/unsubscribe/list-unsubscribe?email=ana%40example.com>",
		h["List-Unsubscribe"])
	assert.Equal(t, "List-Unsubscribe=One-Click", h["List-Unsubscribe-Post"])
}

func TestPrepareAndSendRecordsOneSend(t *testing.T) {
	f := newFixture(t)
	a, step, ts := f.automation(t)
	ctx := context.Background()

	res, err := f.engine.PrepareAndSend(ctx, a, step, nil, ts, f.settings)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.False(t, res.AlreadySent)
	assert.NotEmpty(t, res.TrackingID)

	sent := f.transport.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "ana@example.com", sent[0].To)
	assert.Equal(t, "Pedido 1001", sent[0].Subject)
	assert.Contains(t, sent[0].HTML, "Hola Ana")
	assert.Contains(t, sent[0].HTML, "/reviews/clicks/"+res.TrackingID)
	assert.Equal(t, res.TrackingID, sent[0].Metadata["trackingId"])
	assert.Equal(t, "hola@tienda.es", sent[0].ReplyTo)

	records := f.store.SendRecords()
	require.Len(t, records, 1)
	assert.Equal(t, a.LedgerKey(), records[0].LedgerKey)
	assert.Equal(t, res.MessageID, records[0].MessageID)
	assert.NotContains(t, records[0].EmailContent, "/reviews/clicks/")

	assert.Len(t, f.store.EmailEventsOf(model.EmailEventSent), 1)
}

func TestPrepareAndSendIsIdempotent(t *testing.T) {
	f := newFixture(t)
	a, step, ts := f.automation(t)
	ctx := context.Background()

	first, err := f.engine.PrepareAndSend(ctx, a, step, nil, ts, f.settings)
	require.NoError(t, err)

	second, err := f.engine.PrepareAndSend(ctx, a, step, nil, ts, f.settings)
	require.NoError(t, err)
	assert.True(t, second.Success)
	assert.True(t, second.AlreadySent)
	assert.Equal(t, first.TrackingID, second.TrackingID)

	assert.Len(t, f.transport.Sent(), 1)
	assert.Len(t, f.store.SendRecords(), 1)
}

func TestPrepareAndSendPrefersTemplate(t *testing.T) {
	f := newFixture(t)
	a, step, ts := f.automation(t)
	tpl := &model.Template{ID: 5, Name: model.TemplateReviewReminder, Subject: "Tu opinión, {{firstName}}", Content: "<p>{{email}}</p>"}

	_, err := f.engine.PrepareAndSend(context.Background(), a, step, tpl, ts, f.settings)
	require.NoError(t, err)

	sent := f.transport.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "Tu opinión, Ana", sent[0].Subject)
	assert.Contains(t, sent[0].HTML, "<p>ana@example.com</p>")
	assert.Equal(t, "5", sent[0].Metadata["templateId"])
}

func TestPrepareAndSendTransportFailureWritesNothing(t *testing.T) {
	f := newFixture(t)
	a, step, ts := f.automation(t)
	f.transport.SetErr(errors.New("smtp: 421 try later"))

	res, err := f.engine.PrepareAndSend(context.Background(), a, step, nil, ts, f.settings)
	require.Error(t, err)
	assert.Nil(t, res)
	assert.Empty(t, f.store.SendRecords())
	assert.Empty(t, f.store.EmailEventsOf(model.EmailEventSent))
}

func TestPrepareAndSendMissingRecipient(t *testing.T) {
	f := newFixture(t)
	a, step, ts := f.automation(t)
	ts.SubscriberID = 9999

	_, err := f.engine.PrepareAndSend(context.Background(), a, step, nil, ts, f.settings)
	assert.ErrorIs(t, err, ErrNoRecipient)
	assert.Empty(t, f.transport.Sent())
}

func TestPrepareAndSendUnsubscribedRecipient(t *testing.T) {
	f := newFixture(t)
	a, step, ts := f.automation(t)
	require.NoError(t, f.store.Subscribers().Unsubscribe(context.Background(), f.sub.ID, "user_request", nil, time.Now()))

	res, err := f.engine.PrepareAndSend(context.Background(), a, step, nil, ts, f.settings)
	assert.ErrorIs(t, err, ErrUnsubscribed)
	assert.Nil(t, res)
	assert.Empty(t, f.transport.Sent())
	assert.Empty(t, f.store.SendRecords())
}

func TestPrepareAndSendWithoutContent(t *testing.T) {
	f := newFixture(t)
	a, step, ts := f.automation(t)
	step.Content = ""

	_, err := f.engine.PrepareAndSend(context.Background(), a, step, nil, ts, f.settings)
	assert.ErrorIs(t, err, ErrNoContent)
	assert.Empty(t, f.transport.Sent())
}
