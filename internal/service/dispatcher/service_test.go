package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/mailing-scheduler/internal/email/emailtest"
	"github.com/jwalitptl/mailing-scheduler/internal/model"
	"github.com/jwalitptl/mailing-scheduler/internal/repository/memory"
	"github.com/jwalitptl/mailing-scheduler/internal/service/delivery"
	apperrors "github.com/jwalitptl/mailing-scheduler/pkg/errors"
	"github.com/jwalitptl/mailing-scheduler/pkg/logger"
	"github.com/jwalitptl/mailing-scheduler/pkg/metrics"
)

type harness struct {
	store     *memory.Store
	transport *emailtest.Recorder
	svc       *Service
	sub       *model.Subscriber
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store := memory.New()
	rec := emailtest.NewRecorder()
	m := metrics.New("test")
	engine := delivery.NewEngine(store.Sends(), store.Subscribers(), store.EmailEvents(), rec,
		delivery.NewTracker("https://shop.example"), logger.Nop(), m)

	store.AddSettings(model.EmailSettings{
		ProviderType:     model.ProviderSMTP,
		DefaultFromName:  "Tienda",
		DefaultFromEmail: "hola@tienda.es",
		IsActive:         true,
	})
	sub := store.AddSubscriber(model.Subscriber{Email: "ana@example.com", FirstName: "Ana", IsActive: true})

	svc := NewService(store.Automations(), store.Templates(), store.Settings(), engine,
		Config{BatchSize: 50, RunTimeout: time.Minute, LeaseTimeout: 30 * time.Minute}, logger.Nop(), m)

	return &harness{store: store, transport: rec, svc: svc, sub: sub}
}

func (h *harness) addAutomation(t *testing.T, source string, due time.Time, steps ...model.Step) *model.Automation {
	t.Helper()
	ts := &model.TriggerSettings{
		SourceEventID: source,
		ScheduledDate: due,
		SubscriberID:  h.sub.ID,
		CustomerEmail: h.sub.Email,
	}
	raw, err := ts.Encode()
	require.NoError(t, err)
	return h.store.AddAutomation(model.Automation{
		Name:            "Seguimiento Pedido #" + source,
		TriggerType:     model.TriggerOrderCompleted,
		SourceEventID:   source,
		TriggerSettings: raw,
		Status:          model.AutomationStatusPending,
		IsActive:        true,
	}, steps...)
}

func sendStep() model.Step {
	return model.Step{
		StepOrder: 1,
		StepType:  model.StepSendEmail,
		Subject:   "Tu pedido",
		Content:   "<p>Hola {{firstName}}</p>",
		IsActive:  true,
	}
}

func (h *harness) status(t *testing.T, id int64) *model.Automation {
	t.Helper()
	a, err := h.store.Automations().Get(context.Background(), id)
	require.NoError(t, err)
	return a
}

func TestProcessSendsDueAutomation(t *testing.T) {
	h := newHarness(t)
	a := h.addAutomation(t, "1001", time.Now().Add(-time.Hour), sendStep())

	counts, err := h.svc.ProcessScheduledEmails(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Counts{Processed: 1, Sent: 1}, *counts)

	got := h.status(t, a.ID)
	assert.Equal(t, model.AutomationStatusCompleted, got.Status)
	assert.False(t, got.IsActive)
	assert.Len(t, h.transport.Sent(), 1)
	assert.Len(t, h.store.SendRecords(), 1)
}

func TestProcessRespectsDueDate(t *testing.T) {
	h := newHarness(t)
	created := time.Now()
	a := h.addAutomation(t, "1002", created.Add(15*24*time.Hour), sendStep())

	for _, offset := range []time.Duration{0, 24 * time.Hour, 15*24*time.Hour - time.Minute} {
		h.svc.now = func() time.Time { return created.Add(offset) }
		counts, err := h.svc.ProcessScheduledEmails(context.Background())
		require.NoError(t, err)
		assert.Equal(t, Counts{}, *counts)
		assert.Equal(t, model.AutomationStatusPending, h.status(t, a.ID).Status)
	}
	assert.Empty(t, h.transport.Sent())

	h.svc.now = func() time.Time { return created.Add(15*24*time.Hour + time.Second) }
	counts, err := h.svc.ProcessScheduledEmails(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, counts.Sent)
	assert.Equal(t, model.AutomationStatusCompleted, h.status(t, a.ID).Status)
}

func TestProcessDueAutomationBehindFullBatchOfFutureOnes(t *testing.T) {
	h := newHarness(t)
	for i := 0; i < 60; i++ {
		h.addAutomation(t, fmt.Sprintf("future-%d", i), time.Now().Add(15*24*time.Hour), sendStep())
	}
	due := h.addAutomation(t, "2001", time.Now().Add(-time.Hour), sendStep())

	counts, err := h.svc.ProcessScheduledEmails(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Counts{Processed: 1, Sent: 1}, *counts)
	assert.Equal(t, model.AutomationStatusCompleted, h.status(t, due.ID).Status)
	assert.Len(t, h.transport.Sent(), 1)
}

func TestProcessOldestDueFirst(t *testing.T) {
	h := newHarness(t)
	h.svc.config.BatchSize = 1
	later := h.addAutomation(t, "2002", time.Now().Add(-time.Minute), sendStep())
	earlier := h.addAutomation(t, "2003", time.Now().Add(-48*time.Hour), sendStep())

	_, err := h.svc.ProcessScheduledEmails(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.AutomationStatusCompleted, h.status(t, earlier.ID).Status)
	assert.Equal(t, model.AutomationStatusPending, h.status(t, later.ID).Status)
}

func TestProcessConcurrentRunsSendOnce(t *testing.T) {
	h := newHarness(t)
	a := h.addAutomation(t, "1003", time.Now().Add(-time.Minute), sendStep())

	const runs = 8
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		total Counts
	)
	start := make(chan struct{})
	for i := 0; i < runs; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			counts, err := h.svc.ProcessScheduledEmails(context.Background())
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			total.Sent += counts.Sent
			total.AlreadyProcessing += counts.AlreadyProcessing
			total.Failed += counts.Failed
			mu.Unlock()
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, total.Sent)
	assert.Zero(t, total.Failed)
	assert.Len(t, h.transport.Sent(), 1)
	assert.Len(t, h.store.SendRecords(), 1)
	assert.Equal(t, model.AutomationStatusCompleted, h.status(t, a.ID).Status)
}

func TestProcessWithoutStepReleasesLock(t *testing.T) {
	h := newHarness(t)
	a := h.addAutomation(t, "1004", time.Now().Add(-time.Minute))

	counts, err := h.svc.ProcessScheduledEmails(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Counts{Skipped: 1}, *counts)

	got := h.status(t, a.ID)
	assert.Equal(t, model.AutomationStatusPending, got.Status)
	assert.True(t, got.IsActive)
}

func TestProcessNonSendStepIsSkipped(t *testing.T) {
	h := newHarness(t)
	step := sendStep()
	step.StepType = "wait"
	a := h.addAutomation(t, "1005", time.Now().Add(-time.Minute), step)

	counts, err := h.svc.ProcessScheduledEmails(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, counts.Skipped)
	assert.Equal(t, model.AutomationStatusPending, h.status(t, a.ID).Status)
}

func TestProcessWithoutActiveSettingsFails(t *testing.T) {
	store := memory.New()
	svc := NewService(store.Automations(), store.Templates(), store.Settings(), nil,
		Config{}, logger.Nop(), metrics.New("test"))

	counts, err := svc.ProcessScheduledEmails(context.Background())
	assert.Nil(t, counts)
	assert.True(t, apperrors.Is(err, apperrors.ErrConfig))
}

func TestProcessTransportFailureMarksFailed(t *testing.T) {
	h := newHarness(t)
	a := h.addAutomation(t, "1006", time.Now().Add(-time.Minute), sendStep())
	b := h.addAutomation(t, "1007", time.Now().Add(-time.Minute), sendStep())
	h.transport.SetErr(errors.New("smtp unavailable"))

	counts, err := h.svc.ProcessScheduledEmails(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Counts{Processed: 2, Failed: 2}, *counts)

	for _, id := range []int64{a.ID, b.ID} {
		got := h.status(t, id)
		assert.Equal(t, model.AutomationStatusFailed, got.Status)
		assert.False(t, got.IsActive)
	}
	assert.Empty(t, h.store.SendRecords())
}

func TestProcessMalformedSettingsAreSkipped(t *testing.T) {
	h := newHarness(t)
	bad := h.store.AddAutomation(model.Automation{
		TriggerType:     model.TriggerScheduled,
		SourceEventID:   "bad",
		TriggerSettings: model.RawJSON(`{"subscriberId": "not-a-number"`),
		Status:          model.AutomationStatusPending,
		IsActive:        true,
	}, sendStep())
	good := h.addAutomation(t, "1008", time.Now().Add(-time.Minute), sendStep())

	counts, err := h.svc.ProcessScheduledEmails(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Counts{Processed: 1, Sent: 1, Skipped: 1}, *counts)
	assert.Equal(t, model.AutomationStatusPending, h.status(t, bad.ID).Status)
	assert.Equal(t, model.AutomationStatusCompleted, h.status(t, good.ID).Status)
}

func TestProcessUnsubscribedRecipientIsNotSent(t *testing.T) {
	h := newHarness(t)
	a := h.addAutomation(t, "1017", time.Now().Add(-time.Minute), sendStep())
	require.NoError(t, h.store.Subscribers().Unsubscribe(context.Background(), h.sub.ID, "user_request", nil, time.Now()))

	counts, err := h.svc.ProcessScheduledEmails(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Counts{Processed: 1, Skipped: 1}, *counts)

	got := h.status(t, a.ID)
	assert.Equal(t, model.AutomationStatusFailed, got.Status)
	assert.False(t, got.IsActive)
	assert.Empty(t, h.transport.Sent())
	assert.Empty(t, h.store.SendRecords())
}

func TestSendNowUnsubscribedRecipient(t *testing.T) {
	h := newHarness(t)
	a := h.addAutomation(t, "1018", time.Now(), sendStep())
	require.NoError(t, h.store.Subscribers().Unsubscribe(context.Background(), h.sub.ID, "user_request", nil, time.Now()))

	_, err := h.svc.SendNow(context.Background(), a.ID)
	assert.True(t, apperrors.Is(err, apperrors.ErrConflict))
	assert.Equal(t, model.AutomationStatusFailed, h.status(t, a.ID).Status)
	assert.Empty(t, h.transport.Sent())
}

// reclaimingSender stands in for a send that outlives the processing lease:
// the row is reclaimed while the send is in flight.
type reclaimingSender struct {
	store *memory.Store
}

func (r reclaimingSender) PrepareAndSend(ctx context.Context, a *model.Automation, _ *model.Step, _ *model.Template, _ *model.TriggerSettings, _ *model.EmailSettings) (*delivery.Result, error) {
	if _, err := r.store.Automations().ReclaimStale(ctx, time.Now().Add(time.Hour)); err != nil {
		return nil, err
	}
	return &delivery.Result{Success: true, TrackingID: "late"}, nil
}

func TestLateFinishDoesNotOverwriteReclaimedAutomation(t *testing.T) {
	h := newHarness(t)
	a := h.addAutomation(t, "1019", time.Now().Add(-time.Minute), sendStep())
	h.svc.sender = reclaimingSender{store: h.store}

	_, err := h.svc.ProcessScheduledEmails(context.Background())
	require.NoError(t, err)

	got := h.status(t, a.ID)
	assert.Equal(t, model.AutomationStatusPending, got.Status)
	assert.True(t, got.IsActive)
}

func TestFinishRequiresProcessing(t *testing.T) {
	h := newHarness(t)
	a := h.addAutomation(t, "1020", time.Now(), sendStep())
	repo := h.store.Automations()

	ok, err := repo.Finish(context.Background(), a.ID, model.AutomationStatusCompleted)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, model.AutomationStatusPending, h.status(t, a.ID).Status)

	_, err = repo.Transition(context.Background(), a.ID, model.AutomationStatusPending, model.AutomationStatusProcessing)
	require.NoError(t, err)
	ok, err = repo.Finish(context.Background(), a.ID, model.AutomationStatusCompleted)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, model.AutomationStatusCompleted, h.status(t, a.ID).Status)
}

type panickingSender struct{}

func (panickingSender) PrepareAndSend(context.Context, *model.Automation, *model.Step, *model.Template, *model.TriggerSettings, *model.EmailSettings) (*delivery.Result, error) {
	panic("boom")
}

func TestProcessRecoversFromPanic(t *testing.T) {
	h := newHarness(t)
	a := h.addAutomation(t, "1009", time.Now().Add(-time.Minute), sendStep())
	h.svc.sender = panickingSender{}

	counts, err := h.svc.ProcessScheduledEmails(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Counts{Processed: 1, Failed: 1}, *counts)
	assert.Equal(t, model.AutomationStatusFailed, h.status(t, a.ID).Status)
}

func TestProcessUsesTemplateAndFallsBack(t *testing.T) {
	h := newHarness(t)
	tpl := h.store.AddTemplate(model.Template{Name: "Custom", Subject: "Desde plantilla", Content: "<p>plantilla</p>"})
	missing := int64(99999)

	withTpl := sendStep()
	withTpl.TemplateID = &tpl.ID
	withMissing := sendStep()
	withMissing.TemplateID = &missing

	h.addAutomation(t, "1010", time.Now().Add(-time.Minute), withTpl)
	h.addAutomation(t, "1011", time.Now().Add(-time.Minute), withMissing)

	counts, err := h.svc.ProcessScheduledEmails(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, counts.Sent)

	subjects := map[string]bool{}
	for _, m := range h.transport.Sent() {
		subjects[m.Subject] = true
	}
	assert.True(t, subjects["Desde plantilla"])
	assert.True(t, subjects["Tu pedido"])
}

func TestSendNowIgnoresDueDate(t *testing.T) {
	h := newHarness(t)
	a := h.addAutomation(t, "1012", time.Now().Add(10*24*time.Hour), sendStep())

	res, err := h.svc.SendNow(context.Background(), a.ID)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, model.AutomationStatusCompleted, h.status(t, a.ID).Status)

	_, err = h.svc.SendNow(context.Background(), a.ID)
	assert.True(t, apperrors.Is(err, apperrors.ErrConflict))
	assert.Len(t, h.transport.Sent(), 1)
}

func TestSendNowRejectsClaimedAutomation(t *testing.T) {
	h := newHarness(t)
	a := h.addAutomation(t, "1013", time.Now(), sendStep())
	ok, err := h.store.Automations().Transition(context.Background(), a.ID, model.AutomationStatusPending, model.AutomationStatusProcessing)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = h.svc.SendNow(context.Background(), a.ID)
	assert.True(t, apperrors.Is(err, apperrors.ErrConflict))
	assert.Empty(t, h.transport.Sent())
}

func TestSendNowUnknownAutomation(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.SendNow(context.Background(), 4242)
	assert.True(t, apperrors.Is(err, apperrors.ErrNotFound))
}

func TestReclaimStaleReturnsExpiredLeases(t *testing.T) {
	h := newHarness(t)
	past := time.Now().Add(-2 * time.Hour)
	h.store.SetClock(func() time.Time { return past })
	stuck := h.addAutomation(t, "1014", past, sendStep())
	_, err := h.store.Automations().Transition(context.Background(), stuck.ID, model.AutomationStatusPending, model.AutomationStatusProcessing)
	require.NoError(t, err)
	h.store.SetClock(time.Now)

	fresh := h.addAutomation(t, "1015", time.Now(), sendStep())
	_, err = h.store.Automations().Transition(context.Background(), fresh.ID, model.AutomationStatusPending, model.AutomationStatusProcessing)
	require.NoError(t, err)

	n, err := h.svc.ReclaimStale(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, model.AutomationStatusPending, h.status(t, stuck.ID).Status)
	assert.Equal(t, model.AutomationStatusProcessing, h.status(t, fresh.ID).Status)
}

func TestReclaimedAutomationIsNotSentTwice(t *testing.T) {
	h := newHarness(t)
	a := h.addAutomation(t, "1016", time.Now().Add(-time.Minute), sendStep())

	// A previous run sent the mail and crashed before writing the terminal status.
	_, err := h.store.Sends().Create(context.Background(), &model.SendRecord{
		SubscriberID: h.sub.ID,
		LedgerKey:    a.LedgerKey(),
		TrackingID:   "earlier",
		MessageID:    "<earlier@tienda.es>",
		Status:       model.SendStatusSent,
	})
	require.NoError(t, err)

	counts, err := h.svc.ProcessScheduledEmails(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, counts.Sent)
	assert.Empty(t, h.transport.Sent())
	assert.Len(t, h.store.SendRecords(), 1)
	assert.Equal(t, model.AutomationStatusCompleted, h.status(t, a.ID).Status)
}
