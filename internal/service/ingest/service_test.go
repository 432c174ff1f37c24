package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/mailing-scheduler/internal/model"
	"github.com/jwalitptl/mailing-scheduler/internal/repository/memory"
	"github.com/jwalitptl/mailing-scheduler/internal/service/automation"
	"github.com/jwalitptl/mailing-scheduler/internal/service/template"
	apperrors "github.com/jwalitptl/mailing-scheduler/pkg/errors"
	"github.com/jwalitptl/mailing-scheduler/pkg/logger"
)

const minuteTolerance = time.Minute

func newService(store *memory.Store, development bool) *Service {
	templates := template.NewService(store.Templates(), 0)
	followups := automation.NewService(store.Automations(), store.Subscribers(), logger.Nop())
	return NewService(templates, store.Subscribers(), followups, development, logger.Nop())
}

func completedOrder(id int64) *model.WooOrder {
	date := "2026-04-01T10:00:00"
	return &model.WooOrder{
		ID:            id,
		Status:        model.WooStatusCompleted,
		DateCompleted: &date,
		Total:         "49.90",
		Billing: model.WooBilling{
			FirstName: "Lucía",
			LastName:  "Pérez",
			Email:     "Lucia@Example.com",
			Phone:     "600000000",
		},
	}
}

func TestHandleOrderIgnoresIncompleteOrders(t *testing.T) {
	store := memory.New()
	svc := newService(store, false)

	res, err := svc.HandleOrder(context.Background(), &model.WooOrder{ID: 1, Status: "processing"})
	require.NoError(t, err)
	assert.True(t, res.Ignored)
	assert.Equal(t, "Order not completed", res.Reason)
	assert.Zero(t, store.CountAutomations())
}

func TestHandleOrderRequiresTemplate(t *testing.T) {
	store := memory.New()
	svc := newService(store, false)

	_, err := svc.HandleOrder(context.Background(), completedOrder(2))
	assert.True(t, apperrors.Is(err, apperrors.ErrConfig))
	assert.Zero(t, store.CountAutomations())
	_, err = store.Subscribers().GetByEmail(context.Background(), "lucia@example.com")
	assert.Error(t, err)
}

func TestHandleOrderSchedulesFollowup(t *testing.T) {
	store := memory.New()
	tpl := store.AddTemplate(model.Template{Name: model.TemplateReviewReminder, Subject: "Tu opinión", Content: "<p>Hola</p>"})
	svc := newService(store, false)

	res, err := svc.HandleOrder(context.Background(), completedOrder(3))
	require.NoError(t, err)
	assert.False(t, res.Ignored)
	assert.False(t, res.AlreadyExisted)

	sub, err := store.Subscribers().GetByEmail(context.Background(), "lucia@example.com")
	require.NoError(t, err)
	assert.Equal(t, model.SourceWooCommerceOrder, sub.Source)
	assert.Equal(t, "Lucía", sub.FirstName)
	assert.EqualValues(t, 3, sub.CustomAttributes["lastOrderId"])
	assert.Equal(t, "49.90", sub.CustomAttributes["lastOrderTotal"])

	a, err := store.Automations().Get(context.Background(), res.AutomationID)
	require.NoError(t, err)
	ts, err := a.Settings()
	require.NoError(t, err)
	assert.Equal(t, sub.ID, ts.SubscriberID)
	assert.Equal(t, "Lucía Pérez", ts.CustomerName)
	assert.WithinDuration(t, a.CreatedAt.AddDate(0, 0, ProductionDelayDays), ts.ScheduledDate, minuteTolerance)

	step, err := store.Automations().FirstActiveStep(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, tpl.ID, *step.TemplateID)
}

func TestHandleOrderDevelopmentIsImmediate(t *testing.T) {
	store := memory.New()
	store.AddTemplate(model.Template{Name: model.TemplateReviewReminder, Subject: "s", Content: "c"})
	svc := newService(store, true)

	res, err := svc.HandleOrder(context.Background(), completedOrder(4))
	require.NoError(t, err)
	a, err := store.Automations().Get(context.Background(), res.AutomationID)
	require.NoError(t, err)
	assert.WithinDuration(t, a.CreatedAt, res.ScheduledDate, minuteTolerance)
}

func TestHandleOrderRedeliveryIsDeduplicated(t *testing.T) {
	store := memory.New()
	store.AddTemplate(model.Template{Name: model.TemplateReviewReminder, Subject: "s", Content: "c"})
	svc := newService(store, false)

	first, err := svc.HandleOrder(context.Background(), completedOrder(5))
	require.NoError(t, err)

	order := completedOrder(5)
	order.Billing.FirstName = ""
	second, err := svc.HandleOrder(context.Background(), order)
	require.NoError(t, err)
	assert.True(t, second.AlreadyExisted)
	assert.Equal(t, first.AutomationID, second.AutomationID)
	assert.Equal(t, 1, store.CountAutomations())

	sub, err := store.Subscribers().GetByEmail(context.Background(), "lucia@example.com")
	require.NoError(t, err)
	assert.Equal(t, "Lucía", sub.FirstName)
}

func TestHandleOrderRejectsMissingEmail(t *testing.T) {
	store := memory.New()
	store.AddTemplate(model.Template{Name: model.TemplateReviewReminder, Subject: "s", Content: "c"})
	svc := newService(store, false)

	order := completedOrder(6)
	order.Billing.Email = ""
	_, err := svc.HandleOrder(context.Background(), order)
	assert.True(t, apperrors.Is(err, apperrors.ErrBadRequest))
}
