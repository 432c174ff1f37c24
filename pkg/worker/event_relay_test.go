package worker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/mailing-scheduler/internal/model"
	"github.com/jwalitptl/mailing-scheduler/internal/repository/memory"
	"github.com/jwalitptl/mailing-scheduler/pkg/logger"
	"github.com/jwalitptl/mailing-scheduler/pkg/messaging"
	"github.com/jwalitptl/mailing-scheduler/pkg/metrics"
)

type failingBroker struct {
	messaging.Broker
	calls int
}

func (b *failingBroker) Publish(ctx context.Context, channel string, message interface{}) error {
	b.calls++
	return errors.New("broker down")
}

func relayConfig() EventRelayConfig {
	return EventRelayConfig{
		BatchSize:     10,
		PollInterval:  time.Second,
		RetryAttempts: 2,
		RetryDelay:    time.Millisecond,
	}
}

func TestEventRelayPublishesAndMarks(t *testing.T) {
	store := memory.New()
	events := store.EmailEvents()
	ctx := context.Background()

	require.NoError(t, events.Create(ctx, &model.EmailEvent{TrackingID: "t-1", EventType: model.EmailEventOpen}))
	require.NoError(t, events.Create(ctx, &model.EmailEvent{TrackingID: "t-1", EventType: model.EmailEventClick, URL: "https://shop.example"}))

	broker := messaging.NewMemoryBroker()
	relay := NewEventRelay(events, broker, relayConfig(), logger.Nop(), metrics.New("test"))

	n, err := relay.RelayBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	opens := broker.Published("email.open")
	require.Len(t, opens, 1)
	var evt model.EmailEvent
	require.NoError(t, json.Unmarshal(opens[0], &evt))
	assert.Equal(t, "t-1", evt.TrackingID)
	assert.Len(t, broker.Published("email.click"), 1)

	pending, err := events.ListUnpublished(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	n, err = relay.RelayBatch(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestEventRelayLeavesFailedEventsUnpublished(t *testing.T) {
	store := memory.New()
	events := store.EmailEvents()
	ctx := context.Background()
	require.NoError(t, events.Create(ctx, &model.EmailEvent{TrackingID: "t-2", EventType: model.EmailEventSent}))

	broker := &failingBroker{}
	relay := NewEventRelay(events, broker, relayConfig(), logger.Nop(), metrics.New("test"))

	n, err := relay.RelayBatch(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, 2, broker.calls)

	pending, err := events.ListUnpublished(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestNewEventRelayValidatesConfig(t *testing.T) {
	assert.Panics(t, func() {
		NewEventRelay(nil, nil, EventRelayConfig{}, logger.Nop(), metrics.New("test"))
	})
}
