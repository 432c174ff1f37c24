package messaging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ Broker = (*MemoryBroker)(nil)

func TestMemoryBrokerKeepsPublishedPayloads(t *testing.T) {
	b := NewMemoryBroker()
	require.NoError(t, b.Publish(context.Background(), "email.events", map[string]string{"type": "opened"}))
	require.NoError(t, b.Publish(context.Background(), "other", 1))

	got := b.Published("email.events")
	require.Len(t, got, 1)
	assert.JSONEq(t, `{"type":"opened"}`, string(got[0]))
	assert.Empty(t, b.Published("missing"))
}

func TestMemoryBrokerRejectsPublishAfterClose(t *testing.T) {
	b := NewMemoryBroker()
	require.NoError(t, b.Close())
	require.NoError(t, b.Close())

	assert.ErrorIs(t, b.Publish(context.Background(), "email.events", "x"), ErrBrokerClosed)
	assert.Empty(t, b.Published("email.events"))
}
