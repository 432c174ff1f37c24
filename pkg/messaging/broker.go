package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
)

var ErrBrokerClosed = errors.New("broker is closed")

// Broker publishes email events to downstream consumers. Consumers live
// outside this service.
type Broker interface {
	Publish(ctx context.Context, channel string, message interface{}) error
	Close() error
}

// MemoryBroker keeps published payloads in process. It backs the relay when
// redis is disabled and in tests.
type MemoryBroker struct {
	mu        sync.Mutex
	published map[string][][]byte
	closed    bool
}

func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{
		published: make(map[string][][]byte),
	}
}

func (b *MemoryBroker) Publish(ctx context.Context, channel string, message interface{}) error {
	payload, err := json.Marshal(message)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBrokerClosed
	}
	b.published[channel] = append(b.published[channel], payload)
	return nil
}

// Published returns the payloads sent to channel so far.
func (b *MemoryBroker) Published(channel string) [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([][]byte(nil), b.published[channel]...)
}

func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}
