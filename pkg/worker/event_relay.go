package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jwalitptl/mailing-scheduler/internal/model"
	"github.com/jwalitptl/mailing-scheduler/internal/repository"
	"github.com/jwalitptl/mailing-scheduler/pkg/logger"
	"github.com/jwalitptl/mailing-scheduler/pkg/messaging"
	"github.com/jwalitptl/mailing-scheduler/pkg/metrics"
)

type EventRelayConfig struct {
	BatchSize     int
	PollInterval  time.Duration
	RetryAttempts int
	RetryDelay    time.Duration
}

// EventRelay publishes recorded email events (sent, open, click, unsubscribe)
// to the broker and marks them published. Delivery is at-least-once.
type EventRelay struct {
	repo    repository.EmailEventRepository
	broker  messaging.Broker
	config  EventRelayConfig
	logger  *logger.Logger
	metrics *metrics.Metrics
}

func NewEventRelay(
	repo repository.EmailEventRepository,
	broker messaging.Broker,
	config EventRelayConfig,
	logger *logger.Logger,
	metrics *metrics.Metrics,
) *EventRelay {
	if config.BatchSize <= 0 {
		panic("BatchSize must be greater than 0")
	}
	if config.PollInterval <= 0 {
		panic("PollInterval must be greater than 0")
	}
	if config.RetryAttempts <= 0 {
		panic("RetryAttempts must be greater than 0")
	}
	if config.RetryDelay <= 0 {
		panic("RetryDelay must be greater than 0")
	}

	return &EventRelay{
		repo:    repo,
		broker:  broker,
		config:  config,
		logger:  logger,
		metrics: metrics,
	}
}

func (p *EventRelay) Start(ctx context.Context) {
	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	p.logger.Info("Starting email event relay")

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Shutting down email event relay")
			return
		case <-ticker.C:
			if _, err := p.RelayBatch(ctx); err != nil {
				p.logger.Error(err, "Failed to relay email events")
			}
		}
	}
}

// RelayBatch publishes one batch and returns how many events were published.
func (p *EventRelay) RelayBatch(ctx context.Context) (int, error) {
	timer := prometheus.NewTimer(p.metrics.RelayLatency)
	defer timer.ObserveDuration()

	events, err := p.repo.ListUnpublished(ctx, p.config.BatchSize)
	if err != nil {
		p.metrics.DatabaseOperations.WithLabelValues("list_unpublished_events", "error").Inc()
		return 0, fmt.Errorf("failed to list unpublished events: %w", err)
	}
	p.metrics.DatabaseOperations.WithLabelValues("list_unpublished_events", "success").Inc()

	published := 0
	for _, event := range events {
		if err := p.relay(ctx, event); err != nil {
			p.logger.Error(err, "Failed to relay event",
				"event_id", event.ID,
				"event_type", string(event.EventType))
			continue
		}
		published++
	}

	return published, nil
}

func (p *EventRelay) relay(ctx context.Context, event *model.EmailEvent) error {
	err := retry(ctx, p.config.RetryAttempts, p.config.RetryDelay, func() error {
		return p.broker.Publish(ctx, event.Channel(), event)
	})
	if err != nil {
		p.metrics.EventsFailed.Inc()
		return err
	}

	p.metrics.EventsPublished.Inc()
	if err := p.repo.MarkPublished(ctx, event.ID, time.Now()); err != nil {
		return fmt.Errorf("failed to mark event %d published: %w", event.ID, err)
	}
	return nil
}

func retry(ctx context.Context, attempts int, delay time.Duration, fn func() error) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(); err == nil {
			return nil
		}
		if i < attempts-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}
	return err
}
