package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jwalitptl/mailing-scheduler/internal/model"
	"github.com/jwalitptl/mailing-scheduler/internal/repository"
)

type emailEventRepository struct {
	BaseRepository
}

func NewEmailEventRepository(base BaseRepository) repository.EmailEventRepository {
	return &emailEventRepository{base}
}

func (r *emailEventRepository) Create(ctx context.Context, evt *model.EmailEvent) error {
	if evt == nil {
		return fmt.Errorf("event cannot be nil")
	}
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = time.Now()
	}

	query := `
		INSERT INTO email_events (
			send_id, subscriber_id, tracking_id, event_type, url, metadata, occurred_at
		) VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7)
		RETURNING id
	`
	err := r.db.GetContext(ctx, &evt.ID, query,
		evt.SendID,
		evt.SubscriberID,
		evt.TrackingID,
		evt.EventType,
		evt.URL,
		evt.Metadata,
		evt.OccurredAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create email event: %w", err)
	}
	return nil
}

// ListUnpublished returns the oldest unpublished events. Publishing is at-least-once.
func (r *emailEventRepository) ListUnpublished(ctx context.Context, limit int) ([]*model.EmailEvent, error) {
	query := `
		SELECT id, send_id, subscriber_id, tracking_id, event_type, COALESCE(url, '') AS url,
			metadata, occurred_at, published_at
		FROM email_events
		WHERE published_at IS NULL
		ORDER BY id
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`
	var events []*model.EmailEvent
	if err := r.db.SelectContext(ctx, &events, query, limit); err != nil {
		return nil, fmt.Errorf("failed to list unpublished events: %w", err)
	}
	return events, nil
}

func (r *emailEventRepository) MarkPublished(ctx context.Context, id int64, at time.Time) error {
	query := `UPDATE email_events SET published_at = $2 WHERE id = $1 AND published_at IS NULL`
	if _, err := r.db.ExecContext(ctx, query, id, at); err != nil {
		return fmt.Errorf("failed to mark event published: %w", err)
	}
	return nil
}
