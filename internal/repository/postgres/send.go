package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jwalitptl/mailing-scheduler/internal/model"
	"github.com/jwalitptl/mailing-scheduler/internal/repository"
)

const sendColumns = `id, subscriber_id, ledger_key, tracking_id, message_id, status, subject,
	email_content, metadata, sent_at, opened_at`

type sendRepository struct {
	BaseRepository
}

func NewSendRepository(base BaseRepository) repository.SendRepository {
	return &sendRepository{base}
}

func (r *sendRepository) FindByLedgerKey(ctx context.Context, key string) (*model.SendRecord, error) {
	var rec model.SendRecord
	query := `SELECT ` + sendColumns + ` FROM email_sends WHERE ledger_key = $1 AND status = 'sent' LIMIT 1`
	if err := r.db.GetContext(ctx, &rec, query, key); err != nil {
		return nil, notFound(err)
	}
	return &rec, nil
}

func (r *sendRepository) FindByTrackingID(ctx context.Context, trackingID string) (*model.SendRecord, error) {
	var rec model.SendRecord
	query := `SELECT ` + sendColumns + ` FROM email_sends WHERE tracking_id = $1`
	if err := r.db.GetContext(ctx, &rec, query, trackingID); err != nil {
		return nil, notFound(err)
	}
	return &rec, nil
}

func (r *sendRepository) Create(ctx context.Context, rec *model.SendRecord) (bool, error) {
	query := `
		INSERT INTO email_sends (
			subscriber_id, ledger_key, tracking_id, message_id, status, subject,
			email_content, metadata, sent_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (ledger_key) DO NOTHING
		RETURNING id
	`
	if rec.SentAt.IsZero() {
		rec.SentAt = time.Now()
	}
	if rec.Status == "" {
		rec.Status = model.SendStatusSent
	}

	err := r.db.GetContext(ctx, &rec.ID, query,
		rec.SubscriberID,
		rec.LedgerKey,
		rec.TrackingID,
		rec.MessageID,
		rec.Status,
		rec.Subject,
		rec.EmailContent,
		rec.Metadata,
		rec.SentAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to create send record: %w", err)
	}
	return true, nil
}

func (r *sendRepository) MarkOpened(ctx context.Context, id int64, at time.Time) error {
	query := `UPDATE email_sends SET opened_at = $2 WHERE id = $1 AND opened_at IS NULL`
	if _, err := r.db.ExecContext(ctx, query, id, at); err != nil {
		return fmt.Errorf("failed to mark send opened: %w", err)
	}
	return nil
}
