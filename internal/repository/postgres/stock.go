package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/mailing-scheduler/internal/model"
	"github.com/jwalitptl/mailing-scheduler/internal/repository"
)

const stockRequestColumns = `id, subscriber_id, product_id, product_name, COALESCE(product_sku, '') AS product_sku,
	variant, status, is_active, request_date, expires_at, claimed_at, notified_at, metadata`

type stockRepository struct {
	BaseRepository
}

func NewStockRepository(base BaseRepository) repository.StockRepository {
	return &stockRepository{base}
}

func (r *stockRepository) GetRequest(ctx context.Context, id int64) (*model.StockRequest, error) {
	var req model.StockRequest
	query := `SELECT ` + stockRequestColumns + ` FROM stock_notifications WHERE id = $1`
	if err := r.db.GetContext(ctx, &req, query, id); err != nil {
		return nil, notFound(err)
	}
	return &req, nil
}

func (r *stockRepository) FindPendingRequest(ctx context.Context, subscriberID, productID int64, variant *string) (*model.StockRequest, error) {
	return r.findPending(ctx, r.db, subscriberID, productID, variant)
}

func (r *stockRepository) findPending(ctx context.Context, q sqlx.QueryerContext, subscriberID, productID int64, variant *string) (*model.StockRequest, error) {
	var req model.StockRequest
	query := `SELECT ` + stockRequestColumns + `
		FROM stock_notifications
		WHERE subscriber_id = $1
		AND product_id = $2
		AND variant IS NOT DISTINCT FROM $3
		AND status IN ('pending', 'processing')
		AND is_active = true
		LIMIT 1`
	if err := sqlx.GetContext(ctx, q, &req, query, subscriberID, productID, variant); err != nil {
		return nil, notFound(err)
	}
	return &req, nil
}

func (r *stockRepository) CreateRequest(ctx context.Context, req *model.StockRequest) (bool, error) {
	created := false
	err := r.WithTx(ctx, func(tx *sqlx.Tx) error {
		query := `
			INSERT INTO stock_notifications (
				subscriber_id, product_id, product_name, product_sku, variant, status,
				is_active, request_date, expires_at, metadata
			) VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7, $8, $9, $10)
			ON CONFLICT (subscriber_id, product_id, (COALESCE(variant, '')))
				WHERE status IN ('pending', 'processing') AND is_active = true
			DO NOTHING
			RETURNING id
		`
		err := tx.GetContext(ctx, &req.ID, query,
			req.SubscriberID,
			req.ProductID,
			req.ProductName,
			req.ProductSKU,
			req.Variant,
			req.Status,
			req.IsActive,
			req.RequestDate,
			req.ExpiresAt,
			req.Metadata,
		)
		if errors.Is(err, sql.ErrNoRows) {
			existing, err := r.findPending(ctx, tx, req.SubscriberID, req.ProductID, req.Variant)
			if err != nil {
				return fmt.Errorf("failed to load existing stock request: %w", err)
			}
			req.ID = existing.ID
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to create stock request: %w", err)
		}
		created = true
		return nil
	})
	return created, err
}

func (r *stockRepository) ListPendingForRestock(ctx context.Context, productID int64, variant *string, now time.Time) ([]*model.StockRequest, error) {
	query := `SELECT ` + stockRequestColumns + `
		FROM stock_notifications
		WHERE product_id = $1
		AND variant IS NOT DISTINCT FROM $2
		AND status = 'pending'
		AND is_active = true
		AND expires_at > $3
		ORDER BY request_date, id`
	var out []*model.StockRequest
	if err := r.db.SelectContext(ctx, &out, query, productID, variant, now); err != nil {
		return nil, fmt.Errorf("failed to list pending stock requests: %w", err)
	}
	return out, nil
}

func (r *stockRepository) ListPendingBySubscriber(ctx context.Context, subscriberID int64) ([]*model.StockRequest, error) {
	query := `SELECT ` + stockRequestColumns + `
		FROM stock_notifications
		WHERE subscriber_id = $1 AND status = 'pending' AND is_active = true
		ORDER BY request_date, id`
	var out []*model.StockRequest
	if err := r.db.SelectContext(ctx, &out, query, subscriberID); err != nil {
		return nil, fmt.Errorf("failed to list subscriber stock requests: %w", err)
	}
	return out, nil
}

func (r *stockRepository) Claim(ctx context.Context, id int64, at time.Time) (bool, error) {
	query := `
		UPDATE stock_notifications
		SET status = 'processing', claimed_at = $2
		WHERE id = $1 AND status = 'pending' AND is_active = true
	`
	res, err := r.db.ExecContext(ctx, query, id, at)
	if err != nil {
		return false, fmt.Errorf("failed to claim stock request %d: %w", id, err)
	}
	return affected(res)
}

func (r *stockRepository) Release(ctx context.Context, id int64) error {
	query := `
		UPDATE stock_notifications
		SET status = 'pending', claimed_at = NULL
		WHERE id = $1 AND status = 'processing'
	`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("failed to release stock request %d: %w", id, err)
	}
	return nil
}

func (r *stockRepository) ReclaimStale(ctx context.Context, before time.Time) (int64, error) {
	query := `
		UPDATE stock_notifications
		SET status = 'pending', claimed_at = NULL
		WHERE status = 'processing' AND claimed_at < $1
	`
	res, err := r.db.ExecContext(ctx, query, before)
	if err != nil {
		return 0, fmt.Errorf("failed to reclaim stale stock requests: %w", err)
	}
	return res.RowsAffected()
}

func (r *stockRepository) MarkNotified(ctx context.Context, id int64, at time.Time) error {
	query := `
		UPDATE stock_notifications
		SET status = 'notified', notified_at = $2
		WHERE id = $1 AND status IN ('pending', 'processing')
	`
	if _, err := r.db.ExecContext(ctx, query, id, at); err != nil {
		return fmt.Errorf("failed to mark stock request notified: %w", err)
	}
	return nil
}

func (r *stockRepository) Cancel(ctx context.Context, id int64) error {
	query := `UPDATE stock_notifications SET status = 'cancelled', is_active = false WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to cancel stock request: %w", err)
	}
	ok, err := affected(res)
	if err != nil {
		return err
	}
	if !ok {
		return repository.ErrNotFound
	}
	return nil
}

func (r *stockRepository) ExpireBefore(ctx context.Context, now time.Time) (int64, error) {
	query := `
		UPDATE stock_notifications
		SET status = 'expired', is_active = false
		WHERE status = 'pending' AND expires_at <= $1
	`
	res, err := r.db.ExecContext(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("failed to expire stock requests: %w", err)
	}
	return res.RowsAffected()
}

func (r *stockRepository) CreateEvent(ctx context.Context, evt *model.StockEvent) error {
	if evt.EventDate.IsZero() {
		evt.EventDate = time.Now()
	}
	query := `
		INSERT INTO stock_events (
			product_id, product_sku, variant, event_type, quantity, event_date, metadata
		) VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, $7)
		RETURNING id
	`
	err := r.db.GetContext(ctx, &evt.ID, query,
		evt.ProductID,
		evt.ProductSKU,
		evt.Variant,
		evt.EventType,
		evt.Quantity,
		evt.EventDate,
		evt.Metadata,
	)
	if err != nil {
		return fmt.Errorf("failed to create stock event: %w", err)
	}
	return nil
}

func (r *stockRepository) MarkEventProcessed(ctx context.Context, id int64, metadata model.JSONMap, at time.Time) error {
	query := `
		UPDATE stock_events
		SET processed_at = $2, metadata = metadata || $3
		WHERE id = $1
	`
	if _, err := r.db.ExecContext(ctx, query, id, at, metadata); err != nil {
		return fmt.Errorf("failed to mark stock event processed: %w", err)
	}
	return nil
}
