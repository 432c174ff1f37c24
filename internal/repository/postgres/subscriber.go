package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jwalitptl/mailing-scheduler/internal/model"
	"github.com/jwalitptl/mailing-scheduler/internal/repository"
)

const subscriberColumns = `id, email, COALESCE(first_name, '') AS first_name,
	COALESCE(last_name, '') AS last_name, COALESCE(phone, '') AS phone, source, is_active,
	unsubscribed_at, COALESCE(unsubscribe_reason, '') AS unsubscribe_reason,
	custom_attributes, created_at, updated_at`

type subscriberRepository struct {
	BaseRepository
}

func NewSubscriberRepository(base BaseRepository) repository.SubscriberRepository {
	return &subscriberRepository{base}
}

func (r *subscriberRepository) Get(ctx context.Context, id int64) (*model.Subscriber, error) {
	var s model.Subscriber
	query := `SELECT ` + subscriberColumns + ` FROM subscribers WHERE id = $1`
	if err := r.db.GetContext(ctx, &s, query, id); err != nil {
		return nil, notFound(err)
	}
	return &s, nil
}

func (r *subscriberRepository) GetByEmail(ctx context.Context, email string) (*model.Subscriber, error) {
	var s model.Subscriber
	query := `SELECT ` + subscriberColumns + ` FROM subscribers WHERE email = $1`
	if err := r.db.GetContext(ctx, &s, query, model.NormalizeEmail(email)); err != nil {
		return nil, notFound(err)
	}
	return &s, nil
}

func (r *subscriberRepository) UpsertByEmail(ctx context.Context, sub *model.Subscriber) (*model.Subscriber, error) {
	query := `
		INSERT INTO subscribers (
			email, first_name, last_name, phone, source, is_active, custom_attributes,
			created_at, updated_at
		) VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), NULLIF($4, ''), $5, true, $6, NOW(), NOW())
		ON CONFLICT (email) DO UPDATE SET
			first_name = COALESCE(EXCLUDED.first_name, subscribers.first_name),
			last_name = COALESCE(EXCLUDED.last_name, subscribers.last_name),
			phone = COALESCE(EXCLUDED.phone, subscribers.phone),
			custom_attributes = subscribers.custom_attributes || EXCLUDED.custom_attributes,
			updated_at = NOW()
		RETURNING ` + subscriberColumns

	attrs := sub.CustomAttributes
	if attrs == nil {
		attrs = model.JSONMap{}
	}

	var out model.Subscriber
	err := r.db.GetContext(ctx, &out, query,
		model.NormalizeEmail(sub.Email),
		sub.FirstName,
		sub.LastName,
		sub.Phone,
		sub.Source,
		attrs,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert subscriber: %w", err)
	}
	return &out, nil
}

func (r *subscriberRepository) Unsubscribe(ctx context.Context, id int64, reason string, attrs model.JSONMap, at time.Time) error {
	if attrs == nil {
		attrs = model.JSONMap{}
	}
	query := `
		UPDATE subscribers
		SET is_active = false,
			unsubscribed_at = COALESCE(unsubscribed_at, $2),
			unsubscribe_reason = $3,
			custom_attributes = custom_attributes || $4,
			updated_at = NOW()
		WHERE id = $1
	`
	res, err := r.db.ExecContext(ctx, query, id, at, reason, attrs)
	if err != nil {
		return fmt.Errorf("failed to unsubscribe subscriber %d: %w", id, err)
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

func (r *subscriberRepository) Resubscribe(ctx context.Context, id int64) error {
	query := `
		UPDATE subscribers
		SET is_active = true, unsubscribed_at = NULL, unsubscribe_reason = NULL, updated_at = NOW()
		WHERE id = $1
	`
	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to resubscribe subscriber %d: %w", id, err)
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
