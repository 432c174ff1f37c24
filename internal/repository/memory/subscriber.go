package memory

import (
	"context"
	"time"

	"github.com/jwalitptl/mailing-scheduler/internal/model"
	"github.com/jwalitptl/mailing-scheduler/internal/repository"
)

type subscriberRepository struct {
	s *Store
}

func (r *subscriberRepository) Get(ctx context.Context, id int64) (*model.Subscriber, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	sub, ok := r.s.subscribers[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return copySubscriber(sub), nil
}

func (r *subscriberRepository) GetByEmail(ctx context.Context, email string) (*model.Subscriber, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if sub := r.byEmail(model.NormalizeEmail(email)); sub != nil {
		return copySubscriber(sub), nil
	}
	return nil, repository.ErrNotFound
}

func (r *subscriberRepository) byEmail(email string) *model.Subscriber {
	for _, sub := range r.s.subscribers {
		if sub.Email == email {
			return sub
		}
	}
	return nil
}

func (r *subscriberRepository) UpsertByEmail(ctx context.Context, in *model.Subscriber) (*model.Subscriber, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	email := model.NormalizeEmail(in.Email)
	now := r.s.now()
	if sub := r.byEmail(email); sub != nil {
		if in.FirstName != "" {
			sub.FirstName = in.FirstName
		}
		if in.LastName != "" {
			sub.LastName = in.LastName
		}
		if in.Phone != "" {
			sub.Phone = in.Phone
		}
		sub.CustomAttributes = sub.CustomAttributes.Merge(in.CustomAttributes)
		sub.UpdatedAt = now
		return copySubscriber(sub), nil
	}

	sub := &model.Subscriber{
		ID:               r.s.nextID(),
		Email:            email,
		FirstName:        in.FirstName,
		LastName:         in.LastName,
		Phone:            in.Phone,
		Source:           in.Source,
		IsActive:         true,
		CustomAttributes: model.JSONMap{}.Merge(in.CustomAttributes),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	r.s.subscribers[sub.ID] = sub
	return copySubscriber(sub), nil
}

func (r *subscriberRepository) Unsubscribe(ctx context.Context, id int64, reason string, attrs model.JSONMap, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	sub, ok := r.s.subscribers[id]
	if !ok {
		return repository.ErrNotFound
	}
	sub.IsActive = false
	if sub.UnsubscribedAt == nil {
		t := at
		sub.UnsubscribedAt = &t
	}
	sub.UnsubscribeReason = reason
	sub.CustomAttributes = sub.CustomAttributes.Merge(attrs)
	sub.UpdatedAt = r.s.now()
	return nil
}

func (r *subscriberRepository) Resubscribe(ctx context.Context, id int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	sub, ok := r.s.subscribers[id]
	if !ok {
		return repository.ErrNotFound
	}
	sub.IsActive = true
	sub.UnsubscribedAt = nil
	sub.UnsubscribeReason = ""
	sub.UpdatedAt = r.s.now()
	return nil
}

func copySubscriber(sub *model.Subscriber) *model.Subscriber {
	out := *sub
	out.CustomAttributes = model.JSONMap{}.Merge(sub.CustomAttributes)
	return &out
}
