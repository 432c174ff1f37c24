package memory

import (
	"context"
	"sort"
	"time"

	"github.com/jwalitptl/mailing-scheduler/internal/model"
	"github.com/jwalitptl/mailing-scheduler/internal/repository"
)

type sendRepository struct {
	s *Store
}

func (r *sendRepository) FindByLedgerKey(ctx context.Context, key string) (*model.SendRecord, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, rec := range r.s.sends {
		if rec.LedgerKey == key && rec.Status == model.SendStatusSent {
			out := *rec
			return &out, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *sendRepository) FindByTrackingID(ctx context.Context, trackingID string) (*model.SendRecord, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, rec := range r.s.sends {
		if rec.TrackingID == trackingID {
			out := *rec
			return &out, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *sendRepository) Create(ctx context.Context, rec *model.SendRecord) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.sends {
		if existing.LedgerKey == rec.LedgerKey {
			return false, nil
		}
	}
	if rec.SentAt.IsZero() {
		rec.SentAt = r.s.now()
	}
	if rec.Status == "" {
		rec.Status = model.SendStatusSent
	}
	rec.ID = r.s.nextID()
	cp := *rec
	r.s.sends[rec.ID] = &cp
	return true, nil
}

func (r *sendRepository) MarkOpened(ctx context.Context, id int64, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	rec, ok := r.s.sends[id]
	if ok && rec.OpenedAt == nil {
		t := at
		rec.OpenedAt = &t
	}
	return nil
}

type emailEventRepository struct {
	s *Store
}

func (r *emailEventRepository) Create(ctx context.Context, evt *model.EmailEvent) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = r.s.now()
	}
	if evt.Metadata == nil {
		evt.Metadata = model.JSONMap{}
	}
	evt.ID = r.s.nextID()
	cp := *evt
	r.s.emailEvents = append(r.s.emailEvents, &cp)
	return nil
}

func (r *emailEventRepository) ListUnpublished(ctx context.Context, limit int) ([]*model.EmailEvent, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*model.EmailEvent
	for _, evt := range r.s.emailEvents {
		if evt.PublishedAt == nil {
			cp := *evt
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *emailEventRepository) MarkPublished(ctx context.Context, id int64, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, evt := range r.s.emailEvents {
		if evt.ID == id {
			t := at
			evt.PublishedAt = &t
			return nil
		}
	}
	return repository.ErrNotFound
}
