package memory

import (
	"context"
	"sort"
	"time"

	"github.com/jwalitptl/mailing-scheduler/internal/model"
	"github.com/jwalitptl/mailing-scheduler/internal/repository"
)

type stockRepository struct {
	s *Store
}

func (r *stockRepository) GetRequest(ctx context.Context, id int64) (*model.StockRequest, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	req, ok := r.s.stockRequests[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := *req
	return &out, nil
}

func (r *stockRepository) FindPendingRequest(ctx context.Context, subscriberID, productID int64, variant *string) (*model.StockRequest, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if req := r.open(subscriberID, productID, variant); req != nil {
		out := *req
		return &out, nil
	}
	return nil, repository.ErrNotFound
}

func (r *stockRepository) open(subscriberID, productID int64, variant *string) *model.StockRequest {
	for _, req := range r.s.stockRequests {
		if req.SubscriberID == subscriberID &&
			req.ProductID == productID &&
			model.SameVariant(req.Variant, variant) &&
			(req.Status == model.StockRequestPending || req.Status == model.StockRequestProcessing) &&
			req.IsActive {
			return req
		}
	}
	return nil
}

func (r *stockRepository) CreateRequest(ctx context.Context, req *model.StockRequest) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if existing := r.open(req.SubscriberID, req.ProductID, req.Variant); existing != nil {
		req.ID = existing.ID
		return false, nil
	}
	req.ID = r.s.nextID()
	cp := *req
	r.s.stockRequests[req.ID] = &cp
	return true, nil
}

func (r *stockRepository) ListPendingForRestock(ctx context.Context, productID int64, variant *string, now time.Time) ([]*model.StockRequest, error) {
	return r.list(func(req *model.StockRequest) bool {
		return req.ProductID == productID &&
			model.SameVariant(req.Variant, variant) &&
			req.Status == model.StockRequestPending &&
			req.IsActive &&
			req.ExpiresAt.After(now)
	}), nil
}

func (r *stockRepository) ListPendingBySubscriber(ctx context.Context, subscriberID int64) ([]*model.StockRequest, error) {
	return r.list(func(req *model.StockRequest) bool {
		return req.SubscriberID == subscriberID &&
			req.Status == model.StockRequestPending &&
			req.IsActive
	}), nil
}

func (r *stockRepository) list(match func(*model.StockRequest) bool) []*model.StockRequest {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*model.StockRequest
	for _, req := range r.s.stockRequests {
		if match(req) {
			cp := *req
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *stockRepository) Claim(ctx context.Context, id int64, at time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	req, ok := r.s.stockRequests[id]
	if !ok || !req.IsActive || req.Status != model.StockRequestPending {
		return false, nil
	}
	t := at
	req.Status = model.StockRequestProcessing
	req.ClaimedAt = &t
	return true, nil
}

func (r *stockRepository) Release(ctx context.Context, id int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	req, ok := r.s.stockRequests[id]
	if ok && req.Status == model.StockRequestProcessing {
		req.Status = model.StockRequestPending
		req.ClaimedAt = nil
	}
	return nil
}

func (r *stockRepository) ReclaimStale(ctx context.Context, before time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for _, req := range r.s.stockRequests {
		if req.Status == model.StockRequestProcessing && req.ClaimedAt != nil && req.ClaimedAt.Before(before) {
			req.Status = model.StockRequestPending
			req.ClaimedAt = nil
			n++
		}
	}
	return n, nil
}

func (r *stockRepository) MarkNotified(ctx context.Context, id int64, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	req, ok := r.s.stockRequests[id]
	if ok && (req.Status == model.StockRequestProcessing || req.Status == model.StockRequestPending) {
		t := at
		req.Status = model.StockRequestNotified
		req.NotifiedAt = &t
	}
	return nil
}

func (r *stockRepository) Cancel(ctx context.Context, id int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	req, ok := r.s.stockRequests[id]
	if !ok {
		return repository.ErrNotFound
	}
	req.Status = model.StockRequestCancelled
	req.IsActive = false
	return nil
}

func (r *stockRepository) ExpireBefore(ctx context.Context, now time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for _, req := range r.s.stockRequests {
		if req.Status == model.StockRequestPending && !req.ExpiresAt.After(now) {
			req.Status = model.StockRequestExpired
			req.IsActive = false
			n++
		}
	}
	return n, nil
}

func (r *stockRepository) CreateEvent(ctx context.Context, evt *model.StockEvent) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if evt.EventDate.IsZero() {
		evt.EventDate = r.s.now()
	}
	if evt.Metadata == nil {
		evt.Metadata = model.JSONMap{}
	}
	evt.ID = r.s.nextID()
	cp := *evt
	r.s.stockEvents[evt.ID] = &cp
	return nil
}

func (r *stockRepository) MarkEventProcessed(ctx context.Context, id int64, metadata model.JSONMap, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	evt, ok := r.s.stockEvents[id]
	if !ok {
		return repository.ErrNotFound
	}
	t := at
	evt.ProcessedAt = &t
	evt.Metadata = evt.Metadata.Merge(metadata)
	return nil
}
