package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/jwalitptl/mailing-scheduler/internal/model"
	"github.com/jwalitptl/mailing-scheduler/internal/repository"
)

type automationRepository struct {
	s *Store
}

func (r *automationRepository) CreateWithStep(ctx context.Context, a *model.Automation, step *model.Step) (bool, error) {
	if step == nil {
		return false, fmt.Errorf("automation requires a step")
	}
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.automations {
		if existing.TriggerType == a.TriggerType && existing.SourceEventID == a.SourceEventID {
			a.ID = existing.ID
			return false, nil
		}
	}

	id := s.nextID()
	now := s.now()
	row := *a
	row.ID = id
	row.CreatedAt = now
	row.UpdatedAt = now

	st := *step
	st.ID = s.nextID()
	st.AutomationID = id
	st.CreatedAt = now

	s.automations[id] = &row
	s.steps[id] = append(s.steps[id], &st)

	*a = row
	*step = st
	return true, nil
}

func (r *automationRepository) Get(ctx context.Context, id int64) (*model.Automation, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a, ok := r.s.automations[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := *a
	return &out, nil
}

func (r *automationRepository) FindBySourceEvent(ctx context.Context, triggerType model.TriggerType, sourceEventID string) (*model.Automation, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, a := range r.s.automations {
		if a.TriggerType == triggerType && a.SourceEventID == sourceEventID {
			out := *a
			return &out, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *automationRepository) List(ctx context.Context, filter model.AutomationFilter) ([]*model.Automation, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := r.sorted(func(a *model.Automation) bool {
		if filter.Status != "" && a.Status != filter.Status {
			return false
		}
		return filter.TriggerType == "" || a.TriggerType == filter.TriggerType
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (r *automationRepository) ListDue(ctx context.Context, triggerTypes []model.TriggerType, now time.Time, limit int) ([]*model.Automation, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := r.sorted(func(a *model.Automation) bool {
		if !a.IsActive || a.Status != model.AutomationStatusPending || a.DueAt.After(now) {
			return false
		}
		for _, t := range triggerTypes {
			if a.TriggerType == t {
				return true
			}
		}
		return false
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].DueAt.Before(out[j].DueAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// sorted copies the matching rows in id order. Callers hold the lock.
func (r *automationRepository) sorted(match func(*model.Automation) bool) []*model.Automation {
	var out []*model.Automation
	for _, a := range r.s.automations {
		if match(a) {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *automationRepository) Transition(ctx context.Context, id int64, from, to model.AutomationStatus) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a, ok := r.s.automations[id]
	if !ok || a.Status != from {
		return false, nil
	}
	a.Status = to
	a.UpdatedAt = r.s.now()
	return true, nil
}

func (r *automationRepository) Finish(ctx context.Context, id int64, status model.AutomationStatus) (bool, error) {
	if !status.Terminal() {
		return false, fmt.Errorf("status %q is not terminal", status)
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a, ok := r.s.automations[id]
	if !ok || a.Status != model.AutomationStatusProcessing {
		return false, nil
	}
	a.Status = status
	a.IsActive = false
	a.UpdatedAt = r.s.now()
	return true, nil
}

func (r *automationRepository) SetStatus(ctx context.Context, id int64, status model.AutomationStatus, isActive bool) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a, ok := r.s.automations[id]
	if !ok || a.Status == model.AutomationStatusProcessing {
		return false, nil
	}
	a.Status = status
	a.IsActive = isActive
	a.UpdatedAt = r.s.now()
	return true, nil
}

func (r *automationRepository) ReclaimStale(ctx context.Context, before time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for _, a := range r.s.automations {
		if a.Status == model.AutomationStatusProcessing && a.UpdatedAt.Before(before) {
			a.Status = model.AutomationStatusPending
			a.UpdatedAt = r.s.now()
			n++
		}
	}
	return n, nil
}

func (r *automationRepository) FirstActiveStep(ctx context.Context, automationID int64) (*model.Step, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var first *model.Step
	for _, st := range r.s.steps[automationID] {
		if !st.IsActive {
			continue
		}
		if first == nil || st.StepOrder < first.StepOrder {
			first = st
		}
	}
	if first == nil {
		return nil, repository.ErrNotFound
	}
	out := *first
	return &out, nil
}
