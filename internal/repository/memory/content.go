package memory

import (
	"context"

	"github.com/jwalitptl/mailing-scheduler/internal/model"
	"github.com/jwalitptl/mailing-scheduler/internal/repository"
)

type templateRepository struct {
	s *Store
}

func (r *templateRepository) GetByID(ctx context.Context, id int64) (*model.Template, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.templates[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := *t
	return &out, nil
}

func (r *templateRepository) GetByName(ctx context.Context, name string) (*model.Template, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var found *model.Template
	for _, t := range r.s.templates {
		if t.Name == name && (found == nil || t.ID < found.ID) {
			found = t
		}
	}
	if found == nil {
		return nil, repository.ErrNotFound
	}
	out := *found
	return &out, nil
}

type settingsRepository struct {
	s *Store
}

func (r *settingsRepository) GetActive(ctx context.Context) (*model.EmailSettings, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, cfg := range r.s.settings {
		if cfg.IsActive {
			out := *cfg
			return &out, nil
		}
	}
	return nil, repository.ErrNotFound
}
