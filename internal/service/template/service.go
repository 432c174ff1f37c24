package template

import (
	"context"
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/jwalitptl/mailing-scheduler/internal/model"
	"github.com/jwalitptl/mailing-scheduler/internal/repository"
)

// Service caches template lookups. Misses are never cached, so a template
// created after a failed lookup is picked up on the next call.
type Service struct {
	repo  repository.TemplateRepository
	cache *cache.Cache
}

func NewService(repo repository.TemplateRepository, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Service{
		repo:  repo,
		cache: cache.New(ttl, 2*ttl),
	}
}

func (s *Service) GetByID(ctx context.Context, id int64) (*model.Template, error) {
	return s.load(fmt.Sprintf("id:%d", id), func() (*model.Template, error) {
		return s.repo.GetByID(ctx, id)
	})
}

func (s *Service) GetByName(ctx context.Context, name string) (*model.Template, error) {
	return s.load("name:"+name, func() (*model.Template, error) {
		return s.repo.GetByName(ctx, name)
	})
}

func (s *Service) load(key string, fetch func() (*model.Template, error)) (*model.Template, error) {
	if cached, ok := s.cache.Get(key); ok {
		t := *cached.(*model.Template)
		return &t, nil
	}
	t, err := fetch()
	if err != nil {
		return nil, err
	}
	stored := *t
	s.cache.SetDefault(key, &stored)
	return t, nil
}

// Invalidate drops every cached template.
func (s *Service) Invalidate() {
	s.cache.Flush()
}
