package template

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/mailing-scheduler/internal/model"
	"github.com/jwalitptl/mailing-scheduler/internal/repository"
)

type countingRepo struct {
	templates map[string]*model.Template
	calls     int
}

func (r *countingRepo) GetByID(ctx context.Context, id int64) (*model.Template, error) {
	r.calls++
	for _, t := range r.templates {
		if t.ID == id {
			return t, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *countingRepo) GetByName(ctx context.Context, name string) (*model.Template, error) {
	r.calls++
	if t, ok := r.templates[name]; ok {
		return t, nil
	}
	return nil, repository.ErrNotFound
}

func TestTemplateLookupsAreCached(t *testing.T) {
	repo := &countingRepo{templates: map[string]*model.Template{
		model.TemplateReviewReminder: {ID: 3, Name: model.TemplateReviewReminder, Subject: "Hola"},
	}}
	svc := NewService(repo, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		tpl, err := svc.GetByName(ctx, model.TemplateReviewReminder)
		require.NoError(t, err)
		assert.Equal(t, int64(3), tpl.ID)
	}
	assert.Equal(t, 1, repo.calls)

	_, err := svc.GetByID(ctx, 3)
	require.NoError(t, err)
	_, err = svc.GetByID(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, 2, repo.calls)
}

func TestTemplateMissesAreNotCached(t *testing.T) {
	repo := &countingRepo{templates: map[string]*model.Template{}}
	svc := NewService(repo, time.Minute)
	ctx := context.Background()

	_, err := svc.GetByName(ctx, model.TemplateStockNotification)
	assert.ErrorIs(t, err, repository.ErrNotFound)

	repo.templates[model.TemplateStockNotification] = &model.Template{ID: 9, Name: model.TemplateStockNotification}
	tpl, err := svc.GetByName(ctx, model.TemplateStockNotification)
	require.NoError(t, err)
	assert.Equal(t, int64(9), tpl.ID)
}

func TestTemplateCachedCopiesAreIndependent(t *testing.T) {
	repo := &countingRepo{templates: map[string]*model.Template{
		"x": {ID: 1, Name: "x", Subject: "original"},
	}}
	svc := NewService(repo, time.Minute)
	ctx := context.Background()

	first, err := svc.GetByName(ctx, "x")
	require.NoError(t, err)
	first.Subject = "mutated"

	second, err := svc.GetByName(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, "original", second.Subject)
}
