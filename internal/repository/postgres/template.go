package postgres

import (
	"context"

	"github.com/jwalitptl/mailing-scheduler/internal/model"
	"github.com/jwalitptl/mailing-scheduler/internal/repository"
)

type templateRepository struct {
	BaseRepository
}

func NewTemplateRepository(base BaseRepository) repository.TemplateRepository {
	return &templateRepository{base}
}

func (r *templateRepository) GetByID(ctx context.Context, id int64) (*model.Template, error) {
	var t model.Template
	query := `SELECT id, name, subject, content, created_at, updated_at FROM email_templates WHERE id = $1`
	if err := r.db.GetContext(ctx, &t, query, id); err != nil {
		return nil, notFound(err)
	}
	return &t, nil
}

func (r *templateRepository) GetByName(ctx context.Context, name string) (*model.Template, error) {
	var t model.Template
	query := `
		SELECT id, name, subject, content, created_at, updated_at
		FROM email_templates
		WHERE name = $1
		ORDER BY id
		LIMIT 1
	`
	if err := r.db.GetContext(ctx, &t, query, name); err != nil {
		return nil, notFound(err)
	}
	return &t, nil
}
